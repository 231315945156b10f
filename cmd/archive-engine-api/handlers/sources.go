package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/pdf"
)

// PageCounter reads the page count of a stored PDF.
type PageCounter interface {
	PageCount(ctx context.Context, path string) (int, error)
}

// SourceHandler stores uploaded volumes under the storage root and lists
// them, so later requests can refer to them by relative filePath.
type SourceHandler struct {
	logger   *observability.Logger
	pages    PageCounter
	root     string
	maxBytes int64
}

// NewSourceHandler creates a source handler. Uploads larger than maxBytes
// are rejected.
func NewSourceHandler(logger *observability.Logger, pages PageCounter, root string, maxBytes int64) *SourceHandler {
	return &SourceHandler{logger: logger, pages: pages, root: root, maxBytes: maxBytes}
}

// SourceDTO describes one stored source PDF.
type SourceDTO struct {
	// FilePath is relative to the storage root, ready for other requests.
	FilePath   string    `json:"filePath"`
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"sizeBytes"`
	PageCount  int       `json:"pageCount,omitempty"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// SourceListDTO is the response of GET /sources.
type SourceListDTO struct {
	Dir   string      `json:"dir"`
	Files []SourceDTO `json:"files"`
}

// Upload handles POST /sources. The multipart form carries the PDF in
// "file" and an optional target directory in "dir". An existing file of
// the same name is replaced.
func (h *SourceHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large",
				fmt.Sprintf("limit is %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file", err.Error())
		return
	}
	defer file.Close()

	name := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(header.Filename, `\`, "/")))
	if !strings.EqualFold(filepath.Ext(name), ".pdf") || strings.HasPrefix(name, ".") {
		writeError(w, http.StatusBadRequest, "only PDF files can be uploaded", header.Filename)
		return
	}

	dir, err := h.resolveDir(r.FormValue("dir"))
	if err != nil {
		writeServiceError(w, h.logger, "invalid dir", err)
		return
	}
	dest, err := pdf.ResolveUnderRoot(h.root, filepath.Join(dir, name))
	if err != nil {
		writeServiceError(w, h.logger, "invalid dir", err)
		return
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeServiceError(w, h.logger, "failed to store upload", domain.IOError("create directory", err))
		return
	}
	tmp, err := os.CreateTemp(dir, ".upload-*.pdf")
	if err != nil {
		writeServiceError(w, h.logger, "failed to store upload", domain.IOError("create file", err))
		return
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, file)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		writeServiceError(w, h.logger, "failed to store upload", domain.IOError("write file", err))
		return
	}

	pages, err := h.pages.PageCount(r.Context(), tmp.Name())
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is not a readable PDF", err.Error())
		return
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		writeServiceError(w, h.logger, "failed to store upload", domain.IOError("move file", err))
		return
	}

	src := h.describe(dest, name, size)
	src.PageCount = pages
	h.logger.Info().
		Str("file_path", src.FilePath).
		Int64("size_bytes", size).
		Int("pages", pages).
		Msg("source uploaded")

	w.Header().Set("Location", "/api/v1/sources?dir="+url.QueryEscape(h.relative(dir)))
	writeJSON(w, http.StatusCreated, src)
}

// List handles GET /sources?dir=. A directory that does not exist yet
// lists as empty.
func (h *SourceHandler) List(w http.ResponseWriter, r *http.Request) {
	dir, err := h.resolveDir(r.URL.Query().Get("dir"))
	if err != nil {
		writeServiceError(w, h.logger, "invalid dir", err)
		return
	}

	resp := SourceListDTO{Dir: h.relative(dir), Files: []SourceDTO{}}
	entries, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		writeJSON(w, http.StatusOK, resp)
		return
	case err != nil:
		status := http.StatusInternalServerError
		if info, serr := os.Stat(dir); serr == nil && !info.IsDir() {
			status = http.StatusBadRequest
		}
		writeError(w, status, "cannot list dir", err.Error())
		return
	}

	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") ||
			strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		src := h.describe(filepath.Join(dir, e.Name()), e.Name(), info.Size())
		src.ModifiedAt = info.ModTime().UTC()
		resp.Files = append(resp.Files, src)
	}
	writeJSON(w, http.StatusOK, resp)
}

// resolveDir maps a client directory onto the storage root; empty means
// the root itself.
func (h *SourceHandler) resolveDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	return pdf.ResolveUnderRoot(h.root, dir)
}

func (h *SourceHandler) relative(path string) string {
	absRoot, err := filepath.Abs(h.root)
	if err != nil {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(absRoot, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (h *SourceHandler) describe(path, name string, size int64) SourceDTO {
	return SourceDTO{
		FilePath:   h.relative(path),
		Name:       name,
		SizeBytes:  size,
		ModifiedAt: time.Now().UTC(),
	}
}
