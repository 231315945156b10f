package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/catalogue"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/pdf"
)

// Catalogues is the catalogue half of ingest.Service.
type Catalogues interface {
	ExtractCatalogue(ctx context.Context, req catalogue.ExtractRequest) (*catalogue.Catalogue, error)
	SaveCatalogue(sourcePath string, cat *catalogue.Catalogue) (string, error)
	LoadCatalogue(sourcePath string) (*catalogue.Catalogue, error)
}

// CatalogueHandler serves catalogue extraction and artifact management.
type CatalogueHandler struct {
	logger *observability.Logger
	svc    Catalogues
	root   string
	marker string
}

// NewCatalogueHandler creates a new catalogue handler. Client paths are
// resolved under root.
func NewCatalogueHandler(logger *observability.Logger, svc Catalogues, root, marker string) *CatalogueHandler {
	if marker == "" {
		marker = catalogue.DefaultMarker
	}
	return &CatalogueHandler{logger: logger, svc: svc, root: root, marker: marker}
}

// ExtractRequestDTO represents the API request for catalogue extraction.
type ExtractRequestDTO struct {
	FilePath  string `json:"filePath"`
	StartPage int    `json:"startPage"`
	EndPage   int    `json:"endPage"`
	Language  string `json:"language"`
}

// CatalogueEntryDTO is one catalogue line.
type CatalogueEntryDTO struct {
	Label     string `json:"label"`
	PageLabel int    `json:"pageLabel"`
	Title     string `json:"title"`
}

// CatalogueDTO represents a catalogue in API responses. Mapping keeps
// label order.
type CatalogueDTO struct {
	FilePath string              `json:"filePath"`
	Entries  []CatalogueEntryDTO `json:"entries"`
	Mapping  json.RawMessage     `json:"mapping"`
	Artifact string              `json:"artifact,omitempty"`
}

// SaveRequestDTO represents the API request for saving a catalogue.
type SaveRequestDTO struct {
	FilePath string          `json:"filePath"`
	Mapping  json.RawMessage `json:"mapping"`
}

// Extract handles POST /catalogues/extract.
func (h *CatalogueHandler) Extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	path, err := pdf.ResolveUnderRoot(h.root, req.FilePath)
	if err != nil {
		writeServiceError(w, h.logger, "invalid filePath", err)
		return
	}

	cat, err := h.svc.ExtractCatalogue(r.Context(), catalogue.ExtractRequest{
		SourcePath: path,
		StartPage:  req.StartPage,
		EndPage:    req.EndPage,
		Language:   req.Language,
	})
	if err != nil {
		writeServiceError(w, h.logger, "catalogue extraction failed", err)
		return
	}

	h.writeCatalogue(w, http.StatusOK, req.FilePath, cat, "")
}

// Save handles POST /catalogues.
func (h *CatalogueHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req SaveRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if len(req.Mapping) == 0 {
		writeError(w, http.StatusBadRequest, "mapping is required", "")
		return
	}

	path, err := pdf.ResolveUnderRoot(h.root, req.FilePath)
	if err != nil {
		writeServiceError(w, h.logger, "invalid filePath", err)
		return
	}

	pairs, err := catalogue.DecodeMapping(string(req.Mapping))
	if err != nil {
		writeError(w, http.StatusBadRequest, "mapping must be a flat JSON object", err.Error())
		return
	}
	n := catalogue.Normalize(h.marker, pairs)
	if len(n.BadKeys) > 0 {
		writeError(w, http.StatusBadRequest, "mapping keys must be page labels", strings.Join(n.BadKeys, ", "))
		return
	}

	artifact, err := h.svc.SaveCatalogue(path, &n.Catalogue)
	if err != nil {
		writeServiceError(w, h.logger, "save catalogue failed", err)
		return
	}

	h.logger.WithContext(r.Context()).Info().
		Str("artifact", artifact).
		Int("entries", n.Catalogue.Len()).
		Msg("catalogue saved")

	h.writeCatalogue(w, http.StatusCreated, req.FilePath, &n.Catalogue, artifact)
}

// Get handles GET /catalogues?filePath=.
func (h *CatalogueHandler) Get(w http.ResponseWriter, r *http.Request) {
	filePath := r.URL.Query().Get("filePath")
	path, err := pdf.ResolveUnderRoot(h.root, filePath)
	if err != nil {
		writeServiceError(w, h.logger, "invalid filePath", err)
		return
	}

	cat, err := h.svc.LoadCatalogue(path)
	if err != nil {
		writeServiceError(w, h.logger, "load catalogue failed", err)
		return
	}

	h.writeCatalogue(w, http.StatusOK, filePath, cat, "")
}

func (h *CatalogueHandler) writeCatalogue(w http.ResponseWriter, status int, filePath string, cat *catalogue.Catalogue, artifact string) {
	mapping, err := catalogue.EncodePairs(cat.Pairs(h.marker))
	if err != nil {
		writeServiceError(w, h.logger, "encode catalogue failed", domain.IOError(fmt.Sprintf("encode catalogue for %s", filePath), err))
		return
	}

	resp := CatalogueDTO{
		FilePath: filePath,
		Entries:  make([]CatalogueEntryDTO, 0, cat.Len()),
		Mapping:  mapping,
		Artifact: artifact,
	}
	for _, e := range cat.Entries {
		resp.Entries = append(resp.Entries, CatalogueEntryDTO{
			Label:     catalogue.FormatLabel(h.marker, e.PageLabel),
			PageLabel: e.PageLabel,
			Title:     e.Title,
		})
	}
	writeJSON(w, status, resp)
}
