package handlers

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/storage"
)

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 500
	defaultSeriesLimit = 10
)

// Documents is the read side of storage.DocumentRepository.
type Documents interface {
	GetByUUID(ctx context.Context, id uuid.UUID) (*storage.Document, error)
	GetFile(ctx context.Context, id uuid.UUID) ([]byte, string, error)
	SearchFullText(ctx context.Context, pattern string, limit int) ([]*storage.Document, error)
	Count(ctx context.Context) (int, error)
	LatestSeries(ctx context.Context, limit int) ([]*storage.SeriesSummary, error)
}

// DocumentHandler serves persisted documents.
type DocumentHandler struct {
	logger *observability.Logger
	docs   Documents
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(logger *observability.Logger, docs Documents) *DocumentHandler {
	return &DocumentHandler{logger: logger, docs: docs}
}

// SearchRequestDTO represents a full text search.
type SearchRequestDTO struct {
	Pattern string `json:"pattern"`
	Limit   int    `json:"limit,omitempty"`
}

// SearchResponseDTO lists matching documents, newest first.
type SearchResponseDTO struct {
	Pattern string              `json:"pattern"`
	Count   int                 `json:"count"`
	Results []*storage.Document `json:"results"`
}

// Get handles GET /documents/{uuid}.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	doc, err := h.docs.GetByUUID(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "document lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// File handles GET /documents/{uuid}/file.
func (h *DocumentHandler) File(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	blob, name, err := h.docs.GetFile(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "document file lookup failed", err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(blob)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": strings.TrimSuffix(name, ".pdf") + "_" + id.String()[:8] + ".pdf",
	}))
	w.WriteHeader(http.StatusOK)
	w.Write(blob)
}

// Search handles POST /documents/search.
func (h *DocumentHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Pattern) == "" {
		writeError(w, http.StatusBadRequest, "pattern is required", "")
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	docs, err := h.docs.SearchFullText(r.Context(), req.Pattern, limit)
	if err != nil {
		writeServiceError(w, h.logger, "search failed", err)
		return
	}
	if docs == nil {
		docs = []*storage.Document{}
	}
	writeJSON(w, http.StatusOK, SearchResponseDTO{Pattern: req.Pattern, Count: len(docs), Results: docs})
}

// Count handles GET /documents/count.
func (h *DocumentHandler) Count(w http.ResponseWriter, r *http.Request) {
	n, err := h.docs.Count(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "count failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// LatestSeries handles GET /series/latest?limit=.
func (h *DocumentHandler) LatestSeries(w http.ResponseWriter, r *http.Request) {
	limit := defaultSeriesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", v)
			return
		}
		limit = n
	}

	series, err := h.docs.LatestSeries(r.Context(), limit)
	if err != nil {
		writeServiceError(w, h.logger, "series listing failed", err)
		return
	}
	if series == nil {
		series = []*storage.SeriesSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"series": series})
}

func documentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document uuid", err.Error())
		return uuid.Nil, false
	}
	return id, true
}
