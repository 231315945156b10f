package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/ingest"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/pdf"
)

// Ingestion is the task half of ingest.Service.
type Ingestion interface {
	StartIngestion(ctx context.Context, req ingest.IngestionRequest) (uuid.UUID, error)
	GetProgress(id uuid.UUID) (ingest.Progress, error)
	Watch(ctx context.Context, id uuid.UUID) (<-chan ingest.Progress, error)
	Cancel(id uuid.UUID) error
}

// IngestionHandler handles ingestion task requests.
type IngestionHandler struct {
	logger *observability.Logger
	svc    Ingestion
	root   string
}

// NewIngestionHandler creates a new ingestion handler.
func NewIngestionHandler(logger *observability.Logger, svc Ingestion, root string) *IngestionHandler {
	return &IngestionHandler{logger: logger, svc: svc, root: root}
}

// IngestionRequestDTO represents the API request for ingestion.
type IngestionRequestDTO struct {
	FilePath    string `json:"filePath"`
	UserName    string `json:"userName"`
	SeriesName  string `json:"seriesName"`
	ContentPage int    `json:"contentPage"`
	Language    string `json:"language"`
	Date        string `json:"date,omitempty"`
}

// IngestionJobDTO represents the API response for a started task.
type IngestionJobDTO struct {
	TaskID    string `json:"taskId"`
	Status    string `json:"status"`
	StartedAt string `json:"startedAt,omitempty"`
}

// Start handles POST /ingestions.
func (h *IngestionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req IngestionRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	path, err := pdf.ResolveUnderRoot(h.root, req.FilePath)
	if err != nil {
		writeServiceError(w, h.logger, "invalid filePath", err)
		return
	}

	id, err := h.svc.StartIngestion(r.Context(), ingest.IngestionRequest{
		SourcePath:   path,
		UserName:     req.UserName,
		SeriesName:   req.SeriesName,
		ContentPage:  req.ContentPage,
		Language:     req.Language,
		DocumentDate: req.Date,
	})
	if err != nil {
		writeServiceError(w, h.logger, "ingestion rejected", err)
		return
	}

	w.Header().Set("Location", "/api/v1/ingestions/"+id.String())
	writeJSON(w, http.StatusAccepted, IngestionJobDTO{
		TaskID:    id.String(),
		Status:    string(ingest.StatusCreated),
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// Progress handles GET /ingestions/{taskId}.
func (h *IngestionHandler) Progress(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	p, err := h.svc.GetProgress(id)
	if err != nil {
		writeServiceError(w, h.logger, "unknown task", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Events handles GET /ingestions/{taskId}/events as a server-sent event
// stream. The stream ends after the completed snapshot.
func (h *IngestionHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	updates, err := h.svc.Watch(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "unknown task", err)
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for p := range updates {
		data, err := json.Marshal(p)
		if err != nil {
			h.logger.Error().Err(err).Msg("encode progress")
			return
		}
		event := "progress"
		if p.Completed {
			event = "completed"
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// Cancel handles DELETE /ingestions/{taskId}.
func (h *IngestionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Cancel(id); err != nil {
		writeServiceError(w, h.logger, "unknown task", err)
		return
	}

	h.logger.WithContext(r.Context()).Info().Str("task_id", id.String()).Msg("cancel requested")
	writeJSON(w, http.StatusAccepted, IngestionJobDTO{TaskID: id.String(), Status: "cancel_requested"})
}

func (h *IngestionHandler) taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "taskId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid taskId", err.Error())
		return uuid.Nil, false
	}
	return id, true
}
