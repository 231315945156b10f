// Package rpc provides the Connect service implementation for archive
// ingestion.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/catalogue"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/ingest"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/pdf"
)

const (
	// ServiceName is the fully qualified Connect service name.
	ServiceName = "archive.v1.IngestionService"

	StartIngestionProcedure   = "/" + ServiceName + "/StartIngestion"
	GetProgressProcedure      = "/" + ServiceName + "/GetProgress"
	ExtractCatalogueProcedure = "/" + ServiceName + "/ExtractCatalogue"
)

// Ingestion is the part of ingest.Service exposed over RPC.
type Ingestion interface {
	StartIngestion(ctx context.Context, req ingest.IngestionRequest) (uuid.UUID, error)
	GetProgress(id uuid.UUID) (ingest.Progress, error)
	ExtractCatalogue(ctx context.Context, req catalogue.ExtractRequest) (*catalogue.Catalogue, error)
}

// IngestionService implements the Connect ingestion service.
type IngestionService struct {
	logger *observability.Logger
	svc    Ingestion
	root   string
	marker string
}

// NewIngestionService creates the service. Client paths are resolved
// under root.
func NewIngestionService(logger *observability.Logger, svc Ingestion, root, marker string) *IngestionService {
	if marker == "" {
		marker = catalogue.DefaultMarker
	}
	return &IngestionService{logger: logger, svc: svc, root: root, marker: marker}
}

// StartIngestionRequest represents the RPC request message.
type StartIngestionRequest struct {
	FilePath    string `json:"file_path"`
	UserName    string `json:"user_name"`
	SeriesName  string `json:"series_name"`
	ContentPage int32  `json:"content_page"`
	Language    string `json:"language"`
	Date        string `json:"date,omitempty"`
}

// StartIngestionResponse carries the new task id.
type StartIngestionResponse struct {
	TaskID string `json:"task_id"`
}

// GetProgressRequest names a task.
type GetProgressRequest struct {
	TaskID string `json:"task_id"`
}

// ProgressResponse is a progress snapshot.
type ProgressResponse struct {
	TaskID                  string `json:"task_id"`
	Status                  string `json:"status"`
	Current                 int32  `json:"current"`
	Total                   int32  `json:"total"`
	Completed               bool   `json:"completed"`
	CurrentRangeDescription string `json:"current_range_description"`
	Persisted               int32  `json:"persisted"`
	Skipped                 int32  `json:"skipped"`
	FailedInserts           int32  `json:"failed_inserts"`
	Error                   string `json:"error,omitempty"`
}

// ExtractCatalogueRequest names the catalogue pages of a source.
type ExtractCatalogueRequest struct {
	FilePath  string `json:"file_path"`
	StartPage int32  `json:"start_page"`
	EndPage   int32  `json:"end_page"`
	Language  string `json:"language"`
}

// CatalogueEntry is one catalogue line.
type CatalogueEntry struct {
	Label     string `json:"label"`
	PageLabel int32  `json:"page_label"`
	Title     string `json:"title"`
}

// ExtractCatalogueResponse lists entries in label order.
type ExtractCatalogueResponse struct {
	Entries []*CatalogueEntry `json:"entries"`
}

// Handler returns the service's routes and handlers.
func (s *IngestionService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(StartIngestionProcedure, connect.NewUnaryHandler(StartIngestionProcedure, s.StartIngestion, opts...))
	mux.Handle(GetProgressProcedure, connect.NewUnaryHandler(GetProgressProcedure, s.GetProgress, opts...))
	mux.Handle(ExtractCatalogueProcedure, connect.NewUnaryHandler(ExtractCatalogueProcedure, s.ExtractCatalogue, opts...))
	return "/" + ServiceName + "/", mux
}

// StartIngestion handles RPC ingestion requests.
func (s *IngestionService) StartIngestion(ctx context.Context, req *connect.Request[StartIngestionRequest]) (*connect.Response[StartIngestionResponse], error) {
	msg := req.Msg

	path, err := pdf.ResolveUnderRoot(s.root, msg.FilePath)
	if err != nil {
		return nil, toConnectError(err)
	}

	id, err := s.svc.StartIngestion(ctx, ingest.IngestionRequest{
		SourcePath:   path,
		UserName:     msg.UserName,
		SeriesName:   msg.SeriesName,
		ContentPage:  int(msg.ContentPage),
		Language:     msg.Language,
		DocumentDate: msg.Date,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("file_path", msg.FilePath).Msg("StartIngestion rejected")
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&StartIngestionResponse{TaskID: id.String()}), nil
}

// GetProgress handles RPC progress queries.
func (s *IngestionService) GetProgress(ctx context.Context, req *connect.Request[GetProgressRequest]) (*connect.Response[ProgressResponse], error) {
	id, err := uuid.Parse(req.Msg.TaskID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid task_id format"))
	}

	p, err := s.svc.GetProgress(id)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&ProgressResponse{
		TaskID:                  p.TaskID.String(),
		Status:                  string(p.Status),
		Current:                 int32(p.Current),
		Total:                   int32(p.Total),
		Completed:               p.Completed,
		CurrentRangeDescription: p.CurrentRangeDescription,
		Persisted:               int32(p.Persisted),
		Skipped:                 int32(p.Skipped),
		FailedInserts:           int32(p.FailedInserts),
		Error:                   p.Error,
	}), nil
}

// ExtractCatalogue handles RPC catalogue extraction.
func (s *IngestionService) ExtractCatalogue(ctx context.Context, req *connect.Request[ExtractCatalogueRequest]) (*connect.Response[ExtractCatalogueResponse], error) {
	msg := req.Msg

	path, err := pdf.ResolveUnderRoot(s.root, msg.FilePath)
	if err != nil {
		return nil, toConnectError(err)
	}

	cat, err := s.svc.ExtractCatalogue(ctx, catalogue.ExtractRequest{
		SourcePath: path,
		StartPage:  int(msg.StartPage),
		EndPage:    int(msg.EndPage),
		Language:   msg.Language,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("file_path", msg.FilePath).Msg("ExtractCatalogue failed")
		return nil, toConnectError(err)
	}

	resp := &ExtractCatalogueResponse{Entries: make([]*CatalogueEntry, 0, cat.Len())}
	for _, e := range cat.Entries {
		resp.Entries = append(resp.Entries, &CatalogueEntry{
			Label:     catalogue.FormatLabel(s.marker, e.PageLabel),
			PageLabel: int32(e.PageLabel),
			Title:     e.Title,
		})
	}
	return connect.NewResponse(resp), nil
}

func toConnectError(err error) *connect.Error {
	switch {
	case ingest.IsNotFound(err):
		return connect.NewError(connect.CodeNotFound, err)
	case domain.IsType(err, domain.ErrorTypeValidation):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, domain.ErrCatalogueExtractionFailed),
		errors.Is(err, domain.ErrEmptyCatalogue),
		errors.Is(err, domain.ErrNoText):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

// JSONCodec marshals plain Go structs as JSON, so the service needs no
// generated protobuf types.
type JSONCodec struct{}

// Name implements connect.Codec.
func (JSONCodec) Name() string { return "json" }

// Marshal implements connect.Codec.
func (JSONCodec) Marshal(msg any) ([]byte, error) { return json.Marshal(msg) }

// Unmarshal implements connect.Codec.
func (JSONCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, msg)
}
