package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/catalogue"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/ingest"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/observability"
)

type fakeIngestion struct {
	lastStart   ingest.IngestionRequest
	lastExtract catalogue.ExtractRequest
	startErr    error
	progress    map[uuid.UUID]ingest.Progress
	cat         *catalogue.Catalogue
	extractErr  error
}

func (f *fakeIngestion) StartIngestion(_ context.Context, req ingest.IngestionRequest) (uuid.UUID, error) {
	f.lastStart = req
	if f.startErr != nil {
		return uuid.Nil, f.startErr
	}
	return uuid.MustParse("7f1d1c7e-3a4b-4c5d-8e9f-0a1b2c3d4e5f"), nil
}

func (f *fakeIngestion) GetProgress(id uuid.UUID) (ingest.Progress, error) {
	p, ok := f.progress[id]
	if !ok {
		return ingest.Progress{}, domain.ErrTaskNotFound
	}
	return p, nil
}

func (f *fakeIngestion) ExtractCatalogue(_ context.Context, req catalogue.ExtractRequest) (*catalogue.Catalogue, error) {
	f.lastExtract = req
	return f.cat, f.extractErr
}

func newServer(t *testing.T, fake *fakeIngestion, root string) *httptest.Server {
	t.Helper()
	svc := NewIngestionService(observability.NopLogger(), fake, root, "")
	path, handler := svc.Handler()

	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestStartIngestion(t *testing.T) {
	root := t.TempDir()
	fake := &fakeIngestion{}
	srv := newServer(t, fake, root)

	client := connect.NewClient[StartIngestionRequest, StartIngestionResponse](
		srv.Client(), srv.URL+StartIngestionProcedure, connect.WithCodec(JSONCodec{}),
	)

	resp, err := client.CallUnary(context.Background(), connect.NewRequest(&StartIngestionRequest{
		FilePath:    "fonds/1949.pdf",
		UserName:    "archivist",
		SeriesName:  "全宗一",
		ContentPage: 10,
		Language:    "中文",
	}))
	require.NoError(t, err)
	assert.Equal(t, "7f1d1c7e-3a4b-4c5d-8e9f-0a1b2c3d4e5f", resp.Msg.TaskID)
	assert.Equal(t, filepath.Join(root, "fonds", "1949.pdf"), fake.lastStart.SourcePath)
	assert.Equal(t, 10, fake.lastStart.ContentPage)
	assert.Equal(t, "全宗一", fake.lastStart.SeriesName)
}

func TestStartIngestion_ErrorCodes(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		startErr error
		want     connect.Code
	}{
		{"escape root", "../x.pdf", nil, connect.CodeInvalidArgument},
		{"validation", "a.pdf", domain.ValidationError("content page must be >= 1, got 0", nil), connect.CodeInvalidArgument},
		{"missing artifact", "a.pdf", domain.ValidationError("no catalogue", domain.ErrCatalogueNotFound), connect.CodeNotFound},
		{"storage", "a.pdf", domain.StorageError("db down", nil), connect.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, &fakeIngestion{startErr: tt.startErr}, t.TempDir())
			client := connect.NewClient[StartIngestionRequest, StartIngestionResponse](
				srv.Client(), srv.URL+StartIngestionProcedure, connect.WithCodec(JSONCodec{}),
			)

			_, err := client.CallUnary(context.Background(), connect.NewRequest(&StartIngestionRequest{FilePath: tt.path}))
			require.Error(t, err)
			assert.Equal(t, tt.want, connect.CodeOf(err))
		})
	}
}

func TestGetProgress(t *testing.T) {
	id := uuid.New()
	fake := &fakeIngestion{progress: map[uuid.UUID]ingest.Progress{
		id: {TaskID: id, Status: ingest.StatusRunning, Current: 1, Total: 2, CurrentRangeDescription: "序言 (pages 10-13)"},
	}}
	srv := newServer(t, fake, t.TempDir())
	client := connect.NewClient[GetProgressRequest, ProgressResponse](
		srv.Client(), srv.URL+GetProgressProcedure, connect.WithCodec(JSONCodec{}),
	)

	resp, err := client.CallUnary(context.Background(), connect.NewRequest(&GetProgressRequest{TaskID: id.String()}))
	require.NoError(t, err)
	assert.Equal(t, int32(1), resp.Msg.Current)
	assert.Equal(t, int32(2), resp.Msg.Total)
	assert.False(t, resp.Msg.Completed)
	assert.Equal(t, "running", resp.Msg.Status)
	assert.Equal(t, "序言 (pages 10-13)", resp.Msg.CurrentRangeDescription)

	_, err = client.CallUnary(context.Background(), connect.NewRequest(&GetProgressRequest{TaskID: uuid.NewString()}))
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	_, err = client.CallUnary(context.Background(), connect.NewRequest(&GetProgressRequest{TaskID: "nope"}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestExtractCatalogue(t *testing.T) {
	root := t.TempDir()
	fake := &fakeIngestion{cat: &catalogue.Catalogue{Entries: []catalogue.Entry{
		{PageLabel: 1, Title: "序言"},
		{PageLabel: 5, Title: "第一章"},
	}}}
	srv := newServer(t, fake, root)
	client := connect.NewClient[ExtractCatalogueRequest, ExtractCatalogueResponse](
		srv.Client(), srv.URL+ExtractCatalogueProcedure, connect.WithCodec(JSONCodec{}),
	)

	resp, err := client.CallUnary(context.Background(), connect.NewRequest(&ExtractCatalogueRequest{
		FilePath: "a.pdf", StartPage: 2, EndPage: 3, Language: "中文",
	}))
	require.NoError(t, err)
	require.Len(t, resp.Msg.Entries, 2)
	assert.Equal(t, "页码1", resp.Msg.Entries[0].Label)
	assert.Equal(t, "第一章", resp.Msg.Entries[1].Title)
	assert.Equal(t, int32(5), resp.Msg.Entries[1].PageLabel)
	assert.Equal(t, 2, fake.lastExtract.StartPage)
	assert.Equal(t, filepath.Join(root, "a.pdf"), fake.lastExtract.SourcePath)
}

func TestExtractCatalogue_Failure(t *testing.T) {
	fake := &fakeIngestion{extractErr: domain.ExtractionError("no mapping", domain.ErrCatalogueExtractionFailed)}
	srv := newServer(t, fake, t.TempDir())
	client := connect.NewClient[ExtractCatalogueRequest, ExtractCatalogueResponse](
		srv.Client(), srv.URL+ExtractCatalogueProcedure, connect.WithCodec(JSONCodec{}),
	)

	_, err := client.CallUnary(context.Background(), connect.NewRequest(&ExtractCatalogueRequest{FilePath: "a.pdf"}))
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
}
