package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/catalogue"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/ingest"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/storage"
)

type fakeService struct {
	startReq   ingest.IngestionRequest
	startErr   error
	taskID     uuid.UUID
	progress   map[uuid.UUID]ingest.Progress
	watch      []ingest.Progress
	canceled   []uuid.UUID
	saved      *catalogue.Catalogue
	savedPath  string
	loaded     *catalogue.Catalogue
	extracted  *catalogue.Catalogue
	extractErr error
}

func (f *fakeService) StartIngestion(_ context.Context, req ingest.IngestionRequest) (uuid.UUID, error) {
	f.startReq = req
	if f.startErr != nil {
		return uuid.Nil, f.startErr
	}
	return f.taskID, nil
}

func (f *fakeService) GetProgress(id uuid.UUID) (ingest.Progress, error) {
	p, ok := f.progress[id]
	if !ok {
		return ingest.Progress{}, domain.ErrTaskNotFound
	}
	return p, nil
}

func (f *fakeService) Watch(_ context.Context, id uuid.UUID) (<-chan ingest.Progress, error) {
	if id != f.taskID {
		return nil, domain.ErrTaskNotFound
	}
	ch := make(chan ingest.Progress, len(f.watch))
	for _, p := range f.watch {
		ch <- p
	}
	close(ch)
	return ch, nil
}

func (f *fakeService) Cancel(id uuid.UUID) error {
	if id != f.taskID {
		return domain.ErrTaskNotFound
	}
	f.canceled = append(f.canceled, id)
	return nil
}

func (f *fakeService) ExtractCatalogue(context.Context, catalogue.ExtractRequest) (*catalogue.Catalogue, error) {
	return f.extracted, f.extractErr
}

func (f *fakeService) SaveCatalogue(path string, cat *catalogue.Catalogue) (string, error) {
	f.saved, f.savedPath = cat, path
	return path + ".json", nil
}

func (f *fakeService) LoadCatalogue(string) (*catalogue.Catalogue, error) {
	if f.loaded == nil {
		return nil, domain.ValidationError("no catalogue", domain.ErrCatalogueNotFound)
	}
	return f.loaded, nil
}

type fakeDocs struct {
	doc *storage.Document
}

func (f *fakeDocs) GetByUUID(_ context.Context, id uuid.UUID) (*storage.Document, error) {
	if f.doc == nil || f.doc.UUID != id {
		return nil, storage.ErrNotFound
	}
	return f.doc, nil
}

func (f *fakeDocs) GetFile(_ context.Context, id uuid.UUID) ([]byte, string, error) {
	if f.doc == nil || f.doc.UUID != id {
		return nil, "", storage.ErrNotFound
	}
	return f.doc.FileBlob, f.doc.FileName, nil
}

func (f *fakeDocs) SearchFullText(_ context.Context, pattern string, _ int) ([]*storage.Document, error) {
	if f.doc != nil && strings.Contains(f.doc.FullText, pattern) {
		return []*storage.Document{f.doc}, nil
	}
	return nil, nil
}

func (f *fakeDocs) Count(context.Context) (int, error) {
	if f.doc == nil {
		return 0, nil
	}
	return 1, nil
}

func (f *fakeDocs) LatestSeries(context.Context, int) ([]*storage.SeriesSummary, error) {
	return []*storage.SeriesSummary{{SeriesName: "全宗一", Documents: 1}}, nil
}

// headerPages accepts any file that starts with a PDF header as 3 pages.
type headerPages struct{}

func (headerPages) PageCount(_ context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return 0, errors.New("missing PDF header")
	}
	return 3, nil
}

func newTestServer(t *testing.T, svc *fakeService, docs *fakeDocs) (*httptest.Server, string) {
	t.Helper()
	root := t.TempDir()
	h := NewRouter(observability.NopLogger(), &AppConfig{
		RequestTimeout: 5 * time.Second,
		AllowedOrigins: []string{"*"},
		StorageRoot:    root,
		MaxUploadBytes: 1 << 20,
		Pages:          headerPages{},
	}, svc, docs)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, root
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{}, &fakeDocs{})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestStartIngestion_Accepted(t *testing.T) {
	svc := &fakeService{taskID: uuid.New()}
	srv, root := newTestServer(t, svc, &fakeDocs{})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/ingestions",
		`{"filePath":"fonds/1949.pdf","userName":"archivist","seriesName":"全宗一","contentPage":10,"language":"中文"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, svc.taskID.String(), body["taskId"])
	assert.Equal(t, "/api/v1/ingestions/"+svc.taskID.String(), resp.Header.Get("Location"))
	assert.Equal(t, filepath.Join(root, "fonds", "1949.pdf"), svc.startReq.SourcePath)
	assert.Equal(t, 10, svc.startReq.ContentPage)
}

func TestStartIngestion_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"escapes root", `{"filePath":"../../etc/x.pdf"}`, nil, http.StatusBadRequest},
		{"validation", `{"filePath":"a.pdf"}`, domain.ValidationError("content page must be >= 1, got 0", nil), http.StatusBadRequest},
		{"missing artifact", `{"filePath":"a.pdf"}`, domain.ValidationError("no catalogue", domain.ErrCatalogueNotFound), http.StatusNotFound},
		{"internal", `{"filePath":"a.pdf"}`, errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &fakeService{startErr: tt.err}, &fakeDocs{})
			resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/ingestions", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestProgress(t *testing.T) {
	id := uuid.New()
	svc := &fakeService{progress: map[uuid.UUID]ingest.Progress{
		id: {TaskID: id, Status: ingest.StatusRunning, Current: 1, Total: 2},
	}}
	srv, _ := newTestServer(t, svc, &fakeDocs{})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/ingestions/"+id.String(), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["current"])
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, false, body["completed"])

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/ingestions/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/ingestions/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEvents(t *testing.T) {
	id := uuid.New()
	svc := &fakeService{taskID: id, watch: []ingest.Progress{
		{TaskID: id, Current: 1, Total: 2},
		{TaskID: id, Current: 2, Total: 2, Completed: true, Status: ingest.StatusCompleted},
	}}
	srv, _ := newTestServer(t, svc, &fakeDocs{})

	resp, err := http.Get(srv.URL + "/api/v1/ingestions/" + id.String() + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			events = append(events, line)
		}
	}
	assert.Equal(t, []string{"progress", "completed"}, events)
}

func TestCancel(t *testing.T) {
	id := uuid.New()
	svc := &fakeService{taskID: id}
	srv, _ := newTestServer(t, svc, &fakeDocs{})

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/api/v1/ingestions/"+id.String(), "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []uuid.UUID{id}, svc.canceled)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/ingestions/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCatalogues(t *testing.T) {
	svc := &fakeService{}
	srv, root := newTestServer(t, svc, &fakeDocs{})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/catalogues",
		`{"filePath":"a.pdf","mapping":{"页码5":"第一章","页码1":"序言","页码5":"重复"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, filepath.Join(root, "a.pdf"), svc.savedPath)
	assert.Equal(t, []catalogue.Entry{{PageLabel: 1, Title: "序言"}, {PageLabel: 5, Title: "第一章"}}, svc.saved.Entries)
	assert.Len(t, body["entries"], 2)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/catalogues", `{"filePath":"a.pdf","mapping":{"第一页":"x"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/catalogues?filePath=a.pdf", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	svc.loaded = svc.saved
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/catalogues?filePath=a.pdf", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"页码1": "序言", "页码5": "第一章"}, body["mapping"])
}

func TestExtractCatalogue_Unprocessable(t *testing.T) {
	svc := &fakeService{extractErr: domain.ExtractionError("no mapping", domain.ErrCatalogueExtractionFailed)}
	srv, _ := newTestServer(t, svc, &fakeDocs{})

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/catalogues/extract",
		`{"filePath":"a.pdf","startPage":2,"endPage":3,"language":"中文"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestDocuments(t *testing.T) {
	doc := &storage.Document{
		UUID:       uuid.New(),
		SeriesName: "全宗一",
		FileName:   "fonds.pdf",
		Title:      "序言",
		FullText:   "# Page 10\n\n土地改革",
		FileBlob:   []byte("%PDF-1.7"),
	}
	srv, _ := newTestServer(t, &fakeService{}, &fakeDocs{doc: doc})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/documents/"+doc.UUID.String(), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "序言", body["title"])
	assert.NotContains(t, body, "file")

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/documents/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	fileResp, err := http.Get(srv.URL + "/api/v1/documents/" + doc.UUID.String() + "/file")
	require.NoError(t, err)
	fileResp.Body.Close()
	assert.Equal(t, "application/pdf", fileResp.Header.Get("Content-Type"))
	assert.Contains(t, fileResp.Header.Get("Content-Disposition"), "attachment")

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/documents/search", `{"pattern":"土地"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/documents/search", `{"pattern":" "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/documents/count", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/series/latest?limit=5", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["series"], 1)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/series/latest?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{}, &fakeDocs{})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/ingestions", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://archive.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://archive.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func uploadSource(t *testing.T, url, dir, filename string, content []byte) (*http.Response, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if dir != "" {
		require.NoError(t, mw.WriteField("dir", dir))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, url+"/api/v1/sources", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestSources_UploadAndList(t *testing.T) {
	srv, root := newTestServer(t, &fakeService{}, &fakeDocs{})
	content := []byte("%PDF-1.4\n% volume one\n")

	resp, body := uploadSource(t, srv.URL, "archivist@example.org", "全宗一.pdf", content)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "archivist@example.org/全宗一.pdf", body["filePath"])
	assert.Equal(t, "全宗一.pdf", body["name"])
	assert.Equal(t, float64(len(content)), body["sizeBytes"])
	assert.Equal(t, float64(3), body["pageCount"])

	stored, err := os.ReadFile(filepath.Join(root, "archivist@example.org", "全宗一.pdf"))
	require.NoError(t, err)
	assert.Equal(t, content, stored)

	// Uploading again replaces the file.
	resp, _ = uploadSource(t, srv.URL, "archivist@example.org", "全宗一.pdf", append(content, 'x'))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, os.WriteFile(filepath.Join(root, "archivist@example.org", "notes.txt"), []byte("x"), 0o644))

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sources?dir=archivist@example.org", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "archivist@example.org", body["dir"])
	files := body["files"].([]any)
	require.Len(t, files, 1)
	file := files[0].(map[string]any)
	assert.Equal(t, "archivist@example.org/全宗一.pdf", file["filePath"])
	assert.Equal(t, float64(len(content)+1), file["sizeBytes"])
}

func TestSources_UploadedPathStartsIngestion(t *testing.T) {
	svc := &fakeService{taskID: uuid.New()}
	srv, root := newTestServer(t, svc, &fakeDocs{})

	_, body := uploadSource(t, srv.URL, "fonds", "1949.pdf", []byte("%PDF-1.7\n"))
	path := body["filePath"].(string)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/ingestions",
		`{"filePath":"`+path+`","seriesName":"全宗一","contentPage":10}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, filepath.Join(root, "fonds", "1949.pdf"), svc.startReq.SourcePath)
}

func TestSources_UploadRejected(t *testing.T) {
	tests := []struct {
		name     string
		dir      string
		filename string
		content  []byte
		want     int
	}{
		{"not a pdf name", "", "notes.txt", []byte("%PDF-1.4"), http.StatusBadRequest},
		{"hidden name", "", ".pdf", []byte("%PDF-1.4"), http.StatusBadRequest},
		{"unreadable pdf", "", "scan.pdf", []byte("plain text"), http.StatusBadRequest},
		{"dir escapes root", "../outside", "scan.pdf", []byte("%PDF-1.4"), http.StatusBadRequest},
		{"too large", "", "scan.pdf", append([]byte("%PDF-1.4"), make([]byte, 1<<20)...), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, root := newTestServer(t, &fakeService{}, &fakeDocs{})
			resp, body := uploadSource(t, srv.URL, tt.dir, tt.filename, tt.content)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, body["message"])

			entries, err := os.ReadDir(root)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestSources_FilenameCannotEscapeDir(t *testing.T) {
	srv, root := newTestServer(t, &fakeService{}, &fakeDocs{})

	resp, body := uploadSource(t, srv.URL, "fonds", "../../evil.pdf", []byte("%PDF-1.4"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "fonds/evil.pdf", body["filePath"])
	_, err := os.Stat(filepath.Join(root, "fonds", "evil.pdf"))
	assert.NoError(t, err)
}

func TestSources_List(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{}, &fakeDocs{})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sources?dir=nobody", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["files"])

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sources?dir=../..", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sources", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ".", body["dir"])
}
