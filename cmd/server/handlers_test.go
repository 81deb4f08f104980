package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/slidebank/slidebank"
	"github.com/slidebank/slidebank/ingest"
	"github.com/slidebank/slidebank/query"
	"github.com/slidebank/slidebank/report"
)

// fakeApp records calls and returns canned results.
type fakeApp struct {
	dataDir  string
	paths    []string
	criteria query.Criteria
	ids      []string
	out      string
	results  []slidebank.SlideResult
	err      error
}

func (f *fakeApp) IngestFiles(ctx context.Context, paths []string) (*ingest.Batch, error) {
	f.paths = paths
	if f.err != nil {
		return nil, f.err
	}
	if len(paths) == 0 {
		return nil, slidebank.ErrNoFiles
	}
	b := &ingest.Batch{ID: "batch-1"}
	for i, p := range paths {
		st := ingest.StatusIngested
		if i > 0 {
			st = ingest.StatusSkipped
		}
		b.Outcomes = append(b.Outcomes, ingest.Outcome{Path: p, Status: st})
	}
	return b, nil
}

func (f *fakeApp) SearchSlides(ctx context.Context, c query.Criteria) ([]slidebank.SlideResult, error) {
	f.criteria = c
	return f.results, f.err
}

func (f *fakeApp) StitchSlides(ctx context.Context, ids []string, outPath string) (*slidebank.StitchSummary, error) {
	f.ids, f.out = ids, outPath
	if f.err != nil {
		return nil, f.err
	}
	return &slidebank.StitchSummary{Path: outPath, Slides: len(ids)}, nil
}

func (f *fakeApp) ExportResults(ctx context.Context, c query.Criteria, path string) (int, error) {
	return 0, nil
}

func (f *fakeApp) DataDir() string { return f.dataDir }
func (f *fakeApp) Close() error    { return nil }

func testServer(t *testing.T, app *fakeApp, apiKey string) *httptest.Server {
	t.Helper()
	if app.dataDir == "" {
		app.dataDir = t.TempDir()
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(newRouter(app, routerOptions{APIKey: apiKey, Logger: logger}))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv := testServer(t, &fakeApp{}, "secret")
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := testServer(t, &fakeApp{}, "secret")
	resp := postJSON(t, srv.URL+"/search", `{}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/search", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer secret")
	ok, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer ok.Body.Close()
	if ok.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with key, got %d", ok.StatusCode)
	}
}

func TestSearch(t *testing.T) {
	app := &fakeApp{results: []slidebank.SlideResult{{Hash: "h1", DeckName: "a.pptx", SlideNumber: 1}}}
	srv := testServer(t, app, "")

	resp := postJSON(t, srv.URL+"/search", `{"text":"budget","time_range":{"from":"2024-01-01"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var body struct {
		Count   int                     `json:"count"`
		Results []slidebank.SlideResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 || body.Results[0].Hash != "h1" {
		t.Errorf("body: %+v", body)
	}
	if app.criteria.Text != "budget" || app.criteria.TimeRange.From != "2024-01-01" {
		t.Errorf("criteria: %+v", app.criteria)
	}
}

func TestSearchEmptyBody(t *testing.T) {
	app := &fakeApp{}
	srv := testServer(t, app, "")
	resp, err := http.Post(srv.URL+"/search", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status %d", resp.StatusCode)
	}
}

func TestErrorStatuses(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{slidebank.ErrNoSelection, http.StatusBadRequest},
		{slidebank.ErrSlideNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		srv := testServer(t, &fakeApp{err: tt.err}, "")
		resp := postJSON(t, srv.URL+"/stitch", `{"ids":["x"]}`)
		if resp.StatusCode != tt.want {
			t.Errorf("%v: got %d, want %d", tt.err, resp.StatusCode, tt.want)
		}
	}

	srv := testServer(t, &fakeApp{err: slidebank.ErrBatchFatal}, "")
	resp := postJSON(t, srv.URL+"/ingest", `{"paths":["a.pptx"]}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("batch fatal: got %d", resp.StatusCode)
	}
}

func TestStitch(t *testing.T) {
	app := &fakeApp{}
	srv := testServer(t, app, "")
	resp := postJSON(t, srv.URL+"/stitch", `{"ids":["b","a"],"out":"/tmp/x.pptx"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if len(app.ids) != 2 || app.ids[0] != "b" || app.out != "/tmp/x.pptx" {
		t.Errorf("ids=%v out=%q", app.ids, app.out)
	}
}

func TestIngestJSON(t *testing.T) {
	app := &fakeApp{}
	srv := testServer(t, app, "")
	resp := postJSON(t, srv.URL+"/ingest", `{"paths":["/decks/a.pptx"]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var b ingest.Batch
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatal(err)
	}
	if b.ID != "batch-1" || len(app.paths) != 1 {
		t.Errorf("batch %+v paths %v", b, app.paths)
	}

	empty := postJSON(t, srv.URL+"/ingest", `{"paths":[]}`)
	if empty.StatusCode != http.StatusBadRequest {
		t.Errorf("empty selection: got %d", empty.StatusCode)
	}
}

func TestIngestUpload(t *testing.T) {
	app := &fakeApp{}
	srv := testServer(t, app, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range []string{"../kept.pptx", "dup.pptx"} {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte("deck " + name))
	}
	mw.Close()

	resp, err := http.Post(srv.URL+"/ingest", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	if len(app.paths) != 2 {
		t.Fatalf("paths: %v", app.paths)
	}
	kept := app.paths[0]
	if filepath.Base(kept) != "kept.pptx" || !strings.HasPrefix(kept, filepath.Join(app.dataDir, "uploads")) {
		t.Errorf("upload path not sanitised: %s", kept)
	}
	if _, err := os.Stat(kept); err != nil {
		t.Errorf("ingested upload should stay on disk: %v", err)
	}
	if _, err := os.Stat(app.paths[1]); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("skipped upload should be removed: %v", err)
	}
}

func TestExportWorkbook(t *testing.T) {
	app := &fakeApp{results: []slidebank.SlideResult{{Hash: "h1", DeckName: "a.pptx", SlideNumber: 3, Text: "hello"}}}
	srv := testServer(t, app, "")
	resp := postJSON(t, srv.URL+"/search/export", `{}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	f, err := excelize.OpenReader(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	v, _ := f.GetCellValue(report.SheetName, "D2")
	if v != "hello" {
		t.Errorf("D2 = %q", v)
	}

	none := testServer(t, &fakeApp{}, "")
	if r := postJSON(t, none.URL+"/search/export", `{}`); r.StatusCode != http.StatusNotFound {
		t.Errorf("empty export: got %d", r.StatusCode)
	}
}

func TestServesPreviews(t *testing.T) {
	const hash = "5d41402abc4b2a76b9719d911017c592"
	app := &fakeApp{dataDir: t.TempDir()}
	dir := filepath.Join(app.dataDir, hash)
	os.MkdirAll(dir, 0755)
	os.WriteFile(filepath.Join(dir, "슬라이드1.PNG"), []byte("png"), 0644)

	srv := testServer(t, app, "")
	resp, err := http.Get(srv.URL + "/data/" + hash + "/%EC%8A%AC%EB%9D%BC%EC%9D%B4%EB%93%9C1.PNG")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "png" {
		t.Errorf("status %d body %q", resp.StatusCode, body)
	}
}

func TestDataRouteHidesNonPreviews(t *testing.T) {
	const hash = "5d41402abc4b2a76b9719d911017c592"
	app := &fakeApp{dataDir: t.TempDir()}
	upload := filepath.Join(app.dataDir, "uploads", "u1")
	os.MkdirAll(upload, 0755)
	os.MkdirAll(filepath.Join(app.dataDir, hash), 0755)
	os.WriteFile(filepath.Join(app.dataDir, "slides.db"), []byte("sqlite"), 0644)
	os.WriteFile(filepath.Join(app.dataDir, "logs.log"), []byte("log"), 0644)
	os.WriteFile(filepath.Join(upload, "deck.pptx"), []byte("pptx"), 0644)
	os.WriteFile(filepath.Join(app.dataDir, hash, "notes.txt"), []byte("txt"), 0644)

	srv := testServer(t, app, "")
	for _, p := range []string{
		"/data/slides.db",
		"/data/logs.log",
		"/data/uploads/u1/deck.pptx",
		"/data/uploads/deck.pptx",
		"/data/" + hash + "/notes.txt",
		"/data/" + hash + "/missing1.PNG",
		"/data/" + hash + "/..%2Fslides.db",
	} {
		resp, err := http.Get(srv.URL + p)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s: status %d body %q, want 404", p, resp.StatusCode, body)
		}
	}
}
