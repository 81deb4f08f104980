package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/slidebank/slidebank"
	"github.com/slidebank/slidebank/ingest"
	"github.com/slidebank/slidebank/preview"
	"github.com/slidebank/slidebank/query"
	"github.com/slidebank/slidebank/report"
)

const maxUpload = 200 << 20

type handler struct {
	app    slidebank.App
	logger *slog.Logger
}

func newHandler(app slidebank.App, logger *slog.Logger) *handler {
	return &handler{app: app, logger: logger}
}

// POST /ingest
// Accepts multipart uploads (field "files") or JSON {"paths": [...]}.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	var paths []string
	var uploadDir string
	if err := r.ParseMultipartForm(maxUpload); err == nil && r.MultipartForm != nil && len(r.MultipartForm.File["files"]) > 0 {
		// Uploads stay on disk: stitching reopens decks from their stored path.
		uploadDir = filepath.Join(h.app.DataDir(), "uploads", uuid.NewString())
		paths, err = saveUploads(r, uploadDir)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save upload")
			h.logger.Error("saving uploaded files", "error", err)
			return
		}
	} else {
		var req struct {
			Paths []string `json:"paths"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request: expected multipart files or JSON with 'paths'")
			return
		}
		paths = req.Paths
	}

	batch, err := h.app.IngestFiles(ctx, paths)
	if err != nil {
		writeAppError(w, h.logger, "ingest", err)
		return
	}
	if uploadDir != "" {
		cleanupUploads(batch, h.logger)
	}

	writeJSON(w, http.StatusOK, batch)
}

func saveUploads(r *http.Request, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	var paths []string
	for _, fh := range r.MultipartForm.File["files"] {
		// Sanitise filename to prevent path traversal.
		dst := filepath.Join(dir, filepath.Base(fh.Filename))
		src, err := fh.Open()
		if err != nil {
			return nil, err
		}
		err = writeFile(dst, src)
		src.Close()
		if err != nil {
			return nil, err
		}
		paths = append(paths, dst)
	}
	return paths, nil
}

func writeFile(dst string, src io.Reader) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// cleanupUploads removes uploaded files that were not stored.
func cleanupUploads(batch *ingest.Batch, logger *slog.Logger) {
	for _, o := range batch.Outcomes {
		if o.Status == ingest.StatusIngested {
			continue
		}
		if err := os.Remove(o.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("removing unused upload", "path", o.Path, "error", err)
		}
	}
}

// POST /search
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var c query.Criteria
	if err := decodeOptional(r, &c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	results, err := h.app.SearchSlides(r.Context(), c)
	if err != nil {
		writeAppError(w, h.logger, "search", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(results),
		"results": results,
	})
}

// POST /search/export
// Streams the search results as an .xlsx workbook.
func (h *handler) handleExport(w http.ResponseWriter, r *http.Request) {
	var c query.Criteria
	if err := decodeOptional(r, &c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	results, err := h.app.SearchSlides(r.Context(), c)
	if err != nil {
		writeAppError(w, h.logger, "export", err)
		return
	}
	if len(results) == 0 {
		writeError(w, http.StatusNotFound, "no matching slides")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="slides.xlsx"`)
	if err := report.Write(slidebank.ReportRows(results), w); err != nil {
		h.logger.Error("writing workbook", "error", err)
	}
}

// POST /stitch
func (h *handler) handleStitch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	var req struct {
		IDs []string `json:"ids"`
		Out string   `json:"out"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	summary, err := h.app.StitchSlides(ctx, req.IDs, req.Out)
	if err != nil {
		writeAppError(w, h.logger, "stitch", err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// GET /health
// handlePreview serves one slide preview. The database, uploads and logs
// share the data dir and are not reachable here.
func (h *handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "file")
	if u, err := url.PathUnescape(name); err == nil {
		name = u
	}
	path, ok := preview.Lookup(h.app.DataDir(), chi.URLParam(r, "deckHash"), name)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	http.ServeFile(w, r, path)
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// decodeOptional decodes a JSON body into v; an empty body leaves v as is.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// writeAppError maps App errors onto HTTP statuses.
func writeAppError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, slidebank.ErrNoFiles),
		errors.Is(err, slidebank.ErrNoSelection),
		errors.Is(err, slidebank.ErrInvalidCriteria):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, slidebank.ErrSlideNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, slidebank.ErrBatchFatal):
		writeError(w, http.StatusServiceUnavailable, "presentation engine unavailable")
		logger.Error(op+" error", "error", err)
	default:
		writeError(w, http.StatusInternalServerError, op+" failed")
		logger.Error(op+" error", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
