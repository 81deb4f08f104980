package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/slidebank/slidebank"
)

type routerOptions struct {
	APIKey      string
	CORSOrigins string
	Logger      *slog.Logger
}

// newRouter wires the API routes and the preview image route.
func newRouter(app slidebank.App, opts routerOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := newHandler(app, opts.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(recoveryMiddleware(opts.Logger))
	r.Use(corsMiddleware(opts.CORSOrigins))
	r.Use(logMiddleware(opts.Logger))
	r.Use(authMiddleware(opts.APIKey))

	r.Get("/health", h.handleHealth)
	r.Post("/ingest", h.handleIngest)
	r.Post("/search", h.handleSearch)
	r.Post("/search/export", h.handleExport)
	r.Post("/stitch", h.handleStitch)

	// Preview images, addressed by SlideResult.ImagePath.
	r.Get("/data/{deckHash}/{file}", h.handlePreview)

	return r
}
