// Package slidebank ingests .pptx decks into a deduplicated slide store,
// searches slides across decks and stitches selected slides into new decks.
package slidebank

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/slidebank/slidebank/engine"
	"github.com/slidebank/slidebank/ingest"
	"github.com/slidebank/slidebank/pptx"
	"github.com/slidebank/slidebank/preview"
	"github.com/slidebank/slidebank/query"
	"github.com/slidebank/slidebank/report"
	"github.com/slidebank/slidebank/stitch"
	"github.com/slidebank/slidebank/store"
)

// App is the main entry point used by the CLI, the TUI and the HTTP server.
type App interface {
	// IngestFiles stores every new deck in paths. Per-file problems are
	// reported in the batch outcomes; the error is reserved for an empty
	// selection or an engine that cannot start.
	IngestFiles(ctx context.Context, paths []string) (*ingest.Batch, error)

	// SearchSlides returns the slides matching every non-empty criterion.
	SearchSlides(ctx context.Context, c query.Criteria) ([]SlideResult, error)

	// StitchSlides builds a deck from the given slide ids in the given order.
	// The deck is written to outPath only when outPath is set.
	StitchSlides(ctx context.Context, ids []string, outPath string) (*StitchSummary, error)

	// ExportResults writes the results of a search to an .xlsx workbook and
	// returns the number of rows written.
	ExportResults(ctx context.Context, c query.Criteria, xlsxPath string) (int, error)

	// DataDir is the directory holding the database and preview images.
	DataDir() string

	// Close cleanly shuts down the app.
	Close() error
}

// SlideResult is one search hit.
type SlideResult struct {
	Hash         string `json:"hash"`
	ImagePath    string `json:"image_path"`
	DeckName     string `json:"deck_name"`
	DeckModified string `json:"deck_modified"`
	SlideNumber  int    `json:"slide_number"`
	Text         string `json:"text"`
	Notes        string `json:"notes"`
	Snippet      string `json:"snippet,omitempty"`
}

// StitchSummary describes a stitched deck.
type StitchSummary struct {
	Path   string       `json:"path,omitempty"`
	Slides int          `json:"slides"`
	Plan   *stitch.Plan `json:"plan"`
}

// Option configures New.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	host     engine.Host
	renderer preview.Renderer
}

// WithLogger sets the logger. By default the logger is built from Config and
// writes only to the log file.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHost replaces the presentation engine.
func WithHost(h engine.Host) Option {
	return func(o *options) { o.host = h }
}

// WithRenderer replaces the placeholder preview renderer.
func WithRenderer(r preview.Renderer) Option {
	return func(o *options) { o.renderer = r }
}

// app is the concrete implementation of App.
type app struct {
	cfg      Config
	dataDir  string
	logger   *slog.Logger
	logFile  io.Closer // nil when the logger was injected
	store    *store.Store
	ingestor *ingest.Ingestor
	stitcher *stitch.Stitcher

	// mu serializes engine work; a host runs one session at a time.
	mu     sync.Mutex
	closed bool
}

// New creates an App with the given configuration.
func New(cfg Config, opts ...Option) (App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	var logFile io.Closer
	if o.logger == nil {
		l, f, err := cfg.NewLogger(nil)
		if err != nil {
			return nil, err
		}
		o.logger, logFile = l, f
	}
	fail := func(err error) (App, error) {
		if logFile != nil {
			logFile.Close()
		}
		return nil, err
	}

	dataDir := cfg.resolveDataDir()
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fail(fmt.Errorf("creating data dir: %w", err))
	}

	s, err := store.New(cfg.resolveDBPath(), o.logger)
	if err != nil {
		return fail(fmt.Errorf("opening store: %w", err))
	}

	if o.host == nil {
		o.host = pptx.NewHost(pptx.Options{
			SofficePath:  cfg.SofficePath,
			PdftoppmPath: cfg.PdftoppmPath,
			Timeout:      cfg.ExportTimeout,
		}, o.logger)
	}
	if o.renderer == nil {
		o.renderer = preview.NewPlaceholder(preview.Options{
			Width:  cfg.PreviewWidth,
			Height: cfg.PreviewHeight,
			Header: cfg.PreviewHeader,
			Fonts:  cfg.Fonts,
		}, o.logger)
	}

	ingestor := ingest.New(s, o.host, o.renderer, ingest.Options{
		DataDir: dataDir,
		Label:   cfg.PreviewLabel,
		Width:   cfg.PreviewWidth,
		Height:  cfg.PreviewHeight,
	}, o.logger)

	return &app{
		cfg:      cfg,
		dataDir:  dataDir,
		logger:   o.logger,
		logFile:  logFile,
		store:    s,
		ingestor: ingestor,
		stitcher: stitch.New(s, o.host, o.logger),
	}, nil
}

func (a *app) DataDir() string { return a.dataDir }

func (a *app) IngestFiles(ctx context.Context, paths []string) (*ingest.Batch, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	return a.ingestor.Ingest(ctx, paths)
}

func (a *app) SearchSlides(ctx context.Context, c query.Criteria) ([]SlideResult, error) {
	p, err := query.ForSlides(c)
	if err != nil {
		return nil, err
	}
	records, err := a.store.Search(ctx, p)
	if err != nil {
		return nil, err
	}

	results := make([]SlideResult, len(records))
	for i, r := range records {
		results[i] = SlideResult{
			Hash:         r.SlideHash,
			ImagePath:    preview.ImagePath(r.DeckHash, a.cfg.PreviewLabel, r.SlideNumber),
			DeckName:     r.DeckName,
			DeckModified: r.DeckModified,
			SlideNumber:  r.SlideNumber,
			Text:         r.Text,
			Notes:        r.Notes,
			Snippet:      extractSnippet(r.Text, c.Text),
		}
	}
	a.logger.Debug("search complete", "results", len(results))
	return results, nil
}

func (a *app) StitchSlides(ctx context.Context, ids []string, outPath string) (*StitchSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}

	res, err := a.stitcher.Stitch(ctx, ids)
	if err != nil {
		return nil, err
	}
	defer res.Output.Close()

	summary := &StitchSummary{Slides: res.Output.SlideCount(), Plan: res.Plan}
	if outPath == "" {
		return summary, nil
	}

	abs, err := filepath.Abs(outPath)
	if err != nil {
		return nil, fmt.Errorf("resolving output path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	if err := res.Output.SaveAs(abs); err != nil {
		return nil, fmt.Errorf("saving stitched deck: %w", err)
	}
	summary.Path = abs
	a.logger.Info("stitched deck saved", "path", abs, "slides", summary.Slides)
	return summary, nil
}

func (a *app) ExportResults(ctx context.Context, c query.Criteria, xlsxPath string) (int, error) {
	results, err := a.SearchSlides(ctx, c)
	if err != nil {
		return 0, err
	}
	if err := report.Save(ReportRows(results), xlsxPath); err != nil {
		if errors.Is(err, report.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return len(results), nil
}

// ReportRows converts search results to workbook rows.
func ReportRows(results []SlideResult) []report.Row {
	rows := make([]report.Row, len(results))
	for i, r := range results {
		rows[i] = report.Row{
			DeckName:     r.DeckName,
			DeckModified: r.DeckModified,
			SlideNumber:  r.SlideNumber,
			Text:         r.Text,
			Notes:        r.Notes,
			SlideHash:    r.Hash,
			ImagePath:    r.ImagePath,
		}
	}
	return rows
}

func (a *app) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	err := a.store.Close()
	if a.logFile != nil {
		err = errors.Join(err, a.logFile.Close())
	}
	return err
}
