// Package ingest turns .pptx files into stored slide records and preview
// images. Decks are identified by content hash, so a deck already in the
// store is skipped as a whole.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slidebank/slidebank/engine"
	"github.com/slidebank/slidebank/preview"
	"github.com/slidebank/slidebank/query"
	"github.com/slidebank/slidebank/store"
)

var (
	ErrNoFiles         = errors.New("no files selected")
	ErrAlreadyExists   = errors.New("presentation already exists in the database")
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrEngineFailure   = errors.New("presentation engine failure")
	// ErrBatchFatal means no deck of the batch could be processed.
	ErrBatchFatal = errors.New("ingest batch aborted")
)

// Status is the result kind of one path in a batch.
type Status string

const (
	StatusIngested Status = "ingested"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Preview sources.
const (
	PreviewNative      = "native"
	PreviewPlaceholder = "placeholder"
)

// Outcome reports what happened to one path.
type Outcome struct {
	Path     string `json:"path"`
	Status   Status `json:"status"`
	DeckHash string `json:"deck_hash,omitempty"`
	Slides   int    `json:"slides,omitempty"`
	Previews string `json:"previews,omitempty"`
	Error    string `json:"error,omitempty"`
	Err      error  `json:"-"`
}

// Batch summarizes one call to Ingest.
type Batch struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Counts returns the number of ingested, skipped and failed paths.
func (b *Batch) Counts() (ingested, skipped, failed int) {
	for _, o := range b.Outcomes {
		switch o.Status {
		case StatusIngested:
			ingested++
		case StatusSkipped:
			skipped++
		case StatusFailed:
			failed++
		}
	}
	return
}

// Store is the persistence the ingestor needs.
type Store interface {
	HasDeck(ctx context.Context, deckHash string) (bool, error)
	InsertDeck(ctx context.Context, d store.Deck, slides []store.SlideRecord) ([]int64, error)
	StartBatch(ctx context.Context, id string, started time.Time) error
	FinishBatch(ctx context.Context, b store.Batch) error
}

// Options configures where and how previews are written.
type Options struct {
	DataDir string
	Label   string
	Width   int
	Height  int
}

// Ingestor processes batches of deck files sequentially.
type Ingestor struct {
	store    Store
	host     engine.Host
	renderer preview.Renderer
	opts     Options
	logger   *slog.Logger
}

// New creates an Ingestor.
func New(st Store, host engine.Host, renderer preview.Renderer, opts Options, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: st, host: host, renderer: renderer, opts: opts, logger: logger}
}

// Ingest processes paths in order with a single engine session. Per-deck
// failures are reported as outcomes; the error return is reserved for an
// empty selection and for failing to start the engine.
func (in *Ingestor) Ingest(ctx context.Context, paths []string) (*Batch, error) {
	if len(paths) == 0 {
		return nil, ErrNoFiles
	}

	batch := &Batch{ID: uuid.NewString(), StartedAt: time.Now()}
	log := in.logger.With("batch", batch.ID)
	log.Info("starting ingest batch", "files", len(paths))

	session, err := in.host.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: starting presentation engine: %w", ErrBatchFatal, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("closing engine session", "error", err)
		}
	}()

	if err := in.store.StartBatch(ctx, batch.ID, batch.StartedAt); err != nil {
		log.Warn("recording batch start", "error", err)
	}

	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			for _, rest := range paths[i:] {
				batch.Outcomes = append(batch.Outcomes, failed(rest, err))
			}
			break
		}
		out := in.ingestDeck(ctx, session, p, log)
		batch.Outcomes = append(batch.Outcomes, out)
	}

	batch.FinishedAt = time.Now()
	ingested, skipped, failedN := batch.Counts()
	if err := in.store.FinishBatch(context.WithoutCancel(ctx), store.Batch{
		ID:         batch.ID,
		StartedAt:  batch.StartedAt,
		FinishedAt: batch.FinishedAt,
		Ingested:   ingested,
		Skipped:    skipped,
		Failed:     failedN,
	}); err != nil {
		log.Warn("recording batch finish", "error", err)
	}

	log.Info("ingest batch complete",
		"ingested", ingested,
		"skipped", skipped,
		"failed", failedN,
		"elapsed", batch.FinishedAt.Sub(batch.StartedAt).Round(time.Millisecond),
	)
	return batch, nil
}

func (in *Ingestor) ingestDeck(ctx context.Context, session engine.Session, path string, log *slog.Logger) Outcome {
	log = log.With("path", path)

	if !strings.EqualFold(filepath.Ext(path), ".pptx") {
		log.Info("skipping unsupported file")
		return skipped(path, ErrUnsupportedFile)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	deckHash, err := FileHash(path)
	if err != nil {
		log.Error("hashing deck", "stage", "hash", "error", err)
		return failed(path, err)
	}
	log = log.With("deck_hash", deckHash)

	exists, err := in.store.HasDeck(ctx, deckHash)
	if err != nil {
		log.Error("checking for existing deck", "stage", "lookup", "error", err)
		return failed(path, err)
	}
	if exists {
		log.Info("deck already stored, skipping")
		out := skipped(path, ErrAlreadyExists)
		out.DeckHash = deckHash
		return out
	}

	doc, err := session.Open(ctx, path)
	if err != nil {
		log.Error("opening deck", "stage", "open", "error", err)
		return failed(path, fmt.Errorf("%w: %w", ErrEngineFailure, err))
	}
	defer doc.Close()

	deck := store.Deck{
		Hash:     deckHash,
		Name:     filepath.Base(path),
		Path:     path,
		Modified: deckDate(doc.LastModified()),
	}
	records, err := in.extract(doc, deck)
	if err != nil {
		log.Error("reading slides", "stage", "parse", "error", err)
		return failed(path, fmt.Errorf("%w: %w", ErrEngineFailure, err))
	}

	if _, err := in.store.InsertDeck(ctx, deck, records); err != nil {
		log.Error("storing slides", "stage", "store", "error", err)
		return failed(path, err)
	}

	out := Outcome{Path: path, Status: StatusIngested, DeckHash: deckHash, Slides: len(records)}
	out.Previews = in.previews(ctx, doc, deckHash, records, log)
	log.Info("deck ingested", "slides", len(records), "previews", out.Previews)
	return out
}

// deckDate is the deck's last save date in local time, as the desktop
// application shows it.
func deckDate(t time.Time) string {
	return t.Local().Format(query.DateLayout)
}

// extract builds one record per slide of doc.
func (in *Ingestor) extract(doc engine.Document, d store.Deck) ([]store.SlideRecord, error) {
	records := make([]store.SlideRecord, 0, doc.SlideCount())
	for n := 1; n <= doc.SlideCount(); n++ {
		slide, err := doc.Slide(n)
		if err != nil {
			return nil, err
		}
		text := NormalizeText(slide.Shapes())
		records = append(records, store.SlideRecord{
			DeckHash:     d.Hash,
			SlideHash:    SlideHash(d.Hash, text),
			DeckName:     d.Name,
			DeckModified: d.Modified,
			DeckPath:     d.Path,
			SlideNumber:  n,
			Text:         text,
			Notes:        slide.Notes(),
		})
	}
	return records, nil
}

// previews exports slide images natively and falls back to the placeholder
// renderer when export fails. It returns the preview source used.
func (in *Ingestor) previews(ctx context.Context, doc engine.Document, deckHash string, records []store.SlideRecord, log *slog.Logger) string {
	dir := preview.Dir(in.opts.DataDir, deckHash)
	err := doc.Export(ctx, dir, engine.ExportOptions{
		Width:  in.opts.Width,
		Height: in.opts.Height,
		Label:  in.opts.Label,
	})
	if err == nil {
		return PreviewNative
	}
	log.Warn("exporting slides as images failed, using placeholders", "stage", "export", "error", err)

	for _, r := range records {
		file := preview.File(in.opts.DataDir, deckHash, in.opts.Label, r.SlideNumber)
		if err := in.renderer.Render(file, r.Text); err != nil {
			log.Error("rendering placeholder", "stage", "placeholder", "slide", r.SlideNumber, "error", err)
		}
	}
	log.Info("placeholder images saved", "dir", dir)
	return PreviewPlaceholder
}

func skipped(path string, err error) Outcome {
	return Outcome{Path: path, Status: StatusSkipped, Error: err.Error(), Err: err}
}

func failed(path string, err error) Outcome {
	return Outcome{Path: path, Status: StatusFailed, Error: err.Error(), Err: err}
}
