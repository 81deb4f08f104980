// Package engine defines the presentation engine capability the ingestor and
// stitcher drive: a host that is started once per batch, sessions that open
// and create decks, and documents that expose slides, shapes and notes.
package engine

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable is returned by Host.Start when the engine cannot be
	// brought up at all.
	ErrUnavailable = errors.New("engine: unavailable")

	// ErrOpen is returned when a deck cannot be opened or parsed.
	ErrOpen = errors.New("engine: cannot open deck")

	// ErrExport is returned when native preview export fails.
	ErrExport = errors.New("engine: export failed")

	// ErrClosed is returned when using a closed session or document.
	ErrClosed = errors.New("engine: closed")

	// ErrSlideRange is returned for slide numbers outside 1..SlideCount.
	ErrSlideRange = errors.New("engine: slide number out of range")
)

// Host is the automation host. Start acquires a session that must be closed
// exactly once.
type Host interface {
	Start(ctx context.Context) (Session, error)
}

// Session is an exclusive handle on the host. It is not safe for concurrent
// use.
type Session interface {
	// Open opens an existing deck read-only.
	Open(ctx context.Context, path string) (Document, error)
	// Create returns a new, empty output document.
	Create(ctx context.Context) (Output, error)
	// Close releases the host. Documents still open are closed with it.
	Close() error
}

// PageSize is the slide size in EMU (English Metric Units).
type PageSize struct {
	Width  int64
	Height int64
}

// Document is an opened source deck.
type Document interface {
	Path() string
	// LastModified is the last-saved time from the document properties.
	LastModified() time.Time
	PageSize() PageSize
	SlideCount() int
	// Slide returns the 1-based slide n.
	Slide(n int) (Slide, error)
	// Export writes one bitmap per slide into dir using the engine's own
	// renderer. Files are named by ExportName.
	Export(ctx context.Context, dir string, opts ExportOptions) error
	Close() error
}

// Slide is one slide of an opened document.
type Slide interface {
	Number() int
	Shapes() []Shape
	Notes() string
	// Design identifies the master/theme the slide is based on.
	Design() Design
}

// Shape is a text-bearing shape with its position on the slide in EMU.
type Shape struct {
	Top  int64
	Left int64
	Text string
}

// Design is an opaque reference to a slide master and its theme.
type Design interface {
	Name() string
}

// Output is a document being assembled from copied slides.
type Output interface {
	SlideCount() int
	SetPageSize(PageSize)
	// Paste copies src into the output at the 1-based index, keeping its
	// formatting. index == SlideCount()+1 appends.
	Paste(src Slide, index int) error
	// ApplyDesign makes d the design of the whole output document.
	ApplyDesign(d Design) error
	// SaveAs writes the document to path. Nothing is written until called.
	SaveAs(path string) error
	Close() error
}

// ExportOptions configures native preview export.
type ExportOptions struct {
	Width  int
	Height int
	// Label prefixes each file: <Label><n>.PNG
	Label string
}
