// Package enginetest provides an in-memory engine.Host that records how it is
// driven.
package enginetest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/slidebank/slidebank/engine"
)

// Slide is the content of one fake slide.
type Slide struct {
	Shapes []engine.Shape
	Notes  string
}

// Deck is a fake source deck.
type Deck struct {
	Modified  time.Time
	Size      engine.PageSize
	Design    string
	Slides    []Slide
	OpenErr   error
	ExportErr error
}

// Ref identifies a slide by deck path and number.
type Ref struct {
	Path   string
	Number int
}

// Host is a fake engine host. All fields are guarded by the host's mutex;
// read them after the code under test returns.
type Host struct {
	mu       sync.Mutex
	decks    map[string]*Deck
	StartErr error

	Starts  int
	Closes  int
	Opens   []string
	DocsOut []string // closed documents in close order
	Exports []string
	Outputs []*Output
}

// NewHost returns an empty fake host.
func NewHost() *Host {
	return &Host{decks: map[string]*Deck{}}
}

// Add registers d under path.
func (h *Host) Add(path string, d *Deck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.decks[path] = d
}

// OpenCount returns how many times path was opened.
func (h *Host) OpenCount(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, p := range h.Opens {
		if p == path {
			n++
		}
	}
	return n
}

func (h *Host) Start(ctx context.Context) (engine.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.StartErr != nil {
		return nil, h.StartErr
	}
	h.Starts++
	return &session{host: h}, nil
}

type session struct {
	host   *Host
	closed bool
}

func (s *session) Open(ctx context.Context, path string) (engine.Document, error) {
	h := s.host
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return nil, engine.ErrClosed
	}
	h.Opens = append(h.Opens, path)
	d, ok := h.decks[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrOpen, path)
	}
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	return &document{host: h, path: path, deck: d}, nil
}

func (s *session) Create(ctx context.Context) (engine.Output, error) {
	h := s.host
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return nil, engine.ErrClosed
	}
	o := &Output{}
	h.Outputs = append(h.Outputs, o)
	return o, nil
}

func (s *session) Close() error {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	s.closed = true
	s.host.Closes++
	return nil
}

type document struct {
	host   *Host
	path   string
	deck   *Deck
	closed bool
}

func (d *document) Path() string              { return d.path }
func (d *document) LastModified() time.Time   { return d.deck.Modified }
func (d *document) PageSize() engine.PageSize { return d.deck.Size }
func (d *document) SlideCount() int           { return len(d.deck.Slides) }

func (d *document) Slide(n int) (engine.Slide, error) {
	if d.closed {
		return nil, engine.ErrClosed
	}
	if n < 1 || n > len(d.deck.Slides) {
		return nil, fmt.Errorf("%w: %d", engine.ErrSlideRange, n)
	}
	return &slide{ref: Ref{Path: d.path, Number: n}, content: d.deck.Slides[n-1], design: d.deck.Design}, nil
}

// Export writes one small file per slide unless the deck has ExportErr.
func (d *document) Export(ctx context.Context, dir string, opts engine.ExportOptions) error {
	d.host.mu.Lock()
	d.host.Exports = append(d.host.Exports, d.path)
	d.host.mu.Unlock()
	if d.deck.ExportErr != nil {
		return d.deck.ExportErr
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for n := 1; n <= len(d.deck.Slides); n++ {
		if err := os.WriteFile(filepath.Join(dir, engine.ExportName(opts.Label, n)), []byte("native"), 0644); err != nil {
			return err
		}
	}
	return nil
}

func (d *document) Close() error {
	d.host.mu.Lock()
	defer d.host.mu.Unlock()
	if !d.closed {
		d.closed = true
		d.host.DocsOut = append(d.host.DocsOut, d.path)
	}
	return nil
}

type slide struct {
	ref     Ref
	content Slide
	design  string
}

func (s *slide) Number() int            { return s.ref.Number }
func (s *slide) Shapes() []engine.Shape { return s.content.Shapes }
func (s *slide) Notes() string          { return s.content.Notes }
func (s *slide) Design() engine.Design  { return Design(s.design) }

// Design is a named fake design.
type Design string

func (d Design) Name() string { return string(d) }

// Output records what was pasted into it.
type Output struct {
	Slides  []Ref
	Size    engine.PageSize
	Design  string
	Designs int // ApplyDesign calls
	Saved   string
	Closed  bool
}

func (o *Output) SlideCount() int                { return len(o.Slides) }
func (o *Output) SetPageSize(ps engine.PageSize) { o.Size = ps }

func (o *Output) Paste(src engine.Slide, index int) error {
	s, ok := src.(*slide)
	if !ok {
		return fmt.Errorf("enginetest: cannot paste %T", src)
	}
	if index < 1 || index > len(o.Slides)+1 {
		return fmt.Errorf("%w: paste index %d", engine.ErrSlideRange, index)
	}
	o.Slides = append(o.Slides, Ref{})
	copy(o.Slides[index:], o.Slides[index-1:])
	o.Slides[index-1] = s.ref
	return nil
}

func (o *Output) ApplyDesign(d engine.Design) error {
	o.Design = d.Name()
	o.Designs++
	return nil
}

func (o *Output) SaveAs(path string) error {
	o.Saved = path
	return os.WriteFile(path, []byte(fmt.Sprintf("%v", o.Slides)), 0644)
}

func (o *Output) Close() error {
	o.Closed = true
	return nil
}
