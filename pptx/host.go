// Package pptx is the presentation engine for Office Open XML decks. It reads
// .pptx packages directly, assembles stitched decks by copying slide parts
// between packages, and renders previews through LibreOffice and poppler.
package pptx

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/slidebank/slidebank/engine"
)

// Options configures the native export toolchain.
type Options struct {
	SofficePath  string
	PdftoppmPath string
	// Timeout bounds a single deck export.
	Timeout time.Duration
}

// Host starts engine sessions. The zero value is not usable; call NewHost.
type Host struct {
	opts   Options
	logger *slog.Logger
}

// NewHost returns a host using opts. Empty tool paths default to the binaries
// on $PATH.
func NewHost(opts Options, logger *slog.Logger) *Host {
	if opts.SofficePath == "" {
		opts.SofficePath = "soffice"
	}
	if opts.PdftoppmPath == "" {
		opts.PdftoppmPath = "pdftoppm"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{opts: opts, logger: logger}
}

// Start acquires a session with its own scratch directory.
func (h *Host) Start(ctx context.Context) (engine.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrUnavailable, err)
	}
	work, err := os.MkdirTemp("", "slidebank-session-*")
	if err != nil {
		return nil, fmt.Errorf("%w: creating work dir: %v", engine.ErrUnavailable, err)
	}
	h.logger.Debug("engine session started", "work_dir", work)
	return &Session{host: h, work: work, docs: make(map[*Document]struct{})}, nil
}

// Session owns the documents it opened and a scratch directory for exports.
type Session struct {
	host   *Host
	work   string
	docs   map[*Document]struct{}
	closed bool
}

// Open reads the deck at path.
func (s *Session) Open(ctx context.Context, path string) (engine.Document, error) {
	if s.closed {
		return nil, engine.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, err := openDocument(s, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", engine.ErrOpen, path, err)
	}
	s.docs[d] = struct{}{}
	return d, nil
}

// Create returns an empty output deck.
func (s *Session) Create(ctx context.Context) (engine.Output, error) {
	if s.closed {
		return nil, engine.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newOutput(), nil
}

// Close closes any open documents and removes the scratch directory. Calling
// it again is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	for d := range s.docs {
		d.Close()
	}
	s.host.logger.Debug("engine session closed", "work_dir", s.work)
	return os.RemoveAll(s.work)
}

func (s *Session) forget(d *Document) {
	delete(s.docs, d)
}
