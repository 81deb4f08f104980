// Package stitch assembles a new deck from slides of several stored decks.
package stitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/slidebank/slidebank/engine"
	"github.com/slidebank/slidebank/store"
)

var (
	ErrNoSelection   = errors.New("no slides selected")
	ErrSlideNotFound = errors.New("slide not found")
)

// Resolver maps a slide hash to its source deck and slide number.
type Resolver interface {
	ResolveSlide(ctx context.Context, slideHash string) (store.SlideRef, error)
}

// Placement is one requested slide. Position is its 0-based index in the
// caller's request after duplicates are removed.
type Placement struct {
	ID          string `json:"id"`
	SlideNumber int    `json:"slide_number"`
	Position    int    `json:"position"`
}

// Group is the slides requested from one deck, in request order.
type Group struct {
	DeckPath string      `json:"deck_path"`
	Slides   []Placement `json:"slides"`
}

// Plan groups a request by source deck, decks in order of first appearance.
type Plan struct {
	Groups []Group `json:"groups"`
	Count  int     `json:"count"`
}

// Result is a stitched, unsaved output and the plan that produced it.
type Result struct {
	Output engine.Output
	Plan   *Plan
}

// Stitcher copies slides into a new output document through the engine.
type Stitcher struct {
	resolver Resolver
	host     engine.Host
	logger   *slog.Logger
}

// New creates a Stitcher.
func New(resolver Resolver, host engine.Host, logger *slog.Logger) *Stitcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stitcher{resolver: resolver, host: host, logger: logger}
}

// Plan resolves ids and groups them by deck. Repeated ids keep their first
// position.
func (s *Stitcher) Plan(ctx context.Context, ids []string) (*Plan, error) {
	if len(ids) == 0 {
		return nil, ErrNoSelection
	}

	plan := &Plan{}
	seen := make(map[string]bool, len(ids))
	groupOf := make(map[string]int)
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		ref, err := s.resolver.ResolveSlide(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSlideNotFound, id)
		}
		if err != nil {
			return nil, fmt.Errorf("resolving slide %s: %w", id, err)
		}

		gi, ok := groupOf[ref.DeckPath]
		if !ok {
			gi = len(plan.Groups)
			groupOf[ref.DeckPath] = gi
			plan.Groups = append(plan.Groups, Group{DeckPath: ref.DeckPath})
		}
		plan.Groups[gi].Slides = append(plan.Groups[gi].Slides, Placement{
			ID:          id,
			SlideNumber: ref.SlideNumber,
			Position:    plan.Count,
		})
		plan.Count++
	}
	return plan, nil
}

// Stitch builds an output document holding the requested slides in request
// order. Each source deck is opened once. The page size comes from the first
// deck opened and the design of the first pasted slide is applied to the
// whole output. The output is returned unsaved; the engine session is
// released before returning.
func (s *Stitcher) Stitch(ctx context.Context, ids []string) (*Result, error) {
	plan, err := s.Plan(ctx, ids)
	if err != nil {
		return nil, err
	}

	session, err := s.host.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting presentation engine: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			s.logger.Warn("closing engine session", "error", err)
		}
	}()

	out, err := session.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating output document: %w", err)
	}

	a := &assembly{out: out}
	for i, g := range plan.Groups {
		if err := s.pasteGroup(ctx, session, a, g, i == 0); err != nil {
			out.Close()
			return nil, err
		}
	}

	s.logger.Info("stitched slides", "slides", plan.Count, "decks", len(plan.Groups))
	return &Result{Output: out, Plan: plan}, nil
}

// assembly tracks which request positions are already in the output.
type assembly struct {
	out           engine.Output
	placed        []int
	designApplied bool
}

// index is the 1-based paste index that keeps request order among the
// slides placed so far.
func (a *assembly) index(position int) int {
	n := 1
	for _, p := range a.placed {
		if p < position {
			n++
		}
	}
	return n
}

func (s *Stitcher) pasteGroup(ctx context.Context, session engine.Session, a *assembly, g Group, first bool) error {
	log := s.logger.With("path", g.DeckPath)
	log.Info("processing presentation", "slides", len(g.Slides))

	doc, err := session.Open(ctx, g.DeckPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", g.DeckPath, err)
	}
	defer doc.Close()

	if first {
		a.out.SetPageSize(doc.PageSize())
	}

	for _, p := range g.Slides {
		slide, err := doc.Slide(p.SlideNumber)
		if err != nil {
			return fmt.Errorf("reading slide %d of %s: %w", p.SlideNumber, g.DeckPath, err)
		}
		if err := a.out.Paste(slide, a.index(p.Position)); err != nil {
			return fmt.Errorf("pasting slide %d of %s: %w", p.SlideNumber, g.DeckPath, err)
		}
		a.placed = append(a.placed, p.Position)
		log.Debug("added slide", "slide", p.SlideNumber, "position", p.Position)

		if !a.designApplied {
			if err := a.out.ApplyDesign(slide.Design()); err != nil {
				return fmt.Errorf("applying design: %w", err)
			}
			a.designApplied = true
		}
	}
	return nil
}
