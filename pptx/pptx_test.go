package pptx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/slidebank/slidebank/engine"
	"github.com/slidebank/slidebank/internal/testdeck"
)

func newSession(t *testing.T) engine.Session {
	t.Helper()
	h := NewHost(Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s, err := h.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func openDeck(t *testing.T, s engine.Session, path string) engine.Document {
	t.Helper()
	d, err := s.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	return d
}

func slideText(t *testing.T, d engine.Document, n int) string {
	t.Helper()
	sl, err := d.Slide(n)
	if err != nil {
		t.Fatalf("Slide(%d): %v", n, err)
	}
	var parts []string
	for _, sh := range sl.Shapes() {
		parts = append(parts, sh.Text)
	}
	return strings.Join(parts, "|")
}

func textDeck(texts ...string) testdeck.Deck {
	d := testdeck.Deck{Modified: "2024-03-15T09:30:00Z"}
	for _, txt := range texts {
		d.Slides = append(d.Slides, testdeck.Slide{
			Shapes: []testdeck.Shape{{X: 10, Y: 10, Text: txt}},
		})
	}
	return d
}

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

func TestOpenReadsDocumentProperties(t *testing.T) {
	dir := t.TempDir()
	deck := textDeck("one", "two")
	deck.Width, deck.Height = 9144000, 6858000
	path := testdeck.Write(t, dir, "deck.pptx", deck)

	d := openDeck(t, newSession(t), path)
	if d.SlideCount() != 2 {
		t.Errorf("slide count: got %d, want 2", d.SlideCount())
	}
	if got := d.LastModified().Format("2006-01-02"); got != "2024-03-15" {
		t.Errorf("last modified: got %s", got)
	}
	if ps := d.PageSize(); ps.Width != 9144000 || ps.Height != 6858000 {
		t.Errorf("page size: got %+v", ps)
	}
	if d.Path() != path {
		t.Errorf("path: got %s", d.Path())
	}
}

func TestOpenFallsBackToFileTime(t *testing.T) {
	deck := textDeck("one")
	deck.Modified = ""
	path := testdeck.Write(t, t.TempDir(), "deck.pptx", deck)

	d := openDeck(t, newSession(t), path)
	if d.LastModified().IsZero() {
		t.Error("expected file modification time when core properties are missing")
	}
}

func TestSlidesFollowPresentationOrder(t *testing.T) {
	deck := textDeck("first file", "second file", "third file")
	deck.Reverse = true
	path := testdeck.Write(t, t.TempDir(), "deck.pptx", deck)

	d := openDeck(t, newSession(t), path)
	want := []string{"third file", "second file", "first file"}
	for i, w := range want {
		if got := slideText(t, d, i+1); got != w {
			t.Errorf("slide %d: got %q, want %q", i+1, got, w)
		}
	}
}

func TestShapesCarryOffsetsAndParagraphs(t *testing.T) {
	deck := testdeck.Deck{Slides: []testdeck.Slide{{
		Shapes: []testdeck.Shape{
			{X: 500, Y: 900, Text: "bottom"},
			{X: 20, Y: 30, Text: "line one\nline two"},
			{Placeholder: "title", Text: "Title"},
			{Placeholder: "body", Text: "Body"},
		},
	}}}
	path := testdeck.Write(t, t.TempDir(), "deck.pptx", deck)

	sl, err := openDeck(t, newSession(t), path).Slide(1)
	if err != nil {
		t.Fatal(err)
	}
	want := []engine.Shape{
		{Left: 500, Top: 900, Text: "bottom"},
		{Left: 20, Top: 30, Text: "line one\nline two"},
		{Left: 100, Top: 200, Text: "Title"}, // from the master
		{Left: 300, Top: 400, Text: "Body"},  // from the layout
	}
	got := sl.Shapes()
	if len(got) != len(want) {
		t.Fatalf("shapes: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("shape %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestNotes(t *testing.T) {
	deck := textDeck("with notes", "without")
	deck.Slides[0].Notes = "speaker notes"
	path := testdeck.Write(t, t.TempDir(), "deck.pptx", deck)

	d := openDeck(t, newSession(t), path)
	s1, _ := d.Slide(1)
	s2, _ := d.Slide(2)
	if s1.Notes() != "speaker notes" {
		t.Errorf("notes: got %q", s1.Notes())
	}
	if s2.Notes() != "" {
		t.Errorf("expected empty notes, got %q", s2.Notes())
	}
}

func TestSlideRange(t *testing.T) {
	path := testdeck.Write(t, t.TempDir(), "deck.pptx", textDeck("one"))
	d := openDeck(t, newSession(t), path)
	for _, n := range []int{0, 2} {
		if _, err := d.Slide(n); !errors.Is(err, engine.ErrSlideRange) {
			t.Errorf("Slide(%d): expected ErrSlideRange, got %v", n, err)
		}
	}
}

func TestOpenRejectsNonPackage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pptx")
	writeFile(t, path, "not a zip")
	_, err := newSession(t).Open(context.Background(), path)
	if !errors.Is(err, engine.ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestDesignName(t *testing.T) {
	deck := textDeck("one")
	deck.Theme = "Corporate"
	path := testdeck.Write(t, t.TempDir(), "deck.pptx", deck)
	sl, _ := openDeck(t, newSession(t), path).Slide(1)
	if got := sl.Design().Name(); got != "Corporate" {
		t.Errorf("design name: got %q", got)
	}
}

func TestDecodeXMLHonoursEncoding(t *testing.T) {
	data := append([]byte(`<?xml version="1.0" encoding="ISO-8859-1"?><a:theme xmlns:a="x" name="caf`), 0xE9, '"', '/', '>')
	var th xTheme
	if err := decodeXML(data, &th); err != nil {
		t.Fatal(err)
	}
	if th.Name != "café" {
		t.Errorf("name: got %q", th.Name)
	}
}

// ---------------------------------------------------------------------------
// Session lifecycle
// ---------------------------------------------------------------------------

func TestSessionCloseClosesDocuments(t *testing.T) {
	path := testdeck.Write(t, t.TempDir(), "deck.pptx", textDeck("one"))
	h := NewHost(Options{}, nil)
	s, err := h.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	d := openDeck(t, s, path)

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := d.Slide(1); !errors.Is(err, engine.ErrClosed) {
		t.Errorf("expected ErrClosed after session close, got %v", err)
	}
	if _, err := s.Open(context.Background(), path); !errors.Is(err, engine.ErrClosed) {
		t.Errorf("expected ErrClosed from closed session, got %v", err)
	}
}

func TestStartCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewHost(Options{}, nil).Start(ctx); !errors.Is(err, engine.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestExportMissingBinary(t *testing.T) {
	path := testdeck.Write(t, t.TempDir(), "deck.pptx", textDeck("one"))
	h := NewHost(Options{SofficePath: "/nonexistent/soffice"}, nil)
	s, err := h.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	d := openDeck(t, s, path)

	err = d.Export(context.Background(), t.TempDir(), engine.ExportOptions{Width: 800, Height: 600, Label: "slide"})
	if !errors.Is(err, engine.ErrExport) {
		t.Fatalf("expected ErrExport, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------------

func TestPasteIndexes(t *testing.T) {
	path := testdeck.Write(t, t.TempDir(), "deck.pptx", textDeck("a", "b", "c"))
	s := newSession(t)
	d := openDeck(t, s, path)
	out, err := s.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	paste := func(n, index int) {
		t.Helper()
		sl, err := d.Slide(n)
		if err != nil {
			t.Fatal(err)
		}
		if err := out.Paste(sl, index); err != nil {
			t.Fatalf("Paste(%d, %d): %v", n, index, err)
		}
	}
	paste(3, 1) // c
	paste(1, 1) // a c
	paste(2, 2) // a b c

	got := out.(*Output).slides
	for i, want := range []int{1, 2, 3} {
		if got[i].Number() != want {
			t.Errorf("position %d: got slide %d, want %d", i+1, got[i].Number(), want)
		}
	}

	sl, _ := d.Slide(1)
	if err := out.Paste(sl, 5); !errors.Is(err, engine.ErrSlideRange) {
		t.Errorf("expected ErrSlideRange for index past end, got %v", err)
	}
}

func TestSaveAsEmpty(t *testing.T) {
	out, err := newSession(t).Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := out.SaveAs(filepath.Join(t.TempDir(), "out.pptx")); !errors.Is(err, ErrEmptyOutput) {
		t.Fatalf("expected ErrEmptyOutput, got %v", err)
	}
}

func TestSaveAsAcrossDecks(t *testing.T) {
	dir := t.TempDir()
	a := textDeck("A1", "A2", "A3")
	a.Theme = "Theme A"
	a.Slides[1].Notes = "notes for A2"
	a.Slides[1].Image = []byte("image-of-deck-a")
	b := textDeck("B1", "B2")
	b.Theme = "Theme B"
	b.LayoutName = "Other Layout"
	b.Width, b.Height = 9144000, 6858000
	b.Slides[0].Image = []byte("image-of-deck-b")
	pathA := testdeck.Write(t, dir, "a.pptx", a)
	pathB := testdeck.Write(t, dir, "b.pptx", b)

	s := newSession(t)
	ctx := context.Background()
	out, err := s.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}

	da := openDeck(t, s, pathA)
	out.SetPageSize(da.PageSize())
	a2, _ := da.Slide(2)
	a3, _ := da.Slide(3)
	if err := out.ApplyDesign(a2.Design()); err != nil {
		t.Fatal(err)
	}
	out.Paste(a2, 1)
	out.Paste(a3, 2)
	da.Close()

	db := openDeck(t, s, pathB)
	b1, _ := db.Slide(1)
	out.Paste(b1, 2) // A2 B1 A3
	db.Close()

	dst := filepath.Join(dir, "stitched.pptx")
	if err := out.SaveAs(dst); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}

	got := openDeck(t, s, dst)
	if got.SlideCount() != 3 {
		t.Fatalf("slide count: got %d, want 3", got.SlideCount())
	}
	for i, want := range []string{"A2", "B1", "A3"} {
		if txt := slideText(t, got, i+1); txt != want {
			t.Errorf("slide %d: got %q, want %q", i+1, txt, want)
		}
	}
	if ps := got.PageSize(); ps.Width != 12192000 || ps.Height != 6858000 {
		t.Errorf("page size: got %+v, want deck A's", ps)
	}
	first, _ := got.Slide(1)
	if first.Notes() != "notes for A2" {
		t.Errorf("notes not carried: %q", first.Notes())
	}
	if name := first.Design().Name(); name != "Theme A" {
		t.Errorf("design: got %q, want Theme A", name)
	}

	pk, err := readPackage(dst)
	if err != nil {
		t.Fatal(err)
	}
	media := map[string]bool{}
	for name, data := range pk.parts {
		if strings.HasPrefix(name, "ppt/media/") {
			media[string(data)] = true
		}
	}
	if !media["image-of-deck-a"] || !media["image-of-deck-b"] || len(media) != 2 {
		t.Errorf("media parts: got %v", media)
	}
	if n := len(pk.types.Overrides); n == 0 {
		t.Error("content type overrides missing")
	}
	if ct := pk.contentType("ppt/slides/slide3.xml"); ct != ctSlide {
		t.Errorf("slide content type: got %q", ct)
	}
	for name := range pk.parts {
		if strings.HasPrefix(name, "ppt/slides/slide") && name > "ppt/slides/slide3.xml" {
			t.Errorf("leftover slide part %s", name)
		}
	}
}

func TestSaveAsUsesFirstSlideDeckWithoutDesign(t *testing.T) {
	dir := t.TempDir()
	path := testdeck.Write(t, dir, "a.pptx", textDeck("x", "y"))
	s := newSession(t)
	d := openDeck(t, s, path)
	out, _ := s.Create(context.Background())
	sl, _ := d.Slide(2)
	out.Paste(sl, 1)

	dst := filepath.Join(dir, "out.pptx")
	if err := out.SaveAs(dst); err != nil {
		t.Fatal(err)
	}
	got := openDeck(t, s, dst)
	if got.SlideCount() != 1 || slideText(t, got, 1) != "y" {
		t.Errorf("got %d slides, first %q", got.SlideCount(), slideText(t, got, 1))
	}
}

// ---------------------------------------------------------------------------
// Paths
// ---------------------------------------------------------------------------

func TestTargets(t *testing.T) {
	tests := []struct {
		source, target, part string
	}{
		{"ppt/slides/slide1.xml", "../media/image1.png", "ppt/media/image1.png"},
		{"ppt/presentation.xml", "slides/slide2.xml", "ppt/slides/slide2.xml"},
		{"", "ppt/presentation.xml", "ppt/presentation.xml"},
		{"ppt/slides/slide1.xml", "../slideLayouts/slideLayout3.xml", "ppt/slideLayouts/slideLayout3.xml"},
	}
	for _, tt := range tests {
		if got := resolveTarget(tt.source, tt.target); got != tt.part {
			t.Errorf("resolveTarget(%q, %q) = %q, want %q", tt.source, tt.target, got, tt.part)
		}
		if got := relativeTarget(tt.source, tt.part); got != tt.target {
			t.Errorf("relativeTarget(%q, %q) = %q, want %q", tt.source, tt.part, got, tt.target)
		}
	}
	if got := resolveTarget("ppt/slides/slide1.xml", "/ppt/media/x.png"); got != "ppt/media/x.png" {
		t.Errorf("absolute target: got %q", got)
	}
	if got := relsPath("ppt/slides/slide1.xml"); got != "ppt/slides/_rels/slide1.xml.rels" {
		t.Errorf("relsPath: got %q", got)
	}
	if got := relsPath(""); got != "_rels/.rels" {
		t.Errorf("root relsPath: got %q", got)
	}
}
