package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/slidebank/slidebank"
	"github.com/slidebank/slidebank/ingest"
	"github.com/slidebank/slidebank/query"
)

type fakePort struct {
	criteria query.Criteria
	ids      []string
	out      string
	ingested []string
	results  []slidebank.SlideResult
	err      error
}

func (f *fakePort) IngestFiles(ctx context.Context, paths []string) (*ingest.Batch, error) {
	f.ingested = paths
	return &ingest.Batch{Outcomes: []ingest.Outcome{{Path: paths[0], Status: ingest.StatusIngested}}}, nil
}

func (f *fakePort) SearchSlides(ctx context.Context, c query.Criteria) ([]slidebank.SlideResult, error) {
	f.criteria = c
	return f.results, f.err
}

func (f *fakePort) StitchSlides(ctx context.Context, ids []string, out string) (*slidebank.StitchSummary, error) {
	f.ids, f.out = ids, out
	return &slidebank.StitchSummary{Path: out, Slides: len(ids)}, f.err
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "space":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// send applies msg. For Enter it also runs the resulting command and feeds
// its message back in; other commands are cursor blinks.
func send(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if k, ok := msg.(tea.KeyMsg); !ok || k.Type != tea.KeyEnter || cmd == nil {
		return m
	}
	switch out := cmd().(type) {
	case searchDoneMsg, stitchDoneMsg, ingestDoneMsg:
		next, _ = m.Update(out)
		m = next.(Model)
	}
	return m
}

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model)
}

func threeResults() []slidebank.SlideResult {
	return []slidebank.SlideResult{
		{Hash: "h1", DeckName: "a.pptx", SlideNumber: 1, Text: "one"},
		{Hash: "h2", DeckName: "a.pptx", SlideNumber: 2, Text: "two"},
		{Hash: "h3", DeckName: "b.pptx", SlideNumber: 1, Text: "three", Notes: "n"},
	}
}

func TestSearchUsesAllFields(t *testing.T) {
	port := &fakePort{results: threeResults()}
	m := sized(New(context.Background(), port, nil))

	m = send(t, m, key("budget"))
	m = send(t, m, key("tab"))
	m = send(t, m, key("plan"))
	m = send(t, m, key("tab"))
	m = send(t, m, key("2024-01-01"))
	m = send(t, m, key("enter"))

	want := query.Criteria{Text: "budget", Title: "plan", TimeRange: query.TimeRange{From: "2024-01-01"}}
	if port.criteria != want {
		t.Errorf("criteria: got %+v, want %+v", port.criteria, want)
	}
	if len(m.results) != 3 || m.busy {
		t.Errorf("results=%d busy=%v", len(m.results), m.busy)
	}
	if !strings.Contains(m.status, "3 slides") {
		t.Errorf("status: %q", m.status)
	}
}

func TestSelectionOrderDrivesStitch(t *testing.T) {
	port := &fakePort{results: threeResults()}
	m := sized(New(context.Background(), port, nil))
	m = send(t, m, key("enter"))

	// Tab from Text to the list.
	for i := 0; i < focusList; i++ {
		m = send(t, m, key("tab"))
	}
	m = send(t, m, key("down"))
	m = send(t, m, key("down"))
	m = send(t, m, key("space")) // h3
	m = send(t, m, key("down"))
	m = send(t, m, key("space")) // h1
	m = send(t, m, key("down"))
	m = send(t, m, key("space")) // h2
	m = send(t, m, key("space")) // h2 off
	m = send(t, m, key("space")) // h2 on again, now last

	if got := strings.Join(m.selected, ","); got != "h3,h1,h2" {
		t.Fatalf("selection: %s", got)
	}
	if !strings.Contains(m.View(), "[2] a.pptx #1") {
		t.Errorf("view should number selections:\n%s", m.View())
	}

	// Shift focus back to the output field (tab wraps to Text, then 4 more).
	for i := 0; i < fieldOut+1; i++ {
		m = send(t, m, key("tab"))
	}
	m = send(t, m, key("out.pptx"))
	m = send(t, m, key("enter"))

	if strings.Join(port.ids, ",") != "h3,h1,h2" || port.out != "out.pptx" {
		t.Errorf("stitch called with ids=%v out=%q", port.ids, port.out)
	}
	if len(m.selected) != 0 || !strings.Contains(m.status, "Saved 3 slides") {
		t.Errorf("after stitch: selected=%v status=%q", m.selected, m.status)
	}
}

func TestStitchNeedsSelectionAndPath(t *testing.T) {
	port := &fakePort{results: threeResults()}
	m := sized(New(context.Background(), port, nil))
	m.setFocus(fieldOut)

	m = send(t, m, key("enter"))
	if port.ids != nil || !strings.Contains(m.status, "Select slides") {
		t.Errorf("status: %q", m.status)
	}

	m.selected = []string{"h1"}
	m = send(t, m, key("enter"))
	if port.ids != nil || !strings.Contains(m.status, "file name") {
		t.Errorf("status: %q", m.status)
	}
}

func TestSearchError(t *testing.T) {
	port := &fakePort{err: errors.New("bad date")}
	m := sized(New(context.Background(), port, nil))
	m = send(t, m, key("enter"))
	if !strings.Contains(m.status, "bad date") {
		t.Errorf("status: %q", m.status)
	}
}

func TestInitIngestsPaths(t *testing.T) {
	port := &fakePort{}
	m := New(context.Background(), port, []string{"a.pptx"})
	cmd := m.Init()
	if cmd == nil {
		t.Fatal("expected an ingest command")
	}
	// Run the ingest function directly; Init batches it with the cursor blink.
	msg := func() tea.Msg {
		b, err := port.IngestFiles(m.ctx, m.pending)
		return ingestDoneMsg{batch: b, err: err}
	}()
	next, _ := m.Update(msg)
	m = next.(Model)
	if len(port.ingested) != 1 || !strings.Contains(m.status, "Ingested 1 decks") {
		t.Errorf("status: %q", m.status)
	}
}
