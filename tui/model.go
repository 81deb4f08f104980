// Package tui is the terminal front end: search criteria inputs, a result
// list with ordered multi-select, and a stitch action.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/slidebank/slidebank"
	"github.com/slidebank/slidebank/ingest"
	"github.com/slidebank/slidebank/query"
)

// Port is the TUI-facing subset of slidebank.App.
type Port interface {
	IngestFiles(ctx context.Context, paths []string) (*ingest.Batch, error)
	SearchSlides(ctx context.Context, c query.Criteria) ([]slidebank.SlideResult, error)
	StitchSlides(ctx context.Context, ids []string, outPath string) (*slidebank.StitchSummary, error)
}

const (
	fieldText = iota
	fieldTitle
	fieldFrom
	fieldTo
	fieldOut
	focusList // the result list follows the inputs in tab order
)

var fieldLabels = []string{"Text", "Title", "From", "To", "Save as"}

const listHeight = 8

type (
	ingestDoneMsg struct {
		batch *ingest.Batch
		err   error
	}
	searchDoneMsg struct {
		results []slidebank.SlideResult
		err     error
	}
	stitchDoneMsg struct {
		summary *slidebank.StitchSummary
		err     error
	}
)

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	port     Port
	ctx      context.Context
	inputs   []textinput.Model
	focus    int
	results  []slidebank.SlideResult
	cursor   int
	selected []string // slide hashes in selection order
	viewport viewport.Model
	status   string
	busy     bool
	ready    bool
	pending  []string // decks to ingest on start
}

// New creates a new TUI model. Paths, if any, are ingested when the program
// starts.
func New(ctx context.Context, port Port, paths []string) Model {
	placeholders := []string{"slide text or notes", "deck name", "YYYY-MM-DD", "YYYY-MM-DD", "stitched.pptx"}
	inputs := make([]textinput.Model, len(fieldLabels))
	for i := range inputs {
		ti := textinput.New()
		ti.Prompt = "> "
		ti.Placeholder = placeholders[i]
		ti.CharLimit = 0
		inputs[i] = ti
	}
	inputs[fieldText].Focus()

	return Model{
		port:     port,
		ctx:      ctx,
		inputs:   inputs,
		viewport: viewport.New(0, 0),
		status:   "Enter criteria and press Enter to search. Tab moves between fields and the result list.",
		pending:  paths,
	}
}

// Init starts ingestion of the pending paths, if any.
func (m Model) Init() tea.Cmd {
	if len(m.pending) == 0 {
		return textinput.Blink
	}
	port, ctx, paths := m.port, m.ctx, m.pending
	return tea.Batch(textinput.Blink, func() tea.Msg {
		b, err := port.IngestFiles(ctx, paths)
		return ingestDoneMsg{batch: b, err: err}
	})
}

// Update handles key, window and completion events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, fh := detailBoxStyle.GetFrameSize()
		reserved := 2 + len(m.inputs) + listHeight + 2 + fh
		m.viewport.Width = max(20, msg.Width-4)
		m.viewport.Height = max(3, msg.Height-reserved)
		m.viewport.SetContent(m.renderDetail())
		return m, nil

	case ingestDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Ingest failed: " + msg.err.Error()
			return m, nil
		}
		ingested, skipped, failed := msg.batch.Counts()
		m.status = fmt.Sprintf("Ingested %d decks, skipped %d, failed %d.", ingested, skipped, failed)
		return m, nil

	case searchDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		m.results = msg.results
		m.cursor = 0
		m.status = fmt.Sprintf("%d slides found.", len(m.results))
		m.viewport.SetContent(m.renderDetail())
		return m, nil

	case stitchDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Stitch failed: " + msg.err.Error()
			return m, nil
		}
		m.status = fmt.Sprintf("Saved %d slides to %s.", msg.summary.Slides, msg.summary.Path)
		m.selected = nil
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "tab":
			m.setFocus((m.focus + 1) % (focusList + 1))
			return m, nil
		case "shift+tab":
			m.setFocus((m.focus + focusList) % (focusList + 1))
			return m, nil
		}
		if m.focus == focusList {
			return m.updateList(msg)
		}
		if msg.Type == tea.KeyEnter {
			return m.submit()
		}
	}

	if m.focus == focusList {
		return m, nil
	}
	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m *Model) setFocus(i int) {
	for j := range m.inputs {
		m.inputs[j].Blur()
	}
	m.focus = i
	if i < len(m.inputs) {
		m.inputs[i].Focus()
	}
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if len(m.results) == 0 {
		return m, nil
	}
	switch msg.String() {
	case "down", "j":
		m.cursor = (m.cursor + 1) % len(m.results)
	case "up", "k":
		m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
	case " ", "x":
		m.toggle(m.results[m.cursor].Hash)
	case "c":
		m.selected = nil
	}
	m.viewport.SetContent(m.renderDetail())
	return m, nil
}

// toggle adds id to the end of the selection or removes it.
func (m *Model) toggle(id string) {
	for i, s := range m.selected {
		if s == id {
			m.selected = append(m.selected[:i:i], m.selected[i+1:]...)
			return
		}
	}
	m.selected = append(m.selected, id)
}

// selectionIndex is the 1-based position of id in the selection, or 0.
func (m Model) selectionIndex(id string) int {
	for i, s := range m.selected {
		if s == id {
			return i + 1
		}
	}
	return 0
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	port, ctx := m.port, m.ctx

	if m.focus == fieldOut {
		out := strings.TrimSpace(m.inputs[fieldOut].Value())
		switch {
		case len(m.selected) == 0:
			m.status = "Select slides first (Tab to the list, Space to select)."
			return m, nil
		case out == "":
			m.status = "Enter a file name to save the stitched deck."
			return m, nil
		}
		ids := append([]string(nil), m.selected...)
		m.busy = true
		m.status = fmt.Sprintf("Stitching %d slides...", len(ids))
		return m, func() tea.Msg {
			s, err := port.StitchSlides(ctx, ids, out)
			return stitchDoneMsg{summary: s, err: err}
		}
	}

	c := m.criteria()
	m.busy = true
	m.status = "Searching..."
	return m, func() tea.Msg {
		res, err := port.SearchSlides(ctx, c)
		return searchDoneMsg{results: res, err: err}
	}
}

func (m Model) criteria() query.Criteria {
	return query.Criteria{
		Text:  strings.TrimSpace(m.inputs[fieldText].Value()),
		Title: strings.TrimSpace(m.inputs[fieldTitle].Value()),
		TimeRange: query.TimeRange{
			From: strings.TrimSpace(m.inputs[fieldFrom].Value()),
			To:   strings.TrimSpace(m.inputs[fieldTo].Value()),
		},
	}
}

// View renders the form, the result list, the current slide and the status.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("slidebank"))
	b.WriteString("  ")
	b.WriteString(dimStyle.Render(fmt.Sprintf("%d selected", len(m.selected))))
	b.WriteString("\n")
	for i, in := range m.inputs {
		label := labelStyle.Render(fmt.Sprintf("%-8s", fieldLabels[i]))
		b.WriteString(label + in.View() + "\n")
	}
	b.WriteString(m.renderList())
	b.WriteString(detailBoxStyle.Render(m.viewport.View()))
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(m.status))
	return b.String()
}

func (m Model) renderList() string {
	if len(m.results) == 0 {
		return dimStyle.Render("No results yet.") + "\n"
	}
	start := 0
	if m.cursor >= listHeight {
		start = m.cursor - listHeight + 1
	}
	end := min(len(m.results), start+listHeight)

	var b strings.Builder
	for i := start; i < end; i++ {
		r := m.results[i]
		mark := "[ ]"
		if n := m.selectionIndex(r.Hash); n > 0 {
			mark = "[" + strconv.Itoa(n) + "]"
		}
		line := fmt.Sprintf("%s %s #%d  %s", mark, r.DeckName, r.SlideNumber, r.Snippet)
		if i == m.cursor && m.focus == focusList {
			line = cursorStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (m Model) renderDetail() string {
	if len(m.results) == 0 {
		return "No slide selected."
	}
	r := m.results[m.cursor]
	title := fmt.Sprintf("%s  slide %d  (%s)  %d/%d", r.DeckName, r.SlideNumber, r.DeckModified, m.cursor+1, len(m.results))
	body := r.Text
	if r.Notes != "" {
		body += "\n\n" + dimStyle.Render("Notes: "+r.Notes)
	}
	return titleStyle.Render(title) + "\n" + dimStyle.Render(r.ImagePath) + "\n\n" + body
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	cursorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	detailBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)
