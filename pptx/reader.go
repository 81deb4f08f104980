package pptx

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/slidebank/slidebank/engine"
)

// Document is an opened .pptx package.
type Document struct {
	session  *Session
	path     string
	pkg      *pkg
	main     string
	slides   []string // slide part names in presentation order
	size     engine.PageSize
	modified time.Time
	closed   bool
}

func openDocument(s *Session, p string) (*Document, error) {
	pk, err := readPackage(p)
	if err != nil {
		return nil, err
	}
	d := &Document{session: s, path: p, pkg: pk, main: pk.mainPart()}

	data, ok := pk.parts[d.main]
	if !ok {
		return nil, fmt.Errorf("missing main part %s", d.main)
	}
	var pres xPresentation
	if err := decodeXML(data, &pres); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", d.main, err)
	}
	if pres.SldSz != nil {
		d.size = engine.PageSize{Width: pres.SldSz.Cx, Height: pres.SldSz.Cy}
	}

	rels, err := pk.rels(d.main)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]string, len(rels.Rels))
	for _, r := range rels.Rels {
		if r.Type == relSlide {
			byID[r.ID] = resolveTarget(d.main, r.Target)
		}
	}
	for _, id := range pres.SldIDs {
		part, ok := byID[id.RID]
		if !ok {
			return nil, fmt.Errorf("slide relationship %s not found", id.RID)
		}
		if _, ok := pk.parts[part]; !ok {
			return nil, fmt.Errorf("slide part %s missing", part)
		}
		d.slides = append(d.slides, part)
	}

	d.modified = coreModified(pk)
	if d.modified.IsZero() {
		if fi, err := os.Stat(p); err == nil {
			d.modified = fi.ModTime()
		}
	}
	return d, nil
}

func (d *Document) Path() string              { return d.path }
func (d *Document) LastModified() time.Time   { return d.modified }
func (d *Document) PageSize() engine.PageSize { return d.size }
func (d *Document) SlideCount() int           { return len(d.slides) }

// Slide parses and returns slide n (1-based).
func (d *Document) Slide(n int) (engine.Slide, error) {
	if d.closed {
		return nil, engine.ErrClosed
	}
	if n < 1 || n > len(d.slides) {
		return nil, fmt.Errorf("%w: %d of %d", engine.ErrSlideRange, n, len(d.slides))
	}
	part := d.slides[n-1]
	s := &Slide{pkg: d.pkg, part: part, number: n}

	var xs xSlide
	if err := decodeXML(d.pkg.parts[part], &xs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", part, err)
	}

	s.layout = d.pkg.relTarget(part, relSlideLayout)
	inherited := placeholderOffsets(d.pkg, s.layout)
	for _, sp := range xs.CSld.SpTree.Shapes {
		if sp.TxBody == nil {
			continue
		}
		sh := engine.Shape{Text: sp.TxBody.text()}
		switch {
		case sp.SpPr.Xfrm != nil && sp.SpPr.Xfrm.Off != nil:
			sh.Left, sh.Top = sp.SpPr.Xfrm.Off.X, sp.SpPr.Xfrm.Off.Y
		case sp.NvSpPr.NvPr.Ph != nil:
			if off, ok := inherited.lookup(sp.NvSpPr.NvPr.Ph); ok {
				sh.Left, sh.Top = off.X, off.Y
			}
		}
		s.shapes = append(s.shapes, sh)
	}

	if notes := d.pkg.relTarget(part, relNotesSlide); notes != "" {
		s.notesPart = notes
		s.notes = notesText(d.pkg.parts[notes])
	}
	return s, nil
}

// Export renders every slide to PNG with the native toolchain.
func (d *Document) Export(ctx context.Context, dir string, opts engine.ExportOptions) error {
	if d.closed {
		return engine.ErrClosed
	}
	return d.session.export(ctx, d.path, len(d.slides), dir, opts)
}

func (d *Document) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.session.forget(d)
	return nil
}

// Slide is one parsed slide. It keeps a reference to its package so it can
// be pasted after the source document is closed.
type Slide struct {
	pkg       *pkg
	part      string
	layout    string
	notesPart string
	number    int
	shapes    []engine.Shape
	notes     string
}

func (s *Slide) Number() int            { return s.number }
func (s *Slide) Shapes() []engine.Shape { return s.shapes }
func (s *Slide) Notes() string          { return s.notes }

// Design returns the slide master (and its theme) the slide's layout uses.
func (s *Slide) Design() engine.Design {
	master := s.pkg.relTarget(s.layout, relSlideMaster)
	return &Design{pkg: s.pkg, master: master}
}

// Design is a slide master inside a specific package.
type Design struct {
	pkg    *pkg
	master string
}

// Name is the theme name, or the master part name when the theme has none.
func (d *Design) Name() string {
	if theme := d.pkg.relTarget(d.master, relTheme); theme != "" {
		var t xTheme
		if err := decodeXML(d.pkg.parts[theme], &t); err == nil && t.Name != "" {
			return t.Name
		}
	}
	return d.master
}

// --- text extraction ---

func (b *xTxBody) text() string {
	paras := make([]string, len(b.Paras))
	for i, p := range b.Paras {
		var sb strings.Builder
		for _, it := range p.Items {
			switch it.XMLName.Local {
			case "r", "fld":
				sb.WriteString(it.T)
			case "br":
				sb.WriteString("\n")
			}
		}
		paras[i] = sb.String()
	}
	return strings.Join(paras, "\n")
}

// notesText returns the text of the body placeholder of a notes slide.
func notesText(data []byte) string {
	var xs xSlide
	if err := decodeXML(data, &xs); err != nil {
		return ""
	}
	for _, sp := range xs.CSld.SpTree.Shapes {
		if ph := sp.NvSpPr.NvPr.Ph; ph != nil && ph.Type == "body" && sp.TxBody != nil {
			return sp.TxBody.text()
		}
	}
	return ""
}

// coreModified reads dcterms:modified from the core properties part.
func coreModified(pk *pkg) time.Time {
	part := pk.relTarget("", relCoreProps)
	if part == "" {
		part = "docProps/core.xml"
	}
	data, ok := pk.parts[part]
	if !ok {
		return time.Time{}
	}
	var cp xCoreProps
	if err := decodeXML(data, &cp); err != nil {
		return time.Time{}
	}
	v := strings.TrimSpace(cp.Modified)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// placeholderSet maps placeholder keys to offsets defined on a layout and
// its master.
type placeholderSet struct {
	byIdx  map[string]xOff
	byType map[string]xOff
}

func placeholderOffsets(pk *pkg, layout string) placeholderSet {
	set := placeholderSet{byIdx: map[string]xOff{}, byType: map[string]xOff{}}
	if layout == "" {
		return set
	}
	// Layout entries override master entries.
	parts := []string{pk.relTarget(layout, relSlideMaster), layout}
	for _, part := range parts {
		var xs xSlide
		if part == "" || decodeXML(pk.parts[part], &xs) != nil {
			continue
		}
		for _, sp := range xs.CSld.SpTree.Shapes {
			ph := sp.NvSpPr.NvPr.Ph
			if ph == nil || sp.SpPr.Xfrm == nil || sp.SpPr.Xfrm.Off == nil {
				continue
			}
			off := *sp.SpPr.Xfrm.Off
			if ph.Idx != "" {
				set.byIdx[ph.Idx] = off
			}
			set.byType[ph.kind()] = off
		}
	}
	return set
}

func (s placeholderSet) lookup(ph *xPh) (xOff, bool) {
	if ph.Idx != "" {
		if off, ok := s.byIdx[ph.Idx]; ok {
			return off, true
		}
	}
	off, ok := s.byType[ph.kind()]
	return off, ok
}

// --- PresentationML structures (simplified) ---

type xPresentation struct {
	SldIDs []struct {
		RID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sldIdLst>sldId"`
	SldSz *struct {
		Cx int64 `xml:"cx,attr"`
		Cy int64 `xml:"cy,attr"`
	} `xml:"sldSz"`
}

type xSlide struct {
	CSld struct {
		Name   string `xml:"name,attr"`
		SpTree struct {
			Shapes []xShape `xml:"sp"`
		} `xml:"spTree"`
	} `xml:"cSld"`
}

type xShape struct {
	NvSpPr struct {
		NvPr struct {
			Ph *xPh `xml:"ph"`
		} `xml:"nvPr"`
	} `xml:"nvSpPr"`
	SpPr struct {
		Xfrm *struct {
			Off *xOff `xml:"off"`
		} `xml:"xfrm"`
	} `xml:"spPr"`
	TxBody *xTxBody `xml:"txBody"`
}

type xPh struct {
	Type string `xml:"type,attr"`
	Idx  string `xml:"idx,attr"`
}

// kind is the placeholder type; an absent type means "obj".
func (p *xPh) kind() string {
	switch p.Type {
	case "":
		return "obj"
	case "ctrTitle":
		return "title"
	}
	return p.Type
}

type xOff struct {
	X int64 `xml:"x,attr"`
	Y int64 `xml:"y,attr"`
}

type xTxBody struct {
	Paras []struct {
		Items []struct {
			XMLName xml.Name
			T       string `xml:"t"`
		} `xml:",any"`
	} `xml:"p"`
}

type xTheme struct {
	Name string `xml:"name,attr"`
}

type xCoreProps struct {
	Modified string `xml:"modified"`
}
