package pptx

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/slidebank/slidebank/engine"
)

// ErrEmptyOutput is returned by SaveAs when the output has neither slides nor
// a design to base the package on.
var ErrEmptyOutput = errors.New("pptx: output has no slides")

// Output collects pasted slides and builds the package on SaveAs. Pasted
// slides hold their source package, so sources may be closed before saving.
type Output struct {
	size   *engine.PageSize
	design *Design
	slides []*Slide
	closed bool
}

func newOutput() *Output { return &Output{} }

func (o *Output) SlideCount() int { return len(o.slides) }

func (o *Output) SetPageSize(ps engine.PageSize) {
	o.size = &ps
}

// Paste inserts src at the 1-based index.
func (o *Output) Paste(src engine.Slide, index int) error {
	if o.closed {
		return engine.ErrClosed
	}
	s, ok := src.(*Slide)
	if !ok {
		return fmt.Errorf("pptx: cannot paste %T", src)
	}
	if index < 1 || index > len(o.slides)+1 {
		return fmt.Errorf("%w: paste index %d with %d slides", engine.ErrSlideRange, index, len(o.slides))
	}
	o.slides = append(o.slides, nil)
	copy(o.slides[index:], o.slides[index-1:])
	o.slides[index-1] = s
	return nil
}

// ApplyDesign bases the saved package on d's masters, layouts and theme.
// Slides from other decks are mapped onto its layouts.
func (o *Output) ApplyDesign(d engine.Design) error {
	if o.closed {
		return engine.ErrClosed
	}
	dd, ok := d.(*Design)
	if !ok {
		return fmt.Errorf("pptx: cannot apply design %T", d)
	}
	o.design = dd
	return nil
}

func (o *Output) Close() error {
	o.closed = true
	o.slides = nil
	return nil
}

// SaveAs builds the package and writes it to dst.
func (o *Output) SaveAs(dst string) error {
	if o.closed {
		return engine.ErrClosed
	}
	var base *pkg
	switch {
	case o.design != nil:
		base = o.design.pkg
	case len(o.slides) > 0:
		base = o.slides[0].pkg
	default:
		return ErrEmptyOutput
	}

	b, err := newBuilder(base)
	if err != nil {
		return err
	}
	if err := b.stripSlides(); err != nil {
		return err
	}
	for i, s := range o.slides {
		if err := b.addSlide(s, i+1); err != nil {
			return fmt.Errorf("copying slide %d: %w", s.number, err)
		}
	}
	if err := b.finish(o.size); err != nil {
		return err
	}
	return b.out.write(dst)
}

// builder assembles an output package from a base package and slides
// copied from any number of source packages.
type builder struct {
	base      *pkg
	out       *pkg
	main      string
	mainRels  *relationships
	slideRIDs []string
	copied    map[*pkg]map[string]string
	layouts   map[*pkg]map[string]string
	pasted    map[*pkg]map[string]string
	outLayout []layoutInfo
}

type layoutInfo struct {
	part string
	typ  string
	name string
}

func newBuilder(base *pkg) (*builder, error) {
	out := &pkg{parts: make(map[string][]byte, len(base.parts))}
	for k, v := range base.parts {
		out.parts[k] = v
	}
	out.types.Defaults = append([]ctDefault(nil), base.types.Defaults...)
	out.types.Overrides = append([]ctOverride(nil), base.types.Overrides...)

	b := &builder{
		base:    base,
		out:     out,
		main:    out.mainPart(),
		copied:  map[*pkg]map[string]string{},
		layouts: map[*pkg]map[string]string{},
		pasted:  map[*pkg]map[string]string{},
	}
	rels, err := out.rels(b.main)
	if err != nil {
		return nil, err
	}
	b.mainRels = rels

	for _, r := range rels.Rels {
		if r.Type != relSlideMaster {
			continue
		}
		master := resolveTarget(b.main, r.Target)
		mrels, err := out.rels(master)
		if err != nil {
			return nil, err
		}
		for _, mr := range mrels.Rels {
			if mr.Type != relSlideLayout {
				continue
			}
			part := resolveTarget(master, mr.Target)
			typ, name := layoutKey(out, part)
			b.outLayout = append(b.outLayout, layoutInfo{part: part, typ: typ, name: name})
		}
	}
	return b, nil
}

// stripSlides removes the base package's own slides and their notes.
func (b *builder) stripSlides() error {
	kept := b.mainRels.Rels[:0]
	for _, r := range b.mainRels.Rels {
		if r.Type != relSlide {
			kept = append(kept, r)
			continue
		}
		slide := resolveTarget(b.main, r.Target)
		if notes := b.out.relTarget(slide, relNotesSlide); notes != "" {
			b.out.dropPart(notes)
		}
		b.out.dropPart(slide)
	}
	b.mainRels.Rels = kept
	return nil
}

// addSlide copies s into the output as slide n.
func (b *builder) addSlide(s *Slide, n int) error {
	part := fmt.Sprintf("ppt/slides/slide%d.xml", n)
	b.out.parts[part] = s.pkg.parts[s.part]
	b.out.setContentType(part, ctSlide)
	b.remember(b.pasted, s.pkg, s.part, part)

	srcRels, err := s.pkg.rels(s.part)
	if err != nil {
		return err
	}
	rels := &relationships{}
	for _, r := range srcRels.Rels {
		if r.TargetMode == "External" {
			rels.Rels = append(rels.Rels, r)
			continue
		}
		target := resolveTarget(s.part, r.Target)
		switch r.Type {
		case relSlideLayout:
			r.Target = relativeTarget(part, b.mapLayout(s.pkg, target))
		case relNotesSlide:
			notes, err := b.copyNotes(s.pkg, target, part, n)
			if err != nil {
				return err
			}
			if notes == "" {
				continue
			}
			r.Target = relativeTarget(part, notes)
		case relSlide:
			// Slide-to-slide links survive only when the target was pasted
			// earlier; otherwise they point back at this slide.
			linked := b.lookup(b.pasted, s.pkg, target)
			if linked == "" {
				linked = part
			}
			r.Target = relativeTarget(part, linked)
		default:
			copied, err := b.copyPart(s.pkg, target)
			if err != nil {
				return err
			}
			r.Target = relativeTarget(part, copied)
		}
		rels.Rels = append(rels.Rels, r)
	}
	if err := b.putRels(part, rels); err != nil {
		return err
	}

	id := b.mainRels.nextID()
	b.mainRels.Rels = append(b.mainRels.Rels, relationship{
		ID:     id,
		Type:   relSlide,
		Target: relativeTarget(b.main, part),
	})
	b.slideRIDs = append(b.slideRIDs, id)
	return nil
}

// copyNotes copies a notes slide when the output has a notes master to
// attach it to. It returns "" when the notes are dropped.
func (b *builder) copyNotes(src *pkg, notes, slide string, n int) (string, error) {
	master := b.out.relTarget(b.main, relNotesMaster)
	if master == "" {
		return "", nil
	}
	data, ok := src.parts[notes]
	if !ok {
		return "", nil
	}
	part := fmt.Sprintf("ppt/notesSlides/notesSlide%d.xml", n)
	b.out.parts[part] = data
	b.out.setContentType(part, ctNotesSlide)

	srcRels, err := src.rels(notes)
	if err != nil {
		return "", err
	}
	rels := &relationships{}
	for _, r := range srcRels.Rels {
		if r.TargetMode != "External" {
			switch r.Type {
			case relNotesMaster:
				r.Target = relativeTarget(part, master)
			case relSlide:
				r.Target = relativeTarget(part, slide)
			default:
				copied, err := b.copyPart(src, resolveTarget(notes, r.Target))
				if err != nil {
					return "", err
				}
				r.Target = relativeTarget(part, copied)
			}
		}
		rels.Rels = append(rels.Rels, r)
	}
	return part, b.putRels(part, rels)
}

// copyPart copies part and everything it references from src into the
// output, renaming on collision. Parts of the base package are shared.
func (b *builder) copyPart(src *pkg, part string) (string, error) {
	if src == b.base {
		if _, ok := b.out.parts[part]; ok {
			return part, nil
		}
	}
	if done := b.lookup(b.copied, src, part); done != "" {
		return done, nil
	}
	data, ok := src.parts[part]
	if !ok {
		// Dangling reference in the source; keep the name.
		return part, nil
	}

	name := b.freeName(part)
	b.remember(b.copied, src, part, name)
	b.out.parts[name] = data
	b.out.setContentType(name, src.contentType(part))

	srcRels, err := src.rels(part)
	if err != nil {
		return "", err
	}
	if len(srcRels.Rels) == 0 {
		return name, nil
	}
	rels := &relationships{}
	for _, r := range srcRels.Rels {
		if r.TargetMode != "External" {
			copied, err := b.copyPart(src, resolveTarget(part, r.Target))
			if err != nil {
				return "", err
			}
			r.Target = relativeTarget(name, copied)
		}
		rels.Rels = append(rels.Rels, r)
	}
	return name, b.putRels(name, rels)
}

// mapLayout finds the output layout for a source layout: the base package's
// own layouts map to themselves, others match by name, then by type, then
// fall back to the first layout.
func (b *builder) mapLayout(src *pkg, layout string) string {
	if src == b.base {
		return layout
	}
	if done := b.lookup(b.layouts, src, layout); done != "" {
		return done
	}
	typ, name := layoutKey(src, layout)
	found := ""
	for _, l := range b.outLayout {
		if name != "" && l.name == name {
			found = l.part
			break
		}
	}
	if found == "" {
		for _, l := range b.outLayout {
			if l.typ == typ {
				found = l.part
				break
			}
		}
	}
	if found == "" && len(b.outLayout) > 0 {
		found = b.outLayout[0].part
	}
	b.remember(b.layouts, src, layout, found)
	return found
}

var (
	sldIDLstRe   = regexp.MustCompile(`(?s)<(\w+:)?sldIdLst\b[^>]*?(/>|>.*?</(\w+:)?sldIdLst>)`)
	sldSzRe      = regexp.MustCompile(`<(\w+:)?sldSz\b[^>]*?/>`)
	notesSzRe    = regexp.MustCompile(`<(\w+:)?notesSz\b`)
	custShowRe   = regexp.MustCompile(`(?s)<(\w+:)?custShowLst\b[^>]*?(/>|>.*?</(\w+:)?custShowLst>)`)
	sectionLstRe = regexp.MustCompile(`(?s)<(\w+:)?sectionLst\b[^>]*?(/>|>.*?</(\w+:)?sectionLst>)`)
	rootPrefixRe = regexp.MustCompile(`<(\w+):presentation\b`)
	relNSRe      = regexp.MustCompile(`xmlns:(\w+)="http://schemas.openxmlformats.org/officeDocument/2006/relationships"`)
	appSlidesRe  = regexp.MustCompile(`<Slides>\d+</Slides>`)
)

// finish rewrites the presentation part for the new slide list and page
// size, drops unreachable parts, and updates the slide count property.
func (b *builder) finish(size *engine.PageSize) error {
	pres := string(b.out.parts[b.main])
	p, r := "p:", "r"
	if m := rootPrefixRe.FindStringSubmatch(pres); m != nil {
		p = m[1] + ":"
	}
	if m := relNSRe.FindStringSubmatch(pres); m != nil {
		r = m[1]
	}

	var lst strings.Builder
	lst.WriteString("<" + p + "sldIdLst>")
	for i, id := range b.slideRIDs {
		fmt.Fprintf(&lst, `<%ssldId id="%d" %s:id="%s"/>`, p, 256+i, r, id)
	}
	lst.WriteString("</" + p + "sldIdLst>")

	pres = custShowRe.ReplaceAllLiteralString(pres, "")
	pres = sectionLstRe.ReplaceAllLiteralString(pres, "")
	switch {
	case sldIDLstRe.MatchString(pres):
		pres = sldIDLstRe.ReplaceAllLiteralString(pres, lst.String())
	case sldSzRe.MatchString(pres):
		loc := sldSzRe.FindStringIndex(pres)
		pres = pres[:loc[0]] + lst.String() + pres[loc[0]:]
	case notesSzRe.MatchString(pres):
		loc := notesSzRe.FindStringIndex(pres)
		pres = pres[:loc[0]] + lst.String() + pres[loc[0]:]
	default:
		return fmt.Errorf("pptx: cannot place slide list in %s", b.main)
	}

	if size != nil && size.Width > 0 && size.Height > 0 {
		sz := fmt.Sprintf(`<%ssldSz cx="%d" cy="%d"/>`, p, size.Width, size.Height)
		if sldSzRe.MatchString(pres) {
			pres = sldSzRe.ReplaceAllLiteralString(pres, sz)
		} else if loc := notesSzRe.FindStringIndex(pres); loc != nil {
			pres = pres[:loc[0]] + sz + pres[loc[0]:]
		}
	}
	b.out.parts[b.main] = []byte(pres)

	if err := b.putRels(b.main, b.mainRels); err != nil {
		return err
	}
	b.collectGarbage()

	if app := "docProps/app.xml"; b.out.parts[app] != nil {
		b.out.parts[app] = appSlidesRe.ReplaceAll(b.out.parts[app],
			[]byte("<Slides>"+strconv.Itoa(len(b.slideRIDs))+"</Slides>"))
	}
	return nil
}

// collectGarbage drops parts no relationship chain reaches from the root.
func (b *builder) collectGarbage() {
	reached := map[string]bool{}
	queue := []string{""}
	for len(queue) > 0 {
		part := queue[0]
		queue = queue[1:]
		rels, err := b.out.rels(part)
		if err != nil {
			continue
		}
		for _, r := range rels.Rels {
			if r.TargetMode == "External" {
				continue
			}
			t := resolveTarget(part, r.Target)
			if !reached[t] {
				reached[t] = true
				queue = append(queue, t)
			}
		}
	}
	for name := range b.out.parts {
		if name == contentTypesPart || strings.Contains(name, "_rels/") || reached[name] {
			continue
		}
		b.out.dropPart(name)
	}
	// Rels whose source part is gone.
	for name := range b.out.parts {
		dir, file := path.Split(name)
		if !strings.HasSuffix(dir, "_rels/") || file == ".rels" && dir == "_rels/" {
			continue
		}
		source := strings.TrimSuffix(dir, "_rels/") + strings.TrimSuffix(file, ".rels")
		if _, ok := b.out.parts[source]; !ok {
			delete(b.out.parts, name)
		}
	}
}

func (b *builder) putRels(part string, rels *relationships) error {
	data, err := marshalXML(rels)
	if err != nil {
		return err
	}
	b.out.parts[relsPath(part)] = data
	return nil
}

// freeName returns part, or a sibling name with a fresh numeric suffix when
// part is already taken.
func (b *builder) freeName(part string) string {
	if _, ok := b.out.parts[part]; !ok {
		return part
	}
	dir, file := path.Split(part)
	ext := path.Ext(file)
	stem := strings.TrimRight(strings.TrimSuffix(file, ext), "0123456789")
	for i := 1; ; i++ {
		name := dir + stem + strconv.Itoa(i) + ext
		if _, ok := b.out.parts[name]; !ok {
			return name
		}
	}
}

func (b *builder) remember(m map[*pkg]map[string]string, src *pkg, from, to string) {
	if m[src] == nil {
		m[src] = map[string]string{}
	}
	m[src][from] = to
}

func (b *builder) lookup(m map[*pkg]map[string]string, src *pkg, from string) string {
	return m[src][from]
}

// layoutKey returns the type attribute and the name of a slide layout.
func layoutKey(pk *pkg, part string) (string, string) {
	var l xLayout
	if err := decodeXML(pk.parts[part], &l); err != nil {
		return "", ""
	}
	typ := l.Type
	if typ == "" {
		typ = "cust"
	}
	return typ, l.CSld.Name
}

type xLayout struct {
	Type string `xml:"type,attr"`
	CSld struct {
		Name string `xml:"name,attr"`
	} `xml:"cSld"`
}
