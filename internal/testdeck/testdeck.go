// Package testdeck writes small but structurally complete .pptx packages for
// tests.
package testdeck

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Shape is a text box. Without Placeholder it carries an explicit offset;
// with it the offset is inherited from the layout.
type Shape struct {
	X, Y        int64
	Text        string // paragraphs separated by "\n"
	Placeholder string // "", "title" or "body"
}

// Slide is one slide of a fixture deck.
type Slide struct {
	Shapes []Shape
	Notes  string
	Image  []byte // attached as ppt/media/image1.png when set
}

// Deck describes a fixture deck.
type Deck struct {
	Modified   string // dcterms:modified value; empty omits core.xml
	Width      int64
	Height     int64
	Theme      string
	LayoutName string
	Slides     []Slide
	// Reverse lists the slides in sldIdLst in reverse file order.
	Reverse bool
}

const (
	nsP = `xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" ` +
		`xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" ` +
		`xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"`
	nsRels  = `http://schemas.openxmlformats.org/package/2006/relationships`
	relBase = `http://schemas.openxmlformats.org/officeDocument/2006/relationships/`
	ctBase  = `application/vnd.openxmlformats-officedocument.presentationml.`
)

// Write stores d as dir/name and returns the path.
func Write(t testing.TB, dir, name string, d Deck) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, Build(d), 0644); err != nil {
		t.Fatalf("writing fixture deck: %v", err)
	}
	return p
}

// Build returns the zipped package bytes for d.
func Build(d Deck) []byte {
	if d.Width == 0 {
		d.Width, d.Height = 12192000, 6858000
	}
	if d.Theme == "" {
		d.Theme = "Office Theme"
	}
	if d.LayoutName == "" {
		d.LayoutName = "Title and Content"
	}

	parts := map[string]string{}
	var overrides []string
	override := func(part, ct string) {
		overrides = append(overrides, fmt.Sprintf(`<Override PartName="/%s" ContentType="%s"/>`, part, ct))
	}

	rootRels := []string{rel("rId1", "officeDocument", "ppt/presentation.xml")}
	if d.Modified != "" {
		rootRels = append(rootRels, `<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/package/2006/relationships/metadata/core-properties" Target="docProps/core.xml"/>`)
		parts["docProps/core.xml"] = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
			`<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" ` +
			`xmlns:dcterms="http://purl.org/dc/terms/" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">` +
			`<dcterms:modified xsi:type="dcterms:W3CDTF">` + d.Modified + `</dcterms:modified></cp:coreProperties>`
		override("docProps/core.xml", "application/vnd.openxmlformats-package.core-properties+xml")
	}
	parts["_rels/.rels"] = rels(rootRels...)

	presRels := []string{
		rel("rId1", "slideMaster", "slideMasters/slideMaster1.xml"),
		rel("rId2", "theme", "theme/theme1.xml"),
		rel("rId3", "notesMaster", "notesMasters/notesMaster1.xml"),
	}
	var ids []string
	for i := range d.Slides {
		n := i + 1
		rid := fmt.Sprintf("rId%d", 10+n)
		presRels = append(presRels, rel(rid, "slide", fmt.Sprintf("slides/slide%d.xml", n)))
		ids = append(ids, fmt.Sprintf(`<p:sldId id="%d" r:id="%s"/>`, 255+n, rid))
	}
	if d.Reverse {
		for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
			ids[i], ids[j] = ids[j], ids[i]
		}
	}
	parts["ppt/presentation.xml"] = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<p:presentation ` + nsP + `>` +
		`<p:sldMasterIdLst><p:sldMasterId id="2147483648" r:id="rId1"/></p:sldMasterIdLst>` +
		`<p:notesMasterIdLst><p:notesMasterId r:id="rId3"/></p:notesMasterIdLst>` +
		`<p:sldIdLst>` + strings.Join(ids, "") + `</p:sldIdLst>` +
		fmt.Sprintf(`<p:sldSz cx="%d" cy="%d"/>`, d.Width, d.Height) +
		`<p:notesSz cx="6858000" cy="9144000"/></p:presentation>`
	parts["ppt/_rels/presentation.xml.rels"] = rels(presRels...)
	override("ppt/presentation.xml", ctBase+"presentation.main+xml")

	parts["ppt/theme/theme1.xml"] = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<a:theme xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" name="` + d.Theme + `"/>`
	override("ppt/theme/theme1.xml", "application/vnd.openxmlformats-officedocument.theme+xml")

	parts["ppt/slideMasters/slideMaster1.xml"] = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<p:sldMaster ` + nsP + `><p:cSld><p:spTree>` +
		placeholder("title", "", 100, 200) +
		`</p:spTree></p:cSld>` +
		`<p:sldLayoutIdLst><p:sldLayoutId id="2147483649" r:id="rId1"/></p:sldLayoutIdLst></p:sldMaster>`
	parts["ppt/slideMasters/_rels/slideMaster1.xml.rels"] = rels(
		rel("rId1", "slideLayout", "../slideLayouts/slideLayout1.xml"),
		rel("rId2", "theme", "../theme/theme1.xml"),
	)
	override("ppt/slideMasters/slideMaster1.xml", ctBase+"slideMaster+xml")

	parts["ppt/slideLayouts/slideLayout1.xml"] = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<p:sldLayout ` + nsP + ` type="obj"><p:cSld name="` + d.LayoutName + `"><p:spTree>` +
		placeholder("body", "1", 300, 400) +
		`</p:spTree></p:cSld></p:sldLayout>`
	parts["ppt/slideLayouts/_rels/slideLayout1.xml.rels"] = rels(
		rel("rId1", "slideMaster", "../slideMasters/slideMaster1.xml"),
	)
	override("ppt/slideLayouts/slideLayout1.xml", ctBase+"slideLayout+xml")

	parts["ppt/notesMasters/notesMaster1.xml"] = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<p:notesMaster ` + nsP + `><p:cSld><p:spTree/></p:cSld></p:notesMaster>`
	parts["ppt/notesMasters/_rels/notesMaster1.xml.rels"] = rels(
		rel("rId1", "theme", "../theme/theme1.xml"),
	)
	override("ppt/notesMasters/notesMaster1.xml", ctBase+"notesMaster+xml")

	for i, s := range d.Slides {
		n := i + 1
		slide := fmt.Sprintf("ppt/slides/slide%d.xml", n)
		var body strings.Builder
		for j, sh := range s.Shapes {
			body.WriteString(shape(j+2, sh))
		}
		parts[slide] = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
			`<p:sld ` + nsP + `><p:cSld><p:spTree>` + body.String() + `</p:spTree></p:cSld></p:sld>`
		override(slide, ctBase+"slide+xml")

		slideRels := []string{rel("rId1", "slideLayout", "../slideLayouts/slideLayout1.xml")}
		if s.Image != nil {
			parts["ppt/media/image1.png"] = string(s.Image)
			slideRels = append(slideRels, rel("rId2", "image", "../media/image1.png"))
		}
		if s.Notes != "" {
			notes := fmt.Sprintf("ppt/notesSlides/notesSlide%d.xml", n)
			parts[notes] = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
				`<p:notes ` + nsP + `><p:cSld><p:spTree>` +
				shape(2, Shape{Placeholder: "body", Text: s.Notes}) +
				`</p:spTree></p:cSld></p:notes>`
			parts[fmt.Sprintf("ppt/notesSlides/_rels/notesSlide%d.xml.rels", n)] = rels(
				rel("rId1", "notesMaster", "../notesMasters/notesMaster1.xml"),
				rel("rId2", "slide", fmt.Sprintf("../slides/slide%d.xml", n)),
			)
			override(notes, ctBase+"notesSlide+xml")
			slideRels = append(slideRels, rel("rId3", "notesSlide", fmt.Sprintf("../notesSlides/notesSlide%d.xml", n)))
		}
		parts[fmt.Sprintf("ppt/slides/_rels/slide%d.xml.rels", n)] = rels(slideRels...)
	}

	parts["[Content_Types].xml"] = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
		`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
		`<Default Extension="xml" ContentType="application/xml"/>` +
		`<Default Extension="png" ContentType="image/png"/>` +
		strings.Join(overrides, "") + `</Types>`

	return zipParts(parts)
}

func zipParts(parts map[string]string) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range parts {
		w, err := zw.Create(name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write([]byte(data)); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func rel(id, typ, target string) string {
	return fmt.Sprintf(`<Relationship Id="%s" Type="%s%s" Target="%s"/>`, id, relBase, typ, target)
}

func rels(entries ...string) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<Relationships xmlns="` + nsRels + `">` + strings.Join(entries, "") + `</Relationships>`
}

func placeholder(typ, idx string, x, y int64) string {
	attrs := fmt.Sprintf(`type="%s"`, typ)
	if idx != "" {
		attrs += fmt.Sprintf(` idx="%s"`, idx)
	}
	return `<p:sp><p:nvSpPr><p:cNvPr id="2" name="` + typ + `"/><p:cNvSpPr/>` +
		`<p:nvPr><p:ph ` + attrs + `/></p:nvPr></p:nvSpPr>` +
		fmt.Sprintf(`<p:spPr><a:xfrm><a:off x="%d" y="%d"/><a:ext cx="1000" cy="1000"/></a:xfrm></p:spPr>`, x, y) +
		`</p:sp>`
}

func shape(id int, sh Shape) string {
	var nvPr, spPr string
	switch sh.Placeholder {
	case "title":
		nvPr = `<p:nvPr><p:ph type="title"/></p:nvPr>`
		spPr = `<p:spPr/>`
	case "body":
		nvPr = `<p:nvPr><p:ph type="body" idx="1"/></p:nvPr>`
		spPr = `<p:spPr/>`
	default:
		nvPr = `<p:nvPr/>`
		spPr = fmt.Sprintf(`<p:spPr><a:xfrm><a:off x="%d" y="%d"/><a:ext cx="1000" cy="1000"/></a:xfrm></p:spPr>`, sh.X, sh.Y)
	}
	var paras strings.Builder
	for _, line := range strings.Split(sh.Text, "\n") {
		paras.WriteString(`<a:p><a:r><a:rPr lang="en-US"/><a:t>` + escape(line) + `</a:t></a:r></a:p>`)
	}
	return fmt.Sprintf(`<p:sp><p:nvSpPr><p:cNvPr id="%d" name="Shape %d"/><p:cNvSpPr/>`, id, id) +
		nvPr + `</p:nvSpPr>` + spPr +
		`<p:txBody><a:bodyPr/><a:lstStyle/>` + paras.String() + `</p:txBody></p:sp>`
}

func escape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}
