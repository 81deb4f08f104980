package pptx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/html/charset"
)

// Relationship types used by the reader and writer.
const (
	relOfficeDocument = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument"
	relSlide          = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide"
	relSlideLayout    = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideLayout"
	relSlideMaster    = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideMaster"
	relNotesSlide     = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/notesSlide"
	relNotesMaster    = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/notesMaster"
	relTheme          = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/theme"
	relCoreProps      = "http://schemas.openxmlformats.org/package/2006/relationships/metadata/core-properties"

	ctSlide      = "application/vnd.openxmlformats-officedocument.presentationml.slide+xml"
	ctNotesSlide = "application/vnd.openxmlformats-officedocument.presentationml.notesSlide+xml"

	contentTypesPart = "[Content_Types].xml"
)

// pkg is an OPC package held in memory. Parts are never mutated after
// readPackage returns; the writer builds a new pkg.
type pkg struct {
	parts map[string][]byte
	types contentTypes
}

func readPackage(p string) (*pkg, error) {
	r, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("opening package: %w", err)
	}
	defer r.Close()

	out := &pkg{parts: make(map[string][]byte, len(r.File))}
	for _, f := range r.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening part %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading part %s: %w", f.Name, err)
		}
		out.parts[strings.TrimPrefix(f.Name, "/")] = data
	}

	ct, ok := out.parts[contentTypesPart]
	if !ok {
		return nil, fmt.Errorf("missing %s", contentTypesPart)
	}
	if err := decodeXML(ct, &out.types); err != nil {
		return nil, fmt.Errorf("parsing content types: %w", err)
	}
	return out, nil
}

// write stores the package as a zip archive. Content types and the root
// relationships come first, the rest in name order.
func (p *pkg) write(dst string) error {
	ct, err := marshalXML(p.types)
	if err != nil {
		return err
	}
	p.parts[contentTypesPart] = ct

	names := make([]string, 0, len(p.parts))
	for name := range p.parts {
		if name != contentTypesPart && name != "_rels/.rels" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	names = append([]string{contentTypesPart, "_rels/.rels"}, names...)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		data, ok := p.parts[name]
		if !ok {
			continue
		}
		w, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("writing part %s: %w", name, err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("writing part %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return os.WriteFile(dst, buf.Bytes(), 0644)
}

// rels returns the relationships of part, or nil when it has none.
func (p *pkg) rels(part string) (*relationships, error) {
	data, ok := p.parts[relsPath(part)]
	if !ok {
		return &relationships{}, nil
	}
	var r relationships
	if err := decodeXML(data, &r); err != nil {
		return nil, fmt.Errorf("parsing rels of %s: %w", part, err)
	}
	return &r, nil
}

// relTarget returns the first internal target of part with the given type.
func (p *pkg) relTarget(part, relType string) string {
	r, err := p.rels(part)
	if err != nil {
		return ""
	}
	for _, rel := range r.Rels {
		if rel.Type == relType && rel.TargetMode != "External" {
			return resolveTarget(part, rel.Target)
		}
	}
	return ""
}

func (p *pkg) mainPart() string {
	if t := p.relTarget("", relOfficeDocument); t != "" {
		return t
	}
	return "ppt/presentation.xml"
}

// contentType returns the declared content type of part.
func (p *pkg) contentType(part string) string {
	for _, o := range p.types.Overrides {
		if strings.TrimPrefix(o.PartName, "/") == part {
			return o.ContentType
		}
	}
	ext := strings.TrimPrefix(path.Ext(part), ".")
	for _, d := range p.types.Defaults {
		if strings.EqualFold(d.Extension, ext) {
			return d.ContentType
		}
	}
	return ""
}

// setContentType declares part's content type, adding an override unless the
// extension default already matches.
func (p *pkg) setContentType(part, ct string) {
	if ct == "" {
		return
	}
	ext := strings.TrimPrefix(path.Ext(part), ".")
	for _, d := range p.types.Defaults {
		if strings.EqualFold(d.Extension, ext) && d.ContentType == ct {
			return
		}
	}
	name := "/" + part
	for i, o := range p.types.Overrides {
		if o.PartName == name {
			p.types.Overrides[i].ContentType = ct
			return
		}
	}
	p.types.Overrides = append(p.types.Overrides, ctOverride{PartName: name, ContentType: ct})
}

func (p *pkg) dropPart(part string) {
	delete(p.parts, part)
	delete(p.parts, relsPath(part))
	name := "/" + part
	kept := p.types.Overrides[:0]
	for _, o := range p.types.Overrides {
		if o.PartName != name {
			kept = append(kept, o)
		}
	}
	p.types.Overrides = kept
}

// --- OPC XML ---

type relationships struct {
	XMLName xml.Name       `xml:"http://schemas.openxmlformats.org/package/2006/relationships Relationships"`
	Rels    []relationship `xml:"Relationship"`
}

type relationship struct {
	ID         string `xml:"Id,attr"`
	Type       string `xml:"Type,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr,omitempty"`
}

func (r *relationships) nextID() string {
	max := 0
	for _, rel := range r.Rels {
		var n int
		if _, err := fmt.Sscanf(rel.ID, "rId%d", &n); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("rId%d", max+1)
}

type contentTypes struct {
	XMLName   xml.Name     `xml:"http://schemas.openxmlformats.org/package/2006/content-types Types"`
	Defaults  []ctDefault  `xml:"Default"`
	Overrides []ctOverride `xml:"Override"`
}

type ctDefault struct {
	Extension   string `xml:"Extension,attr"`
	ContentType string `xml:"ContentType,attr"`
}

type ctOverride struct {
	PartName    string `xml:"PartName,attr"`
	ContentType string `xml:"ContentType,attr"`
}

// --- helpers ---

// decodeXML unmarshals an XML part, honouring non-UTF-8 encoding declarations.
func decodeXML(data []byte, v any) error {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.CharsetReader = charset.NewReaderLabel
	return d.Decode(v)
}

func marshalXML(v any) ([]byte, error) {
	body, err := xml.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

// relsPath returns the relationships part for part. The package root's
// relationships live at _rels/.rels.
func relsPath(part string) string {
	dir, file := path.Split(part)
	return dir + "_rels/" + file + ".rels"
}

// resolveTarget resolves a relationship target relative to its source part.
func resolveTarget(source, target string) string {
	if strings.HasPrefix(target, "/") {
		return path.Clean(strings.TrimPrefix(target, "/"))
	}
	return path.Clean(path.Join(path.Dir(source), target))
}

// relativeTarget is the inverse of resolveTarget: the target that reaches
// part from source.
func relativeTarget(source, part string) string {
	from := strings.Split(path.Dir(source), "/")
	if path.Dir(source) == "." {
		from = nil
	}
	to := strings.Split(part, "/")

	i := 0
	for i < len(from) && i < len(to)-1 && from[i] == to[i] {
		i++
	}
	var b strings.Builder
	for range from[i:] {
		b.WriteString("../")
	}
	b.WriteString(strings.Join(to[i:], "/"))
	return b.String()
}
