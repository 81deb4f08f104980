// Package preview produces slide preview images when the presentation engine
// cannot export them itself, and locates previews on disk and on the wire.
package preview

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_renderer.go -package=mocks github.com/slidebank/slidebank/preview Renderer

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/slidebank/slidebank/engine"
)

// Renderer draws a preview for one slide's text and stores it as a PNG at
// path.
type Renderer interface {
	Render(path, text string) error
}

// Dir is the preview directory of a deck inside dataDir.
func Dir(dataDir, deckHash string) string {
	return filepath.Join(dataDir, deckHash)
}

// File is the on-disk preview of 1-based slide n.
func File(dataDir, deckHash, label string, n int) string {
	return filepath.Join(Dir(dataDir, deckHash), engine.ExportName(label, n))
}

// ImagePath is the URL path under which a preview is served:
// data/<deck_hash>/<escaped label><n>.PNG
func ImagePath(deckHash, label string, n int) string {
	return "data/" + deckHash + "/" + url.PathEscape(label) + strconv.Itoa(n) + ".PNG"
}

var deckHashPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// Lookup maps a served deck hash and file name to the preview file inside
// dataDir. It reports false for anything that is not a preview image of a
// deck directory.
func Lookup(dataDir, deckHash, name string) (string, bool) {
	if !deckHashPattern.MatchString(deckHash) {
		return "", false
	}
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") ||
		!strings.HasSuffix(name, ".PNG") {
		return "", false
	}
	return filepath.Join(Dir(dataDir, deckHash), name), true
}
