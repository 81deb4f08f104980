package preview

import (
	"fmt"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

const (
	headerSize = 40
	bodySize   = 24
	margin     = 10
	// maxRunes bounds the text drawn on one preview.
	maxRunes   = 1000
	lineSpread = 6
)

var (
	headerColor = color.RGBA{128, 128, 128, 255}
	bodyColor   = color.Black
)

// Options configures the placeholder renderer.
type Options struct {
	Width  int
	Height int
	Header string
	// Fonts are tried in order; bare file names are looked up in the
	// system font directories. The built-in bitmap face is the last resort.
	Fonts []string
}

// Placeholder renders a white card with a grey header and the slide text
// word-wrapped and centered below it.
type Placeholder struct {
	width, height int
	header        string
	headerFace    font.Face
	bodyFace      font.Face
}

// NewPlaceholder loads the first usable font from opts.Fonts.
func NewPlaceholder(opts Options, logger *slog.Logger) *Placeholder {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 800, 600
	}
	p := &Placeholder{width: opts.Width, height: opts.Height, header: opts.Header}

	for _, name := range opts.Fonts {
		f, path, err := loadFont(name)
		if err != nil {
			logger.Debug("preview font unavailable", "font", name, "error", err)
			continue
		}
		p.headerFace = truetype.NewFace(f, &truetype.Options{Size: headerSize, DPI: 72, Hinting: font.HintingNone})
		p.bodyFace = truetype.NewFace(f, &truetype.Options{Size: bodySize, DPI: 72, Hinting: font.HintingNone})
		logger.Debug("preview font loaded", "font", path)
		return p
	}

	logger.Info("no preview font found, using built-in face", "fonts", opts.Fonts)
	p.headerFace = basicfont.Face7x13
	p.bodyFace = basicfont.Face7x13
	return p
}

// Render draws text and writes the PNG to path, creating its directory.
func (p *Placeholder) Render(path, text string) error {
	dc := gg.NewContext(p.width, p.height)
	dc.SetColor(color.White)
	dc.Clear()

	w := float64(p.width)
	h := float64(p.height)

	dc.SetFontFace(p.headerFace)
	headerW, _ := dc.MeasureString(p.header)
	headerH := textHeight(p.headerFace, p.header)
	dc.SetColor(headerColor)
	drawTop(dc, p.headerFace, p.header, (w-headerW)/2, margin)

	dc.SetFontFace(p.bodyFace)
	lines := wrap(truncate(text, maxRunes), w-2*margin, func(s string) float64 {
		sw, _ := dc.MeasureString(s)
		return sw
	})
	lineH := textHeight(p.bodyFace, "A") + lineSpread

	yStart := margin + headerH + margin
	available := h - yStart - margin
	y := yStart + max(0, (available-float64(len(lines))*lineH)/2)

	dc.SetColor(bodyColor)
	for _, line := range lines {
		lw, _ := dc.MeasureString(line)
		drawTop(dc, p.bodyFace, line, (w-lw)/2, y)
		y += lineH
		if y > h-margin {
			break
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating preview dir: %w", err)
	}
	if err := dc.SavePNG(path); err != nil {
		return fmt.Errorf("saving preview: %w", err)
	}
	return nil
}

// drawTop draws s with its ascent line at y.
func drawTop(dc *gg.Context, face font.Face, s string, x, y float64) {
	ascent := float64(face.Metrics().Ascent.Ceil())
	dc.DrawString(s, x, y+ascent)
}

// textHeight is the ink height of s in face.
func textHeight(face font.Face, s string) float64 {
	if s == "" {
		return 0
	}
	b, _ := font.BoundString(face, s)
	return float64((b.Max.Y - b.Min.Y).Ceil())
}

// wrap splits text into words and packs them greedily into lines no wider
// than maxWidth. A single word wider than maxWidth gets a line of its own.
func wrap(text string, maxWidth float64, measure func(string) float64) []string {
	var lines []string
	current := ""
	for _, word := range strings.Fields(text) {
		candidate := word
		if current != "" {
			candidate = current + " " + word
		}
		if measure(candidate) > maxWidth && current != "" {
			lines = append(lines, current)
			current = word
			continue
		}
		current = candidate
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// loadFont parses the TrueType font name, searching the system font
// directories when name is not a path.
func loadFont(name string) (*truetype.Font, string, error) {
	var lastErr error
	for _, path := range fontCandidates(name) {
		data, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
			continue
		}
		f, err := truetype.Parse(data)
		if err != nil {
			return nil, path, fmt.Errorf("parsing %s: %w", path, err)
		}
		return f, path, nil
	}
	if lastErr == nil {
		lastErr = os.ErrNotExist
	}
	return nil, "", lastErr
}

func fontCandidates(name string) []string {
	if filepath.IsAbs(name) || strings.ContainsRune(name, filepath.Separator) {
		return []string{name}
	}
	out := []string{name}
	var dirs []string
	switch runtime.GOOS {
	case "windows":
		if windir := os.Getenv("WINDIR"); windir != "" {
			dirs = append(dirs, filepath.Join(windir, "Fonts"))
		}
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			dirs = append(dirs, filepath.Join(local, "Microsoft", "Windows", "Fonts"))
		}
	case "darwin":
		dirs = append(dirs, "/Library/Fonts", "/System/Library/Fonts")
	default:
		dirs = append(dirs, "/usr/share/fonts/truetype", "/usr/local/share/fonts")
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".fonts"), filepath.Join(home, "Library", "Fonts"))
	}
	for _, d := range dirs {
		out = append(out, filepath.Join(d, name))
	}
	return out
}
