package ingest

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/slidebank/slidebank/engine"
)

const hashChunk = 1 << 20

// FileHash returns the hex MD5 of the file's bytes, read in 1 MiB chunks.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file for hash: %w", err)
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, hashChunk)
	for {
		n, err := f.Read(buf)
		h.Write(buf[:n])
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading file for hash: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SlideHash identifies a slide by its deck and normalized text.
func SlideHash(deckHash, text string) string {
	sum := md5.Sum([]byte(deckHash + text))
	return hex.EncodeToString(sum[:])
}

var blankLines = regexp.MustCompile(`\n{2,}`)

// NormalizeText orders shapes top-to-bottom then left-to-right, trims each
// shape's text, joins them with newlines, and collapses blank lines.
func NormalizeText(shapes []engine.Shape) string {
	sorted := make([]engine.Shape, len(shapes))
	copy(sorted, shapes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Top != sorted[j].Top {
			return sorted[i].Top < sorted[j].Top
		}
		return sorted[i].Left < sorted[j].Left
	})

	parts := make([]string, len(sorted))
	for i, s := range sorted {
		parts[i] = strings.TrimSpace(s.Text)
	}
	text := strings.TrimSpace(strings.Join(parts, "\n"))
	return blankLines.ReplaceAllString(text, "\n")
}
