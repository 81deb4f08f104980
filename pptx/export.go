package pptx

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/slidebank/slidebank/engine"
)

var pageImageRe = regexp.MustCompile(`^page-(\d+)\.png$`)

// export converts src to PDF with LibreOffice, checks the page count against
// the slide count, and rasterizes each page with pdftoppm into dir as
// <label><n>.PNG.
func (s *Session) export(ctx context.Context, src string, slides int, dir string, opts engine.ExportOptions) error {
	if s.closed {
		return engine.ErrClosed
	}
	if opts.Label == "" || opts.Width <= 0 || opts.Height <= 0 {
		return fmt.Errorf("%w: invalid options %+v", engine.ErrExport, opts)
	}
	h := s.host
	for _, bin := range []string{h.opts.SofficePath, h.opts.PdftoppmPath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%w: missing binary %q: %v", engine.ErrExport, bin, err)
		}
	}

	tmp, err := os.MkdirTemp(s.work, "export-*")
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrExport, err)
	}
	defer os.RemoveAll(tmp)

	ctx, cancel := context.WithTimeout(ctx, h.opts.Timeout)
	defer cancel()

	pdfPath, err := h.convertToPDF(ctx, src, tmp)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrExport, err)
	}

	pages, err := countPages(pdfPath)
	if err != nil {
		return fmt.Errorf("%w: reading pdf: %v", engine.ErrExport, err)
	}
	if pages != slides {
		return fmt.Errorf("%w: pdf has %d pages, deck has %d slides", engine.ErrExport, pages, slides)
	}

	images, err := h.rasterize(ctx, pdfPath, tmp, opts)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrExport, err)
	}
	if len(images) != slides {
		return fmt.Errorf("%w: %d images for %d slides", engine.ErrExport, len(images), slides)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", engine.ErrExport, err)
	}
	for n, img := range images {
		if err := moveFile(img, filepath.Join(dir, engine.ExportName(opts.Label, n))); err != nil {
			return fmt.Errorf("%w: %v", engine.ErrExport, err)
		}
	}
	h.logger.Debug("native export done", "path", src, "slides", slides, "dir", dir)
	return nil
}

func (h *Host) convertToPDF(ctx context.Context, src, outDir string) (string, error) {
	profile := "file://" + filepath.ToSlash(filepath.Join(outDir, "profile"))
	cmd := exec.CommandContext(ctx, h.opts.SofficePath,
		"--headless",
		"--nologo",
		"--nolockcheck",
		"--nodefault",
		"--norestore",
		"-env:UserInstallation="+profile,
		"--convert-to", "pdf",
		"--outdir", outDir,
		src,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("soffice convert failed: %w; out=%s", err, string(out))
	}

	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	pdfPath := filepath.Join(outDir, base+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		matches, _ := filepath.Glob(filepath.Join(outDir, "*.pdf"))
		if len(matches) != 1 {
			return "", fmt.Errorf("pdf output not found at %s; soffice out=%s", pdfPath, string(out))
		}
		pdfPath = matches[0]
	}
	return pdfPath, nil
}

// rasterize renders every page of pdfPath and returns the images keyed by
// 1-based page number.
func (h *Host) rasterize(ctx context.Context, pdfPath, outDir string, opts engine.ExportOptions) (map[int]string, error) {
	cmd := exec.CommandContext(ctx, h.opts.PdftoppmPath,
		"-png",
		"-scale-to-x", strconv.Itoa(opts.Width),
		"-scale-to-y", strconv.Itoa(opts.Height),
		pdfPath,
		filepath.Join(outDir, "page"),
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w; out=%s", err, string(out))
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, err
	}
	images := make(map[int]string)
	for _, e := range entries {
		m := pageImageRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		images[n] = filepath.Join(outDir, e.Name())
	}
	return images, nil
}

func countPages(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return r.NumPage(), nil
}

// moveFile renames src to dst, copying when they are on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
