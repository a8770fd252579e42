// Package ocr reads PDFs that carry no text layer by rendering their pages
// to images and having a vision model transcribe them.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"citewise/internal/gateway"
	"citewise/internal/models"
	"citewise/internal/prompts"
)

const defaultMaxPages = 20

// Renderer turns the first pages of a PDF into PNG images.
type Renderer interface {
	Render(ctx context.Context, path string, maxPages int) ([][]byte, error)
}

// Vision is the slice of the model gateway that reads images.
type Vision interface {
	Describe(ctx context.Context, instruction string, images []string, opts gateway.Options) (*models.RawModelResponse, error)
}

// Ghostscript renders pages with the gs binary.
type Ghostscript struct {
	Binary string
	DPI    int
}

func (g Ghostscript) Render(ctx context.Context, path string, maxPages int) ([][]byte, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf for page count: %w", err)
	}
	numPages := r.NumPage()
	f.Close()
	if numPages == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}
	if maxPages > 0 && numPages > maxPages {
		numPages = maxPages
	}

	tempDir, err := os.MkdirTemp("", "citewise-render-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	pattern := filepath.Join(tempDir, "page-%03d.png")
	cmd := exec.CommandContext(ctx, g.binary(), g.args(path, pattern, numPages)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ghostscript render failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	pages := make([][]byte, 0, numPages)
	for n := 1; n <= numPages; n++ {
		data, err := os.ReadFile(filepath.Join(tempDir, fmt.Sprintf("page-%03d.png", n)))
		if err != nil {
			return nil, fmt.Errorf("read rendered page %d: %w", n, err)
		}
		pages = append(pages, data)
	}
	return pages, nil
}

func (g Ghostscript) binary() string {
	if g.Binary != "" {
		return g.Binary
	}
	return "gs"
}

func (g Ghostscript) args(path, pattern string, lastPage int) []string {
	dpi := g.DPI
	if dpi <= 0 {
		dpi = 150
	}
	return []string{
		"-dQUIET",
		"-dSAFER",
		"-dNOPAUSE",
		"-dBATCH",
		"-sDEVICE=png16m",
		fmt.Sprintf("-r%d", dpi),
		"-dFirstPage=1",
		fmt.Sprintf("-dLastPage=%d", lastPage),
		"-sOutputFile=" + pattern,
		path,
	}
}

// Reader transcribes rendered pages one at a time, in page order.
type Reader struct {
	render   Renderer
	vision   Vision
	maxPages int
	log      *zap.Logger
}

func NewReader(render Renderer, vision Vision, maxPages int, log *zap.Logger) *Reader {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reader{render: render, vision: vision, maxPages: maxPages, log: log.Named("ocr")}
}

// ReadPDF returns the transcribed text of the document. A failing page
// aborts the read.
func (r *Reader) ReadPDF(ctx context.Context, path string) (string, error) {
	pages, err := r.render.Render(ctx, path, r.maxPages)
	if err != nil {
		return "", err
	}
	if len(pages) == 0 {
		return "", fmt.Errorf("no pages rendered from %s", filepath.Base(path))
	}

	texts := make([]string, 0, len(pages))
	for i, png := range pages {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
		resp, err := r.vision.Describe(ctx, prompts.PageTranscription, []string{uri}, gateway.Options{Temperature: 0, MaxTokens: 4000})
		if err != nil {
			return "", fmt.Errorf("transcribe page %d of %d: %w", i+1, len(pages), err)
		}
		text := strings.TrimSpace(resp.Text)
		r.log.Debug("page transcribed", zap.Int("page", i+1), zap.Int("chars", len(text)), zap.String("model", resp.Model))
		if text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, "\n\n"), nil
}
