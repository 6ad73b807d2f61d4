// Package raster turns PDF files into page images for OCR.
//
// Page counting and structural validation are done with pdfcpu; the pixels
// themselves come from poppler's pdftoppm, one page per invocation.
package raster

import (
	"context"
	"fmt"
	"image"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// DefaultDPI is the render resolution used when none is configured.
const DefaultDPI = 300

// Page is one rendered page of a PDF. Number is 1-based.
type Page struct {
	Number int
	Image  image.Image
}

// PageRenderer renders a single page of pdfPath to an image file and returns its path.
type PageRenderer interface {
	RenderPage(ctx context.Context, pdfPath string, pageNumber, dpi int, outPrefix string) (string, error)
}

// PageCounter reports the number of pages in a PDF, failing for unreadable files.
type PageCounter func(pdfPath string) (int, error)

// Rasterizer produces page images for a PDF.
type Rasterizer struct {
	DPI      int
	Renderer PageRenderer
	Count    PageCounter
}

// New returns a Rasterizer that renders with the pdftoppm binary at binPath.
func New(binPath string, dpi int) *Rasterizer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Rasterizer{
		DPI:      dpi,
		Renderer: &Pdftoppm{BinPath: binPath},
		Count:    CountPages,
	}
}

// Pages returns a lazy sequence of the pages of pdfPath in page order.
//
// The sequence owns a scratch directory for rendered files. It is created when
// the sequence is first pulled and removed once the sequence is exhausted, the
// consumer stops early, or an error is yielded. The sequence is single-use.
// An error is yielded at most once and ends the sequence.
func (r *Rasterizer) Pages(ctx context.Context, pdfPath string) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		pageCount, err := r.Count(pdfPath)
		if err != nil {
			yield(Page{}, fmt.Errorf("failed to open %s: %w", pdfPath, err))
			return
		}

		scratch, err := os.MkdirTemp("", "raster-*")
		if err != nil {
			yield(Page{}, fmt.Errorf("failed to create scratch dir: %w", err))
			return
		}
		defer os.RemoveAll(scratch)

		for i := 1; i <= pageCount; i++ {
			if err := ctx.Err(); err != nil {
				yield(Page{}, err)
				return
			}
			img, err := r.renderOne(ctx, pdfPath, i, scratch)
			if err != nil {
				yield(Page{}, fmt.Errorf("failed to render page %d of %s: %w", i, pdfPath, err))
				return
			}
			if !yield(Page{Number: i, Image: img}, nil) {
				return
			}
		}
	}
}

func (r *Rasterizer) renderOne(ctx context.Context, pdfPath string, pageNumber int, scratch string) (image.Image, error) {
	prefix := filepath.Join(scratch, fmt.Sprintf("page_%05d", pageNumber))
	imgPath, err := r.Renderer.RenderPage(ctx, pdfPath, pageNumber, r.dpi(), prefix)
	if err != nil {
		return nil, err
	}
	defer os.Remove(imgPath)

	img, err := imaging.Open(imgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to decode rendered page: %w", err)
	}
	return img, nil
}

func (r *Rasterizer) dpi() int {
	if r.DPI <= 0 {
		return DefaultDPI
	}
	return r.DPI
}

// CountPages validates pdfPath in relaxed mode and returns its page count.
func CountPages(pdfPath string) (int, error) {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(pdfPath, cfg); err != nil {
		return 0, fmt.Errorf("invalid PDF: %w", err)
	}
	pageCount, err := api.PageCountFile(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return pageCount, nil
}

// Pdftoppm renders pages with poppler's pdftoppm.
type Pdftoppm struct {
	BinPath string
}

// RenderPage writes outPrefix.png for the requested page.
func (p *Pdftoppm) RenderPage(ctx context.Context, pdfPath string, pageNumber, dpi int, outPrefix string) (string, error) {
	bin := p.BinPath
	if bin == "" {
		bin = "pdftoppm"
	}
	page := strconv.Itoa(pageNumber)
	cmd := exec.CommandContext(ctx, bin,
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", page,
		"-l", page,
		"-singlefile",
		pdfPath, outPrefix,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		slog.Warn("pdftoppm failed", "pdf", pdfPath, "page", pageNumber, "output", string(out))
		return "", fmt.Errorf("pdftoppm convert failed: %w", err)
	}
	return outPrefix + ".png", nil
}
