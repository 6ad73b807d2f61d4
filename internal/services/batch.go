package services

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Lllllllleong/pdfocrflow/internal/raster"
	"golang.org/x/sync/errgroup"
)

// PageSource yields the rendered pages of one PDF.
type PageSource interface {
	Pages(ctx context.Context, pdfPath string) iter.Seq2[raster.Page, error]
}

// Reporter receives progress from a running batch.
type Reporter interface {
	// Progress is called after each document with done/total in (0, 1].
	Progress(fraction float64)
	// Status is called before each OCR call.
	Status(message string)
	// Usage is called once with the final token total.
	Usage(tokens int)
}

// StructureReport lists the produced tree, one line per folder and per file.
type StructureReport struct {
	Lines []string
}

func (r *StructureReport) addFolder(chapter string) {
	r.Lines = append(r.Lines, fmt.Sprintf("📂 %s/", chapter))
}

func (r *StructureReport) addFile(name string) {
	r.Lines = append(r.Lines, fmt.Sprintf("   └─ 📄 %s", name))
}

func (r *StructureReport) String() string {
	return strings.Join(r.Lines, "\n")
}

// BatchResult summarizes one processed input tree.
type BatchResult struct {
	Report        StructureReport
	TokenUsage    int
	DocumentCount int
	PageCount     int
	FailedPages   int
}

// BatchProcessor turns every PDF under a directory into per-page transcripts.
type BatchProcessor struct {
	pages       PageSource
	transcriber PageTranscriber
	// Concurrency bounds the number of in-flight OCR calls within a document.
	Concurrency int
}

// NewBatchProcessor returns a sequential processor.
func NewBatchProcessor(pages PageSource, transcriber PageTranscriber) *BatchProcessor {
	return &BatchProcessor{pages: pages, transcriber: transcriber, Concurrency: 1}
}

type document struct {
	path    string
	chapter string
}

// Process OCRs every PDF under inputDir into outputDir/<chapter>/<chapter>_page_<N>.txt.
// OCR failures produce a placeholder transcript; rasterization and write
// failures abort the batch.
func (p *BatchProcessor) Process(ctx context.Context, inputDir, outputDir, prompt string, reporter Reporter) (*BatchResult, error) {
	if reporter == nil {
		reporter = LogReporter{Logger: slog.Default()}
	}
	logCtx := slog.With("inputDir", inputDir, "outputDir", outputDir)

	docs, err := discoverPDFs(inputDir)
	if err != nil {
		return nil, err
	}
	result := &BatchResult{DocumentCount: len(docs)}
	if len(docs) == 0 {
		logCtx.Warn("No PDF files found. Returning empty report.")
		reporter.Usage(0)
		return result, nil
	}
	logCtx.Info("Discovered documents.", "documentCount", len(docs))

	for idx, doc := range docs {
		if err := p.processDocument(ctx, doc, outputDir, prompt, reporter, result); err != nil {
			logCtx.Error("Document processing failed", "chapter", doc.chapter, "error", err)
			return nil, err
		}
		reporter.Progress(float64(idx+1) / float64(len(docs)))
	}

	reporter.Usage(result.TokenUsage)
	logCtx.Info("Batch complete.", "pageCount", result.PageCount, "failedPages", result.FailedPages, "tokenUsage", result.TokenUsage)
	return result, nil
}

func (p *BatchProcessor) processDocument(ctx context.Context, doc document, outputDir, prompt string, reporter Reporter, result *BatchResult) error {
	chapterOut := filepath.Join(outputDir, doc.chapter)
	if err := os.MkdirAll(chapterOut, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", chapterOut, err)
	}
	result.Report.addFolder(doc.chapter)

	var pages []raster.Page
	for page, err := range p.pages.Pages(ctx, doc.path) {
		if err != nil {
			return fmt.Errorf("rasterize %s: %w", doc.path, err)
		}
		pages = append(pages, page)
	}

	usages := make([]int, len(pages))
	failed := make([]bool, len(pages))
	names := make([]string, len(pages))
	var statusMu sync.Mutex

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(p.Concurrency, 1))
	for i, page := range pages {
		names[i] = fmt.Sprintf("%s_page_%d.txt", doc.chapter, page.Number)
		eg.Go(func() error {
			statusMu.Lock()
			reporter.Status(fmt.Sprintf("processing chapter %s page %d of %d", doc.chapter, page.Number, len(pages)))
			statusMu.Unlock()

			text := PlaceholderTranscript
			tr, err := p.transcriber.Transcribe(gctx, page.Image, prompt)
			if err != nil {
				slog.Warn("OCR failed. Writing placeholder.", "chapter", doc.chapter, "page", page.Number, "error", err)
				failed[i] = true
			} else {
				text = tr.Text
				usages[i] = tr.Usage
			}

			txtPath := filepath.Join(chapterOut, names[i])
			if err := os.WriteFile(txtPath, []byte(text), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", txtPath, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for i := range pages {
		result.TokenUsage += usages[i]
		if failed[i] {
			result.FailedPages++
		}
		result.Report.addFile(names[i])
	}
	result.PageCount += len(pages)
	return nil
}

// discoverPDFs finds *.pdf files under root, sorted by path, with unique chapter names.
func discoverPDFs(root string) ([]document, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(d.Name()), ".pdf") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	sort.Strings(paths)

	used := make(map[string]bool, len(paths))
	docs := make([]document, 0, len(paths))
	for _, path := range paths {
		base := filepath.Base(path)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		chapter := stem
		for n := 2; used[chapter]; n++ {
			chapter = fmt.Sprintf("%s_%d", stem, n)
		}
		used[chapter] = true
		docs = append(docs, document{path: path, chapter: chapter})
	}
	return docs, nil
}

// LogReporter writes batch progress to a structured logger.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Progress(fraction float64) { r.Logger.Info("Batch progress.", "progress", fraction) }
func (r LogReporter) Status(message string)     { r.Logger.Info(message) }
func (r LogReporter) Usage(tokens int)          { r.Logger.Info("Total token usage.", "tokenUsage", tokens) }
