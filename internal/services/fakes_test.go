package services

import (
	"context"
	"errors"
	"image"
	"image/color"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/Lllllllleong/pdfocrflow/internal/raster"
	"github.com/disintegration/imaging"
)

// fakePages serves a fixed page count per PDF base name. Each page image
// is 1 pixel high and pageNumber pixels wide so transcribers can tell pages apart.
type fakePages struct {
	counts map[string]int
	broken map[string]bool
}

func (f *fakePages) Pages(ctx context.Context, pdfPath string) iter.Seq2[raster.Page, error] {
	return func(yield func(raster.Page, error) bool) {
		base := filepath.Base(pdfPath)
		if f.broken[base] {
			yield(raster.Page{}, errors.New("corrupt pdf"))
			return
		}
		for i := 1; i <= f.counts[base]; i++ {
			if !yield(raster.Page{Number: i, Image: imaging.New(i, 1, color.White)}, nil) {
				return
			}
		}
	}
}

// fakeTranscriber answers "page <width>" with a fixed usage per call and fails
// for every call whose sequence number is in failCalls.
type fakeTranscriber struct {
	mu        sync.Mutex
	calls     int
	usage     int
	failCalls map[int]bool
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, img image.Image, prompt string) (Transcription, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.failCalls[call] {
		return Transcription{}, ErrEmptyTranscript
	}
	return Transcription{Text: prompt + ": page " + strconv.Itoa(img.Bounds().Dx()), Usage: f.usage}, nil
}

// recordingReporter keeps everything a batch reports.
type recordingReporter struct {
	progress []float64
	statuses []string
	usage    []int
}

func (r *recordingReporter) Progress(f float64)    { r.progress = append(r.progress, f) }
func (r *recordingReporter) Status(message string) { r.statuses = append(r.statuses, message) }
func (r *recordingReporter) Usage(tokens int)      { r.usage = append(r.usage, tokens) }

func touch(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
}

func listFiles(t *testing.T, root string) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	return files
}
