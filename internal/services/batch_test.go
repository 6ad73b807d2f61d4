package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestProcess_TwoDocuments(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	touch(t, in, "a.pdf", "sub/b.pdf")
	pages := &fakePages{counts: map[string]int{"a.pdf": 2, "b.pdf": 1}}
	tr := &fakeTranscriber{usage: 7}
	rep := &recordingReporter{}

	res, err := NewBatchProcessor(pages, tr).Process(context.Background(), in, out, "ocr", rep)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	files := listFiles(t, out)
	want := map[string]string{
		"a/a_page_1.txt": "ocr: page 1",
		"a/a_page_2.txt": "ocr: page 2",
		"b/b_page_1.txt": "ocr: page 1",
	}
	if len(files) != len(want) {
		t.Fatalf("wrote %d files, want %d: %v", len(files), len(want), files)
	}
	for name, content := range want {
		if files[name] != content {
			t.Errorf("%s = %q, want %q", name, files[name], content)
		}
	}

	wantReport := "📂 a/\n   └─ 📄 a_page_1.txt\n   └─ 📄 a_page_2.txt\n📂 b/\n   └─ 📄 b_page_1.txt"
	if got := res.Report.String(); got != wantReport {
		t.Errorf("Report =\n%s\nwant\n%s", got, wantReport)
	}
	if len(res.Report.Lines) != res.DocumentCount+res.PageCount {
		t.Errorf("report lines = %d, want documents+pages = %d", len(res.Report.Lines), res.DocumentCount+res.PageCount)
	}
	if res.TokenUsage != 21 {
		t.Errorf("TokenUsage = %d, want 21", res.TokenUsage)
	}
	if res.DocumentCount != 2 || res.PageCount != 3 {
		t.Errorf("counts = %d docs / %d pages, want 2 / 3", res.DocumentCount, res.PageCount)
	}

	if len(rep.progress) != 2 || rep.progress[0] != 0.5 || rep.progress[1] != 1.0 {
		t.Errorf("progress = %v, want [0.5 1]", rep.progress)
	}
	if len(rep.statuses) != 3 || rep.statuses[1] != "processing chapter a page 2 of 2" {
		t.Errorf("statuses = %v", rep.statuses)
	}
	if len(rep.usage) != 1 || rep.usage[0] != 21 {
		t.Errorf("final usage reports = %v, want [21]", rep.usage)
	}
}

func TestProcess_FailedPageGetsPlaceholder(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	touch(t, in, "scan.PDF")
	pages := &fakePages{counts: map[string]int{"scan.PDF": 3}}
	tr := &fakeTranscriber{usage: 5, failCalls: map[int]bool{2: true}}

	res, err := NewBatchProcessor(pages, tr).Process(context.Background(), in, out, "ocr", &recordingReporter{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	files := listFiles(t, out)
	if len(files) != 3 {
		t.Fatalf("wrote %d files, want 3", len(files))
	}
	if got := files["scan/scan_page_2.txt"]; got != PlaceholderTranscript {
		t.Errorf("failed page content = %q, want the placeholder", got)
	}
	if res.FailedPages != 1 {
		t.Errorf("FailedPages = %d, want 1", res.FailedPages)
	}
	if res.TokenUsage != 10 {
		t.Errorf("TokenUsage = %d, want 10 (failed call counts as 0)", res.TokenUsage)
	}
}

func TestProcess_NoPDFs(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	if err := os.WriteFile(filepath.Join(in, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	rep := &recordingReporter{}

	res, err := NewBatchProcessor(&fakePages{}, &fakeTranscriber{}).Process(context.Background(), in, out, "ocr", rep)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Report.String() != "" || len(res.Report.Lines) != 0 {
		t.Errorf("Report = %q, want empty", res.Report.String())
	}
	if len(rep.progress) != 0 {
		t.Errorf("progress reported for an empty batch: %v", rep.progress)
	}
	if len(listFiles(t, out)) != 0 {
		t.Error("files written for an empty batch")
	}
}

func TestProcess_ZeroPageDocument(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	touch(t, in, "blank.pdf")

	res, err := NewBatchProcessor(&fakePages{}, &fakeTranscriber{}).Process(context.Background(), in, out, "ocr", &recordingReporter{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if info, err := os.Stat(filepath.Join(out, "blank")); err != nil || !info.IsDir() {
		t.Errorf("chapter dir for zero-page document missing: %v", err)
	}
	if len(res.Report.Lines) != 1 {
		t.Errorf("report lines = %v, want only the folder line", res.Report.Lines)
	}
}

func TestProcess_RasterizationErrorAborts(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	touch(t, in, "a.pdf", "b.pdf")
	pages := &fakePages{counts: map[string]int{"a.pdf": 1}, broken: map[string]bool{"b.pdf": true}}
	rep := &recordingReporter{}

	_, err := NewBatchProcessor(pages, &fakeTranscriber{}).Process(context.Background(), in, out, "ocr", rep)
	if err == nil || !strings.Contains(err.Error(), "corrupt pdf") {
		t.Fatalf("Process() error = %v, want the rasterization error", err)
	}
	if len(rep.progress) != 1 {
		t.Errorf("progress = %v, want exactly the first document", rep.progress)
	}
}

func TestProcess_DuplicateStemsGetDistinctChapters(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	touch(t, in, "x/intro.pdf", "y/intro.pdf")
	pages := &fakePages{counts: map[string]int{"intro.pdf": 1}}

	res, err := NewBatchProcessor(pages, &fakeTranscriber{}).Process(context.Background(), in, out, "ocr", &recordingReporter{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	files := listFiles(t, out)
	if _, ok := files["intro/intro_page_1.txt"]; !ok {
		t.Error("missing intro/intro_page_1.txt")
	}
	if _, ok := files["intro_2/intro_2_page_1.txt"]; !ok {
		t.Error("missing intro_2/intro_2_page_1.txt")
	}
	if res.PageCount != 2 {
		t.Errorf("PageCount = %d, want 2", res.PageCount)
	}
}

func TestProcess_ConcurrentPagesKeepOrder(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	touch(t, in, "big.pdf")
	pages := &fakePages{counts: map[string]int{"big.pdf": 8}}
	p := NewBatchProcessor(pages, &fakeTranscriber{usage: 1})
	p.Concurrency = 4

	res, err := p.Process(context.Background(), in, out, "ocr", &recordingReporter{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(listFiles(t, out)) != 8 {
		t.Errorf("wrote %d files, want 8", len(listFiles(t, out)))
	}
	for i, line := range res.Report.Lines[1:] {
		want := "   └─ 📄 big_page_" + string(rune('1'+i)) + ".txt"
		if line != want {
			t.Errorf("line %d = %q, want %q", i+1, line, want)
		}
	}
	if res.TokenUsage != 8 {
		t.Errorf("TokenUsage = %d, want 8", res.TokenUsage)
	}
}
