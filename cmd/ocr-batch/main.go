package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Lllllllleong/pdfocrflow/internal/models"
	"github.com/Lllllllleong/pdfocrflow/internal/services"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	app := &cli.App{
		Name:  "ocr-batch",
		Usage: "OCR every PDF in a zip archive into per-page text files",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "process one archive and write the result archive",
				Action: runAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "archive", Aliases: []string{"a"}, Usage: "input zip of PDFs", Required: true},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "result zip path (default <name>_ocr.zip)"},
					&cli.StringFlag{Name: "prompt", Usage: "override the OCR prompt"},
					&cli.IntFlag{Name: "concurrency", Usage: "OCR calls in flight per document (overrides OCR_CONCURRENCY)"},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("ocr-batch failed", "error", err)
		os.Exit(1)
	}
}

func runAction(c *cli.Context) error {
	cfg, err := services.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if n := c.Int("concurrency"); n > 0 {
		cfg.Concurrency = n
	}

	jobs, clients, err := services.NewJobServiceFromConfig(c.Context, cfg)
	if err != nil {
		return err
	}
	defer clients.Close()

	archivePath := c.String("archive")
	data, err := os.ReadFile(archivePath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", archivePath, err)
	}

	upload, err := jobs.Upload(c.Context, filepath.Base(archivePath), data)
	if err != nil {
		return err
	}
	result, err := jobs.Start(c.Context, &models.StartOCRRequest{
		UploadName: upload.UploadName,
		Prompt:     c.String("prompt"),
	})
	if err != nil {
		return err
	}
	fmt.Println(result.Structure)
	fmt.Printf("\nDocuments: %d  Pages: %d  Tokens: %d\n", result.DocumentCount, result.PageCount, result.TokenUsage)

	download, err := jobs.Download(c.Context, upload.UploadName)
	if err != nil {
		return err
	}
	out := c.String("out")
	if out == "" {
		out = download.Filename
	}
	if err := os.WriteFile(out, download.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	fmt.Printf("Wrote %s\n", out)

	if err := jobs.TickAll(c.Context); err != nil {
		slog.Warn("Cleanup finished with errors.", "error", err)
	}
	return nil
}
