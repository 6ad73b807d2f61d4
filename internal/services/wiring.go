package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/pdfocrflow/internal/gcp"
	"github.com/Lllllllleong/pdfocrflow/internal/raster"
	"google.golang.org/api/option"
)

// Clients holds the cloud clients behind a JobService.
type Clients struct {
	Vertex    *gcp.VertexClient
	Storage   *storage.Client
	Firestore *firestore.Client
}

// Close releases every client that was created.
func (c *Clients) Close() error {
	var errs []error
	if c.Vertex != nil {
		errs = append(errs, c.Vertex.Close())
	}
	if c.Storage != nil {
		errs = append(errs, c.Storage.Close())
	}
	if c.Firestore != nil {
		errs = append(errs, c.Firestore.Close())
	}
	return errors.Join(errs...)
}

// NewJobServiceFromConfig builds the full OCR stack. Firestore records and
// GCS delivery are only enabled when their collection or bucket is configured.
func NewJobServiceFromConfig(ctx context.Context, cfg *OCRConfig) (*JobService, *Clients, error) {
	clients := &Clients{}

	var vertexOpts []option.ClientOption
	if cfg.UseAPIKey {
		vertexOpts = append(vertexOpts, option.WithAPIKey(cfg.APIKey))
	}
	vertexClient, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.Model, vertexOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create vertex client: %w", err)
	}
	clients.Vertex = vertexClient

	var recorder JobRecorder
	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID, cfg.CollectionName)
	if err != nil {
		clients.Close()
		return nil, nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	if firestoreClient != nil {
		clients.Firestore = firestoreClient
		recorder = NewFirestoreRecorder(firestoreClient, cfg.CollectionName)
	}

	var sink ArchiveSink
	if cfg.ResultsBucket != "" {
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			clients.Close()
			return nil, nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		clients.Storage = storageClient
		sink = NewGCSSink(storageClient, cfg.ResultsBucket)
	}

	rasterizer := raster.New(cfg.PdftoppmPath, cfg.RasterDPI)
	transcriber := NewTranscriber(vertexClient.OCRModel, cfg.JPEGQuality)
	processor := NewBatchProcessor(rasterizer, transcriber)
	processor.Concurrency = cfg.Concurrency

	jobs := NewJobService(cfg.OutputRoot, cfg.Prompt, processor, recorder, sink)
	slog.Info("OCR services initialized.",
		"model", cfg.Model,
		"outputRoot", cfg.OutputRoot,
		"jobRecords", cfg.CollectionName != "",
		"resultsBucket", cfg.ResultsBucket,
	)
	return jobs, clients, nil
}
