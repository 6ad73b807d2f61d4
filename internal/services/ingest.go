package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/pdfocrflow/internal/gcp"
	"github.com/Lllllllleong/pdfocrflow/internal/models"
)

// GCSEvent is the payload of a GCS object event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// IngestFunction runs a whole job for every zip archive dropped into a bucket.
type IngestFunction struct {
	storageClient    *storage.Client
	executionsClient *executions.Client
	jobs             *JobService
	clients          *Clients
	config           OCRConfig
}

// NewIngest creates an IngestFunction. RESULTS_BUCKET is required because the
// result archive has nowhere else to go. Events from the results bucket itself
// are ignored so delivered archives never trigger another job.
func NewIngest(ctx context.Context) (*IngestFunction, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.ResultsBucket == "" {
		return nil, fmt.Errorf("RESULTS_BUCKET environment variable must be set")
	}

	jobs, clients, err := NewJobServiceFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	f := &IngestFunction{
		storageClient: clients.Storage,
		jobs:          jobs,
		clients:       clients,
		config:        *cfg,
	}
	if cfg.WorkflowID != "" {
		f.executionsClient, err = executions.NewClient(ctx)
		if err != nil {
			clients.Close()
			return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
	}
	slog.Info("Archive ingest initialized.", "workflowId", cfg.WorkflowID, "resultsBucket", cfg.ResultsBucket)
	return f, nil
}

// Process runs upload, OCR and delivery for one uploaded archive.
func (f *IngestFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if e.Bucket == f.config.ResultsBucket {
		logCtx.Info("Object is in the results bucket. Skipping.")
		return nil
	}
	if !strings.EqualFold(path.Ext(e.Name), ".zip") {
		logCtx.Info("Not a zip archive. Skipping.")
		return nil
	}
	logCtx.Info("Processing new archive.")

	data, err := gcp.ReadGCSObject(ctx, f.storageClient, e.Bucket, e.Name)
	if err != nil {
		logCtx.Error("Failed to download archive", "error", err)
		return err
	}

	upload, err := f.jobs.Upload(ctx, path.Base(e.Name), data)
	if err != nil {
		logCtx.Error("Failed to stage archive", "error", err)
		return err
	}
	logCtx = logCtx.With("uploadName", upload.UploadName, "jobId", upload.JobID)

	result, err := f.jobs.Start(ctx, &models.StartOCRRequest{UploadName: upload.UploadName})
	if err != nil {
		return err
	}

	download, err := f.jobs.Download(ctx, upload.UploadName)
	if err != nil {
		return err
	}
	// The archive now lives in the results bucket, so this tick is the one
	// after consumption.
	if err := f.jobs.TickAll(ctx); err != nil {
		logCtx.Warn("Cleanup finished with errors.", "error", err)
	}

	if f.executionsClient != nil {
		if err := f.triggerWorkflow(ctx, logCtx, upload.JobID, download.DeliveredURI, result.PageCount, result.TokenUsage); err != nil {
			return err
		}
	}

	logCtx.Info("Archive processed.", "resultUri", download.DeliveredURI, "pageCount", result.PageCount)
	return nil
}

func (f *IngestFunction) triggerWorkflow(ctx context.Context, logCtx *slog.Logger, jobID, resultURI string, pageCount, tokenUsage int) error {
	logCtx.Info("Triggering workflow.", "workflowId", f.config.WorkflowID)
	workflowPayload := map[string]interface{}{
		"jobId":      jobID,
		"resultUri":  resultURI,
		"pageCount":  pageCount,
		"tokenUsage": tokenUsage,
	}
	payloadBytes, err := json.Marshal(workflowPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", f.config.ProjectID, f.config.WorkflowLocation, f.config.WorkflowID),
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	if _, err := f.executionsClient.CreateExecution(ctx, req); err != nil {
		logCtx.Error("Failed to trigger workflow execution", "error", err)
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return nil
}
