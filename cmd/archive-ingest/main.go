package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/pdfocrflow/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	ingestInstance *services.IngestFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("IngestArchive", ingestArchive)
}

// main is required by the Go Functions Framework.
func main() {}

// ingestArchive is the Cloud Function entry point for GCS object events.
func ingestArchive(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		ingestInstance, initErr = services.NewIngest(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Errors are logged with context inside Process.
	return ingestInstance.Process(ctx, gcsEvent)
}
