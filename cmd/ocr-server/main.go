package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/pdfocrflow/internal/services"
)

var (
	serverInstance *server
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleUpload", withServer(func(s *server) http.HandlerFunc { return s.handleUpload }))
	functions.HTTP("HandleStartOCR", withServer(func(s *server) http.HandlerFunc { return s.handleStartOCR }))
	functions.HTTP("HandleDownload", withServer(func(s *server) http.HandlerFunc { return s.handleDownload }))
	functions.HTTP("HandleStatus", withServer(func(s *server) http.HandlerFunc { return s.handleStatus }))
}

// main is required by the Go Functions Framework.
func main() {}

// withServer initializes the shared job service once and fails every request if that failed.
func withServer(pick func(*server) http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			cfg, err := services.LoadConfig()
			if err != nil {
				initErr = err
				return
			}
			jobs, _, err := services.NewJobServiceFromConfig(context.Background(), cfg)
			if err != nil {
				initErr = err
				return
			}
			serverInstance = &server{jobs: jobs}
		})
		if initErr != nil {
			slog.Error("Critical: OCR service initialization failed", "error", initErr)
			http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
			return
		}
		pick(serverInstance)(w, r)
	}
}
