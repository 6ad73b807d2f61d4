package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Lllllllleong/pdfocrflow/internal/models"
	"github.com/Lllllllleong/pdfocrflow/internal/services"
)

const (
	maxUploadMemory = 32 << 20
	// defaultMaxUploadBytes caps the whole multipart request body.
	defaultMaxUploadBytes = 512 << 20
)

type server struct {
	jobs           *services.JobService
	maxUploadBytes int64
}

func (s *server) uploadLimit() int64 {
	if s.maxUploadBytes > 0 {
		return s.maxUploadBytes
	}
	return defaultMaxUploadBytes
}

// handleUpload accepts a multipart zip upload in the "file" field.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.uploadLimit())
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.Warn("Upload exceeds size limit", "limit", tooLarge.Limit)
			http.Error(w, fmt.Sprintf("Bad Request: upload larger than %d bytes", tooLarge.Limit), http.StatusBadRequest)
			return
		}
		slog.Warn("Could not parse upload form", "error", err)
		http.Error(w, "Bad Request: expected multipart form with a 'file' field", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Bad Request: missing 'file' field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.uploadLimit()))
	if err != nil {
		slog.Error("Failed to read upload", "error", err)
		http.Error(w, "Internal Server Error: failed to read upload", http.StatusInternalServerError)
		return
	}

	res, err := s.jobs.Upload(r.Context(), header.Filename, data)
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleStartOCR runs a job synchronously and returns its structure report.
func (s *server) handleStartOCR(w http.ResponseWriter, r *http.Request) {
	var req models.StartOCRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := s.jobs.Start(r.Context(), &req)
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDownload streams the result archive. Its files are removed on the next request.
func (s *server) handleDownload(w http.ResponseWriter, r *http.Request) {
	uploadName := r.URL.Query().Get("uploadName")
	res, err := s.jobs.Download(r.Context(), uploadName)
	if err != nil {
		writeJobError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	if _, err := w.Write(res.Data); err != nil {
		slog.Error("Failed to write archive", "error", err, "uploadName", uploadName)
	}
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.jobs.Status(r.Context(), r.URL.Query().Get("uploadName"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidUpload):
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrUnknownUpload):
		http.Error(w, "Not Found: "+err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrJobInFlight), errors.Is(err, services.ErrNotReady):
		http.Error(w, "Conflict: "+err.Error(), http.StatusConflict)
	default:
		// The specific error is already logged by the job service.
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
