package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lllllllleong/pdfocrflow/internal/archive"
	"github.com/Lllllllleong/pdfocrflow/internal/lifecycle"
	"github.com/Lllllllleong/pdfocrflow/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrJobInFlight is returned when a job is already running.
	ErrJobInFlight = errors.New("an OCR job is already running")
	// ErrUnknownUpload is returned for upload names with no live session.
	ErrUnknownUpload = errors.New("no uploaded archive with that name")
	// ErrNotReady is returned when downloading before a job has completed.
	ErrNotReady = errors.New("OCR results are not ready")
	// ErrInvalidUpload is returned for uploads whose name or content cannot be used.
	ErrInvalidUpload = errors.New("invalid upload")
)

// Session is the job-scoped state record for one upload name. It outlives
// individual requests so the cleanup trigger survives between them.
type Session struct {
	JobID      string
	UploadName string
	Footprint  lifecycle.Footprint
	PDFCount   int

	cleanup *lifecycle.Controller

	mu        sync.Mutex
	status    string
	progress  float64
	message   string
	structure string
	usage     int
	docCount  int
	pageCount int
	resultURI string
}

// CleanupState reports the session's cleanup state.
func (s *Session) CleanupState() lifecycle.State {
	return s.cleanup.State()
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *Session) currentStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// sessionReporter records batch progress on the session and logs it.
type sessionReporter struct {
	session *Session
	logger  *slog.Logger
}

func (r sessionReporter) Progress(fraction float64) {
	r.session.mu.Lock()
	r.session.progress = fraction
	r.session.mu.Unlock()
	r.logger.Info("Batch progress.", "progress", fraction)
}

func (r sessionReporter) Status(message string) {
	r.session.mu.Lock()
	r.session.message = message
	r.session.mu.Unlock()
	r.logger.Info(message)
}

func (r sessionReporter) Usage(tokens int) {
	r.session.mu.Lock()
	r.session.usage = tokens
	r.session.mu.Unlock()
	r.logger.Info("Total token usage.", "tokenUsage", tokens)
}

// DownloadResult is a result archive ready to hand to the user.
type DownloadResult struct {
	Filename     string
	Data         []byte
	DeliveredURI string
}

// JobService drives uploads, OCR runs, downloads and deferred cleanup.
type JobService struct {
	root      string
	prompt    string
	processor *BatchProcessor
	recorder  JobRecorder
	sink      ArchiveSink

	mu       sync.Mutex
	sessions map[string]*Session
	running  atomic.Bool
}

// NewJobService creates a service rooted at outputRoot. recorder and sink may be nil.
func NewJobService(outputRoot, defaultPrompt string, processor *BatchProcessor, recorder JobRecorder, sink ArchiveSink) *JobService {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &JobService{
		root:      outputRoot,
		prompt:    defaultPrompt,
		processor: processor,
		recorder:  recorder,
		sink:      sink,
		sessions:  make(map[string]*Session),
	}
}

// UploadNameFor derives the upload name from an uploaded file name.
func UploadNameFor(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	return name
}

// Upload stages and extracts an uploaded archive, replacing any earlier job with the same name.
// Names whose files would overlap another uncleaned job's files are rejected.
// Upload holds the in-flight guard, so it never interleaves with a running job.
func (s *JobService) Upload(ctx context.Context, filename string, data []byte) (*models.UploadResponse, error) {
	s.TickAll(ctx)
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrJobInFlight
	}
	defer s.running.Store(false)

	name := UploadNameFor(filename)
	if name == "" {
		return nil, fmt.Errorf("%w: cannot derive a name from %q", ErrInvalidUpload, filename)
	}
	logCtx := slog.With("uploadName", name)

	footprint := lifecycle.FootprintFor(s.root, name)
	if owner := s.overlappingSession(name, footprint); owner != "" {
		logCtx.Warn("Upload name collides with another job's files", "owner", owner)
		return nil, fmt.Errorf("%w: %q would share files with upload %q", ErrInvalidUpload, name, owner)
	}
	for _, path := range footprint.Paths() {
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("failed to clear %s: %w", path, err)
		}
	}

	files, err := archive.Extract(data, footprint.ArchivePath, footprint.ExtractDir)
	if err != nil {
		logCtx.Warn("Could not extract upload", "error", err)
		os.RemoveAll(footprint.ExtractDir)
		os.Remove(footprint.ArchivePath)
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	docs, err := discoverPDFs(footprint.ExtractDir)
	if err != nil {
		return nil, err
	}

	session := &Session{
		JobID:      uuid.NewString(),
		UploadName: name,
		Footprint:  footprint,
		PDFCount:   len(docs),
		cleanup:    lifecycle.NewController(footprint, logCtx),
		status:     models.StatusExtracted,
	}
	s.mu.Lock()
	s.sessions[name] = session
	s.mu.Unlock()

	logCtx = logCtx.With("jobId", session.JobID)
	logCtx.Info("Uploaded and extracted.", "extractDir", footprint.ExtractDir, "fileCount", files, "pdfCount", len(docs))

	job := &models.Job{
		JobID:         session.JobID,
		UploadName:    name,
		ArchiveHash:   hashBytes(data),
		Status:        models.StatusExtracted,
		DocumentCount: len(docs),
		CreatedAt:     time.Now(),
	}
	if err := s.recorder.CreateJob(ctx, job); err != nil {
		logCtx.Error("Failed to create job record", "error", err)
	}

	return &models.UploadResponse{
		Status:     "success",
		JobID:      session.JobID,
		UploadName: name,
		PDFCount:   len(docs),
	}, nil
}

// Start runs OCR over an uploaded archive. Only one job may run at a time.
func (s *JobService) Start(ctx context.Context, req *models.StartOCRRequest) (*models.StartOCRResponse, error) {
	s.TickAll(ctx)

	session, err := s.liveSession(req.UploadName)
	if err != nil {
		return nil, err
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrJobInFlight
	}
	defer s.running.Store(false)

	logCtx := slog.With("uploadName", session.UploadName, "jobId", session.JobID)
	prompt := req.Prompt
	if prompt == "" {
		prompt = s.prompt
	}

	resultDir := session.Footprint.ResultDir
	if err := os.RemoveAll(resultDir); err != nil {
		return nil, s.handleError(ctx, logCtx, session, "failed to clear result dir", err)
	}
	if err := os.MkdirAll(resultDir, 0o755); err != nil {
		return nil, s.handleError(ctx, logCtx, session, "failed to create result dir", err)
	}

	session.mu.Lock()
	session.status = models.StatusProcessing
	session.progress = 0
	session.message = ""
	session.structure = ""
	session.usage = 0
	session.mu.Unlock()
	if err := s.recorder.UpdateStatus(ctx, session.JobID, models.StatusProcessing, "", nil); err != nil {
		logCtx.Error("Failed to update job record", "error", err)
	}
	logCtx.Info("Starting OCR.")

	reporter := sessionReporter{session: session, logger: logCtx}
	result, err := s.processor.Process(ctx, session.Footprint.ExtractDir, resultDir, prompt, reporter)
	if err != nil {
		return nil, s.handleError(ctx, logCtx, session, "OCR batch failed", err)
	}

	structure := result.Report.String()
	session.mu.Lock()
	session.status = models.StatusCompleted
	session.structure = structure
	session.usage = result.TokenUsage
	session.docCount = result.DocumentCount
	session.pageCount = result.PageCount
	session.mu.Unlock()

	fields := map[string]interface{}{
		"documentCount": result.DocumentCount,
		"pageCount":     result.PageCount,
		"tokenUsage":    result.TokenUsage,
		"failedPages":   result.FailedPages,
	}
	if err := s.recorder.UpdateStatus(ctx, session.JobID, models.StatusCompleted, "", fields); err != nil {
		logCtx.Error("Failed to update job record", "error", err)
	}
	if result.PageCount > 0 && result.FailedPages == result.PageCount {
		logCtx.Warn("Every page fell back to the placeholder. Check the OCR model and its credentials.", "pageCount", result.PageCount)
	}
	logCtx.Info("OCR complete.", "pageCount", result.PageCount, "failedPages", result.FailedPages, "tokenUsage", result.TokenUsage)

	return &models.StartOCRResponse{
		Status:        "success",
		UploadName:    session.UploadName,
		Structure:     structure,
		DocumentCount: result.DocumentCount,
		PageCount:     result.PageCount,
		TokenUsage:    result.TokenUsage,
		FailedPages:   result.FailedPages,
	}, nil
}

// Download packs the result tree and schedules cleanup for the next tick.
// The returned buffer is independent of the files that cleanup removes.
func (s *JobService) Download(ctx context.Context, uploadName string) (*DownloadResult, error) {
	s.TickAll(ctx)

	session, err := s.liveSession(uploadName)
	if err != nil {
		return nil, err
	}
	if session.currentStatus() != models.StatusCompleted {
		return nil, ErrNotReady
	}
	logCtx := slog.With("uploadName", session.UploadName, "jobId", session.JobID)

	data, err := archive.Compress(session.Footprint.ResultDir)
	if err != nil {
		logCtx.Error("Failed to compress results", "error", err)
		return nil, err
	}
	filename := session.UploadName + "_ocr.zip"

	var uri string
	if s.sink != nil {
		uri, err = s.sink.Deliver(ctx, session.JobID+"/"+filename, data)
		if err != nil {
			logCtx.Error("Failed to deliver results", "error", err)
			return nil, err
		}
		session.mu.Lock()
		session.resultURI = uri
		session.mu.Unlock()
		if err := s.recorder.UpdateStatus(ctx, session.JobID, models.StatusCompleted, "", map[string]interface{}{"resultUri": uri}); err != nil {
			logCtx.Error("Failed to update job record", "error", err)
		}
	}

	session.cleanup.MarkConsumed()
	logCtx.Info("Result archive handed out.", "bytes", len(data), "resultUri", uri)
	return &DownloadResult{Filename: filename, Data: data, DeliveredURI: uri}, nil
}

// Status returns a snapshot of a session. Like every interaction it runs pending cleanups first.
func (s *JobService) Status(ctx context.Context, uploadName string) (*models.JobStatusResponse, error) {
	s.TickAll(ctx)

	s.mu.Lock()
	session, ok := s.sessions[uploadName]
	s.mu.Unlock()
	if !ok {
		return nil, ErrUnknownUpload
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	return &models.JobStatusResponse{
		UploadName:     session.UploadName,
		JobID:          session.JobID,
		Status:         session.status,
		Progress:       session.progress,
		Message:        session.message,
		Running:        session.status == models.StatusProcessing,
		CleanupPending: session.cleanup.State() == lifecycle.Pending,
		Structure:      session.structure,
		TokenUsage:     session.usage,
	}, nil
}

// TickAll executes every scheduled cleanup. Failures are logged and returned
// joined, but never block the state machine.
func (s *JobService) TickAll(ctx context.Context) error {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	var warnings []error
	for _, session := range sessions {
		if err := s.tick(ctx, session); err != nil {
			warnings = append(warnings, err)
		}
	}
	return errors.Join(warnings...)
}

// Tick executes the pending cleanup of one upload, if any.
func (s *JobService) Tick(ctx context.Context, uploadName string) error {
	s.mu.Lock()
	session, ok := s.sessions[uploadName]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownUpload
	}
	return s.tick(ctx, session)
}

func (s *JobService) tick(ctx context.Context, session *Session) error {
	ran, warn := session.cleanup.Tick()
	if !ran {
		return nil
	}
	session.setStatus(models.StatusCleaned)
	details := ""
	if warn != nil {
		details = warn.Error()
	}
	if err := s.recorder.UpdateStatus(ctx, session.JobID, models.StatusCleaned, details, nil); err != nil {
		slog.Error("Failed to update job record", "jobId", session.JobID, "error", err)
	}
	return warn
}

// overlappingSession returns the name of another uncleaned session whose files
// would be touched by a job with footprint fp.
func (s *JobService) overlappingSession(name string, fp lifecycle.Footprint) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for other, session := range s.sessions {
		if other == name || session.currentStatus() == models.StatusCleaned {
			continue
		}
		if fp.Overlaps(session.Footprint) {
			return other
		}
	}
	return ""
}

func (s *JobService) liveSession(uploadName string) (*Session, error) {
	s.mu.Lock()
	session, ok := s.sessions[uploadName]
	s.mu.Unlock()
	if !ok || session.currentStatus() == models.StatusCleaned {
		return nil, ErrUnknownUpload
	}
	return session, nil
}

func (s *JobService) handleError(ctx context.Context, logCtx *slog.Logger, session *Session, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	session.setStatus(models.StatusFailed)
	if err := s.recorder.UpdateStatus(ctx, session.JobID, models.StatusFailed, fullError, nil); err != nil {
		logCtx.Error("CRITICAL: Failed to record FAILED status after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
