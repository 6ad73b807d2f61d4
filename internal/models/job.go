package models

import "time"

// Job statuses, in lifecycle order. FAILED can follow EXTRACTED or PROCESSING.
const (
	StatusExtracted  = "EXTRACTED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusCleaned    = "CLEANED"
)

// Job is the Firestore record for one upload→OCR→download cycle.
type Job struct {
	JobID         string    `firestore:"jobId,omitempty"`
	UploadName    string    `firestore:"uploadName,omitempty"`
	ArchiveHash   string    `firestore:"archiveHash,omitempty"`
	Status        string    `firestore:"status,omitempty"`
	ErrorDetails  string    `firestore:"errorDetails,omitempty"`
	DocumentCount int       `firestore:"documentCount,omitempty"`
	PageCount     int       `firestore:"pageCount,omitempty"`
	TokenUsage    int       `firestore:"tokenUsage,omitempty"`
	FailedPages   int       `firestore:"failedPages,omitempty"`
	ResultURI     string    `firestore:"resultUri,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt,omitempty"`
}
