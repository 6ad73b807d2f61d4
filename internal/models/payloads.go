package models

// These structs define the JSON payloads for HTTP requests and responses
// between the front end and the OCR functions.

// UploadResponse is the output of the upload function.
type UploadResponse struct {
	Status     string `json:"status"`
	JobID      string `json:"jobId"`
	UploadName string `json:"uploadName"`
	PDFCount   int    `json:"pdfCount"`
}

// StartOCRRequest is the input for the start function. An empty Prompt
// falls back to the configured one.
type StartOCRRequest struct {
	UploadName string `json:"uploadName"`
	Prompt     string `json:"prompt,omitempty"`
}

// StartOCRResponse is the output of the start function.
type StartOCRResponse struct {
	Status        string `json:"status"`
	UploadName    string `json:"uploadName"`
	Structure     string `json:"structure"`
	DocumentCount int    `json:"documentCount"`
	PageCount     int    `json:"pageCount"`
	TokenUsage    int    `json:"tokenUsage"`
	FailedPages   int    `json:"failedPages"`
}

// JobStatusResponse is the output of the status function.
type JobStatusResponse struct {
	UploadName     string  `json:"uploadName"`
	JobID          string  `json:"jobId"`
	Status         string  `json:"status"`
	Progress       float64 `json:"progress"`
	Message        string  `json:"message,omitempty"`
	Running        bool    `json:"running"`
	CleanupPending bool    `json:"cleanupPending"`
	Structure      string  `json:"structure,omitempty"`
	TokenUsage     int     `json:"tokenUsage"`
}
