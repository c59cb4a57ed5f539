package apiclient

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Upload represents one ingested file and its processing progress.
type Upload struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	FileHash    string `json:"file_hash"`
	StoragePath string `json:"storage_path,omitempty"`
	Status      string `json:"status"`

	TotalLineCount     int64 `json:"total_line_count"`
	ProcessedLineCount int64 `json:"processed_line_count"`
	FailedLineCount    int64 `json:"failed_line_count"`
	SkippedLineCount   int64 `json:"skipped_line_count"`
	LastCheckpointLine int64 `json:"last_checkpoint_line"`

	RetryCount   int    `json:"retry_count"`
	ErrorMessage string `json:"error_message,omitempty"`

	UploadedAt            time.Time  `json:"uploaded_at"`
	ProcessingStartedAt   *time.Time `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processing_completed_at,omitempty"`
	LastCheckpointAt      *time.Time `json:"last_checkpoint_at,omitempty"`
}

// UploadAccepted is the intake response for a new upload.
type UploadAccepted struct {
	UploadID string `json:"upload_id"`
	FileName string `json:"file_name"`
	Status   string `json:"status"`

	// TransactionCount is only present when the server ran in synchronous
	// compatibility mode.
	TransactionCount *int64 `json:"transaction_count,omitempty"`
}

// PagedUploads is the paged envelope for the upload listing.
type PagedUploads struct {
	Items      []Upload `json:"items"`
	Page       int      `json:"page"`
	PageSize   int      `json:"pageSize"`
	TotalCount int64    `json:"totalCount"`
	TotalPages int      `json:"totalPages"`
}

// ResumeResult reports the re-enqueue of a single upload.
type ResumeResult struct {
	UploadID  string `json:"upload_id"`
	MessageID string `json:"message_id"`
}

// SweepEntry reports the decision taken for one stuck upload during a sweep.
type SweepEntry struct {
	UploadID string `json:"upload_id"`
	Requeued bool   `json:"requeued"`
	Reason   string `json:"reason,omitempty"`
}

// ResumeAllResult reports a whole recovery sweep.
type ResumeAllResult struct {
	Requeued int          `json:"requeued"`
	Results  []SweepEntry `json:"results"`
}

// UploadFile streams the file at filePath to the intake endpoint.
func (c *Client) UploadFile(filePath string) (*UploadAccepted, error) {
	var accepted UploadAccepted
	if err := c.postMultipart("/api/v1/transactions/upload", filePath, &accepted); err != nil {
		return nil, err
	}
	return &accepted, nil
}

// ListUploads returns one page of uploads, newest first. status filters by
// processing status when non-empty. Zero page or pageSize pick the server
// defaults.
func (c *Client) ListUploads(page, pageSize int, status string) (*PagedUploads, error) {
	query := url.Values{}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		query.Set("pageSize", strconv.Itoa(pageSize))
	}
	if status != "" {
		query.Set("status", status)
	}

	path := "/api/v1/transactions/uploads"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return getResource[PagedUploads](c, path)
}

// GetUpload returns a single upload by ID.
func (c *Client) GetUpload(id string) (*Upload, error) {
	return getResource[Upload](c, fmt.Sprintf("/api/v1/transactions/uploads/%s", url.PathEscape(id)))
}

// IncompleteUploads returns uploads stuck in processing for longer than
// timeoutMinutes. Zero selects the server default window.
func (c *Client) IncompleteUploads(timeoutMinutes int) ([]Upload, error) {
	path := "/api/v1/transactions/uploads/incomplete"
	if timeoutMinutes > 0 {
		path += "?timeoutMinutes=" + strconv.Itoa(timeoutMinutes)
	}
	return listResources[Upload](c, path)
}

// ResumeUpload re-enqueues one incomplete upload for processing.
func (c *Client) ResumeUpload(id string) (*ResumeResult, error) {
	return postResource[ResumeResult](c, fmt.Sprintf("/api/v1/transactions/uploads/%s/resume", url.PathEscape(id)), nil)
}

// ResumeAllUploads sweeps for stuck uploads and re-enqueues them. Zero
// timeoutMinutes selects the server default window.
func (c *Client) ResumeAllUploads(timeoutMinutes int) (*ResumeAllResult, error) {
	path := "/api/v1/transactions/uploads/resume-all"
	if timeoutMinutes > 0 {
		path += "?timeoutMinutes=" + strconv.Itoa(timeoutMinutes)
	}
	return postResource[ResumeAllResult](c, path, nil)
}
