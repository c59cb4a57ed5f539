package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cnabflow/cnabflow/pkg/models"
	"github.com/cnabflow/cnabflow/pkg/pipeline"
	"github.com/cnabflow/cnabflow/pkg/queue"
	"github.com/cnabflow/cnabflow/pkg/store"
)

// Paging bounds for GET /api/v1/transactions/uploads.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// UploadHandler handles upload intake and upload management endpoints.
type UploadHandler struct {
	store        *store.Store
	queue        *queue.Queue
	intake       *pipeline.Intake
	sweeper      *pipeline.Sweeper
	stuckTimeout time.Duration
}

// NewUploadHandler creates a new UploadHandler.
//
// stuckTimeout is the default staleness window for the incomplete and
// resume-all endpoints; zero falls back to 30 minutes.
func NewUploadHandler(st *store.Store, q *queue.Queue, intake *pipeline.Intake, sweeper *pipeline.Sweeper, stuckTimeout time.Duration) *UploadHandler {
	if stuckTimeout <= 0 {
		stuckTimeout = 30 * time.Minute
	}
	return &UploadHandler{
		store:        st,
		queue:        q,
		intake:       intake,
		sweeper:      sweeper,
		stuckTimeout: stuckTimeout,
	}
}

// UploadAcceptedResponse is the response body for POST /api/v1/transactions/upload.
// TransactionCount is only present in synchronous compatibility mode.
type UploadAcceptedResponse struct {
	UploadID         string `json:"upload_id"`
	FileName         string `json:"file_name"`
	Status           string `json:"status"`
	TransactionCount *int64 `json:"transaction_count,omitempty"`
}

// UploadResponse is the response body for upload detail and list endpoints.
type UploadResponse struct {
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

// PagedUploadsResponse is the paged envelope for the upload listing.
type PagedUploadsResponse struct {
	Items      []UploadResponse `json:"items"`
	Page       int              `json:"page"`
	PageSize   int              `json:"pageSize"`
	TotalCount int64            `json:"totalCount"`
	TotalPages int              `json:"totalPages"`
}

// ResumeResponse is the response body for POST .../uploads/{id}/resume.
type ResumeResponse struct {
	UploadID  string `json:"upload_id"`
	MessageID string `json:"message_id"`
}

// ResumeAllResponse is the response body for POST .../uploads/resume-all.
type ResumeAllResponse struct {
	Requeued int                    `json:"requeued"`
	Results  []pipeline.SweepResult `json:"results"`
}

// Upload handles POST /api/v1/transactions/upload.
//
// Accepts a multipart form with a "file" part. Responds 202 Accepted with the
// pending upload in asynchronous mode, or 200 OK with the transaction count
// in synchronous compatibility mode.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.intake == nil {
		ServiceUnavailable(w, "Upload intake is not configured")
		return
	}

	result, err := h.intake.Handle(r.Context(), r)
	if err != nil {
		writeIntakeProblem(w, err)
		return
	}

	resp := UploadAcceptedResponse{
		UploadID: result.UploadID,
		FileName: result.FileName,
		Status:   string(result.Status),
	}
	if result.Sync {
		count := result.TransactionCount
		resp.TransactionCount = &count
		WriteJSONOK(w, resp)
		return
	}
	WriteJSON(w, http.StatusAccepted, resp)
}

// writeIntakeProblem maps intake errors onto RFC 7807 responses.
func writeIntakeProblem(w http.ResponseWriter, err error) {
	var dup *pipeline.DuplicateFileError
	switch {
	case errors.As(err, &dup):
		ConflictDuplicate(w, "File already uploaded as "+dup.ExistingID, dup.ExistingID)
	case errors.Is(err, pipeline.ErrPayloadTooLarge):
		PayloadTooLarge(w, err.Error())
	case errors.Is(err, pipeline.ErrUnsupportedFileType):
		UnsupportedMediaType(w, err.Error())
	case errors.Is(err, pipeline.ErrUnprocessableContent):
		UnprocessableEntity(w, err.Error())
	case errors.Is(err, pipeline.ErrInvalidMultipart), errors.Is(err, pipeline.ErrEmptyFile):
		BadRequest(w, err.Error())
	case errors.Is(err, pipeline.ErrStorageUnavailable), errors.Is(err, pipeline.ErrQueueUnavailable):
		ServiceUnavailable(w, err.Error())
	default:
		InternalServerError(w, "Upload failed")
	}
}

// List handles GET /api/v1/transactions/uploads.
//
// Query parameters: page (default 1), pageSize (default 20, cap 100) and an
// optional status filter.
func (h *UploadHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		BadRequest(w, "Invalid page parameter")
		return
	}
	pageSize, err := queryInt(r, "pageSize", DefaultPageSize)
	if err != nil {
		BadRequest(w, "Invalid pageSize parameter")
		return
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	var status models.UploadStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err = models.ParseUploadStatus(raw)
		if err != nil {
			BadRequest(w, "Invalid status filter: "+raw)
			return
		}
	}

	uploads, total, err := h.store.ListUploads(r.Context(), page, pageSize, status)
	if err != nil {
		InternalServerError(w, "Failed to list uploads")
		return
	}

	items := make([]UploadResponse, len(uploads))
	for i := range uploads {
		items[i] = uploadToResponse(&uploads[i])
	}

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}

	WriteJSONOK(w, PagedUploadsResponse{
		Items:      items,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: totalPages,
	})
}

// Get handles GET /api/v1/transactions/uploads/{id}.
func (h *UploadHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	upload, err := h.store.GetUpload(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrUploadNotFound) {
			NotFound(w, "Upload not found")
			return
		}
		InternalServerError(w, "Failed to get upload")
		return
	}

	WriteJSONOK(w, uploadToResponse(upload))
}

// Incomplete handles GET /api/v1/transactions/uploads/incomplete.
//
// Lists uploads that are stuck: pending or processing with no checkpoint
// activity inside the staleness window, or terminal with unaccounted lines.
// The window defaults to the configured stuck timeout and can be overridden
// with timeoutMinutes.
func (h *UploadHandler) Incomplete(w http.ResponseWriter, r *http.Request) {
	timeout, err := h.queryTimeout(r)
	if err != nil {
		BadRequest(w, "Invalid timeoutMinutes parameter")
		return
	}

	uploads, err := h.store.FindIncompleteUploads(r.Context(), timeout)
	if err != nil {
		InternalServerError(w, "Failed to list incomplete uploads")
		return
	}

	items := make([]UploadResponse, len(uploads))
	for i := range uploads {
		items[i] = uploadToResponse(&uploads[i])
	}
	WriteJSONOK(w, items)
}

// Resume handles POST /api/v1/transactions/uploads/{id}/resume.
//
// Re-enqueues a single incomplete upload. The row is left untouched; the
// worker that picks the message up restores progress from the checkpoint.
func (h *UploadHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	upload, err := h.store.GetUpload(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrUploadNotFound) {
			NotFound(w, "Upload not found")
			return
		}
		InternalServerError(w, "Failed to get upload")
		return
	}

	if !upload.Incomplete() {
		BadRequest(w, "Upload is not incomplete")
		return
	}
	if upload.StoragePath == "" {
		BadRequest(w, "Upload has no storage path")
		return
	}

	msgID, err := h.queue.Enqueue(r.Context(), upload.ID, upload.StoragePath)
	if err != nil {
		ServiceUnavailable(w, "Failed to re-enqueue upload")
		return
	}

	WriteJSONOK(w, ResumeResponse{UploadID: upload.ID, MessageID: msgID})
}

// ResumeAll handles POST /api/v1/transactions/uploads/resume-all.
//
// Runs one recovery sweep and reports the per-upload outcomes. The staleness
// window defaults to the configured stuck timeout and can be overridden with
// timeoutMinutes.
func (h *UploadHandler) ResumeAll(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		ServiceUnavailable(w, "Recovery is disabled")
		return
	}

	timeout, err := h.queryTimeout(r)
	if err != nil {
		BadRequest(w, "Invalid timeoutMinutes parameter")
		return
	}

	results, err := h.sweeper.SweepOnce(r.Context(), timeout)
	if err != nil {
		InternalServerError(w, "Recovery sweep failed")
		return
	}

	requeued := 0
	for _, res := range results {
		if res.Requeued {
			requeued++
		}
	}
	if results == nil {
		results = make([]pipeline.SweepResult, 0)
	}

	WriteJSONOK(w, ResumeAllResponse{Requeued: requeued, Results: results})
}

// queryTimeout reads timeoutMinutes, falling back to the configured window.
func (h *UploadHandler) queryTimeout(r *http.Request) (time.Duration, error) {
	minutes, err := queryInt(r, "timeoutMinutes", 0)
	if err != nil {
		return 0, err
	}
	if minutes == 0 {
		return h.stuckTimeout, nil
	}
	return time.Duration(minutes) * time.Minute, nil
}

// uploadToResponse maps a tracking row onto the API representation.
func uploadToResponse(u *models.FileUpload) UploadResponse {
	return UploadResponse{
		ID:                    u.ID,
		FileName:              u.FileName,
		FileSize:              u.FileSize,
		FileHash:              u.FileHash,
		StoragePath:           u.StoragePath,
		Status:                string(u.Status),
		TotalLineCount:        u.TotalLineCount,
		ProcessedLineCount:    u.ProcessedLineCount,
		FailedLineCount:       u.FailedLineCount,
		SkippedLineCount:      u.SkippedLineCount,
		LastCheckpointLine:    u.LastCheckpointLine,
		RetryCount:            u.RetryCount,
		ErrorMessage:          u.ErrorMessage,
		UploadedAt:            u.UploadedAt,
		ProcessingStartedAt:   u.ProcessingStartedAt,
		ProcessingCompletedAt: u.ProcessingCompletedAt,
		LastCheckpointAt:      u.LastCheckpointAt,
	}
}
