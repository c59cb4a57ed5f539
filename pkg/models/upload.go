package models

import (
	"fmt"
	"time"
)

// UploadStatus is the lifecycle state of a FileUpload.
type UploadStatus string

// Upload lifecycle states. Terminal states are only entered by the worker
// after every line has been accounted for, or by the final-failure handler.
const (
	StatusPending            UploadStatus = "pending"
	StatusProcessing         UploadStatus = "processing"
	StatusSuccess            UploadStatus = "success"
	StatusFailed             UploadStatus = "failed"
	StatusDuplicate          UploadStatus = "duplicate"
	StatusPartiallyCompleted UploadStatus = "partially_completed"
)

// Valid reports whether s is a known status.
func (s UploadStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSuccess, StatusFailed, StatusDuplicate, StatusPartiallyCompleted:
		return true
	default:
		return false
	}
}

// Terminal reports whether s is a final state.
func (s UploadStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusDuplicate, StatusPartiallyCompleted:
		return true
	default:
		return false
	}
}

// ParseUploadStatus converts a string to an UploadStatus.
func ParseUploadStatus(s string) (UploadStatus, error) {
	status := UploadStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidUploadStatus, s)
	}
	return status, nil
}

// FileUpload tracks one ingested file through the processing pipeline.
type FileUpload struct {
	ID          string       `gorm:"primaryKey;size:36" json:"id"`
	FileName    string       `gorm:"not null;size:255" json:"file_name"`
	FileSize    int64        `gorm:"not null" json:"file_size"`
	FileHash    string       `gorm:"uniqueIndex;not null;size:64" json:"file_hash"` // base64 SHA-256
	StoragePath string       `gorm:"size:255" json:"storage_path"`
	Status      UploadStatus `gorm:"not null;default:pending;size:32;index" json:"status"`

	// Progress counters. LastCheckpointLine is the number of contiguously
	// accounted lines, which is also the 0-based index a resumed worker
	// starts from. It never regresses.
	TotalLineCount     int64 `json:"total_line_count"`
	ProcessedLineCount int64 `json:"processed_line_count"`
	FailedLineCount    int64 `json:"failed_line_count"`
	SkippedLineCount   int64 `json:"skipped_line_count"`
	LastCheckpointLine int64 `json:"last_checkpoint_line"`

	RetryCount   int    `json:"retry_count"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	UploadedAt            time.Time  `gorm:"autoCreateTime" json:"uploaded_at"`
	ProcessingStartedAt   *time.Time `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processing_completed_at,omitempty"`
	LastCheckpointAt      *time.Time `json:"last_checkpoint_at,omitempty"`

	// Relationships
	LineHashes []FileUploadLineHash `gorm:"foreignKey:FileUploadID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for FileUpload.
func (FileUpload) TableName() string {
	return "file_uploads"
}

// AccountedLineCount is the number of lines with a durable outcome.
func (u *FileUpload) AccountedLineCount() int64 {
	return u.ProcessedLineCount + u.FailedLineCount + u.SkippedLineCount
}

// Incomplete reports whether the upload still has work outstanding: it is
// pending or processing, or has known lines that were never accounted for.
func (u *FileUpload) Incomplete() bool {
	if u.Status == StatusPending || u.Status == StatusProcessing {
		return true
	}
	return u.TotalLineCount > 0 && u.AccountedLineCount() < u.TotalLineCount
}
