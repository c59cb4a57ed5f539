package models

import "time"

// FileUploadLineHash records one processed line. The unique index on LineHash
// spans all uploads and is the backstop for line-level exactly-once semantics:
// rows are inserted in the same unit of work as the transaction insert, never
// updated, and removed only when the owning upload is hard-deleted.
type FileUploadLineHash struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	FileUploadID string    `gorm:"not null;size:36;index" json:"file_upload_id"`
	LineHash     string    `gorm:"uniqueIndex;not null;size:64" json:"line_hash"` // lowercase hex SHA-256
	LineContent  string    `gorm:"type:text" json:"line_content"`
	ProcessedAt  time.Time `gorm:"autoCreateTime" json:"processed_at"`
}

// TableName returns the table name for FileUploadLineHash.
func (FileUploadLineHash) TableName() string {
	return "file_upload_line_hashes"
}
