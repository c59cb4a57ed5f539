package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cnabflow/cnabflow/pkg/models"
)

// ============================================
// LINE HASH OPERATIONS
// ============================================

// IsLineUnique reports whether no line with the given content hash has been
// committed yet. This is the cheap pre-check; the unique index on line_hash
// is the authoritative backstop under concurrency.
func (s *Store) IsLineUnique(ctx context.Context, lineHash string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.FileUploadLineHash{}).
		Where("line_hash = ?", lineHash).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// LineHashBuffer accumulates line-hash rows so the processor can stage them
// into the same unit of work as the transaction insert, or flush whatever is
// left in one idempotent bulk write at the end of a run.
type LineHashBuffer struct {
	uploadID string
	rows     []models.FileUploadLineHash
}

// NewLineHashBuffer creates an empty buffer for the given upload.
func NewLineHashBuffer(uploadID string) *LineHashBuffer {
	return &LineHashBuffer{uploadID: uploadID}
}

// Record appends a line hash to the buffer.
func (b *LineHashBuffer) Record(lineHash, content string) {
	b.rows = append(b.rows, models.FileUploadLineHash{
		ID:           uuid.New().String(),
		FileUploadID: b.uploadID,
		LineHash:     lineHash,
		LineContent:  content,
	})
}

// Len returns the number of buffered rows.
func (b *LineHashBuffer) Len() int {
	return len(b.rows)
}

// drain returns the buffered rows and empties the buffer.
func (b *LineHashBuffer) drain() []models.FileUploadLineHash {
	rows := b.rows
	b.rows = nil
	return rows
}

// FlushLineHashesToUnit stages the buffered rows inside the caller's unit of
// work. A unique violation means another worker committed an identical line
// concurrently; it is translated to models.ErrDuplicateLineHash so the caller
// can roll the unit back and count the line as skipped.
func (s *Store) FlushLineHashesToUnit(tx *gorm.DB, buf *LineHashBuffer) error {
	rows := buf.drain()
	if len(rows) == 0 {
		return nil
	}
	if err := tx.Create(&rows).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.ErrDuplicateLineHash
		}
		return err
	}
	return nil
}

// CommitLineHashes bulk-inserts any still-buffered rows in a unit of its own.
// Rows whose hash already exists are silently left in place, so re-running
// after a crash cannot fail. Callers that committed every row inline can call
// this with an empty buffer.
func (s *Store) CommitLineHashes(ctx context.Context, buf *LineHashBuffer) error {
	rows := buf.drain()
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// CountLineHashes returns how many line hashes have been committed for an
// upload. Used by diagnostics and tests.
func (s *Store) CountLineHashes(ctx context.Context, uploadID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.FileUploadLineHash{}).
		Where("file_upload_id = ?", uploadID).
		Count(&count).Error
	return count, err
}

// GetLineHash looks up a committed line by its content hash.
func (s *Store) GetLineHash(ctx context.Context, lineHash string) (*models.FileUploadLineHash, error) {
	var row models.FileUploadLineHash
	err := s.db.WithContext(ctx).Where("line_hash = ?", lineHash).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrLineHashNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
