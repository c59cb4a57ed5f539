package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/cnabflow/cnabflow/pkg/models"
)

// ============================================
// UPLOAD TRACKING OPERATIONS
// ============================================

// IsFileUnique reports whether no upload with the given file hash exists.
// When a duplicate exists, the existing upload is returned so callers can
// reference it in their response.
func (s *Store) IsFileUnique(ctx context.Context, fileHash string) (bool, *models.FileUpload, error) {
	var existing models.FileUpload
	err := s.db.WithContext(ctx).Where("file_hash = ?", fileHash).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return false, &existing, nil
}

// RecordPending creates the tracking row for a freshly uploaded file.
func (s *Store) RecordPending(ctx context.Context, name, fileHash string, size int64, storagePath string) (*models.FileUpload, error) {
	upload := &models.FileUpload{
		FileName:    name,
		FileSize:    size,
		FileHash:    fileHash,
		StoragePath: storagePath,
		Status:      models.StatusPending,
		UploadedAt:  time.Now(),
	}
	if _, err := createWithID(s.db, ctx, upload,
		func(u *models.FileUpload, id string) { u.ID = id },
		upload.ID, models.ErrDuplicateFileHash); err != nil {
		return nil, err
	}
	return upload, nil
}

// SetTotalLineCount records how many lines the file contains. Written once
// by the first worker that downloads and splits the file.
func (s *Store) SetTotalLineCount(ctx context.Context, id string, n int64) error {
	result := s.db.WithContext(ctx).
		Model(&models.FileUpload{}).
		Where("id = ?", id).
		Update("total_line_count", n)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUploadNotFound
	}
	return nil
}

// UpdateProcessingStatus transitions an upload to the given status. The first
// transition to processing stamps ProcessingStartedAt; later retries of the
// same upload keep the original start time so stuck-upload detection measures
// total elapsed time.
func (s *Store) UpdateProcessingStatus(ctx context.Context, id string, status models.UploadStatus, retryCount int) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", models.ErrInvalidUploadStatus, status)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var upload models.FileUpload
		if err := tx.Where("id = ?", id).First(&upload).Error; err != nil {
			return convertNotFoundError(err, models.ErrUploadNotFound)
		}

		updates := map[string]any{
			"status":      status,
			"retry_count": retryCount,
		}
		if status == models.StatusProcessing && upload.ProcessingStartedAt == nil {
			updates["processing_started_at"] = time.Now()
		}
		if status.Terminal() && upload.ProcessingCompletedAt == nil {
			updates["processing_completed_at"] = time.Now()
		}
		return tx.Model(&upload).Updates(updates).Error
	})
}

// UpdateCheckpoint persists durable progress for an upload. lastLine is the
// count of contiguously accounted lines (the index the next resume starts
// from) and must never regress; a smaller value than the stored one is
// rejected with models.ErrCheckpointRegression. Re-writing the same value is
// accepted so redelivered work can checkpoint idempotently.
func (s *Store) UpdateCheckpoint(ctx context.Context, id string, lastLine, processed, failed, skipped int64) error {
	result := s.db.WithContext(ctx).
		Model(&models.FileUpload{}).
		Where("id = ? AND last_checkpoint_line <= ?", id, lastLine).
		Updates(map[string]any{
			"last_checkpoint_line": lastLine,
			"processed_line_count": processed,
			"failed_line_count":    failed,
			"skipped_line_count":   skipped,
			"last_checkpoint_at":   time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var upload models.FileUpload
		if err := s.db.WithContext(ctx).Select("last_checkpoint_line").Where("id = ?", id).First(&upload).Error; err != nil {
			return convertNotFoundError(err, models.ErrUploadNotFound)
		}
		return fmt.Errorf("%w: upload %s is at line %d, refusing %d",
			models.ErrCheckpointRegression, id, upload.LastCheckpointLine, lastLine)
	}
	return nil
}

// UpdateProcessingResult writes the final counters for a run and derives the
// terminal status: when every known line is accounted for the upload becomes
// success (no failures) or partially_completed (some failures); otherwise the
// current status is left untouched so a later resume can finish the file.
func (s *Store) UpdateProcessingResult(ctx context.Context, id string, processed, failed, skipped int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var upload models.FileUpload
		if err := tx.Where("id = ?", id).First(&upload).Error; err != nil {
			return convertNotFoundError(err, models.ErrUploadNotFound)
		}

		updates := map[string]any{
			"processed_line_count": processed,
			"failed_line_count":    failed,
			"skipped_line_count":   skipped,
		}
		if upload.TotalLineCount > 0 && processed+failed+skipped >= upload.TotalLineCount {
			status := models.StatusSuccess
			if failed > 0 {
				status = models.StatusPartiallyCompleted
			}
			updates["status"] = status
			if upload.ProcessingCompletedAt == nil {
				updates["processing_completed_at"] = time.Now()
			}
		}
		return tx.Model(&upload).Updates(updates).Error
	})
}

// UpdateProcessingFailure marks an upload as terminally failed, recording the
// error for operators.
func (s *Store) UpdateProcessingFailure(ctx context.Context, id string, procErr error, retryCount int) error {
	msg := ""
	if procErr != nil {
		msg = procErr.Error()
	}
	result := s.db.WithContext(ctx).
		Model(&models.FileUpload{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":                  models.StatusFailed,
			"error_message":           msg,
			"retry_count":             retryCount,
			"processing_completed_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUploadNotFound
	}
	return nil
}

// FindIncompleteUploads returns uploads that look abandoned: stuck in
// processing for longer than timeout with no checkpoint written inside the
// same window. Both age conditions must hold so an upload that is old but
// still making progress is left alone.
func (s *Store) FindIncompleteUploads(ctx context.Context, timeout time.Duration) ([]models.FileUpload, error) {
	cutoff := time.Now().Add(-timeout)
	var uploads []models.FileUpload
	err := s.db.WithContext(ctx).
		Where("status = ?", models.StatusProcessing).
		Where("processing_started_at IS NOT NULL AND processing_started_at < ?", cutoff).
		Where("last_checkpoint_at IS NULL OR last_checkpoint_at < ?", cutoff).
		Order("processing_started_at ASC").
		Find(&uploads).Error
	if err != nil {
		return nil, err
	}
	return uploads, nil
}

// IsUploadIncomplete reports whether the upload still has unaccounted work.
func (s *Store) IsUploadIncomplete(ctx context.Context, id string) (bool, error) {
	upload, err := s.GetUpload(ctx, id)
	if err != nil {
		return false, err
	}
	return upload.Incomplete(), nil
}

// GetUpload retrieves a single upload by ID.
func (s *Store) GetUpload(ctx context.Context, id string) (*models.FileUpload, error) {
	return getByField[models.FileUpload](s.db, ctx, "id", id, models.ErrUploadNotFound)
}

// ListUploads returns a page of uploads, newest first, optionally filtered by
// status, together with the total number of matching rows.
func (s *Store) ListUploads(ctx context.Context, page, pageSize int, status models.UploadStatus) ([]models.FileUpload, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	q := s.db.WithContext(ctx).Model(&models.FileUpload{})
	if status != "" {
		if !status.Valid() {
			return nil, 0, fmt.Errorf("%w: %q", models.ErrInvalidUploadStatus, status)
		}
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var uploads []models.FileUpload
	err := q.Order("uploaded_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&uploads).Error
	if err != nil {
		return nil, 0, err
	}
	return uploads, total, nil
}

// DeleteUpload removes a tracking row and its line hashes. Used to roll back
// intake when the queue publish fails after the row was created.
func (s *Store) DeleteUpload(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_upload_id = ?", id).Delete(&models.FileUploadLineHash{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&models.FileUpload{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrUploadNotFound
		}
		return nil
	})
}
