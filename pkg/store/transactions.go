package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cnabflow/cnabflow/pkg/models"
)

// ============================================
// TRANSACTION OPERATIONS
// ============================================

// AddTransactionToUnit stages a transaction insert inside the caller's unit
// of work. A unique violation on the idempotency key means this exact line of
// this exact file was already committed (a retry or redelivery); it surfaces
// as models.ErrDuplicateTransaction so the caller can treat the line as
// skipped rather than failed.
func (s *Store) AddTransactionToUnit(tx *gorm.DB, record *models.Transaction) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if err := tx.Create(record).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.ErrDuplicateTransaction
		}
		return err
	}
	return nil
}

// Unit runs fn inside a single database transaction. Everything staged in fn
// commits together or not at all.
func (s *Store) Unit(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// ClearAllTransactions truncates the transactions table and reports how many
// rows were removed. Administrative operation behind DELETE /transactions.
func (s *Store) ClearAllTransactions(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&models.Transaction{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// CountTransactions returns the number of committed transactions for one
// upload, or for all uploads when uploadID is empty.
func (s *Store) CountTransactions(ctx context.Context, uploadID string) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Transaction{})
	if uploadID != "" {
		q = q.Where("file_upload_id = ?", uploadID)
	}
	var count int64
	err := q.Count(&count).Error
	return count, err
}
