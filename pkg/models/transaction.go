package models

import (
	"fmt"
	"time"
)

// Transaction is one parsed CNAB record. The unique index on IdempotencyKey
// makes the insert idempotent across worker retries and resumes.
type Transaction struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	BankCode       string    `gorm:"size:8" json:"bank_code"` // raw nature character from the wire
	NatureCode     int       `gorm:"not null" json:"nature_code"`
	AmountCents    int64     `gorm:"not null" json:"amount_cents"`
	CPF            string    `gorm:"size:11;index" json:"cpf"`
	Card           string    `gorm:"size:12" json:"card"`
	StoreOwner     string    `gorm:"size:14" json:"store_owner"`
	StoreName      string    `gorm:"size:18;index" json:"store_name"`
	OccurredAt     time.Time `json:"occurred_at"`
	OccurredTime   string    `gorm:"size:8" json:"occurred_time"` // "HH:MM:SS"
	IdempotencyKey string    `gorm:"uniqueIndex;not null;size:64" json:"idempotency_key"`
	FileUploadID   string    `gorm:"not null;size:36;index" json:"file_upload_id"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Transaction.
func (Transaction) TableName() string {
	return "transactions"
}

// NewIdempotencyKey builds the per-line idempotency key: the base64 file hash
// joined with the 0-based line index.
func NewIdempotencyKey(fileHash string, lineIndex int) string {
	return fmt.Sprintf("%s:%d", fileHash, lineIndex)
}
