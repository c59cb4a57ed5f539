package models

import "errors"

// Common errors for upload tracking and transaction persistence.
var (
	// Upload errors
	ErrUploadNotFound       = errors.New("upload not found")
	ErrDuplicateFileHash    = errors.New("file hash already exists")
	ErrCheckpointRegression = errors.New("checkpoint line must not regress")
	ErrMissingStoragePath   = errors.New("upload has no storage path")
	ErrUploadNotIncomplete  = errors.New("upload is not incomplete")
	ErrInvalidUploadStatus  = errors.New("invalid upload status")

	// Line-hash errors
	ErrDuplicateLineHash = errors.New("line hash already exists")
	ErrLineHashNotFound  = errors.New("line hash not found")

	// Transaction errors
	ErrDuplicateTransaction = errors.New("transaction idempotency key already exists")
)
