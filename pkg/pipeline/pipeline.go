// Package pipeline contains the ingestion pipeline: upload intake, the
// queue-fed worker pool that turns stored files into transaction rows, the
// per-line processor with its exactly-once guarantees, checkpointing, and
// the recovery sweeper that re-publishes stalled uploads.
//
// The pipeline composes the leaf services (store, blob, queue, lock) and
// never reaches around them; all durable state lives behind those packages.
package pipeline

import (
	"context"
	"time"
)

// BlobStore is the slice of the object-store gateway the pipeline uses:
// intake writes uploaded files, workers read them back. *blob.Store
// implements it; tests substitute an in-memory fake.
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte) (string, error)
	Get(ctx context.Context, path string) ([]byte, error)
}

// Config tunes the worker pool and the per-line processor.
type Config struct {
	// Workers is the number of queue consumer goroutines.
	Workers int

	// ParallelWorkers is the per-batch fan-out of concurrent line tasks.
	ParallelWorkers int

	// CheckpointInterval is the number of accounted lines between
	// checkpoint writes.
	CheckpointInterval int64

	// MaxRetryPerLine bounds attempts for a single line's unit of work.
	MaxRetryPerLine int

	// RetryDelay is the base delay between line attempts; attempt n waits
	// RetryDelay × n.
	RetryDelay time.Duration

	// MaxRetries bounds message-level retries before dead-lettering.
	MaxRetries int

	// BaseRetryDelay is the base for message-level exponential backoff;
	// retry n waits BaseRetryDelay × 2^(n-1).
	BaseRetryDelay time.Duration

	// ProcessingTimeout is the distributed lock TTL for one processing run.
	ProcessingTimeout time.Duration
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.ParallelWorkers <= 0 {
		c.ParallelWorkers = 4
	}
	if c.ParallelWorkers > 64 {
		c.ParallelWorkers = 64
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 1000
	}
	if c.MaxRetryPerLine <= 0 {
		c.MaxRetryPerLine = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = 2 * time.Second
	}
	if c.ProcessingTimeout <= 0 {
		c.ProcessingTimeout = 30 * time.Minute
	}
}
