package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/cnabflow/cnabflow/internal/logger"
	"github.com/cnabflow/cnabflow/pkg/blob"
	"github.com/cnabflow/cnabflow/pkg/lock"
	"github.com/cnabflow/cnabflow/pkg/queue"
	"github.com/cnabflow/cnabflow/pkg/store"
)

// Components holds the backing services built from a Config.
type Components struct {
	// Store is the relational database (uploads, line hashes, transactions)
	Store *store.Store

	// Blob is the object store holding the raw uploaded files
	Blob *blob.Store

	// Queue is the durable upload queue
	Queue *queue.Queue

	// Locker is the distributed lock manager
	Locker *lock.Locker
}

// BuildComponents creates every backing service named in the configuration.
//
// This function orchestrates the complete initialization process:
//  1. Opens the database and runs migrations
//  2. Connects to the object store and ensures the bucket exists
//  3. Connects to Redis and creates the consumer group
//  4. Creates the lock manager on its own Redis connection
//
// The returned Components are ready for use by the intake endpoints and the
// worker pool. The caller owns them and must call Close.
func BuildComponents(ctx context.Context, cfg *Config) (*Components, error) {
	logger.Debug("Initializing components from configuration")

	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}

	// Step 1: relational store (runs migrations)
	st, err := store.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	logger.Info("Database ready", "type", cfg.Database.Type)

	// Step 2: object store
	bl, err := blob.New(ctx, cfg.Storage)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to connect to object store: %w", err)
	}
	if err := bl.EnsureBucket(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to ensure bucket %s: %w", cfg.Storage.Bucket, err)
	}
	logger.Info("Object store ready", "bucket", cfg.Storage.Bucket)

	// Step 3: queue
	q := queue.New(cfg.Redis.QueueConfig())
	if err := q.Ping(ctx); err != nil {
		_ = st.Close()
		_ = q.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	if err := q.InitConsumerGroup(ctx); err != nil {
		_ = st.Close()
		_ = q.Close()
		return nil, err
	}
	logger.Info("Queue ready", "stream", q.Stream())

	// Step 4: lock manager
	lk := lock.New(cfg.Redis.LockConfig())
	if err := lk.Ping(ctx); err != nil {
		_ = st.Close()
		_ = q.Close()
		_ = lk.Close()
		return nil, fmt.Errorf("failed to connect lock manager to redis: %w", err)
	}

	return &Components{
		Store:  st,
		Blob:   bl,
		Queue:  q,
		Locker: lk,
	}, nil
}

// Close releases every component connection.
func (c *Components) Close() error {
	var errs []error
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if c.Queue != nil {
		if err := c.Queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("queue: %w", err))
		}
	}
	if c.Locker != nil {
		if err := c.Locker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("locker: %w", err))
		}
	}
	return errors.Join(errs...)
}
