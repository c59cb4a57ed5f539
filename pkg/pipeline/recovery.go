package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cnabflow/cnabflow/internal/logger"
	"github.com/cnabflow/cnabflow/internal/telemetry"
	"github.com/cnabflow/cnabflow/pkg/lock"
	"github.com/cnabflow/cnabflow/pkg/metrics"
	"github.com/cnabflow/cnabflow/pkg/models"
	"github.com/cnabflow/cnabflow/pkg/queue"
	"github.com/cnabflow/cnabflow/pkg/store"
)

// SweeperConfig controls the recovery sweeper.
type SweeperConfig struct {
	// CheckInterval is how often the sweeper scans for stuck uploads.
	CheckInterval time.Duration

	// StuckTimeout is how long an upload may sit in processing without a
	// checkpoint before it is considered abandoned.
	StuckTimeout time.Duration
}

// ApplyDefaults fills zero values with production defaults.
func (c *SweeperConfig) ApplyDefaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 5 * time.Minute
	}
	if c.StuckTimeout <= 0 {
		c.StuckTimeout = 30 * time.Minute
	}
}

// SweepResult records the decision taken for one stuck upload.
type SweepResult struct {
	UploadID string `json:"upload_id"`
	Requeued bool   `json:"requeued"`
	Reason   string `json:"reason,omitempty"`
}

// Sweeper periodically re-enqueues uploads abandoned mid-processing, for
// example after a worker crashed between dequeue and acknowledge and its
// consumer never came back. It only ever writes to the queue:
// upload rows are left untouched, and the worker that picks the message up
// resumes from the existing checkpoint.
type Sweeper struct {
	store   *store.Store
	queue   *queue.Queue
	locker  *lock.Locker
	metrics *metrics.Metrics
	cfg     SweeperConfig

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewSweeper creates a recovery sweeper.
func NewSweeper(st *store.Store, q *queue.Queue, locker *lock.Locker, m *metrics.Metrics, cfg SweeperConfig) *Sweeper {
	cfg.ApplyDefaults()
	return &Sweeper{
		store:   st,
		queue:   q,
		locker:  locker,
		metrics: m,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the periodic sweep loop. Safe to call once; Stop must only
// be called after Start.
func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.run(ctx)
	})
}

// Stop signals the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	logger.Info("Recovery sweeper started",
		"check_interval", s.cfg.CheckInterval,
		"stuck_timeout", s.cfg.StuckTimeout)

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			logger.Info("Recovery sweeper stopped")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx, s.cfg.StuckTimeout); err != nil {
				logger.ErrorCtx(ctx, "Recovery sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce scans for uploads stuck in processing longer than timeout and
// re-enqueues the ones that are safe to hand back to the workers. It is also
// the implementation behind the resume-all endpoint, which passes its own
// timeout.
func (s *Sweeper) SweepOnce(ctx context.Context, timeout time.Duration) ([]SweepResult, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanRecoverySweep)
	defer span.End()

	uploads, err := s.store.FindIncompleteUploads(ctx, timeout)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("find incomplete uploads: %w", err)
	}
	if len(uploads) == 0 {
		logger.DebugCtx(ctx, "No stuck uploads found")
		return nil, nil
	}

	results := make([]SweepResult, 0, len(uploads))
	requeued := 0
	for i := range uploads {
		res := s.considerUpload(ctx, &uploads[i], timeout)
		if res.Requeued {
			requeued++
		}
		results = append(results, res)
	}

	s.metrics.ObserveRecoveryRequeue(requeued)
	logger.InfoCtx(ctx, "Recovery sweep finished",
		"candidates", len(uploads), "requeued", requeued)
	return results, nil
}

// considerUpload decides whether one stuck upload is safe to requeue. An
// upload is left alone while another worker holds its processing lock or
// while a checkpoint landed within half the stuck window, so a slow but
// live worker is never raced.
func (s *Sweeper) considerUpload(ctx context.Context, upload *models.FileUpload, timeout time.Duration) SweepResult {
	res := SweepResult{UploadID: upload.ID}

	if upload.StoragePath == "" {
		res.Reason = "no storage path"
		logger.WarnCtx(ctx, "Stuck upload has no storage path, skipping",
			"upload_id", upload.ID)
		return res
	}

	held, err := s.locker.Exists(ctx, lock.UploadProcessingKey(upload.ID))
	if err != nil {
		res.Reason = fmt.Sprintf("lock check failed: %v", err)
		logger.WarnCtx(ctx, "Lock check failed, skipping upload",
			"upload_id", upload.ID, "error", err)
		return res
	}
	if held {
		res.Reason = "still locked"
		logger.DebugCtx(ctx, "Stuck upload still locked, skipping",
			"upload_id", upload.ID)
		return res
	}

	if upload.LastCheckpointAt != nil && time.Since(*upload.LastCheckpointAt) < timeout/2 {
		res.Reason = "recent checkpoint"
		logger.DebugCtx(ctx, "Upload checkpointed recently, skipping",
			"upload_id", upload.ID)
		return res
	}

	msgID, err := s.queue.Enqueue(ctx, upload.ID, upload.StoragePath)
	if err != nil {
		res.Reason = fmt.Sprintf("enqueue failed: %v", err)
		logger.ErrorCtx(ctx, "Failed to requeue stuck upload",
			"upload_id", upload.ID, "error", err)
		return res
	}

	res.Requeued = true
	logger.InfoCtx(ctx, "Requeued stuck upload",
		"upload_id", upload.ID, "message_id", msgID,
		"checkpoint_line", upload.LastCheckpointLine)
	return res
}
