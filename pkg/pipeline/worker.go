package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cnabflow/cnabflow/internal/logger"
	"github.com/cnabflow/cnabflow/internal/telemetry"
	"github.com/cnabflow/cnabflow/pkg/blob"
	"github.com/cnabflow/cnabflow/pkg/cnab"
	"github.com/cnabflow/cnabflow/pkg/lock"
	"github.com/cnabflow/cnabflow/pkg/metrics"
	"github.com/cnabflow/cnabflow/pkg/models"
	"github.com/cnabflow/cnabflow/pkg/queue"
	"github.com/cnabflow/cnabflow/pkg/store"
)

// queueStatsInterval is how often the pool samples queue depths for the
// gauges. Sampling is advisory; a missed tick costs nothing.
const queueStatsInterval = 15 * time.Second

// Pool consumes upload messages from the queue and drives each one through
// the line pipeline. Every worker dequeues with its own consumer name, takes
// the upload's processing lock before touching any state, and acknowledges
// the message only after every line has a durable outcome (or the message
// has been moved to the dead letter queue).
type Pool struct {
	store   *store.Store
	blob    BlobStore
	queue   *queue.Queue
	locker  *lock.Locker
	proc    *Processor
	ckpt    *Checkpointer
	metrics *metrics.Metrics
	cfg     Config

	mu        sync.Mutex
	started   bool
	wg        sync.WaitGroup
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewPool creates a worker pool. The pool owns its Processor and
// Checkpointer; callers only supply the shared services.
func NewPool(st *store.Store, bl BlobStore, q *queue.Queue, locker *lock.Locker, m *metrics.Metrics, cfg Config) *Pool {
	cfg.ApplyDefaults()
	return &Pool{
		store:   st,
		blob:    bl,
		queue:   q,
		locker:  locker,
		proc:    NewProcessor(st, m, cfg),
		ckpt:    NewCheckpointer(st, m),
		metrics: m,
		cfg:     cfg,
	}
}

// Start launches the configured number of workers plus a queue stats
// sampler. It is an error to start a pool twice without stopping it.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("worker pool already started")
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.stoppedCh = make(chan struct{})
	p.mu.Unlock()

	// The group usually exists already (intake creates it lazily via
	// Enqueue); a failure here only matters if Redis is down, and the
	// workers will surface that on their first dequeue anyway.
	if err := p.queue.InitConsumerGroup(ctx); err != nil {
		logger.Warn("Consumer group init failed", "error", err)
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "cnabflow"
	}

	for i := 0; i < p.cfg.Workers; i++ {
		consumer := fmt.Sprintf("%s-worker-%d", host, i)
		p.wg.Add(1)
		go p.runWorker(ctx, consumer)
	}

	p.wg.Add(1)
	go p.sampleQueueStats(ctx)

	go func() {
		p.wg.Wait()
		close(p.stoppedCh)
	}()

	logger.Info("Worker pool started",
		"workers", p.cfg.Workers,
		"parallel_lines", p.cfg.ParallelWorkers,
		"checkpoint_interval", p.cfg.CheckpointInterval)
	return nil
}

// Stop signals all workers and waits up to timeout for them to drain. A
// worker blocked in a dequeue finishes that read before it notices the stop
// signal, so the timeout should comfortably exceed the queue block timeout.
func (p *Pool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	close(p.stopCh)
	stopped := p.stoppedCh
	p.mu.Unlock()

	select {
	case <-stopped:
		logger.Info("Worker pool stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("worker pool did not stop within %s", timeout)
	}
}

func (p *Pool) runWorker(ctx context.Context, consumer string) {
	defer p.wg.Done()

	ctx = logger.WithContext(ctx, logger.NewLogContext("").WithConsumer(consumer))
	logger.DebugCtx(ctx, "Worker started", "consumer", consumer)

	for {
		select {
		case <-p.stopCh:
			logger.DebugCtx(ctx, "Worker stopping", "consumer", consumer)
			return
		case <-ctx.Done():
			return
		default:
		}

		msg, err := p.queue.Dequeue(ctx, consumer)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WarnCtx(ctx, "Dequeue failed", "consumer", consumer, "error", err)
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue
		}

		p.handleMessage(ctx, msg, consumer)
	}
}

// handleMessage runs one dequeued message to completion. A lock miss is the
// one failure that is not logged as an error: the message stays pending and
// the stream's claim cycle will redeliver it once the holder is done.
func (p *Pool) handleMessage(ctx context.Context, msg *queue.Message, consumer string) {
	ctx = logger.WithContext(ctx, logger.FromContext(ctx).WithUpload(msg.UploadID))
	ctx, span := telemetry.StartQueueSpan(ctx, telemetry.SpanQueueDequeue, p.queue.Stream(),
		telemetry.QueueMessageID(msg.ID),
		telemetry.QueueConsumer(consumer),
		telemetry.UploadID(msg.UploadID))
	defer span.End()

	p.metrics.WorkerStarted()
	defer p.metrics.WorkerFinished()

	logger.InfoCtx(ctx, "Processing upload message",
		"upload_id", msg.UploadID, "message_id", msg.ID, "retry_count", msg.RetryCount)

	if err := p.ProcessMessage(ctx, msg); err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			logger.DebugCtx(ctx, "Upload locked by another worker, leaving message pending",
				"upload_id", msg.UploadID, "message_id", msg.ID)
			return
		}
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "Upload message failed",
			"upload_id", msg.UploadID, "message_id", msg.ID, "error", err)
	}
}

// ProcessMessage processes a single upload message under the upload's
// processing lock. It is exported so synchronous intake can run the same
// path inline. The message is acknowledged on success and on dead letter;
// on a lock miss it returns lock.ErrNotAcquired and leaves the message
// pending for redelivery.
func (p *Pool) ProcessMessage(ctx context.Context, msg *queue.Message) error {
	key := lock.UploadProcessingKey(msg.UploadID)
	err := p.locker.WithLock(ctx, key, p.cfg.ProcessingTimeout, func(ctx context.Context) error {
		return p.processUpload(ctx, msg)
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		p.metrics.ObserveLockContention()
	}
	return err
}

// processUpload retries a full upload run with exponential backoff. Three
// failure classes end the loop: a cancelled context leaves the message
// pending, an unreadable payload dead letters immediately, and exhausted
// retries dead letter with the last error.
func (p *Pool) processUpload(ctx context.Context, msg *queue.Message) error {
	start := time.Now()

	for attempt := 0; ; attempt++ {
		err := p.runAttempt(ctx, msg, attempt)
		if err == nil {
			p.metrics.ObserveProcessingDuration(time.Since(start))
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("processing interrupted: %w", ctx.Err())
		}
		if errors.Is(err, blob.ErrObjectNotFound) {
			logger.ErrorCtx(ctx, "Upload payload unreadable, moving to dead letter queue",
				"upload_id", msg.UploadID, "error", err)
			return p.deadLetter(ctx, msg, err, attempt, metrics.ReasonUnreadable)
		}
		if attempt >= p.cfg.MaxRetries {
			logger.ErrorCtx(ctx, "Upload retries exhausted, moving to dead letter queue",
				"upload_id", msg.UploadID, "attempts", attempt+1, "error", err)
			return p.deadLetter(ctx, msg, err, attempt, metrics.ReasonRetriesExhausted)
		}

		delay := p.cfg.BaseRetryDelay << attempt
		logger.WarnCtx(ctx, "Upload attempt failed, retrying",
			"upload_id", msg.UploadID, "attempt", attempt+1, "delay", delay, "error", err)
		p.metrics.ObserveRetry()

		select {
		case <-ctx.Done():
			return fmt.Errorf("processing interrupted: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}

// deadLetter moves the message to the DLQ (which also acknowledges it on the
// main stream) and marks the upload failed. The original processing error is
// returned so callers log the real cause, not the bookkeeping.
func (p *Pool) deadLetter(ctx context.Context, msg *queue.Message, procErr error, attempt int, reason string) error {
	ctx, span := telemetry.StartQueueSpan(ctx, telemetry.SpanQueueDLQ, p.queue.Stream(),
		telemetry.QueueMessageID(msg.ID),
		telemetry.UploadID(msg.UploadID))
	defer span.End()

	if err := p.queue.MoveToDLQ(ctx, msg, reason); err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("move message %s to dlq: %w", msg.ID, err)
	}
	p.metrics.ObserveDeadLetter(reason)

	if err := p.store.UpdateProcessingFailure(ctx, msg.UploadID, procErr, attempt+1); err != nil &&
		!errors.Is(err, models.ErrUploadNotFound) {
		logger.ErrorCtx(ctx, "Failed to record terminal failure",
			"upload_id", msg.UploadID, "error", err)
	}

	return fmt.Errorf("upload dead lettered (%s): %w", reason, procErr)
}

// runAttempt performs one complete pass over the upload: fetch the payload,
// process every line from the last checkpoint on, record the final result
// and acknowledge the message.
func (p *Pool) runAttempt(ctx context.Context, msg *queue.Message, attempt int) error {
	ctx, span := telemetry.StartUploadSpan(ctx, telemetry.SpanProcessUpload, msg.UploadID,
		telemetry.QueueMessageID(msg.ID),
		telemetry.RetryCount(attempt))
	defer span.End()

	// Stamp the span identifiers into the log context so records from this
	// attempt can be correlated with the trace.
	if id := telemetry.TraceID(ctx); id != "" {
		ctx = logger.WithContext(ctx, logger.FromContext(ctx).WithTrace(id, telemetry.SpanID(ctx)))
	}

	upload, err := p.store.GetUpload(ctx, msg.UploadID)
	if err != nil {
		if errors.Is(err, models.ErrUploadNotFound) {
			// The row was deleted after enqueue (intake compensation or
			// manual cleanup). There is nothing left to process.
			logger.WarnCtx(ctx, "Upload row missing, acknowledging message",
				"upload_id", msg.UploadID, "message_id", msg.ID)
			return p.ack(ctx, msg)
		}
		return fmt.Errorf("load upload: %w", err)
	}

	// Redeliveries of finished work are acknowledged without touching the
	// row, so a terminal status never flips back to processing.
	if upload.Status.Terminal() && !upload.Incomplete() {
		logger.InfoCtx(ctx, "Upload already complete, acknowledging redelivery",
			"upload_id", msg.UploadID, "status", string(upload.Status))
		return p.ack(ctx, msg)
	}

	if upload.StoragePath == "" {
		return fmt.Errorf("upload %s has no storage path: %w", msg.UploadID, blob.ErrObjectNotFound)
	}

	if err := p.store.UpdateProcessingStatus(ctx, msg.UploadID, models.StatusProcessing, attempt); err != nil {
		return fmt.Errorf("mark upload processing: %w", err)
	}

	data, err := p.fetchPayload(ctx, upload.StoragePath)
	if err != nil {
		return err
	}

	lines := cnab.SplitLines(data)
	total := int64(len(lines))
	telemetry.SetAttributes(ctx, telemetry.LineCount(total))

	if total == 0 {
		logger.WarnCtx(ctx, "Upload payload contains no lines",
			"upload_id", msg.UploadID, "storage_path", upload.StoragePath)
		if err := p.store.UpdateProcessingStatus(ctx, msg.UploadID, models.StatusSuccess, attempt); err != nil {
			return fmt.Errorf("mark empty upload complete: %w", err)
		}
		return p.ack(ctx, msg)
	}

	if upload.TotalLineCount == 0 {
		if err := p.store.SetTotalLineCount(ctx, msg.UploadID, total); err != nil {
			return fmt.Errorf("set total line count: %w", err)
		}
	}

	// Resume from the checkpoint. The counters restored from the row are
	// the values recorded with that checkpoint, so their sum equals the
	// checkpoint line; lines committed after it are re-run and come back
	// as skipped through the line hash.
	startFrom := upload.LastCheckpointLine
	processed := upload.ProcessedLineCount
	failed := upload.FailedLineCount
	skipped := upload.SkippedLineCount

	if startFrom > 0 {
		logger.InfoCtx(ctx, "Resuming upload from checkpoint",
			"upload_id", msg.UploadID, "line", startFrom,
			"processed", processed, "failed", failed, "skipped", skipped)
	}

	parallel := int64(p.cfg.ParallelWorkers)
	for batchStart := startFrom; batchStart < total; batchStart += parallel {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("processing interrupted at line %d: %w", batchStart, err)
		}

		batchEnd := batchStart + parallel
		if batchEnd > total {
			batchEnd = total
		}

		var batchProcessed, batchFailed, batchSkipped int64
		var wg sync.WaitGroup
		for i := batchStart; i < batchEnd; i++ {
			wg.Add(1)
			go func(index int64) {
				defer wg.Done()
				switch p.proc.Process(ctx, lines[index], int(index), msg.UploadID, upload.FileHash) {
				case OutcomeSuccess:
					atomic.AddInt64(&batchProcessed, 1)
				case OutcomeSkipped:
					atomic.AddInt64(&batchSkipped, 1)
				default:
					atomic.AddInt64(&batchFailed, 1)
				}
			}(i)
		}
		wg.Wait()

		processed += batchProcessed
		failed += batchFailed
		skipped += batchSkipped

		p.metrics.ObserveLines(metrics.OutcomeProcessed, batchProcessed)
		p.metrics.ObserveLines(metrics.OutcomeFailed, batchFailed)
		p.metrics.ObserveLines(metrics.OutcomeSkipped, batchSkipped)

		if p.ckpt.ShouldSave(batchStart, batchEnd, p.cfg.CheckpointInterval) {
			p.ckpt.Save(ctx, msg.UploadID, batchEnd, processed, failed, skipped)
		}
	}

	if err := p.store.UpdateProcessingResult(ctx, msg.UploadID, processed, failed, skipped); err != nil {
		return fmt.Errorf("record processing result: %w", err)
	}

	logger.InfoCtx(ctx, "Upload processing finished",
		"upload_id", msg.UploadID, "total", total,
		"processed", processed, "failed", failed, "skipped", skipped)

	return p.ack(ctx, msg)
}

func (p *Pool) fetchPayload(ctx context.Context, storagePath string) ([]byte, error) {
	ctx, span := telemetry.StartBlobSpan(ctx, telemetry.SpanBlobGet, storagePath)
	defer span.End()

	data, err := p.blob.Get(ctx, storagePath)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("fetch payload %s: %w", storagePath, err)
	}
	return data, nil
}

func (p *Pool) ack(ctx context.Context, msg *queue.Message) error {
	if err := p.queue.Ack(ctx, msg.ID); err != nil {
		return fmt.Errorf("acknowledge message %s: %w", msg.ID, err)
	}
	return nil
}

func (p *Pool) sampleQueueStats(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(queueStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := p.queue.Stats(ctx)
			if err != nil {
				logger.DebugCtx(ctx, "Queue stats unavailable", "error", err)
				continue
			}
			p.metrics.SetQueueDepths(float64(stats.StreamLength), float64(stats.Pending), float64(stats.DLQLength))
		}
	}
}
