package pipeline

import (
	"context"

	"github.com/cnabflow/cnabflow/internal/logger"
	"github.com/cnabflow/cnabflow/internal/telemetry"
	"github.com/cnabflow/cnabflow/pkg/metrics"
	"github.com/cnabflow/cnabflow/pkg/store"
)

// Checkpointer persists durable progress for an upload at regular line
// intervals. Checkpoint writes are best effort: a failed write costs at most
// one interval of re-skipped work on the next resume, so errors are logged
// and swallowed rather than failing the run.
type Checkpointer struct {
	store   *store.Store
	metrics *metrics.Metrics
}

// NewCheckpointer creates a checkpoint manager over the given store.
func NewCheckpointer(st *store.Store, m *metrics.Metrics) *Checkpointer {
	return &Checkpointer{store: st, metrics: m}
}

// ShouldSave reports whether advancing the accounted-line count from before
// to after crossed an interval boundary. Batches rarely land exactly on a
// multiple of the interval, so a crossing test is used instead of a modulo.
func (c *Checkpointer) ShouldSave(before, after, interval int64) bool {
	if interval <= 0 || after <= before {
		return false
	}
	return after/interval > before/interval
}

// Save writes a checkpoint: lastLine is the count of contiguously accounted
// lines and the counters are the running totals as of that line.
func (c *Checkpointer) Save(ctx context.Context, uploadID string, lastLine, processed, failed, skipped int64) {
	ctx, span := telemetry.StartUploadSpan(ctx, telemetry.SpanWriteCheckpoint, uploadID,
		telemetry.LineIndex(lastLine))
	defer span.End()

	if err := c.store.UpdateCheckpoint(ctx, uploadID, lastLine, processed, failed, skipped); err != nil {
		telemetry.RecordError(ctx, err)
		logger.WarnCtx(ctx, "Failed to write checkpoint",
			"upload_id", uploadID, "line", lastLine, "error", err)
		return
	}

	c.metrics.ObserveCheckpoint()
	logger.DebugCtx(ctx, "Checkpoint written",
		"upload_id", uploadID, "line", lastLine,
		"processed", processed, "failed", failed, "skipped", skipped)
}
