package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnabflow/cnabflow/pkg/blob"
	"github.com/cnabflow/cnabflow/pkg/lock"
	"github.com/cnabflow/cnabflow/pkg/models"
)

// dlqReason reads the reason recorded on the single DLQ entry.
func dlqReason(t *testing.T, rig *testRig) string {
	t.Helper()

	entries, err := rig.client.XRange(context.Background(), "test:uploads:dlq", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	reason, _ := entries[0].Values["reason"].(string)
	return reason
}

func TestProcessMessage_ProcessesUpload(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	upload, msg := rig.seedUpload(t, "cnab.txt", testFile(lineSeries(t, 6)...))
	pool := rig.newPool(fastConfig())

	require.NoError(t, pool.ProcessMessage(ctx, msg))

	final, err := rig.store.GetUpload(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, final.Status)
	assert.Equal(t, int64(6), final.TotalLineCount)
	assert.Equal(t, int64(6), final.ProcessedLineCount)
	assert.Equal(t, int64(0), final.FailedLineCount)
	assert.Equal(t, int64(0), final.SkippedLineCount)
	require.NotNil(t, final.ProcessingStartedAt)
	require.NotNil(t, final.ProcessingCompletedAt)

	count, err := rig.store.CountTransactions(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)
}

func TestProcessMessage_ResumesFromCheckpoint(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	lines := lineSeries(t, 10)
	upload, msg := rig.seedUpload(t, "cnab.txt", testFile(lines...))

	// Simulate a worker that died right after checkpointing line 5: the
	// first five lines are committed and the row points at line 5.
	proc := NewProcessor(rig.store, nil, fastConfig())
	for i := 0; i < 5; i++ {
		require.Equal(t, OutcomeSuccess, proc.Process(ctx, lines[i], i, upload.ID, upload.FileHash))
	}
	require.NoError(t, rig.store.UpdateProcessingStatus(ctx, upload.ID, models.StatusProcessing, 0))
	require.NoError(t, rig.store.UpdateCheckpoint(ctx, upload.ID, 5, 5, 0, 0))

	pool := rig.newPool(fastConfig())
	require.NoError(t, pool.ProcessMessage(ctx, msg))

	final, err := rig.store.GetUpload(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, final.Status)
	assert.Equal(t, int64(10), final.ProcessedLineCount)
	assert.Equal(t, int64(0), final.SkippedLineCount)

	count, err := rig.store.CountTransactions(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)
}

func TestProcessMessage_AcksCompletedRedelivery(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	upload, msg := rig.seedUpload(t, "cnab.txt", testFile(lineSeries(t, 6)...))
	pool := rig.newPool(fastConfig())

	require.NoError(t, pool.ProcessMessage(ctx, msg))
	first, err := rig.store.GetUpload(ctx, upload.ID)
	require.NoError(t, err)

	// A redelivery of finished work must not flip the row back to
	// processing or touch the counters.
	require.NoError(t, pool.ProcessMessage(ctx, msg))

	second, err := rig.store.GetUpload(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.ProcessedLineCount, second.ProcessedLineCount)
	assert.Equal(t, first.RetryCount, second.RetryCount)
	require.NotNil(t, second.ProcessingCompletedAt)
	assert.True(t, first.ProcessingCompletedAt.Equal(*second.ProcessingCompletedAt))

	count, err := rig.store.CountTransactions(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)
}

func TestProcessMessage_MissingPayloadDeadLetters(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	upload, msg := rig.seedUpload(t, "cnab.txt", testFile(lineSeries(t, 3)...))
	rig.blob.remove(msg.StoragePath)
	pool := rig.newPool(fastConfig())

	err := pool.ProcessMessage(ctx, msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, blob.ErrObjectNotFound)

	final, getErr := rig.store.GetUpload(ctx, upload.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.NotEmpty(t, final.ErrorMessage)
	assert.Equal(t, 1, final.RetryCount)

	stats, statsErr := rig.queue.Stats(ctx)
	require.NoError(t, statsErr)
	assert.Equal(t, int64(1), stats.DLQLength)
	assert.Equal(t, "unreadable", dlqReason(t, rig))
}

func TestProcessMessage_RetriesExhaustedDeadLetters(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	upload, msg := rig.seedUpload(t, "cnab.txt", testFile(lineSeries(t, 3)...))
	rig.blob.getErr = errors.New("storage flaking")
	pool := rig.newPool(fastConfig())

	err := pool.ProcessMessage(ctx, msg)
	require.Error(t, err)
	assert.NotErrorIs(t, err, blob.ErrObjectNotFound)

	final, getErr := rig.store.GetUpload(ctx, upload.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "storage flaking")

	// MaxRetries=2 means three attempts in total before giving up.
	assert.Equal(t, 3, final.RetryCount)

	stats, statsErr := rig.queue.Stats(ctx)
	require.NoError(t, statsErr)
	assert.Equal(t, int64(1), stats.DLQLength)
	assert.Equal(t, "retries_exhausted", dlqReason(t, rig))
}

func TestProcessMessage_LockContention(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	upload, msg := rig.seedUpload(t, "cnab.txt", testFile(lineSeries(t, 3)...))

	acquired, err := rig.locker.Acquire(ctx, lock.UploadProcessingKey(upload.ID), "another-worker", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	pool := rig.newPool(fastConfig())
	err = pool.ProcessMessage(ctx, msg)
	assert.ErrorIs(t, err, lock.ErrNotAcquired)

	// The holder's upload was not touched.
	final, err := rig.store.GetUpload(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, final.Status)

	count, err := rig.store.CountTransactions(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestProcessMessage_EmptyPayloadCompletes(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// Intake rejects empty files, so this only happens when a blob is
	// truncated out of band. The worker completes it instead of spinning.
	upload, msg := rig.seedUpload(t, "cnab.txt", nil)
	pool := rig.newPool(fastConfig())

	require.NoError(t, pool.ProcessMessage(ctx, msg))

	final, err := rig.store.GetUpload(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, final.Status)
	assert.Equal(t, int64(0), final.TotalLineCount)
	assert.Equal(t, int64(0), final.ProcessedLineCount)
}

func TestPool_StartProcessesQueuedUploads(t *testing.T) {
	rig := newTestRig(t)
	pool := rig.newPool(fastConfig())

	require.NoError(t, pool.Start(context.Background()))
	defer func() { _ = pool.Stop(5 * time.Second) }()

	upload, _ := rig.seedUpload(t, "cnab.txt", testFile(lineSeries(t, 8)...))

	final := waitForTerminal(t, rig.store, upload.ID, 10*time.Second)
	assert.Equal(t, models.StatusSuccess, final.Status)
	assert.Equal(t, int64(8), final.ProcessedLineCount)

	require.NoError(t, pool.Stop(5*time.Second))
}

func TestPool_StartTwice(t *testing.T) {
	rig := newTestRig(t)
	pool := rig.newPool(fastConfig())

	require.NoError(t, pool.Start(context.Background()))
	assert.Error(t, pool.Start(context.Background()))
	require.NoError(t, pool.Stop(5*time.Second))
}
