package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldSave(t *testing.T) {
	c := &Checkpointer{}

	cases := []struct {
		name     string
		before   int64
		after    int64
		interval int64
		want     bool
	}{
		{"reaches first boundary", 0, 100, 100, true},
		{"before first boundary", 0, 99, 100, false},
		{"crosses boundary mid batch", 396, 400, 100, true},
		{"crosses boundary inside batch", 150, 250, 100, true},
		{"between boundaries", 100, 150, 100, false},
		{"batch not aligned to interval", 300, 304, 100, false},
		{"no progress", 100, 100, 100, false},
		{"disabled interval", 0, 500, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.ShouldSave(tc.before, tc.after, tc.interval))
		})
	}
}

func TestCheckpointSave(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	upload, _ := rig.seedUpload(t, "cnab.txt", testFile(lineSeries(t, 4)...))
	ckpt := NewCheckpointer(rig.store, nil)

	ckpt.Save(ctx, upload.ID, 100, 90, 4, 6)

	saved, err := rig.store.GetUpload(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), saved.LastCheckpointLine)
	assert.Equal(t, int64(90), saved.ProcessedLineCount)
	assert.Equal(t, int64(4), saved.FailedLineCount)
	assert.Equal(t, int64(6), saved.SkippedLineCount)
	require.NotNil(t, saved.LastCheckpointAt)
}

func TestCheckpointSaveNeverRegresses(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	upload, _ := rig.seedUpload(t, "cnab.txt", testFile(lineSeries(t, 4)...))
	ckpt := NewCheckpointer(rig.store, nil)

	ckpt.Save(ctx, upload.ID, 200, 200, 0, 0)

	// A stale write is rejected by the store; Save logs and moves on.
	ckpt.Save(ctx, upload.ID, 100, 100, 0, 0)

	saved, err := rig.store.GetUpload(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), saved.LastCheckpointLine)
	assert.Equal(t, int64(200), saved.ProcessedLineCount)
}
