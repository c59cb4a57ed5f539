package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cnabflow/cnabflow/pkg/models"
)

func TestProcessLine_CommitsTransaction(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	line := testLine(t, 3, "20190301", 14200, "09620676017", "4753****3153", "153453", "JOSE COSTA", "MERCADO DA AVENIDA")
	upload, _ := rig.seedUpload(t, "cnab.txt", testFile(line))
	proc := NewProcessor(rig.store, nil, fastConfig())

	outcome := proc.Process(ctx, line, 0, upload.ID, upload.FileHash)
	require.Equal(t, OutcomeSuccess, outcome)

	var txn models.Transaction
	require.NoError(t, rig.store.DB().Where("file_upload_id = ?", upload.ID).First(&txn).Error)
	assert.Equal(t, 3, txn.NatureCode)
	assert.Equal(t, int64(14200), txn.AmountCents)
	assert.Equal(t, "09620676017", txn.CPF)
	assert.Equal(t, "4753****3153", txn.Card)
	assert.Equal(t, "JOSE COSTA", txn.StoreOwner)
	assert.Equal(t, "MERCADO DA AVENIDA", txn.StoreName)
	assert.Equal(t, "15:34:53", txn.OccurredTime)
	assert.Equal(t, "2019-03-01", txn.OccurredAt.Format("2006-01-02"))
	assert.Equal(t, models.NewIdempotencyKey(upload.FileHash, 0), txn.IdempotencyKey)

	// The line hash committed in the same unit of work.
	hashes, err := rig.store.CountLineHashes(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hashes)
}

func TestProcessLine_SkipsKnownLine(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	line := testLine(t, 1, "20190301", 10000, "09620676017", "4753****3153", "120000", "JOSE COSTA", "MERCADO DA AVENIDA")
	upload, _ := rig.seedUpload(t, "cnab.txt", testFile(line, line))
	proc := NewProcessor(rig.store, nil, fastConfig())

	require.Equal(t, OutcomeSuccess, proc.Process(ctx, line, 0, upload.ID, upload.FileHash))
	require.Equal(t, OutcomeSkipped, proc.Process(ctx, line, 1, upload.ID, upload.FileHash))

	count, err := rig.store.CountTransactions(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestProcessLine_SkipsLineSeenInAnotherUpload(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	line := testLine(t, 1, "20190301", 10000, "09620676017", "4753****3153", "120000", "JOSE COSTA", "MERCADO DA AVENIDA")
	first, _ := rig.seedUpload(t, "first.txt", testFile(line))
	second, _ := rig.seedUpload(t, "second.txt", testFile(line, testLine(t, 2, "20190302", 5000, "09620676017", "4753****3153", "120000", "JOSE COSTA", "MERCADO DA AVENIDA")))
	proc := NewProcessor(rig.store, nil, fastConfig())

	require.Equal(t, OutcomeSuccess, proc.Process(ctx, line, 0, first.ID, first.FileHash))

	// The dedup index is global, so a line repeated across files commits once.
	require.Equal(t, OutcomeSkipped, proc.Process(ctx, line, 0, second.ID, second.FileHash))

	count, err := rig.store.CountTransactions(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestProcessLine_FailsUnparseableLine(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	line := testLine(t, 1, "20190301", 10000, "09620676017", "4753****3153", "120000", "JOSE COSTA", "MERCADO DA AVENIDA")
	truncated := line[:79]
	upload, _ := rig.seedUpload(t, "cnab.txt", testFile(truncated))
	proc := NewProcessor(rig.store, nil, fastConfig())

	require.Equal(t, OutcomeFailed, proc.Process(ctx, truncated, 0, upload.ID, upload.FileHash))

	count, err := rig.store.CountTransactions(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// Failed lines leave no hash behind, so a corrected re-upload is not
	// mistaken for a duplicate.
	hashes, err := rig.store.CountLineHashes(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), hashes)
}

func TestProcessLine_IdempotencyKeyBackstop(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	line := testLine(t, 1, "20190301", 10000, "09620676017", "4753****3153", "120000", "JOSE COSTA", "MERCADO DA AVENIDA")
	upload, _ := rig.seedUpload(t, "cnab.txt", testFile(line))
	proc := NewProcessor(rig.store, nil, fastConfig())

	// Another worker already inserted this line's transaction but its line
	// hash is not visible yet, so the pre-check cannot catch it. The unique
	// index on the idempotency key must.
	err := rig.store.Unit(ctx, func(tx *gorm.DB) error {
		return rig.store.AddTransactionToUnit(tx, &models.Transaction{
			NatureCode:     1,
			AmountCents:    10000,
			CPF:            "09620676017",
			IdempotencyKey: models.NewIdempotencyKey(upload.FileHash, 0),
			FileUploadID:   upload.ID,
		})
	})
	require.NoError(t, err)

	require.Equal(t, OutcomeSkipped, proc.Process(ctx, line, 0, upload.ID, upload.FileHash))

	count, err := rig.store.CountTransactions(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// The rejected unit rolled back the line hash with it.
	hashes, err := rig.store.CountLineHashes(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), hashes)
}
