package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/cnabflow/cnabflow/pkg/blob"
	"github.com/cnabflow/cnabflow/pkg/cnab"
	"github.com/cnabflow/cnabflow/pkg/hash"
	"github.com/cnabflow/cnabflow/pkg/lock"
	"github.com/cnabflow/cnabflow/pkg/models"
	"github.com/cnabflow/cnabflow/pkg/queue"
	"github.com/cnabflow/cnabflow/pkg/store"
)

// testLine builds one 80-byte record from its fields.
func testLine(t *testing.T, nature int, date string, amountCents int64, cpf, card, clock, owner, storeName string) []byte {
	t.Helper()

	line := fmt.Sprintf("%d%s%010d%-11s%-12s%s%-14s%-18s",
		nature, date, amountCents, cpf, card, clock, owner, storeName)
	require.Len(t, line, cnab.LineLength)
	return []byte(line)
}

// lineSeries builds n distinct valid lines; the amount encodes the index so
// every line hashes differently.
func lineSeries(t *testing.T, n int) [][]byte {
	t.Helper()

	lines := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		lines = append(lines, testLine(t, 1, "20190301", int64(i+1),
			"09620676017", "4753****3153", "153453", "JOSE COSTA", "MERCADO DA AVENIDA"))
	}
	return lines
}

// testFile joins lines into a newline-terminated payload.
func testFile(lines ...[]byte) []byte {
	return append(bytes.Join(lines, []byte("\n")), '\n')
}

// memBlob is an in-memory BlobStore. The error fields, when set before use,
// make Put or Get fail; a Get for a key that was never stored reports
// blob.ErrObjectNotFound like the real gateway.
type memBlob struct {
	mu     sync.RWMutex
	data   map[string][]byte
	putErr error
	getErr error
}

func newMemBlob() *memBlob {
	return &memBlob{data: make(map[string][]byte)}
}

func (b *memBlob) Put(_ context.Context, path string, data []byte) (string, error) {
	if b.putErr != nil {
		return "", b.putErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[path] = append([]byte(nil), data...)
	return path, nil
}

func (b *memBlob) Get(_ context.Context, path string) ([]byte, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.data[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, blob.ErrObjectNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (b *memBlob) remove(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, path)
}

// testRig bundles the pipeline's collaborators: a file-backed SQLite store
// (shared across connections, unlike :memory:), a miniredis-backed queue and
// locker, and an in-memory blob store.
type testRig struct {
	store  *store.Store
	blob   *memBlob
	queue  *queue.Queue
	locker *lock.Locker
	client *redis.Client
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	st, err := store.New(&store.Config{
		Type: store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{
			Path: filepath.Join(t.TempDir(), "pipeline.db"),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := queue.NewWithClient(client, queue.Config{
		Addr:         mr.Addr(),
		Stream:       "test:uploads",
		Group:        "test-workers",
		BlockTimeout: -1,
	})
	require.NoError(t, q.InitConsumerGroup(context.Background()))

	return &testRig{
		store:  st,
		blob:   newMemBlob(),
		queue:  q,
		locker: lock.NewWithClient(client),
		client: client,
	}
}

// fastConfig keeps retry sleeps out of test wall time.
func fastConfig() Config {
	return Config{
		Workers:            1,
		ParallelWorkers:    4,
		CheckpointInterval: 100,
		MaxRetryPerLine:    2,
		RetryDelay:         time.Millisecond,
		MaxRetries:         2,
		BaseRetryDelay:     time.Millisecond,
		ProcessingTimeout:  time.Minute,
	}
}

func (r *testRig) newPool(cfg Config) *Pool {
	return NewPool(r.store, r.blob, r.queue, r.locker, nil, cfg)
}

// seedUpload stores the payload, records a pending row and enqueues it,
// mirroring what intake does. The returned message matches the published one
// so tests can drive ProcessMessage directly.
func (r *testRig) seedUpload(t *testing.T, name string, payload []byte) (*models.FileUpload, *queue.Message) {
	t.Helper()
	ctx := context.Background()

	storagePath := "uploads/" + name
	_, err := r.blob.Put(ctx, storagePath, payload)
	require.NoError(t, err)

	upload, err := r.store.RecordPending(ctx, name, hash.FileHash(payload), int64(len(payload)), storagePath)
	require.NoError(t, err)

	msgID, err := r.queue.Enqueue(ctx, upload.ID, storagePath)
	require.NoError(t, err)

	return upload, &queue.Message{
		ID:          msgID,
		UploadID:    upload.ID,
		StoragePath: storagePath,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// backdate rewrites an upload's activity timestamps so it looks abandoned.
// Zero times are left untouched.
func (r *testRig) backdate(t *testing.T, uploadID string, started, checkpointed time.Time) {
	t.Helper()

	updates := map[string]any{}
	if !started.IsZero() {
		updates["processing_started_at"] = started
	}
	if !checkpointed.IsZero() {
		updates["last_checkpoint_at"] = checkpointed
	}
	err := r.store.DB().Model(&models.FileUpload{}).
		Where("id = ?", uploadID).
		Updates(updates).Error
	require.NoError(t, err)
}

// waitForTerminal polls until the upload reaches a terminal status with all
// known lines accounted for.
func waitForTerminal(t *testing.T, st *store.Store, uploadID string, timeout time.Duration) *models.FileUpload {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		upload, err := st.GetUpload(context.Background(), uploadID)
		require.NoError(t, err)
		if upload.Status.Terminal() && !upload.Incomplete() {
			return upload
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("upload %s did not reach a terminal status within %s", uploadID, timeout)
	return nil
}
