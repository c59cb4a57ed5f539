package handlers

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/cnabflow/cnabflow/pkg/blob"
	"github.com/cnabflow/cnabflow/pkg/cnab"
	"github.com/cnabflow/cnabflow/pkg/lock"
	"github.com/cnabflow/cnabflow/pkg/models"
	"github.com/cnabflow/cnabflow/pkg/pipeline"
	"github.com/cnabflow/cnabflow/pkg/queue"
	"github.com/cnabflow/cnabflow/pkg/store"
)

// memBlob is an in-memory pipeline.BlobStore for handler tests.
type memBlob struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newMemBlob() *memBlob {
	return &memBlob{data: make(map[string][]byte)}
}

func (b *memBlob) Put(_ context.Context, path string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[path] = append([]byte(nil), data...)
	return path, nil
}

func (b *memBlob) Get(_ context.Context, path string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.data[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, blob.ErrObjectNotFound)
	}
	return append([]byte(nil), data...), nil
}

// handlerRig bundles the real collaborators the handlers talk to: a
// file-backed SQLite store, a miniredis-backed queue and locker, and an
// in-memory blob store.
type handlerRig struct {
	store  *store.Store
	queue  *queue.Queue
	locker *lock.Locker
	blob   *memBlob
	client *redis.Client
}

func newHandlerRig(t *testing.T) *handlerRig {
	t.Helper()

	st, err := store.New(&store.Config{
		Type: store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{
			Path: filepath.Join(t.TempDir(), "handlers.db"),
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

	return &handlerRig{
		store:  st,
		queue:  q,
		locker: lock.NewWithClient(client),
		blob:   newMemBlob(),
		client: client,
	}
}

// uploadHandler wires an UploadHandler against the rig. Sync intake mode
// needs a pool for inline processing; async tests pass nil.
func (r *handlerRig) uploadHandler(intakeCfg pipeline.IntakeConfig, withPool bool) *UploadHandler {
	var pool *pipeline.Pool
	if withPool {
		pool = pipeline.NewPool(r.store, r.blob, r.queue, r.locker, nil, pipeline.Config{
			Workers:         1,
			ParallelWorkers: 4,
			RetryDelay:      time.Millisecond,
			BaseRetryDelay:  time.Millisecond,
		})
	}
	intake := pipeline.NewIntake(r.store, r.blob, r.queue, pool, nil, intakeCfg)
	sweeper := pipeline.NewSweeper(r.store, r.queue, r.locker, nil, pipeline.SweeperConfig{})
	return NewUploadHandler(r.store, r.queue, intake, sweeper, 30*time.Minute)
}

// cnabLine renders one parseable 80-byte record.
func cnabLine(t *testing.T, nature int, amountCents int64) []byte {
	t.Helper()
	line := fmt.Sprintf("%d%s%010d%-11s%-12s%s%-14s%-18s",
		nature, "20190301", amountCents,
		"09620676017", "4753****3153", "153453",
		"JOSE COSTA", "MERCADO DA AVENIDA")
	require.Len(t, line, cnab.LineLength)
	return []byte(line)
}

// cnabFile joins records into an upload payload.
func cnabFile(lines ...[]byte) []byte {
	return append(bytes.Join(lines, []byte("\n")), '\n')
}

// uploadRequest builds a multipart POST for the intake route.
func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

// seedUpload records a pending upload with a stored blob, bypassing HTTP.
func (r *handlerRig) seedUpload(t *testing.T, name string, payload []byte) *models.FileUpload {
	t.Helper()
	ctx := context.Background()

	storagePath := "uploads/" + name
	_, err := r.blob.Put(ctx, storagePath, payload)
	require.NoError(t, err)

	upload, err := r.store.RecordPending(ctx, name, "hash-"+name, int64(len(payload)), storagePath)
	require.NoError(t, err)
	return upload
}

// withURLParam injects a chi route parameter for direct handler calls.
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// markStuck flips an upload to processing and backdates its timestamps past
// any staleness window the tests use.
func (r *handlerRig) markStuck(t *testing.T, uploadID string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, r.store.UpdateProcessingStatus(ctx, uploadID, models.StatusProcessing, 0))
	started := time.Now().Add(-2 * time.Hour)
	err := r.store.DB().WithContext(ctx).
		Model(&models.FileUpload{}).
		Where("id = ?", uploadID).
		Update("processing_started_at", started).Error
	require.NoError(t, err)
}
