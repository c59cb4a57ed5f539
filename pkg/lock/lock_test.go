package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewWithClient(client), mr
}

func TestAcquireRelease(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()
	key := UploadProcessingKey("upload-1")

	acquired, err := l.Acquire(ctx, key, "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	// Second acquisition by anyone fails while held.
	acquired, err = l.Acquire(ctx, key, "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	exists, err := l.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	released, err := l.Release(ctx, key, "owner-a")
	require.NoError(t, err)
	assert.True(t, released)

	exists, err = l.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReleaseWrongOwner(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()
	key := UploadProcessingKey("upload-2")

	acquired, err := l.Acquire(ctx, key, "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// A stale holder must not free a lock it no longer owns.
	released, err := l.Release(ctx, key, "owner-b")
	require.NoError(t, err)
	assert.False(t, released)

	exists, err := l.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLockExpires(t *testing.T) {
	l, mr := newTestLocker(t)
	ctx := context.Background()
	key := UploadProcessingKey("upload-3")

	acquired, err := l.Acquire(ctx, key, "owner-a", 30*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	mr.FastForward(31 * time.Second)

	// Expired: someone else can take it, and the old owner's release is a no-op.
	acquired, err = l.Acquire(ctx, key, "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	released, err := l.Release(ctx, key, "owner-a")
	require.NoError(t, err)
	assert.False(t, released)

	exists, err := l.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists, "owner-b's lock must survive owner-a's release attempt")
}

func TestWithLock(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()
	key := UploadProcessingKey("upload-4")

	var ran bool
	err := l.WithLock(ctx, key, time.Minute, func(ctx context.Context) error {
		ran = true

		// Held for the duration of fn.
		exists, err := l.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists)

		// Nested acquisition sees the lock as taken.
		return l.WithLock(ctx, key, time.Minute, func(context.Context) error {
			t.Fatal("nested WithLock must not run")
			return nil
		})
	})
	require.True(t, ran)
	assert.ErrorIs(t, err, ErrNotAcquired)

	// Released after fn returned, error or not.
	exists, err := l.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWithLockPropagatesError(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()
	key := UploadProcessingKey("upload-5")

	wantErr := errors.New("processing blew up")
	err := l.WithLock(ctx, key, time.Minute, func(context.Context) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	exists, err := l.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists, "lock must be released after fn fails")
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()
	key := UploadProcessingKey("upload-6")

	func() {
		defer func() {
			require.NotNil(t, recover(), "expected panic to propagate")
		}()
		_ = l.WithLock(ctx, key, time.Minute, func(context.Context) error {
			panic("worker died")
		})
	}()

	exists, err := l.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists, "lock must be released when fn panics")
}
