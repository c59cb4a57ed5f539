package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadStatus(t *testing.T) {
	t.Parallel()

	for _, s := range []UploadStatus{StatusPending, StatusProcessing, StatusSuccess, StatusFailed, StatusDuplicate, StatusPartiallyCompleted} {
		assert.True(t, s.Valid(), "status %s", s)
	}
	assert.False(t, UploadStatus("finished").Valid())

	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusDuplicate.Terminal())
	assert.True(t, StatusPartiallyCompleted.Terminal())

	parsed, err := ParseUploadStatus("processing")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, parsed)

	_, err = ParseUploadStatus("bogus")
	assert.ErrorIs(t, err, ErrInvalidUploadStatus)
}

func TestFileUploadIncomplete(t *testing.T) {
	t.Parallel()

	now := time.Now()

	tests := []struct {
		name   string
		upload FileUpload
		want   bool
	}{
		{
			name:   "pending is incomplete",
			upload: FileUpload{Status: StatusPending},
			want:   true,
		},
		{
			name:   "processing is incomplete",
			upload: FileUpload{Status: StatusProcessing, ProcessingStartedAt: &now},
			want:   true,
		},
		{
			name: "success with full accounting is complete",
			upload: FileUpload{
				Status:             StatusSuccess,
				TotalLineCount:     10,
				ProcessedLineCount: 10,
			},
			want: false,
		},
		{
			name: "terminal status with missing lines is still incomplete",
			upload: FileUpload{
				Status:             StatusPartiallyCompleted,
				TotalLineCount:     10,
				ProcessedLineCount: 4,
				FailedLineCount:    1,
				SkippedLineCount:   2,
			},
			want: true,
		},
		{
			name:   "failed with no known line count is complete",
			upload: FileUpload{Status: StatusFailed},
			want:   false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.upload.Incomplete())
		})
	}
}

func TestNewIdempotencyKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc=:0", NewIdempotencyKey("abc=", 0))
	assert.Equal(t, "abc=:1234", NewIdempotencyKey("abc=", 1234))
}
