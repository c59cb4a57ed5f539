package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cnabflow/cnabflow/internal/logger"
	"github.com/cnabflow/cnabflow/internal/telemetry"
	"github.com/cnabflow/cnabflow/pkg/hash"
	"github.com/cnabflow/cnabflow/pkg/metrics"
	"github.com/cnabflow/cnabflow/pkg/models"
	"github.com/cnabflow/cnabflow/pkg/queue"
	"github.com/cnabflow/cnabflow/pkg/store"
)

// Intake errors, mapped onto HTTP statuses by the API layer.
var (
	// ErrInvalidMultipart means the request is not multipart/form-data with
	// a part named "file".
	ErrInvalidMultipart = errors.New("multipart form with a \"file\" part is required")

	// ErrEmptyFile means the uploaded part had no content.
	ErrEmptyFile = errors.New("uploaded file is empty")

	// ErrPayloadTooLarge means the upload exceeded the size limit.
	ErrPayloadTooLarge = errors.New("uploaded file exceeds the size limit")

	// ErrUnsupportedFileType means the file extension is not allowed.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrStorageUnavailable means the object store rejected the file after
	// retries.
	ErrStorageUnavailable = errors.New("object storage unavailable")

	// ErrQueueUnavailable means the work queue rejected the message. The
	// pending row is rolled back so no upload is left without a message.
	ErrQueueUnavailable = errors.New("work queue unavailable")

	// ErrUnprocessableContent means the file was stored but at least one
	// line failed to parse during synchronous processing.
	ErrUnprocessableContent = errors.New("file contains unparseable lines")
)

// DuplicateFileError reports that a file with identical content was already
// uploaded. Duplicates are a client-visible outcome, not a server error.
type DuplicateFileError struct {
	ExistingID string
	FileName   string
}

func (e *DuplicateFileError) Error() string {
	return fmt.Sprintf("file already uploaded as %s", e.ExistingID)
}

// IntakeConfig limits what Handle accepts.
type IntakeConfig struct {
	// MaxFileSize is the upload size cap in bytes.
	MaxFileSize int64

	// AllowedExtension is the required extension, with leading dot.
	AllowedExtension string

	// SyncMode drives the worker's per-message path inline and reports the
	// transaction count on the intake response. Meant for test environments.
	SyncMode bool
}

// ApplyDefaults fills in missing configuration with default values.
func (c *IntakeConfig) ApplyDefaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 1 << 30 // 1 GiB
	}
	if c.AllowedExtension == "" {
		c.AllowedExtension = ".txt"
	}
}

// IntakeResult is the successful outcome of an upload.
type IntakeResult struct {
	UploadID string
	FileName string
	Status   models.UploadStatus

	// Sync processing only.
	Sync             bool
	TransactionCount int64
}

// Intake accepts a file upload: it fingerprints the content, rejects
// duplicates, stores the blob, records the tracking row and publishes the
// processing message. All steps short-circuit on the first failure.
type Intake struct {
	store   *store.Store
	blob    BlobStore
	queue   *queue.Queue
	pool    *Pool
	metrics *metrics.Metrics
	cfg     IntakeConfig
}

// NewIntake wires the intake against its collaborators. pool is only used in
// sync mode and may be nil otherwise.
func NewIntake(st *store.Store, bl BlobStore, q *queue.Queue, pool *Pool, m *metrics.Metrics, cfg IntakeConfig) *Intake {
	cfg.ApplyDefaults()
	return &Intake{
		store:   st,
		blob:    bl,
		queue:   q,
		pool:    pool,
		metrics: m,
		cfg:     cfg,
	}
}

// Handle runs the intake for one HTTP upload request.
func (in *Intake) Handle(ctx context.Context, r *http.Request) (*IntakeResult, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanIntakeUpload)
	defer span.End()

	result, err := in.handle(ctx, r)
	if err != nil {
		telemetry.RecordError(ctx, err)

		var dup *DuplicateFileError
		if errors.As(err, &dup) {
			in.metrics.ObserveUpload(metrics.StatusDuplicate, 0)
		} else {
			in.metrics.ObserveUpload(metrics.StatusRejected, 0)
		}
		return nil, err
	}

	telemetry.SetAttributes(ctx,
		telemetry.UploadID(result.UploadID),
		telemetry.UploadStatus(string(result.Status)))
	return result, nil
}

func (in *Intake) handle(ctx context.Context, r *http.Request) (*IntakeResult, error) {
	name, data, err := in.readFilePart(r)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if ext := strings.ToLower(filepath.Ext(name)); ext != in.cfg.AllowedExtension {
		return nil, fmt.Errorf("%w: %q (only %s accepted)", ErrUnsupportedFileType, ext, in.cfg.AllowedExtension)
	}

	fileHash := hash.FileHash(data)
	telemetry.SetAttributes(ctx,
		telemetry.UploadFileName(name),
		telemetry.UploadFileHash(fileHash),
		telemetry.UploadSize(int64(len(data))))

	unique, existing, err := in.store.IsFileUnique(ctx, fileHash)
	if err != nil {
		return nil, fmt.Errorf("failed to check file uniqueness: %w", err)
	}
	if !unique {
		return nil, &DuplicateFileError{ExistingID: existing.ID, FileName: name}
	}

	storagePath := newStoragePath(time.Now().UTC())
	if err := in.putBlob(ctx, storagePath, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	upload, err := in.store.RecordPending(ctx, name, fileHash, int64(len(data)), storagePath)
	if err != nil {
		if errors.Is(err, models.ErrDuplicateFileHash) {
			// Lost a race with a concurrent identical upload.
			if _, racedWinner, lookupErr := in.store.IsFileUnique(ctx, fileHash); lookupErr == nil && racedWinner != nil {
				return nil, &DuplicateFileError{ExistingID: racedWinner.ID, FileName: name}
			}
			return nil, &DuplicateFileError{FileName: name}
		}
		return nil, fmt.Errorf("failed to record upload: %w", err)
	}

	msgID, err := in.enqueue(ctx, upload.ID, storagePath)
	if err != nil {
		// A row without a message would strand, so roll the row back.
		if delErr := in.store.DeleteUpload(context.WithoutCancel(ctx), upload.ID); delErr != nil {
			logger.ErrorCtx(ctx, "Failed to roll back upload after enqueue failure",
				"upload_id", upload.ID, "error", delErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	in.metrics.ObserveUpload(metrics.StatusAccepted, int64(len(data)))
	logger.InfoCtx(ctx, "Upload accepted",
		"upload_id", upload.ID, "file", name, "size", len(data), "storage_path", storagePath)

	if in.cfg.SyncMode && in.pool != nil {
		return in.processInline(ctx, upload, name, msgID, storagePath)
	}

	return &IntakeResult{
		UploadID: upload.ID,
		FileName: name,
		Status:   models.StatusPending,
	}, nil
}

// readFilePart streams the "file" part into memory, enforcing the size cap
// while reading so an oversized body is rejected without buffering it all.
func (in *Intake) readFilePart(r *http.Request) (string, []byte, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidMultipart, err)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrInvalidMultipart, err)
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}

		data, err := io.ReadAll(io.LimitReader(part, in.cfg.MaxFileSize+1))
		_ = part.Close()
		if err != nil {
			return "", nil, fmt.Errorf("failed to read upload: %w", err)
		}
		if int64(len(data)) > in.cfg.MaxFileSize {
			return "", nil, fmt.Errorf("%w: limit is %d bytes", ErrPayloadTooLarge, in.cfg.MaxFileSize)
		}
		return part.FileName(), data, nil
	}

	return "", nil, ErrInvalidMultipart
}

func (in *Intake) putBlob(ctx context.Context, storagePath string, data []byte) error {
	ctx, span := telemetry.StartBlobSpan(ctx, telemetry.SpanBlobPut, storagePath,
		telemetry.UploadSize(int64(len(data))))
	defer span.End()

	if _, err := in.blob.Put(ctx, storagePath, data); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	return nil
}

func (in *Intake) enqueue(ctx context.Context, uploadID, storagePath string) (string, error) {
	ctx, span := telemetry.StartQueueSpan(ctx, telemetry.SpanQueueEnqueue, in.queue.Stream(),
		telemetry.UploadID(uploadID))
	defer span.End()

	msgID, err := in.queue.Enqueue(ctx, uploadID, storagePath)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return "", err
	}
	span.SetAttributes(telemetry.QueueMessageID(msgID))
	return msgID, nil
}

// processInline drives the worker's per-message path synchronously and
// reports the transaction count, so test environments observe the full
// outcome on the upload response.
func (in *Intake) processInline(ctx context.Context, upload *models.FileUpload, name, msgID, storagePath string) (*IntakeResult, error) {
	msg := &queue.Message{
		ID:          msgID,
		UploadID:    upload.ID,
		StoragePath: storagePath,
		EnqueuedAt:  time.Now().UTC(),
	}
	if err := in.pool.ProcessMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("synchronous processing failed: %w", err)
	}

	final, err := in.store.GetUpload(ctx, upload.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load processed upload: %w", err)
	}
	if final.FailedLineCount > 0 {
		return nil, fmt.Errorf("%w: %d of %d lines failed",
			ErrUnprocessableContent, final.FailedLineCount, final.TotalLineCount)
	}

	count, err := in.store.CountTransactions(ctx, upload.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	return &IntakeResult{
		UploadID:         upload.ID,
		FileName:         name,
		Status:           final.Status,
		Sync:             true,
		TransactionCount: count,
	}, nil
}

// newStoragePath builds the object key for an upload. The timestamp keeps
// keys sortable; the random suffix keeps concurrent uploads distinct.
func newStoragePath(now time.Time) string {
	return fmt.Sprintf("cnab-%s-%s.txt",
		now.Format("20060102-150405"), uuid.New().String()[:8])
}
