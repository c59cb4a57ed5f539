package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for pipeline operations.
// These follow OpenTelemetry semantic conventions where applicable.
// Pipeline-specific keys use "upload." and "line." prefixes.
const (
	// ========================================================================
	// Upload attributes
	// ========================================================================
	AttrUploadID       = "upload.id"
	AttrUploadFileName = "upload.file_name"
	AttrUploadFileHash = "upload.file_hash"
	AttrUploadSize     = "upload.size"
	AttrUploadStatus   = "upload.status"
	AttrRetryCount     = "upload.retry_count"

	// ========================================================================
	// Line attributes
	// ========================================================================
	AttrLineIndex   = "line.index"
	AttrLineOutcome = "line.outcome"
	AttrLineCount   = "line.count"

	// ========================================================================
	// Queue attributes
	// ========================================================================
	AttrQueueStream    = "queue.stream"
	AttrQueueMessageID = "queue.message_id"
	AttrQueueConsumer  = "queue.consumer"

	// ========================================================================
	// Storage backend attributes
	// ========================================================================
	AttrBucket = "storage.bucket"
	AttrKey    = "storage.key"
	AttrRegion = "storage.region"

	// ========================================================================
	// Lock attributes
	// ========================================================================
	AttrLockKey   = "lock.key"
	AttrLockOwner = "lock.owner"

	// ========================================================================
	// HTTP client attributes
	// ========================================================================
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"
)

// Span names for operations.
// Format: <component>.<operation>
const (
	// Intake
	SpanIntakeUpload = "intake.upload"

	// Processing
	SpanProcessUpload   = "pipeline.process_upload"
	SpanProcessLine     = "pipeline.process_line"
	SpanWriteCheckpoint = "pipeline.write_checkpoint"

	// Queue
	SpanQueueEnqueue = "queue.enqueue"
	SpanQueueDequeue = "queue.dequeue"
	SpanQueueDLQ     = "queue.dead_letter"

	// Blob storage
	SpanBlobPut = "blob.put"
	SpanBlobGet = "blob.get"

	// Recovery
	SpanRecoverySweep = "recovery.sweep"
)

// UploadID returns an attribute for the upload identifier
func UploadID(id string) attribute.KeyValue {
	return attribute.String(AttrUploadID, id)
}

// UploadFileName returns an attribute for the original file name
func UploadFileName(name string) attribute.KeyValue {
	return attribute.String(AttrUploadFileName, name)
}

// UploadFileHash returns an attribute for the file fingerprint
func UploadFileHash(hash string) attribute.KeyValue {
	return attribute.String(AttrUploadFileHash, hash)
}

// UploadSize returns an attribute for the upload size in bytes
func UploadSize(size int64) attribute.KeyValue {
	return attribute.Int64(AttrUploadSize, size)
}

// UploadStatus returns an attribute for the upload lifecycle status
func UploadStatus(status string) attribute.KeyValue {
	return attribute.String(AttrUploadStatus, status)
}

// RetryCount returns an attribute for the processing attempt number
func RetryCount(count int) attribute.KeyValue {
	return attribute.Int(AttrRetryCount, count)
}

// LineIndex returns an attribute for a 0-based line index
func LineIndex(index int64) attribute.KeyValue {
	return attribute.Int64(AttrLineIndex, index)
}

// LineOutcome returns an attribute for a line outcome (processed, failed, skipped)
func LineOutcome(outcome string) attribute.KeyValue {
	return attribute.String(AttrLineOutcome, outcome)
}

// LineCount returns an attribute for a number of lines
func LineCount(count int64) attribute.KeyValue {
	return attribute.Int64(AttrLineCount, count)
}

// QueueStream returns an attribute for the stream name
func QueueStream(stream string) attribute.KeyValue {
	return attribute.String(AttrQueueStream, stream)
}

// QueueMessageID returns an attribute for the broker message ID
func QueueMessageID(id string) attribute.KeyValue {
	return attribute.String(AttrQueueMessageID, id)
}

// QueueConsumer returns an attribute for the consumer name
func QueueConsumer(consumer string) attribute.KeyValue {
	return attribute.String(AttrQueueConsumer, consumer)
}

// Bucket returns an attribute for the object store bucket
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for the object key
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns an attribute for the cloud region
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// LockKey returns an attribute for a distributed lock key
func LockKey(key string) attribute.KeyValue {
	return attribute.String(AttrLockKey, key)
}

// ClientIP returns an attribute for the client IP address
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientAddr returns an attribute for the full client address
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// StartUploadSpan starts a span for work on a single upload.
// This is a convenience function that sets common attributes.
func StartUploadSpan(ctx context.Context, name, uploadID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		UploadID(uploadID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartBlobSpan starts a span for an object store operation.
func StartBlobSpan(ctx context.Context, name, key string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		StorageKey(key),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartQueueSpan starts a span for a queue operation.
func StartQueueSpan(ctx context.Context, name, stream string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		QueueStream(stream),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}
