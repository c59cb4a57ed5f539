package logger

// Standard field keys for structured logging. Use these keys consistently so
// log aggregation can query across the intake, worker and recovery paths.
const (
	// Correlation
	KeyRequestID = "request_id" // HTTP request ID
	KeyTraceID   = "trace_id"   // OpenTelemetry trace ID
	KeySpanID    = "span_id"    // OpenTelemetry span ID

	// Pipeline
	KeyUploadID    = "upload_id"    // FileUpload identifier
	KeyFileHash    = "file_hash"    // Base64 file fingerprint
	KeyFileName    = "file_name"    // Client-provided file name
	KeyStoragePath = "storage_path" // Object store key
	KeyLineIndex   = "line_index"   // 0-based line index
	KeyLineCount   = "line_count"   // Total lines in a file
	KeyMessageID   = "message_id"   // Queue message identifier
	KeyConsumer    = "consumer"     // Queue consumer name
	KeyAttempt     = "attempt"      // Retry attempt number
	KeyStatus      = "status"       // Upload status

	// Counters
	KeyProcessed = "processed"
	KeyFailed    = "failed"
	KeySkipped   = "skipped"

	// Client / transport
	KeyClientIP = "client_ip"
	KeyMethod   = "method"
	KeyPath     = "path"

	// Generic
	KeyError      = "error"
	KeyDurationMs = "duration_ms"
)
