// Package hash computes the content fingerprints used across the ingestion
// pipeline: file-level fingerprints for duplicate detection and line-level
// fingerprints for exactly-once processing.
package hash

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// FileHash returns the base64-encoded SHA-256 digest of data.
//
// File hashes identify whole uploads (unique index on the upload table) and
// prefix per-line idempotency keys, so the encoding must stay stable.
func FileHash(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// LineHash returns the lowercase hex SHA-256 digest of data.
// Line hashes back the global line-level dedup index.
func LineHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// StreamHash returns the lowercase hex SHA-256 digest of everything read from
// r. If r is seekable it is rewound to the start before returning, so callers
// can hash first and consume the content afterwards.
func StreamHash(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash stream: %w", err)
	}

	if seeker, ok := r.(io.Seeker); ok {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return "", fmt.Errorf("failed to rewind stream after hashing: %w", err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
