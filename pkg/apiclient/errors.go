package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// APIError represents an RFC 7807 problem response from the API.
type APIError struct {
	StatusCode int    `json:"status"`
	Title      string `json:"title"`
	Detail     string `json:"detail,omitempty"`

	// ExistingUploadID is set on duplicate-upload conflicts and names the
	// upload that already holds this file's content.
	ExistingUploadID string `json:"existing_upload_id,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Title, e.Detail)
	}
	if e.Title != "" {
		return e.Title
	}
	return fmt.Sprintf("API error (status %d)", e.StatusCode)
}

// IsNotFound returns true if the server did not know the resource.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsDuplicate returns true if the upload was rejected as already ingested.
func (e *APIError) IsDuplicate() bool {
	return e.StatusCode == http.StatusConflict
}

// IsUnavailable returns true if a backing service was down.
func (e *APIError) IsUnavailable() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

// decodeAPIError builds an APIError from an error response body. Bodies that
// are not problem+json fall back to the raw text.
func decodeAPIError(status int, body []byte) *APIError {
	var apiErr APIError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Title != "" {
		apiErr.StatusCode = status
		return &apiErr
	}
	return &APIError{
		StatusCode: status,
		Title:      http.StatusText(status),
		Detail:     strings.TrimSpace(string(body)),
	}
}
