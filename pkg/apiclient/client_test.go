package apiclient

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	client := New("http://localhost:8080")
	assert.NotNil(t, client)
	assert.Equal(t, "http://localhost:8080", client.baseURL)
}

func TestWithToken(t *testing.T) {
	client := New("http://localhost:8080")
	tokenClient := client.WithToken("test-token")

	// Original client should not have token
	assert.Empty(t, client.token)

	// New client should have token
	assert.Equal(t, "test-token", tokenClient.token)
	assert.Equal(t, "http://localhost:8080", tokenClient.baseURL)
}

func TestDoWithSuccess(t *testing.T) {
	type Response struct {
		Message string `json:"message"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(Response{Message: "success"})
	}))
	defer server.Close()

	client := New(server.URL)

	var resp Response
	err := client.get("/test", &resp)
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Message)
}

func TestDoWithAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	err := client.get("/test", nil)
	require.NoError(t, err)
}

func TestDoWithProblemError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"type":"about:blank","title":"Conflict","status":409,"detail":"File already uploaded as abc123","existing_upload_id":"abc123"}`))
	}))
	defer server.Close()

	client := New(server.URL)
	err := client.get("/test", nil)
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "Conflict", apiErr.Title)
	assert.Contains(t, apiErr.Detail, "abc123")
	assert.Equal(t, "abc123", apiErr.ExistingUploadID)
	assert.True(t, apiErr.IsDuplicate())
	assert.False(t, apiErr.IsNotFound())
}

func TestDoWithNonProblemError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	client := New(server.URL)
	err := client.get("/test", nil)
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "Bad Gateway", apiErr.Title)
	assert.Equal(t, "upstream exploded", apiErr.Detail)
}

func TestUploadFile(t *testing.T) {
	content := []byte("3201903010000005000096206760174753****3153153453JOSE COSTA    MERCADO DA AVENIDA\n")

	dir := t.TempDir()
	filePath := filepath.Join(dir, "cnab.txt")
	require.NoError(t, os.WriteFile(filePath, content, 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/transactions/upload", r.URL.Path)

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()

		assert.Equal(t, "cnab.txt", header.Filename)
		got, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, content, got)

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(UploadAccepted{
			UploadID: "u-1",
			FileName: "cnab.txt",
			Status:   "pending",
		})
	}))
	defer server.Close()

	client := New(server.URL)
	accepted, err := client.UploadFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, "u-1", accepted.UploadID)
	assert.Equal(t, "pending", accepted.Status)
	assert.Nil(t, accepted.TransactionCount)
}

func TestListUploads(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transactions/uploads", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("pageSize"))
		assert.Equal(t, "failed", r.URL.Query().Get("status"))

		_ = json.NewEncoder(w).Encode(PagedUploads{
			Items:      []Upload{{ID: "u-1", Status: "failed"}},
			Page:       2,
			PageSize:   50,
			TotalCount: 51,
			TotalPages: 2,
		})
	}))
	defer server.Close()

	client := New(server.URL)
	page, err := client.ListUploads(2, 50, "failed")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "u-1", page.Items[0].ID)
	assert.Equal(t, int64(51), page.TotalCount)
}

func TestGetUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transactions/uploads/u-42", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Upload{ID: "u-42", Status: "success"})
	}))
	defer server.Close()

	client := New(server.URL)
	upload, err := client.GetUpload("u-42")
	require.NoError(t, err)
	assert.Equal(t, "u-42", upload.ID)
	assert.Equal(t, "success", upload.Status)
}

func TestIncompleteUploads(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transactions/uploads/incomplete", r.URL.Path)
		assert.Equal(t, "45", r.URL.Query().Get("timeoutMinutes"))
		_ = json.NewEncoder(w).Encode([]Upload{{ID: "u-1", Status: "processing"}})
	}))
	defer server.Close()

	client := New(server.URL)
	uploads, err := client.IncompleteUploads(45)
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, "u-1", uploads[0].ID)
}

func TestResumeUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/transactions/uploads/u-1/resume", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ResumeResult{UploadID: "u-1", MessageID: "m-9"})
	}))
	defer server.Close()

	client := New(server.URL)
	result, err := client.ResumeUpload("u-1")
	require.NoError(t, err)
	assert.Equal(t, "m-9", result.MessageID)
}

func TestResumeAllUploads(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/transactions/uploads/resume-all", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ResumeAllResult{
			Requeued: 1,
			Results:  []SweepEntry{{UploadID: "u-1", Requeued: true}},
		})
	}))
	defer server.Close()

	client := New(server.URL)
	result, err := client.ResumeAllUploads(0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Requeued)
	require.Len(t, result.Results, 1)
	assert.True(t, result.Results[0].Requeued)
}

func TestClearTransactions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v1/transactions", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ClearResult{Deleted: 7})
	}))
	defer server.Close()

	client := New(server.URL)
	result, err := client.ClearTransactions()
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.Deleted)
}

func TestReadyDecodesUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health/ready", r.URL.Path)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unhealthy","data":{"checks":[{"name":"redis","status":"unhealthy","error":"connection refused"}]}}`))
	}))
	defer server.Close()

	client := New(server.URL)
	status, err := client.Ready()
	require.NoError(t, err)
	assert.False(t, status.Healthy())
	require.Len(t, status.Data.Checks, 1)
	assert.Equal(t, "redis", status.Data.Checks[0].Name)
	assert.Equal(t, "connection refused", status.Data.Checks[0].Error)
}
