// Package apiclient provides a REST API client for the cnabflow CLI.
package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Client is the cnabflow API client.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// uploadClient carries no timeout: multipart bodies stream for longer
	// than any JSON call budget.
	uploadClient *http.Client

	token string
}

// New creates a new API client.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		uploadClient: &http.Client{},
	}
}

// WithToken returns a new client carrying the given bearer token.
//
// The API itself is unauthenticated; the token is forwarded for deployments
// where an authenticating gateway fronts it.
func (c *Client) WithToken(token string) *Client {
	return &Client{
		baseURL:      c.baseURL,
		httpClient:   c.httpClient,
		uploadClient: c.uploadClient,
		token:        token,
	}
}

// SetToken sets the bearer token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// do performs a JSON HTTP request and decodes the response.
func (c *Client) do(method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(c.httpClient, req, result)
}

// doRequest executes a prepared request, maps error statuses to APIError and
// decodes a successful body into result.
func (c *Client) doRequest(hc *http.Client, req *http.Request, result any) error {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// get performs a GET request.
func (c *Client) get(path string, result any) error {
	return c.do(http.MethodGet, path, nil, result)
}

// post performs a POST request.
func (c *Client) post(path string, body, result any) error {
	return c.do(http.MethodPost, path, body, result)
}

// delete performs a DELETE request.
func (c *Client) delete(path string, result any) error {
	return c.do(http.MethodDelete, path, nil, result)
}

// postMultipart streams the named file as the "file" part of a multipart POST.
// The body is piped, not buffered, so large files never sit in memory.
func (c *Client) postMultipart(path, filePath string, result any) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filePath, err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		defer func() { _ = f.Close() }()

		part, err := mw.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		_ = pr.Close()
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.doRequest(c.uploadClient, req, result)
}
