package apiclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// DependencyCheck is the readiness report for one backing service.
type DependencyCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthStatus is the decoded health envelope.
type HealthStatus struct {
	Status string `json:"status"`
	Data   struct {
		Service   string            `json:"service,omitempty"`
		StartedAt string            `json:"started_at,omitempty"`
		Uptime    string            `json:"uptime,omitempty"`
		Checks    []DependencyCheck `json:"checks,omitempty"`
	} `json:"data"`
}

// Healthy reports whether the server called itself healthy.
func (h *HealthStatus) Healthy() bool {
	return h.Status == "healthy"
}

// Health returns the liveness report.
func (c *Client) Health() (*HealthStatus, error) {
	return c.healthEndpoint("/health")
}

// Ready returns the readiness report with per-dependency checks. A 503 is not
// an error here: the decoded envelope says which dependency is down.
func (c *Client) Ready() (*HealthStatus, error) {
	return c.healthEndpoint("/health/ready")
}

func (c *Client) healthEndpoint(path string) (*HealthStatus, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	// Both 200 and 503 carry the health envelope.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, decodeAPIError(resp.StatusCode, body)
	}

	var status HealthStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &status, nil
}
