// Package client is a thin typed HTTP client for the hush API, used by
// CLI commands that talk to a running server.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/lazypower/hush/internal/engine"
)

const (
	defaultServerURL = "http://127.0.0.1:37788"
	httpTimeout      = 35 * time.Second // check calls may wait on the classifier
)

// Client talks to the hush server.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates an API client. Respects the HUSH_URL env var, falls back to
// http://127.0.0.1:37788.
func New() *Client {
	url := os.Getenv("HUSH_URL")
	if url == "" {
		url = defaultServerURL
	}
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: url,
	}
}

// Check asks the server whether a notification may be delivered.
func (c *Client) Check(userID, title, message, sourceType string) (*engine.Decision, error) {
	body, err := json.Marshal(map[string]string{
		"user_id":     userID,
		"title":       title,
		"message":     message,
		"source_type": sourceType,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal check request: %w", err)
	}

	data, err := c.post("/api/notifications/check", body)
	if err != nil {
		return nil, err
	}

	var decision engine.Decision
	if err := json.Unmarshal(data, &decision); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}
	return &decision, nil
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy() bool {
	resp, err := c.http.Get(c.serverURL + "/api/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) post(path string, body []byte) ([]byte, error) {
	resp, err := c.http.Post(c.serverURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return data, fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, data)
	}
	return data, nil
}
