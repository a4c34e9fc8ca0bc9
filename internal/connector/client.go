// Package connector talks to the local Zotero connector endpoint, the HTTP
// surface the desktop application exposes for browser-extension snapshot
// submission. It accepts URLs, never files, and its responses do not carry
// the created item's key.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Defaults match the desktop application's fixed connector address.
const (
	DefaultHost = "http://127.0.0.1"
	DefaultPort = 23119
)

// SnapshotRequest is the body for POST /connector/saveSnapshot. Title is
// optional; when absent the application auto-detects it. ItemType
// "attachment" plus Filename/ContentType makes the application fetch the
// URL as a file instead of snapshotting a page.
type SnapshotRequest struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	ItemType    string `json:"itemType,omitempty"`
}

// Client communicates with a running Zotero instance's connector API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the connector at host:port. Zero values fall
// back to the defaults; a host without a scheme is assumed plain http.
func New(host string, port int) *Client {
	if host == "" {
		host = DefaultHost
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	if port == 0 {
		port = DefaultPort
	}
	return &Client{
		baseURL: fmt.Sprintf("%s:%d", host, port),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Ping reports whether the connector answers POST /connector/ping with 200.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/connector/ping", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// EnsureRunning fails with an instruction-bearing error when the desktop
// application is not reachable. Connectivity failure is fatal for a whole
// ingestion and is not retried here.
func (c *Client) EnsureRunning(ctx context.Context) error {
	if !c.Ping(ctx) {
		return fmt.Errorf("Zotero is not running. Please start Zotero manually before continuing")
	}
	return nil
}

// SaveSnapshot asks the application to save a snapshot of the given URL.
// Any 2xx status is success. The response body is intentionally ignored:
// it never contains the created item's key, which is why callers resolve
// the key afterwards by polling the REST store.
func (c *Client) SaveSnapshot(ctx context.Context, snap SnapshotRequest) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshalling snapshot request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/connector/saveSnapshot", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating snapshot request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("saving snapshot of %s: %w", snap.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("save snapshot of %s: unexpected status %d", snap.URL, resp.StatusCode)
	}
	return nil
}
