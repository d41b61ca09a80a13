// Package ntfy publishes plain-text push notifications to an ntfy topic.
// Delivery is fire-and-forget: no retries, no acknowledgment beyond the
// HTTP response, and failures never block or roll back the caller.
package ntfy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the public ntfy instance.
const DefaultBaseURL = "https://ntfy.sh"

// Client publishes to an ntfy server.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	base       string
}

// New creates a publisher for the given base URL. An empty base falls
// back to the public instance.
func New(base string, httpClient *http.Client, logger *slog.Logger) *Client {
	if base == "" {
		base = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		base:       strings.TrimSuffix(base, "/"),
	}
}

// Publish POSTs a UTF-8 plain-text message to {base}/{topic}. Title and
// priority ride as headers and may be empty.
func (c *Client) Publish(ctx context.Context, topic, message, title, priority string) error {
	if topic == "" {
		return fmt.Errorf("publish: empty topic")
	}

	url := c.base + "/" + topic
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("create publish request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if title != "" {
		req.Header.Set("Title", title)
	}
	if priority != "" {
		req.Header.Set("Priority", priority)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close publish response body", "error", closeErr)
		}
	}()

	// Nothing useful comes back; drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("Notification published",
		"topic", topic,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("publish to %s: HTTP %d", topic, resp.StatusCode)
	}
	return nil
}
