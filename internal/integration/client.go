// Package integration holds the outbound HTTP handlers for the external
// services jobs are routed to.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"FuseLane/internal/conf"
	pkgerrors "FuseLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// Client wraps the shared HTTP client used by all integration handlers.
// Response statuses are mapped to error kinds so the worker pool can
// decide between retry, dead-letter, and breaker accounting.
type Client struct {
	httpClient *http.Client
	logger     *log.Helper
}

// NewClient creates the shared integration client.
func NewClient(cfg *conf.Integrations, logger log.Logger) *Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Timeout != nil {
		timeout = cfg.Timeout.AsDuration()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.NewHelper(logger),
	}
}

// PostJSON sends a JSON payload and classifies the outcome. The caller's
// ctx carries the per-job deadline set by the worker pool.
func (c *Client) PostJSON(ctx context.Context, url string, payload json.RawMessage) error {
	if url == "" {
		return pkgerrors.Client("integration url is not configured", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Client("failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network and timeout failures classify through KindOf.
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	cause := fmt.Errorf("%s returned status %d: %s", url, resp.StatusCode, string(body))
	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))

	c.logger.Debugw("integration call failed",
		"url", url,
		"status", resp.StatusCode,
		"retry_after", retryAfter)

	return pkgerrors.FromHTTPStatus(resp.StatusCode, retryAfter, cause)
}

// parseRetryAfter reads the delay-seconds form of Retry-After. The HTTP
// date form is rare from the services we call and is ignored.
func parseRetryAfter(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
