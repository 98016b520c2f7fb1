// Package storage provides the durable object store for job artifacts
// (reference photos, masks, generated pages, final documents). It speaks the
// Supabase-compatible storage HTTP API: objects are PUT under a bucket and
// served back through stable public URLs, so any backend instance can fetch
// an artifact regardless of which instance produced it.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// ErrNotConfigured is returned by client operations when no storage endpoint
// was configured. Callers fall back to local file paths.
var ErrNotConfigured = errors.New("object storage not configured")

// Config holds object store settings.
type Config struct {
	// BaseURL is the storage project root, e.g. "https://xyz.supabase.co".
	BaseURL string
	// Bucket is the bucket all artifacts live under.
	Bucket string
	// ServiceKey authorizes writes.
	ServiceKey string
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client is a thin bucket client. The zero-value-like disabled state (empty
// BaseURL) is valid and makes every call return ErrNotConfigured.
type Client struct {
	baseURL    string
	bucket     string
	serviceKey string
	http       *http.Client
	logger     *slog.Logger
}

// NewClient creates a storage client.
func NewClient(cfg Config) *Client {
	if cfg.Bucket == "" {
		cfg.Bucket = "fable"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		bucket:     cfg.Bucket,
		serviceKey: cfg.ServiceKey,
		http:       &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Enabled reports whether a storage endpoint is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// Put uploads data under key and returns the object's public URL. Uploads
// are retried a few times since artifact loss means re-running a generation
// step.
func (c *Client) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}

	target := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, c.bucket, key)

	err := retry.Do(
		func() error { return c.put(ctx, target, contentType, data) },
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	c.logger.Debug("artifact uploaded", "key", key, "bytes", len(data))
	return c.PublicURL(key), nil
}

func (c *Client) put(ctx context.Context, target, contentType string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, "PUT", target, bytes.NewReader(data))
	if err != nil {
		return retry.Unrecoverable(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("upload returned status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Unrecoverable(err)
		}
		return err
	}
	return nil
}

// PublicURL returns the stable public URL for an object key.
func (c *Client) PublicURL(key string) string {
	escaped := url.PathEscape(key)
	// PathEscape encodes the separators too; keep the key's directory shape.
	escaped = strings.ReplaceAll(escaped, "%2F", "/")
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, c.bucket, escaped)
}

// ObjectKey builds the bucket key for one job artifact.
func ObjectKey(bookID, filename string) string {
	return fmt.Sprintf("books/%s/%s", bookID, filename)
}
