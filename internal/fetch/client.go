// Package fetch downloads chapter images referenced by imported documents.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	DefaultTimeout   = 15 * time.Second
	DefaultMaxBytes  = 10 * 1024 * 1024
	DefaultUserAgent = "chapter-agent/0.1"
)

var (
	ErrTooLarge          = errors.New("response body too large")
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
}

// Resource is a downloaded body with its declared content type.
type Resource struct {
	URL         string
	ContentType string
	Data        []byte
}

// Fetcher retrieves a remote resource.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Resource, error)
}

type Client struct {
	httpClient *http.Client
	maxBytes   int64
	userAgent  string
	logger     *slog.Logger
}

// NewClient builds a Client. Non-positive timeout or maxBytes select the
// defaults.
func NewClient(timeout time.Duration, maxBytes int64, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
		userAgent:  DefaultUserAgent,
		logger:     logger,
	}
}

func (c *Client) Fetch(ctx context.Context, rawURL string) (*Resource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	if resp.ContentLength > c.maxBytes {
		return nil, fmt.Errorf("%w: content-length %s exceeds %s", ErrTooLarge,
			humanize.Bytes(uint64(resp.ContentLength)), humanize.Bytes(uint64(c.maxBytes)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("%w: limit %s", ErrTooLarge, humanize.Bytes(uint64(c.maxBytes)))
	}

	if c.logger != nil {
		c.logger.Debug("fetched resource", "url", rawURL, "size", humanize.Bytes(uint64(len(data))))
	}

	return &Resource{
		URL:         rawURL,
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
