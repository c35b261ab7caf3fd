package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"
)

// Common errors.
var (
	ErrNotFound            = errors.New("transport: resource not found")
	ErrUnauthorized        = errors.New("transport: unauthorized")
	ErrForbidden           = errors.New("transport: access forbidden")
	ErrServerError         = errors.New("transport: server error")
	ErrRangeNotSatisfiable = errors.New("transport: range not satisfiable")
)

// StatusError reports a non-success HTTP status. It unwraps to one of the
// package sentinels when the status has one.
type StatusError struct {
	StatusCode int
	Status     string
	err        error
}

func (e *StatusError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%v (%s)", e.err, e.Status)
	}
	return fmt.Sprintf("transport: unexpected status %s", e.Status)
}

func (e *StatusError) Unwrap() error {
	return e.err
}

// Options configures the client.
type Options struct {
	// UserAgent is sent with every request.
	UserAgent string

	// Timeout for a whole request including the body. Zero disables it,
	// which is what long transfers need.
	// Default: 30s
	Timeout time.Duration

	// RetryAttempts applies to Head and GetJSON only.
	// Default: 3
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 500ms
	RetryBackoff time.Duration

	// RetryMaxBackoff is the maximum backoff duration.
	// Default: 10s
	RetryMaxBackoff time.Duration

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	Logger *slog.Logger
}

// DefaultOptions returns options suited to metadata requests.
func DefaultOptions() Options {
	return Options{
		UserAgent:           "launcher-go/1.0",
		Timeout:             30 * time.Second,
		RetryAttempts:       3,
		RetryBackoff:        500 * time.Millisecond,
		RetryMaxBackoff:     10 * time.Second,
		MaxIdleConnsPerHost: 16,
	}
}

// TransferOptions returns options for streaming downloads: no overall
// timeout and no internal retries, the engine owns the retry budget.
func TransferOptions() Options {
	opts := DefaultOptions()
	opts.Timeout = 0
	opts.RetryAttempts = 0
	return opts
}

// FileInfo is what a HEAD request tells about a remote file.
type FileInfo struct {
	URL           string // after redirects
	Size          int64  // 0 when unknown
	AcceptsRanges bool
	ContentType   string
	Filename      string
}

// Response is an open transfer body.
type Response struct {
	Body io.ReadCloser

	// Offset is the position in the remote file of the first body byte.
	// It is 0 when the server ignored the requested range.
	Offset int64

	// Partial is true for a 206 reply.
	Partial bool

	// Total is the full size of the remote file, 0 when unknown.
	Total int64

	AcceptsRanges bool
	Filename      string
}

// Client wraps net/http with status mapping and metadata retries.
type Client struct {
	client *http.Client
	opts   Options
	logger *slog.Logger
}

// NewClient creates a new client with the given options.
func NewClient(opts Options) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // byte offsets must match the file on disk
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts:   opts,
		logger: logger,
	}
}

// Head performs a HEAD request to get file metadata.
func (c *Client) Head(ctx context.Context, url string, header http.Header) (*FileInfo, error) {
	var info *FileInfo
	err := c.retry(ctx, "head", func() (bool, error) {
		req, err := c.newRequest(ctx, http.MethodHead, url, header)
		if err != nil {
			return false, err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return true, err
		}
		resp.Body.Close()

		if err := checkStatus(resp); err != nil {
			return errors.Is(err, ErrServerError), err
		}

		info = &FileInfo{
			URL:           resp.Request.URL.String(),
			AcceptsRanges: acceptsRanges(resp.Header),
			ContentType:   resp.Header.Get("Content-Type"),
			Filename:      filename(resp),
		}
		if resp.ContentLength > 0 {
			info.Size = resp.ContentLength
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Open starts a GET of url. A positive offset asks for "bytes=offset-";
// callers must check Response.Offset because servers may ignore the range.
func (c *Client) Open(ctx context.Context, url string, offset int64, header http.Header) (*Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url, header)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	out := &Response{
		Body:          resp.Body,
		AcceptsRanges: acceptsRanges(resp.Header),
		Filename:      filename(resp),
	}

	if resp.StatusCode == http.StatusPartialContent {
		start, _, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		out.Partial = true
		out.AcceptsRanges = true
		out.Offset = start
		if total > 0 {
			out.Total = total
		} else if resp.ContentLength > 0 {
			out.Total = start + resp.ContentLength
		}
		return out, nil
	}

	if resp.ContentLength > 0 {
		out.Total = resp.ContentLength
	}
	c.logger.Debug("transfer opened", "url", url, "status", resp.StatusCode, "offset", out.Offset, "total", out.Total)
	return out, nil
}

// GetJSON fetches url and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, header http.Header, out any) error {
	return c.retry(ctx, "get json", func() (bool, error) {
		req, err := c.newRequest(ctx, http.MethodGet, url, header)
		if err != nil {
			return false, err
		}
		if req.Header.Get("Accept") == "" {
			req.Header.Set("Accept", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return true, err
		}
		defer resp.Body.Close()

		if err := checkStatus(resp); err != nil {
			return errors.Is(err, ErrServerError), err
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("decode %s: %w", url, err)
		}
		return false, nil
	})
}

func (c *Client) newRequest(ctx context.Context, method, url string, header http.Header) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.opts.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	return req, nil
}

// retry runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent.
func (c *Client) retry(ctx context.Context, op string, fn func() (retryable bool, err error)) error {
	var lastErr error
	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request", "op", op, "attempt", attempt, "error", lastErr)
			if err := c.backoff(ctx, attempt); err != nil {
				return err
			}
		}

		retryable, err := fn()
		if err == nil {
			return nil
		}
		if !retryable || ctx.Err() != nil {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, c.opts.RetryAttempts+1, lastErr)
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	backoff := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > c.opts.RetryMaxBackoff {
		backoff = c.opts.RetryMaxBackoff
	}

	// 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func checkStatus(resp *http.Response) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	e := &StatusError{StatusCode: code, Status: resp.Status}
	switch {
	case code == http.StatusNotFound:
		e.err = ErrNotFound
	case code == http.StatusUnauthorized:
		e.err = ErrUnauthorized
	case code == http.StatusForbidden:
		e.err = ErrForbidden
	case code == http.StatusRequestedRangeNotSatisfiable:
		e.err = ErrRangeNotSatisfiable
	case code >= 500:
		e.err = ErrServerError
	}
	return e
}

func acceptsRanges(h http.Header) bool {
	return strings.EqualFold(strings.TrimSpace(h.Get("Accept-Ranges")), "bytes")
}

// filename prefers Content-Disposition and falls back to the last path
// segment of the final request URL.
func filename(resp *http.Response) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return path.Base(name)
			}
		}
	}
	if resp.Request == nil || resp.Request.URL == nil {
		return ""
	}
	base := path.Base(resp.Request.URL.Path)
	if base == "/" || base == "." {
		return ""
	}
	return base
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total is -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// bytes start-end/total or bytes start-end/*
	header = strings.TrimPrefix(strings.TrimSpace(header), "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	return start, end, total, nil
}
