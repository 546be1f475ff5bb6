// Package fetch retrieves remote source content with HTTP conditional requests.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrTimeout is returned when a fetch does not complete within its timeout.
	ErrTimeout = errors.New("fetch timed out")

	// ErrTooLarge is returned when a response body exceeds the size limit.
	ErrTooLarge = errors.New("response body exceeds size limit")
)

// StatusError reports an HTTP status other than 200 or 304.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.Code)
}

// Request describes one fetch. ETag and LastModified are the validators from
// the previous successful fetch; empty values are not sent.
type Request struct {
	URL          string
	ETag         string
	LastModified string
}

// Result is a successful fetch. Status is http.StatusOK with a Body, or
// http.StatusNotModified with an empty Body.
type Result struct {
	Status       int
	Body         string
	ETag         string
	LastModified string
}

// Fetcher retrieves source content.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Result, error)
}

// Options configures an HTTPFetcher.
type Options struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
	Client    *http.Client
}

// HTTPFetcher fetches URLs over HTTP.
type HTTPFetcher struct {
	client    *http.Client
	timeout   time.Duration
	maxBytes  int64
	userAgent string
}

// NewHTTPFetcher creates a fetcher. Every call is bounded by opts.Timeout.
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		client:    client,
		timeout:   timeout,
		maxBytes:  opts.MaxBytes,
		userAgent: opts.UserAgent,
	}
}

// Fetch performs a GET, sending If-None-Match and If-Modified-Since when the
// request carries validators.
func (f *HTTPFetcher) Fetch(ctx context.Context, r Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", r.URL, err)
	}
	if r.ETag != "" {
		req.Header.Set("If-None-Match", r.ETag)
	}
	if r.LastModified != "" {
		req.Header.Set("If-Modified-Since", r.LastModified)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, f.wrapErr(ctx, r.URL, err)
	}
	defer resp.Body.Close()

	result := &Result{
		Status:       resp.StatusCode,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}

	switch resp.StatusCode {
	case http.StatusNotModified:
		// Servers may omit validators on 304; keep the ones we sent.
		if result.ETag == "" {
			result.ETag = r.ETag
		}
		if result.LastModified == "" {
			result.LastModified = r.LastModified
		}
		return result, nil
	case http.StatusOK:
	default:
		return nil, &StatusError{URL: r.URL, Code: resp.StatusCode}
	}

	body, err := f.readBody(resp.Body)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return nil, fmt.Errorf("fetching %s: %w", r.URL, err)
		}
		return nil, f.wrapErr(ctx, r.URL, err)
	}
	result.Body = body

	return result, nil
}

func (f *HTTPFetcher) readBody(body io.Reader) (string, error) {
	if f.maxBytes <= 0 {
		data, err := io.ReadAll(body)
		if err != nil {
			return "", err
		}
		return strings.ToValidUTF8(string(data), "�"), nil
	}

	data, err := io.ReadAll(io.LimitReader(body, f.maxBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > f.maxBytes {
		return "", ErrTooLarge
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

func (f *HTTPFetcher) wrapErr(ctx context.Context, url string, err error) error {
	if IsTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("fetching %s: %w: %v", url, ErrTimeout, err)
	}
	return fmt.Errorf("fetching %s: %w", url, err)
}

// IsTimeout reports whether err is a fetch or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
