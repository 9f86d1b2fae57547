package site

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	listingTimeout = 30 * time.Second
	lookupTimeout  = 10 * time.Second

	maxResponseSize = 8 * 1024 * 1024
)

var HTTPClient = &http.Client{
	Timeout: 2 * time.Minute,
}

// ErrNotFound is matched by StatusErrors carrying a 404.
var ErrNotFound = errors.New("not found")

// StatusError is returned for any non-2xx upstream response.
type StatusError struct {
	URL        string
	StatusCode int
	RetryAfter string
}

func (e *StatusError) Error() string {
	if e.RetryAfter != "" {
		return fmt.Sprintf("%s returned status %d (retry after %s)", e.URL, e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("%s returned status %d", e.URL, e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// httpGet issues one GET bounded by timeout and returns the body. Rate
// limits are reported, not waited out: a refresh cycle never retries.
func httpGet(ctx context.Context, url string, timeout time.Duration, headers map[string]string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, RetryAfter: resp.Header.Get("Retry-After")}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return body, nil
}

func httpGetJSON(ctx context.Context, url string, timeout time.Duration, headers map[string]string, v any) error {
	body, err := httpGet(ctx, url, timeout, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}
