package smp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Fetcher is the HTTP collaborator contract: fetch a URL, return the
// body and content type. Retries and timeouts live behind it.
type Fetcher func(ctx context.Context, url string) (body []byte, contentType string, err error)

// FetchOptions tunes the default HTTP fetcher.
type FetchOptions struct {
	Retries    int           // additional attempts after the first
	RetryDelay time.Duration // backoff base, doubled per attempt
	Timeout    time.Duration // per-attempt deadline
	UserAgent  string
	Client     *http.Client
}

const (
	defaultRetries    = 2
	defaultRetryDelay = 500 * time.Millisecond
	defaultTimeout    = 30 * time.Second
	defaultUserAgent  = "go-smp"
)

// NewFetcher builds a Fetcher with exponential backoff on 5xx and
// transport errors. 4xx responses are returned immediately as
// *HTTPError so callers can apply their skip policy.
func NewFetcher(opts FetchOptions) Fetcher {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}

	return func(ctx context.Context, url string) ([]byte, string, error) {
		var lastErr error
		delay := opts.RetryDelay
		for attempt := 0; attempt <= opts.Retries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return nil, "", ctx.Err()
				case <-time.After(delay):
				}
				delay *= 2
			}

			body, contentType, err := fetchOnce(ctx, client, url, opts)
			if err == nil {
				return body, contentType, nil
			}
			lastErr = err

			if httpErr, ok := err.(*HTTPError); ok && !httpErr.Retryable() {
				return nil, "", err
			}
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
		}
		return nil, "", fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
	}
}

func fetchOnce(ctx context.Context, client *http.Client, url string, opts FetchOptions) ([]byte, string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", opts.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, "", &HTTPError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}
