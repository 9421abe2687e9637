package smp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcherSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	fetch := NewFetcher(FetchOptions{})
	body, contentType, err := fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	assert.JSONEq(t, `{"ok": true}`, string(body))
}

func TestFetcher404NotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	fetch := NewFetcher(FetchOptions{Retries: 3, RetryDelay: time.Millisecond})
	_, _, err := fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 404, httpErr.StatusCode)
	assert.False(t, httpErr.Retryable())
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetcherRetries5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("finally"))
	}))
	defer srv.Close()

	fetch := NewFetcher(FetchOptions{Retries: 3, RetryDelay: time.Millisecond})
	body, _, err := fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "finally", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetcherExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fetch := NewFetcher(FetchOptions{Retries: 2, RetryDelay: time.Millisecond})
	_, _, err := fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestFetcherHonorsCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	fetch := NewFetcher(FetchOptions{})
	_, _, err := fetch(ctx, srv.URL)
	assert.Error(t, err)
}
