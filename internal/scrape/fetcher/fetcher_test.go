package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient() *Client {
	return NewClient(Config{
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
	})
}

func TestFetchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>ok</html>"))
	}))
	defer server.Close()

	res, err := newTestClient().Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if string(res.Body) != "<html>ok</html>" {
		t.Errorf("unexpected body: %q", res.Body)
	}
	if res.Retries != 0 {
		t.Errorf("expected 0 retries, got %d", res.Retries)
	}
}

func TestFetchRetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer server.Close()

	res, err := newTestClient().Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if res.Retries != 2 {
		t.Errorf("expected exactly 2 retries, got %d", res.Retries)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 requests, got %d", got)
	}
}

func TestFetchExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient().Fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}

	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if fe.Kind != KindTransient {
		t.Errorf("expected transient kind, got %s", fe.Kind)
	}
}

func TestFetchPermanentNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestClient().Fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("permanent failure should not retry, got %d requests", got)
	}

	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if fe.Kind != KindPermanent {
		t.Errorf("expected permanent kind, got %s", fe.Kind)
	}
	if fe.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", fe.StatusCode)
	}
}

func TestFetchRateLimitedRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	res, err := newTestClient().Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if res.Retries != 1 {
		t.Errorf("expected 1 retry after 429, got %d", res.Retries)
	}
}

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", &Error{Kind: KindTransient}, true},
		{"rate limited", &Error{Kind: KindRateLimited}, true},
		{"permanent", &Error{Kind: KindPermanent}, false},
		{"unclassified", errors.New("plain"), false},
		{"wrapped transient", &Error{Kind: KindTransient, Err: errors.New("inner")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLimiterPacing(t *testing.T) {
	const delay = 30 * time.Millisecond
	limiter := NewLimiter(delay)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := limiter.Wait(context.Background()); err != nil {
			t.Fatalf("Wait returned error: %v", err)
		}
	}
	elapsed := time.Since(start)

	// First call is immediate; the next two each wait the full delay.
	if elapsed < 2*delay {
		t.Errorf("three waits finished in %v, want at least %v", elapsed, 2*delay)
	}
}

func TestLimiterCancelled(t *testing.T) {
	limiter := NewLimiter(time.Minute)
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := limiter.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
