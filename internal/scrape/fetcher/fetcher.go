package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/regwatch/backend/pkg/logger"
	"github.com/regwatch/backend/pkg/retry"
)

// ErrorKind classifies a fetch failure for retry purposes.
type ErrorKind int

const (
	// KindTransient covers timeouts, connection refusals and 5xx responses.
	KindTransient ErrorKind = iota
	// KindPermanent covers DNS failures and non-429 4xx responses.
	KindPermanent
	// KindRateLimited covers HTTP 429.
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Error is a classified fetch failure.
type Error struct {
	URL        string
	StatusCode int
	Kind       ErrorKind
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: HTTP %d (%s)", e.URL, e.StatusCode, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %v (%s)", e.URL, e.Err, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth another attempt.
func Retryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind != KindPermanent
	}
	return false
}

type Config struct {
	Timeout      time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
	UserAgent    string
	RetryAfterCap time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		MaxAttempts:   3,
		BackoffBase:   time.Second,
		UserAgent:     "regwatch-scraper/1.0",
		RetryAfterCap: 30 * time.Second,
	}
}

// Result is a successful fetch plus how many retries it took.
type Result struct {
	Body       []byte
	StatusCode int
	Retries    int
}

// Client issues GET requests with timeout, classified errors and
// exponential-backoff retries for transient failures. It carries no pacing
// of its own; callers pace consecutive requests with a Limiter.
type Client struct {
	httpClient *http.Client
	cfg        Config
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.RetryAfterCap == 0 {
		cfg.RetryAfterCap = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
	}
}

// Fetch retrieves the URL, retrying transient and rate-limit failures up to
// the configured attempt count. Permanent failures return immediately.
func (c *Client) Fetch(ctx context.Context, url string) (*Result, error) {
	retries := 0

	body, err := retry.DoWithResult(ctx, retry.Config{
		MaxAttempts:  c.cfg.MaxAttempts,
		InitialDelay: c.cfg.BackoffBase,
		Multiplier:   2.0,
		RetryIf:      Retryable,
		OnRetry: func(attempt int, err error) {
			retries++
			logger.Warn("Fetch failed, retrying",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
		Logger: zap.NewNop(),
	}, func() ([]byte, error) {
		return c.fetchOnce(ctx, url)
	})
	if err != nil {
		return nil, err
	}

	return &Result{Body: body, StatusCode: http.StatusOK, Retries: retries}, nil
}

func (c *Client) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{URL: url, Kind: KindPermanent, Err: err}
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html, application/xhtml+xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{URL: url, Kind: classifyNetError(err), Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		// Honor Retry-After before handing back to the backoff loop.
		c.sleepRetryAfter(ctx, resp.Header.Get("Retry-After"))
		return nil, &Error{URL: url, StatusCode: resp.StatusCode, Kind: KindRateLimited}
	case resp.StatusCode >= 500:
		return nil, &Error{URL: url, StatusCode: resp.StatusCode, Kind: KindTransient}
	default:
		return nil, &Error{URL: url, StatusCode: resp.StatusCode, Kind: KindPermanent}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, &Error{URL: url, Kind: KindTransient, Err: err}
	}

	return body, nil
}

func (c *Client) sleepRetryAfter(ctx context.Context, header string) {
	if header == "" {
		return
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return
	}
	wait := time.Duration(secs) * time.Second
	if wait > c.cfg.RetryAfterCap {
		wait = c.cfg.RetryAfterCap
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

func classifyNetError(err error) ErrorKind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindPermanent
	}
	return KindTransient
}

// Limiter enforces a minimum delay between consecutive requests within one
// session. This is politeness toward the source site, not correctness.
type Limiter struct {
	mu    sync.Mutex
	delay time.Duration
	last  time.Time
}

func NewLimiter(delay time.Duration) *Limiter {
	return &Limiter{delay: delay}
}

// Wait blocks until the configured delay has elapsed since the previous
// request, or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	var sleep time.Duration
	if !l.last.IsZero() {
		if elapsed := now.Sub(l.last); elapsed < l.delay {
			sleep = l.delay - elapsed
		}
	}
	l.last = now.Add(sleep)
	l.mu.Unlock()

	if sleep <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(sleep):
		return nil
	}
}
