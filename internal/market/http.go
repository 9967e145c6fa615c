package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rewired-gh/candlesentry/internal/logger"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// HTTPConfig tunes the pooled client and the request guard.
type HTTPConfig struct {
	Timeout             time.Duration
	MaxConnsPerHost     int
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	MaxRetries     int
	RetryDelayBase time.Duration

	RateLimit float64 // requests per second across all workers, 0 disables
	RateBurst int

	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// NewHTTPClient builds the single client shared by every worker. The
// transport caps concurrent connections per host.
func NewHTTPClient(cfg HTTPConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = cfg.MaxConnsPerHost
	transport.MaxIdleConns = cfg.MaxIdleConns
	transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	transport.IdleConnTimeout = cfg.IdleConnTimeout
	transport.DialContext = (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Guard wraps every provider call with a shared rate limiter, a circuit
// breaker and bounded exponential-backoff retries. One Guard is shared by all
// workers that talk to the same provider.
type Guard struct {
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	delayBase  time.Duration
}

// NewGuard creates a guard named after the provider it protects.
func NewGuard(name string, cfg HTTPConfig) *Guard {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	delay := cfg.RetryDelayBase
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// Client-side errors and per-symbol rejections say nothing
			// about provider health. The breaker is shared by every worker.
			var se *StatusError
			if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
				return true
			}
			var pe *PayloadError
			if errors.As(err, &pe) {
				return true
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker %s changed from %s to %s", name, from, to)
		},
	})

	return &Guard{
		limiter:    limiter,
		breaker:    breaker,
		maxRetries: max(cfg.MaxRetries, 0),
		delayBase:  delay,
	}
}

// Do runs fn under the guard. Transport errors and 5xx responses are retried;
// 4xx responses and an open breaker are not.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.delayBase
	b.MaxInterval = 10 * g.delayBase
	b.RandomizationFactor = 0.1

	op := func() error {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		_, err := g.breaker.Execute(func() (interface{}, error) {
			return nil, fn(ctx)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		var pe *PayloadError
		if errors.As(err, &pe) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.maxRetries)), ctx)
	return backoff.Retry(op, policy)
}

// PayloadError marks a response that arrived but could not be understood.
// It is never retried.
type PayloadError struct {
	Err error
}

func (e *PayloadError) Error() string { return "malformed payload: " + e.Err.Error() }

func (e *PayloadError) Unwrap() error { return e.Err }

// Get performs a GET and returns the body of a 2xx response.
func Get(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}
	return body, nil
}
