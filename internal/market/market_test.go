package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rewired-gh/candlesentry/internal/models"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	daily []models.Candle
	err   error
	limit int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) FetchCandles(_ context.Context, _ string, _ models.Timeframe, limit int) ([]models.Candle, error) {
	s.limit = limit
	return s.daily, s.err
}

func (s *stubProvider) FetchTopOfBook(context.Context, string) (models.OrderBookSample, error) {
	return models.OrderBookSample{}, nil
}

func dailyCandles(n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{Timestamp: int64(i), Open: 100, High: 104, Low: 98, Close: 101}
	}
	// The in-progress day has a wide range that must not be used.
	out[n-1].High = 200
	return out
}

func TestPreviousDayATR(t *testing.T) {
	p := &stubProvider{daily: dailyCandles(20)}
	atr, ok, err := PreviousDayATR(context.Background(), p, "BTCUSDT", 14)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 6.0, atr, 1e-9)
	assert.Equal(t, 20, p.limit)
}

func TestPreviousDayATRInsufficientHistory(t *testing.T) {
	p := &stubProvider{daily: dailyCandles(14)}
	_, ok, err := PreviousDayATR(context.Background(), p, "BTCUSDT", 14)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPreviousDayATRFetchError(t *testing.T) {
	p := &stubProvider{err: errors.New("down")}
	_, ok, err := PreviousDayATR(context.Background(), p, "BTCUSDT", 14)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestParseNumber(t *testing.T) {
	v, err := ParseNumber("64123.50")
	require.NoError(t, err)
	assert.Equal(t, 64123.5, v)

	_, err = ParseNumber("n/a")
	assert.Error(t, err)
}

func TestProviderError(t *testing.T) {
	cause := &StatusError{StatusCode: 503}
	err := error(&ProviderError{Provider: "bybit", Op: "klines", Symbol: "BTCUSDT", Err: cause})
	var pe *ProviderError
	assert.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "bybit klines BTCUSDT")
}

func fastGuard(retries int) *Guard {
	return NewGuard("test", HTTPConfig{MaxRetries: retries, RetryDelayBase: time.Millisecond, BreakerFailures: 100})
}

func TestGuardRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := fastGuard(3).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &StatusError{StatusCode: 500}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestGuardDoesNotRetryPermanentErrors(t *testing.T) {
	for _, perm := range []error{
		&StatusError{StatusCode: 404},
		&PayloadError{Err: errors.New("bad json")},
	} {
		calls := 0
		err := fastGuard(3).Do(context.Background(), func(context.Context) error {
			calls++
			return perm
		})
		assert.ErrorIs(t, err, perm)
		assert.Equal(t, 1, calls)
	}
}

func TestGuardGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := fastGuard(2).Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("connection reset")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestGuardBreakerOpens(t *testing.T) {
	g := NewGuard("breaker", HTTPConfig{MaxRetries: 0, RetryDelayBase: time.Millisecond, BreakerFailures: 2, BreakerTimeout: time.Minute})
	fail := func(context.Context) error { return errors.New("timeout") }

	_ = g.Do(context.Background(), fail)
	_ = g.Do(context.Background(), fail)

	calls := 0
	err := g.Do(context.Background(), func(context.Context) error { calls++; return nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 0, calls)
}

func TestGuardBreakerIgnoresRejections(t *testing.T) {
	g := NewGuard("rejections", HTTPConfig{MaxRetries: 0, RetryDelayBase: time.Millisecond, BreakerFailures: 2, BreakerTimeout: time.Minute})
	for _, rejected := range []error{
		&PayloadError{Err: errors.New("symbol invalid")},
		&PayloadError{Err: errors.New("symbol invalid")},
		&StatusError{StatusCode: 400},
		&StatusError{StatusCode: 400},
	} {
		_ = g.Do(context.Background(), func(context.Context) error { return rejected })
	}

	calls := 0
	err := g.Do(context.Background(), func(context.Context) error { calls++; return nil })
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestGuardHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := fastGuard(5).Do(ctx, func(ctx context.Context) error {
		calls++
		return ctx.Err()
	})
	assert.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()
	client := NewHTTPClient(HTTPConfig{Timeout: time.Second, MaxConnsPerHost: 4})

	body, err := Get(context.Background(), client, srv.URL+"/ok")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))

	_, err = Get(context.Background(), client, srv.URL+"/missing")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}
