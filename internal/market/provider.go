// Package market defines the market-data provider contract shared by the
// exchange adapters, plus the pooled HTTP client and request guard they use.
package market

import (
	"context"
	"fmt"

	"github.com/rewired-gh/candlesentry/internal/indicator"
	"github.com/rewired-gh/candlesentry/internal/models"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Provider fetches candles and top-of-book snapshots. Implementations must be
// safe for concurrent use by every worker.
type Provider interface {
	Name() string
	// FetchCandles returns up to limit candles ascending by timestamp. The
	// newest candle may still be in progress.
	FetchCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error)
	FetchTopOfBook(ctx context.Context, symbol string) (models.OrderBookSample, error)
}

// ProviderError reports a failed fetch: transport error, timeout, non-2xx
// status or malformed payload. Callers skip the cycle and carry on.
type ProviderError struct {
	Provider string
	Op       string
	Symbol   string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Provider, e.Op, e.Symbol, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ParseNumber converts an exchange decimal string to float64.
func ParseNumber(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}

// PreviousDayATR returns the ATR of the most recently completed daily bar.
// The last daily bar may still be in progress, so the second-to-last ATR value
// is used. ok is false when there is not enough history.
func PreviousDayATR(ctx context.Context, p Provider, symbol string, period int) (atr float64, ok bool, err error) {
	candles, err := p.FetchCandles(ctx, symbol, models.Timeframe1d, max(period+2, 20))
	if err != nil {
		return 0, false, err
	}
	if len(candles) < period+1 {
		return 0, false, nil
	}
	series := indicator.ATR(
		lo.Map(candles, func(c models.Candle, _ int) float64 { return c.High }),
		lo.Map(candles, func(c models.Candle, _ int) float64 { return c.Low }),
		lo.Map(candles, func(c models.Candle, _ int) float64 { return c.Close }),
		period,
	)
	atr, ok = series.Prev()
	return atr, ok, nil
}
