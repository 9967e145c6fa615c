// Package binance implements market.Provider over Binance USDⓈ-M futures
// public market data.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/rewired-gh/candlesentry/internal/market"
	"github.com/rewired-gh/candlesentry/internal/models"
)

const maxKlineLimit = 1500

// Client wraps a go-binance futures client. Only public endpoints are used,
// so no API key is required.
type Client struct {
	cli   *futures.Client
	guard *market.Guard
}

// NewClient creates a client on the shared HTTP client. An empty baseURL
// keeps the library default.
func NewClient(baseURL string, httpClient *http.Client, guard *market.Guard) *Client {
	cli := futures.NewClient("", "")
	if baseURL != "" {
		cli.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cli.HTTPClient = httpClient
	}
	return &Client{cli: cli, guard: guard}
}

func (c *Client) Name() string { return "binance" }

// FetchCandles retrieves up to limit klines, ascending by open time
func (c *Client) FetchCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	if err := tf.Validate(); err != nil {
		return nil, c.wrap("klines", symbol, err)
	}
	limit = min(max(limit, 1), maxKlineLimit)

	var klines []*futures.Kline
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		res, err := c.cli.NewKlinesService().
			Symbol(strings.ToUpper(symbol)).
			Interval(tf.String()).
			Limit(limit).
			Do(ctx)
		if err != nil {
			return classify(err)
		}
		klines = res
		return nil
	})
	if err != nil {
		return nil, c.wrap("klines", symbol, err)
	}

	candles, err := convertKlines(klines)
	if err != nil {
		return nil, c.wrap("klines", symbol, &market.PayloadError{Err: err})
	}
	return candles, nil
}

// FetchTopOfBook retrieves the best bid and ask quantities
func (c *Client) FetchTopOfBook(ctx context.Context, symbol string) (models.OrderBookSample, error) {
	var depth *futures.DepthResponse
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		res, err := c.cli.NewDepthService().Symbol(strings.ToUpper(symbol)).Limit(5).Do(ctx)
		if err != nil {
			return classify(err)
		}
		depth = res
		return nil
	})
	if err != nil {
		return models.OrderBookSample{}, c.wrap("orderbook", symbol, err)
	}
	if len(depth.Bids) == 0 || len(depth.Asks) == 0 {
		return models.OrderBookSample{}, c.wrap("orderbook", symbol, &market.PayloadError{Err: fmt.Errorf("empty book")})
	}

	bid, err := market.ParseNumber(depth.Bids[0].Quantity)
	if err != nil {
		return models.OrderBookSample{}, c.wrap("orderbook", symbol, &market.PayloadError{Err: err})
	}
	ask, err := market.ParseNumber(depth.Asks[0].Quantity)
	if err != nil {
		return models.OrderBookSample{}, c.wrap("orderbook", symbol, &market.PayloadError{Err: err})
	}
	return models.OrderBookSample{BidQty: bid, AskQty: ask}, nil
}

func (c *Client) wrap(op, symbol string, err error) error {
	return &market.ProviderError{Provider: c.Name(), Op: op, Symbol: symbol, Err: err}
}

// classify marks exchange-side rejections as non-retryable.
func classify(err error) error {
	if common.IsAPIError(err) {
		return &market.PayloadError{Err: err}
	}
	return err
}

func convertKlines(klines []*futures.Kline) ([]models.Candle, error) {
	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		fields := [5]string{k.Open, k.High, k.Low, k.Close, k.Volume}
		var vals [5]float64
		for i, s := range fields {
			v, err := market.ParseNumber(s)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		c := models.Candle{
			Timestamp: k.OpenTime,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, nil
}
