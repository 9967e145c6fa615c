// Package bybit implements market.Provider over the Bybit v5 public REST API.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/rewired-gh/candlesentry/internal/market"
	"github.com/rewired-gh/candlesentry/internal/models"
)

const (
	DefaultBaseURL  = "https://api.bybit.com"
	DefaultCategory = "linear"

	maxKlineLimit = 1000
)

var intervals = map[models.Timeframe]string{
	models.Timeframe1m:  "1",
	models.Timeframe3m:  "3",
	models.Timeframe5m:  "5",
	models.Timeframe15m: "15",
	models.Timeframe30m: "30",
	models.Timeframe1h:  "60",
	models.Timeframe2h:  "120",
	models.Timeframe4h:  "240",
	models.Timeframe6h:  "360",
	models.Timeframe12h: "720",
	models.Timeframe1d:  "D",
	models.Timeframe1w:  "W",
}

// Client provides access to Bybit market data
type Client struct {
	baseURL    string
	category   string
	httpClient *http.Client
	guard      *market.Guard
}

// envelope is the common v5 response wrapper
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

type klineResult struct {
	Symbol string     `json:"symbol"`
	List   [][]string `json:"list"` // [start, open, high, low, close, volume, turnover], newest first
}

type orderbookResult struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"` // [price, size]
	Asks   [][]string `json:"a"`
}

// NewClient creates a new Bybit client. httpClient is shared across workers.
func NewClient(baseURL, category string, httpClient *http.Client, guard *market.Guard) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if category == "" {
		category = DefaultCategory
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		category:   category,
		httpClient: httpClient,
		guard:      guard,
	}
}

func (c *Client) Name() string { return "bybit" }

// Interval maps a canonical timeframe to Bybit's interval code.
func Interval(tf models.Timeframe) (string, error) {
	iv, ok := intervals[tf]
	if !ok {
		return "", fmt.Errorf("unsupported timeframe %q", tf)
	}
	return iv, nil
}

// FetchCandles retrieves up to limit klines, ascending by start time
func (c *Client) FetchCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	iv, err := Interval(tf)
	if err != nil {
		return nil, c.wrap("klines", symbol, err)
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}

	q := url.Values{}
	q.Set("category", c.category)
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", iv)
	q.Set("limit", strconv.Itoa(limit))

	var res klineResult
	if err := c.get(ctx, "/v5/market/kline", q, &res); err != nil {
		return nil, c.wrap("klines", symbol, err)
	}

	candles := make([]models.Candle, 0, len(res.List))
	for _, row := range res.List {
		candle, err := parseKline(row)
		if err != nil {
			return nil, c.wrap("klines", symbol, &market.PayloadError{Err: err})
		}
		candles = append(candles, candle)
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp < candles[j].Timestamp
	})
	return candles, nil
}

// FetchTopOfBook retrieves the best bid and ask quantities
func (c *Client) FetchTopOfBook(ctx context.Context, symbol string) (models.OrderBookSample, error) {
	q := url.Values{}
	q.Set("category", c.category)
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("limit", "1")

	var res orderbookResult
	if err := c.get(ctx, "/v5/market/orderbook", q, &res); err != nil {
		return models.OrderBookSample{}, c.wrap("orderbook", symbol, err)
	}
	if len(res.Bids) == 0 || len(res.Asks) == 0 {
		return models.OrderBookSample{}, c.wrap("orderbook", symbol, &market.PayloadError{Err: fmt.Errorf("empty book")})
	}

	bid, err := parseLevelQty(res.Bids[0])
	if err != nil {
		return models.OrderBookSample{}, c.wrap("orderbook", symbol, &market.PayloadError{Err: err})
	}
	ask, err := parseLevelQty(res.Asks[0])
	if err != nil {
		return models.OrderBookSample{}, c.wrap("orderbook", symbol, &market.PayloadError{Err: err})
	}
	return models.OrderBookSample{BidQty: bid, AskQty: ask}, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := c.baseURL + path + "?" + q.Encode()

	return c.guard.Do(ctx, func(ctx context.Context) error {
		body, err := market.Get(ctx, c.httpClient, u)
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return &market.PayloadError{Err: fmt.Errorf("failed to decode response: %w", err)}
		}
		if env.RetCode != 0 {
			return &market.PayloadError{Err: fmt.Errorf("retCode %d: %s", env.RetCode, env.RetMsg)}
		}
		if err := json.Unmarshal(env.Result, out); err != nil {
			return &market.PayloadError{Err: fmt.Errorf("failed to decode result: %w", err)}
		}
		return nil
	})
}

func (c *Client) wrap(op, symbol string, err error) error {
	return &market.ProviderError{Provider: c.Name(), Op: op, Symbol: symbol, Err: err}
}

func parseKline(row []string) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("kline row has %d fields", len(row))
	}
	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("invalid start time %q: %w", row[0], err)
	}

	var vals [5]float64
	for i := range vals {
		v, err := market.ParseNumber(row[i+1])
		if err != nil {
			return models.Candle{}, err
		}
		vals[i] = v
	}

	c := models.Candle{
		Timestamp: ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}
	return c, c.Validate()
}

func parseLevelQty(level []string) (float64, error) {
	if len(level) < 2 {
		return 0, fmt.Errorf("book level has %d fields", len(level))
	}
	return market.ParseNumber(level[1])
}
