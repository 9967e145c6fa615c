// Package models defines the core domain entities: candles, order-book samples,
// reference levels, strategies and alert events.
package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Candle is one OHLCV bar. Timestamp is the provider-assigned open time in
// milliseconds and is unique per bar.
type Candle struct {
	Timestamp int64   `json:"ts"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// IsBullish reports whether the candle closed at or above its open.
func (c Candle) IsBullish() bool {
	return c.Close >= c.Open
}

// Body is the absolute open-to-close distance.
func (c Candle) Body() float64 {
	return math.Abs(c.Close - c.Open)
}

// Range is the high-to-low distance.
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// EffectiveRange measures the move from the open to the favorable extreme:
// high for an up candle, low for a down candle.
func (c Candle) EffectiveRange() float64 {
	if c.IsBullish() {
		return c.High - c.Open
	}
	return c.Open - c.Low
}

// Time returns the open time.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.Timestamp)
}

// Validate checks candle field constraints.
func (c Candle) Validate() error {
	for name, v := range map[string]float64{
		"open": c.Open, "high": c.High, "low": c.Low, "close": c.Close, "volume": c.Volume,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("candle %s must be finite", name)
		}
	}
	if c.High < c.Low {
		return errors.New("candle high must be >= low")
	}
	if c.Volume < 0 {
		return errors.New("candle volume must not be negative")
	}
	return nil
}

// OrderBookSample is the top-of-book quantity snapshot taken once per poll.
type OrderBookSample struct {
	BidQty float64 `json:"bid_qty"`
	AskQty float64 `json:"ask_qty"`
}

// ReferenceLevels are four static price levels projected from one anchor candle.
type ReferenceLevels struct {
	A float64 `json:"a"`
	C float64 `json:"c"`
	D float64 `json:"d"`
	F float64 `json:"f"`
}

// Level is a labelled price.
type Level struct {
	Label string
	Price float64
}

// Values returns the levels in display order.
func (l ReferenceLevels) Values() []Level {
	return []Level{{"A", l.A}, {"C", l.C}, {"D", l.D}, {"F", l.F}}
}

func (l ReferenceLevels) String() string {
	return fmt.Sprintf("A=%.6g | C=%.6g | D=%.6g | F=%.6g", l.A, l.C, l.D, l.F)
}
