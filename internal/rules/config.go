// Package rules holds the detectors evaluated once per newly closed candle:
// the volume gate, RSI and stochastic threshold crosses, multi-touch, the ATR
// volatility anomaly, candlestick patterns and order-book imbalance.
package rules

import "github.com/rewired-gh/candlesentry/internal/models"

// Config switches detector families on and off and carries every threshold.
// Each flag is consulted once per evaluation before its detector runs.
type Config struct {
	Patterns     bool
	Indicators   bool
	ATRAnomaly   bool
	VolumeFilter bool
	OrderBook    bool

	RSIPeriod int
	RSILow    float64
	RSIHigh   float64

	StochK      int
	StochD      int
	StochSmooth int
	StochLow    float64
	StochHigh   float64

	TouchLookback int
	TouchSpacing  int
	TouchCount    int

	ATRRatio float64

	MinCandlePct     float64
	VolumeFactor     float64
	VolumeWindow     int
	VolumeMinSamples int

	DojiRatio float64

	OrderBookFactor     float64
	OrderBookMinSamples int
}

// DefaultConfig returns the thresholds the engine ships with.
func DefaultConfig() Config {
	return Config{
		Patterns:     true,
		Indicators:   true,
		ATRAnomaly:   true,
		VolumeFilter: true,
		OrderBook:    true,

		RSIPeriod: 14,
		RSILow:    23.0,
		RSIHigh:   77.0,

		StochK:      14,
		StochD:      3,
		StochSmooth: 3,
		StochLow:    20.0,
		StochHigh:   80.0,

		TouchLookback: 120,
		TouchSpacing:  5,
		TouchCount:    3,

		ATRRatio: 0.65,

		MinCandlePct:     0.013,
		VolumeFactor:     2.0,
		VolumeWindow:     50,
		VolumeMinSamples: 10,

		DojiRatio: 0.1,

		OrderBookFactor:     2.0,
		OrderBookMinSamples: 5,
	}
}

// WithDetectors returns a copy of c with the detector switches replaced by
// flags. A nil flags keeps c unchanged.
func (c Config) WithDetectors(flags *models.DetectorFlags) Config {
	if flags == nil {
		return c
	}
	c.Patterns = flags.Patterns
	c.Indicators = flags.Indicators
	c.ATRAnomaly = flags.ATRAnomaly
	c.VolumeFilter = flags.VolumeFilter
	c.OrderBook = flags.OrderBook
	return c
}
