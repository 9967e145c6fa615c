// Package levels derives the static A/C/D/F reference levels from the largest
// candle of a worker's initial window.
package levels

import "github.com/rewired-gh/candlesentry/internal/models"

// Anchor returns the candle with the largest effective range. The first
// candle wins ties. ok is false for an empty window.
func Anchor(candles []models.Candle) (models.Candle, bool) {
	if len(candles) == 0 {
		return models.Candle{}, false
	}
	best := 0
	bestSize := -1.0
	for i, c := range candles {
		if size := c.EffectiveRange(); size > bestSize {
			best, bestSize = i, size
		}
	}
	return candles[best], true
}

// FromCandle projects the levels from one anchor candle.
// Up candle: A=open, C=high. Down candle: A=low, C=open. D and F extend the
// A-C range once above C and once below A.
func FromCandle(c models.Candle) models.ReferenceLevels {
	var a, cc float64
	if c.IsBullish() {
		a, cc = c.Open, c.High
	} else {
		a, cc = c.Low, c.Open
	}
	rng := cc - a
	return models.ReferenceLevels{A: a, C: cc, D: cc + rng, F: a - rng}
}

// Compute returns the reference levels for an initial window, or nil when the
// window is empty.
func Compute(candles []models.Candle) *models.ReferenceLevels {
	anchor, ok := Anchor(candles)
	if !ok {
		return nil
	}
	l := FromCandle(anchor)
	return &l
}
