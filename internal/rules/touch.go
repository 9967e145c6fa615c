package rules

import "github.com/rewired-gh/candlesentry/internal/indicator"

// OutsideBand marks the entries of s that are defined and below low or above
// high.
func OutsideBand(s indicator.Series, low, high float64) []bool {
	out := make([]bool, len(s))
	for i, v := range s {
		out[i] = v.Valid && (v.V < low || v.V > high)
	}
	return out
}

// CountTouches counts touches in the last lookback entries of series that are
// at least spacing samples apart. Touches are accepted greedily: after one is
// accepted, the next must be spacing or more samples later.
func CountTouches(series []bool, lookback, spacing int) int {
	if lookback > 0 && len(series) > lookback {
		series = series[len(series)-lookback:]
	}
	count := 0
	last := 0
	for i, touched := range series {
		if !touched {
			continue
		}
		if count == 0 || i-last >= spacing {
			count++
			last = i
		}
	}
	return count
}

// Touches counts spaced touches with the engine's lookback and spacing.
func (e *Engine) Touches(series []bool) int {
	return CountTouches(series, e.cfg.TouchLookback, e.cfg.TouchSpacing)
}

// MultiTouch returns the spaced touch count and whether it reaches TouchCount.
func (e *Engine) MultiTouch(series []bool) (int, bool) {
	n := e.Touches(series)
	return n, n >= e.cfg.TouchCount
}
