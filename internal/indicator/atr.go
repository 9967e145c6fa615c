package indicator

import "math"

// TrueRange is the largest of high-low, |high-prevClose| and |low-prevClose|.
func TrueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// ATR calculates the Average True Range with Wilder smoothing.
// Index 0 has no previous close, so the seed is the mean of TR[1..period] and
// lands at index period: ATR = (prevATR*(period-1) + TR) / period afterwards.
func ATR(highs, lows, closes []float64, period int) Series {
	n := len(closes)
	out := undefined(n)
	if period < 1 || n < period+1 || len(highs) < n || len(lows) < n {
		return out
	}

	var sum float64
	for i := 1; i <= period; i++ {
		sum += TrueRange(highs[i], lows[i], closes[i-1])
	}
	atr := sum / float64(period)
	out[period] = defined(atr)

	p := float64(period)
	for i := period + 1; i < n; i++ {
		tr := TrueRange(highs[i], lows[i], closes[i-1])
		atr = (atr*(p-1) + tr) / p
		out[i] = defined(atr)
	}
	return out
}
