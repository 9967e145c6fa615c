package indicator

// Stochastic returns the smoothed %K and %D lines.
//
// Raw %K is computed over a kPeriod window of highs/lows and is 50 when the
// window is flat. Smoothed %K is the SMA of raw %K over smooth, and %D is the
// SMA of smoothed %K over dPeriod. An SMA is only defined once its whole
// window is defined.
func Stochastic(highs, lows, closes []float64, kPeriod, dPeriod, smooth int) (k, d Series) {
	n := len(closes)
	if kPeriod < 1 || dPeriod < 1 || smooth < 1 || n < kPeriod || len(highs) < n || len(lows) < n {
		return undefined(n), undefined(n)
	}

	raw := undefined(n)
	for i := kPeriod - 1; i < n; i++ {
		hh, ll := highs[i], lows[i]
		for j := i - kPeriod + 1; j < i; j++ {
			hh = max(hh, highs[j])
			ll = min(ll, lows[j])
		}
		if hh == ll {
			raw[i] = defined(50.0)
			continue
		}
		raw[i] = defined((closes[i] - ll) / (hh - ll) * 100.0)
	}

	k = sma(raw, smooth)
	d = sma(k, dPeriod)
	return k, d
}

// sma averages the last period entries of s, skipping positions whose window
// contains an undefined value.
func sma(s Series, period int) Series {
	out := undefined(len(s))
	for i := period - 1; i < len(s); i++ {
		var sum float64
		ok := true
		for j := i - period + 1; j <= i; j++ {
			if !s[j].Valid {
				ok = false
				break
			}
			sum += s[j].V
		}
		if ok {
			out[i] = defined(sum / float64(period))
		}
	}
	return out
}
