// Package indicator implements the technical indicators used by the rule
// engine as pure functions over candle series. Every function is total: it
// returns a series of the same length as its input, with undefined leading
// entries instead of an error when there is not enough history.
package indicator

// Value is one indicator output. Valid is false while the indicator is warming up.
type Value struct {
	V     float64
	Valid bool
}

// Series is an indicator output aligned index-for-index with its input.
type Series []Value

func undefined(n int) Series {
	return make(Series, n)
}

func defined(v float64) Value {
	return Value{V: v, Valid: true}
}

// At returns the value at i. ok is false for an undefined entry or when i is out of range.
func (s Series) At(i int) (float64, bool) {
	if i < 0 || i >= len(s) || !s[i].Valid {
		return 0, false
	}
	return s[i].V, true
}

// Last returns the newest value.
func (s Series) Last() (float64, bool) {
	return s.At(len(s) - 1)
}

// Prev returns the value before the newest one.
func (s Series) Prev() (float64, bool) {
	return s.At(len(s) - 2)
}

// Floats returns the raw values; undefined entries become 0.
func (s Series) Floats() []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = v.V
	}
	return out
}
