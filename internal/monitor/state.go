package monitor

import (
	"github.com/rewired-gh/candlesentry/internal/models"
	"github.com/rewired-gh/candlesentry/internal/window"
)

// State is the per-worker mutable record. It is owned by exactly one Worker
// and never shared, so it carries no locks.
type State struct {
	candles *window.Ring[models.Candle]
	bids    *window.Ring[float64]
	asks    *window.Ring[float64]

	lastTS  int64
	hasLast bool

	levels *models.ReferenceLevels

	prevDayATR float64
	hasATR     bool
}

// NewState allocates the candle window and the two order-book windows.
func NewState(maxCandles, orderBookWindow int) *State {
	return &State{
		candles: window.New[models.Candle](maxCandles),
		bids:    window.New[float64](orderBookWindow),
		asks:    window.New[float64](orderBookWindow),
	}
}

// AppendCandle adds c when its timestamp is newer than the last seen one and
// reports whether it did. Re-polling an already seen bar is a no-op.
func (s *State) AppendCandle(c models.Candle) bool {
	if s.hasLast && c.Timestamp <= s.lastTS {
		return false
	}
	s.candles.Push(c)
	s.lastTS = c.Timestamp
	s.hasLast = true
	return true
}

// Candles returns the window oldest first.
func (s *State) Candles() []models.Candle {
	return s.candles.Slice()
}

func (s *State) Len() int { return s.candles.Len() }

// LastSeen returns the newest appended timestamp.
func (s *State) LastSeen() (int64, bool) {
	return s.lastTS, s.hasLast
}

// SetLevels stores the reference levels. Only the first non-nil value sticks.
func (s *State) SetLevels(l *models.ReferenceLevels) bool {
	if s.levels != nil || l == nil {
		return false
	}
	cp := *l
	s.levels = &cp
	return true
}

// Levels returns a copy of the reference levels, or nil.
func (s *State) Levels() *models.ReferenceLevels {
	if s.levels == nil {
		return nil
	}
	cp := *s.levels
	return &cp
}

// PushOrderBook appends one top-of-book sample to both windows.
func (s *State) PushOrderBook(sample models.OrderBookSample) {
	s.bids.Push(sample.BidQty)
	s.asks.Push(sample.AskQty)
}

// OrderBook returns the bid and ask windows oldest first.
func (s *State) OrderBook() (bids, asks []float64) {
	return s.bids.Slice(), s.asks.Slice()
}

func (s *State) SetPrevDayATR(v float64, ok bool) {
	s.prevDayATR, s.hasATR = v, ok
}

func (s *State) PrevDayATR() (float64, bool) {
	return s.prevDayATR, s.hasATR
}
