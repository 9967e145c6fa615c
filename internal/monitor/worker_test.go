package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/candlesentry/internal/models"
	"github.com/rewired-gh/candlesentry/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── fakes ───────────────────────────────────────────────────────────────────

type fakeProvider struct {
	mu        sync.Mutex
	initial   []models.Candle
	polls     [][]models.Candle
	daily     []models.Candle
	books     []models.OrderBookSample
	failNext  int
	panicPoll bool
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) FetchCandles(_ context.Context, _ string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext > 0 {
		p.failNext--
		return nil, errors.New("provider down")
	}
	if tf == models.Timeframe1d {
		return p.daily, nil
	}
	if limit > 2 {
		return p.initial, nil
	}
	if p.panicPoll {
		panic("boom")
	}
	if len(p.polls) == 0 {
		return nil, nil
	}
	next := p.polls[0]
	if len(p.polls) > 1 {
		p.polls = p.polls[1:]
	}
	return next, nil
}

func (p *fakeProvider) FetchTopOfBook(context.Context, string) (models.OrderBookSample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.books) == 0 {
		return models.OrderBookSample{}, errors.New("no book")
	}
	next := p.books[0]
	p.books = p.books[1:]
	return next, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []models.AlertEvent
	err    error
}

func (n *fakeNotifier) Notify(_ context.Context, e models.AlertEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return n.err
}

func (n *fakeNotifier) byRule(rule models.Rule) []models.AlertEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.AlertEvent
	for _, e := range n.events {
		if e.Rule == rule {
			out = append(out, e)
		}
	}
	return out
}

type fakeRenderer struct {
	calls int
	err   error
}

func (r *fakeRenderer) Render(symbol string, tf models.Timeframe, _ []models.Candle, _ *models.ReferenceLevels) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return "/charts/" + symbol + "_" + string(tf) + ".png", nil
}

type fakeStatus struct {
	errors     int
	recoveries int
	lastCount  int
}

func (s *fakeStatus) SendError(string, error) error { s.errors++; return nil }

func (s *fakeStatus) SendRecovery(_ string, n int) error {
	s.recoveries++
	s.lastCount = n
	return nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func onlyRules(mutate func(*rules.Config)) *rules.Engine {
	cfg := rules.DefaultConfig()
	cfg.Patterns = false
	cfg.Indicators = false
	cfg.ATRAnomaly = false
	cfg.VolumeFilter = false
	cfg.OrderBook = false
	mutate(&cfg)
	return rules.New(cfg)
}

func testWorker(p *fakeProvider, engine *rules.Engine, r Renderer, n Notifier, s StatusNotifier) *Worker {
	w := NewWorker(WorkerConfig{
		Strategy:         models.Strategy{Name: "test", Symbol: "btcusdt", Timeframe: models.Timeframe5m, Enabled: true},
		PollInterval:     time.Minute,
		InitCandles:      50,
		MaxCandles:       200,
		OrderBookWindow:  30,
		ATRPeriod:        14,
		ErrorNotifyAfter: 2,
	}, p, engine, r, n, s)
	w.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return w
}

func candleAt(ts int64, o, h, l, c float64) models.Candle {
	return models.Candle{Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: 100}
}

func flatCandles(n int, startTS int64) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = candleAt(startTS+int64(i), 10, 10.5, 9.5, 10.2)
	}
	return out
}

// ─── scenarios ───────────────────────────────────────────────────────────────

func TestScenario_BullishEngulfing(t *testing.T) {
	inProgress := candleAt(4, 9.3, 9.5, 9.2, 9.4)
	p := &fakeProvider{
		initial: []models.Candle{
			candleAt(1, 10, 10.5, 9.5, 10.2),
			candleAt(2, 10.2, 10.4, 9.6, 9.8),
			candleAt(3, 9.8, 9.9, 9.3, 9.4),
			inProgress,
		},
		polls: [][]models.Candle{{
			candleAt(4, 9.3, 10.2, 9.2, 10.0),
			candleAt(5, 10.0, 10.1, 9.9, 10.05),
		}},
	}
	n := &fakeNotifier{}
	w := testWorker(p, onlyRules(func(c *rules.Config) { c.Patterns = true }), &fakeRenderer{}, n, nil)
	ctx := context.Background()

	w.Step(ctx)
	require.Equal(t, PhasePolling, w.Phase())
	assert.Equal(t, 3, w.State().Len(), "in-progress candle must not be seeded")
	assert.Len(t, n.byRule(models.RuleLevels), 1, "startup levels notification")

	w.Step(ctx)
	w.Step(ctx) // same poll again: nothing new

	pats := n.byRule(models.RulePattern)
	require.Len(t, pats, 1)
	assert.Contains(t, pats[0].Message, "Bullish Engulfing")
	assert.Equal(t, "BTCUSDT", pats[0].Symbol)
	assert.Equal(t, models.Timeframe5m, pats[0].Timeframe)
	assert.Equal(t, "/charts/btcusdt_5m.png", pats[0].ChartPath)
	assert.Equal(t, 4, w.State().Len())
}

func TestScenario_OrderBookImbalanceFiresOnFifthSample(t *testing.T) {
	p := &fakeProvider{initial: flatCandles(10, 1)}
	for i := 0; i < 5; i++ {
		ts := int64(10 + i)
		p.polls = append(p.polls, []models.Candle{candleAt(ts, 10, 10.5, 9.5, 10.2), candleAt(ts+1, 10, 10.5, 9.5, 10.2)})
	}
	for _, bid := range []float64{1, 1, 1, 1, 5} {
		p.books = append(p.books, models.OrderBookSample{BidQty: bid, AskQty: 1})
	}
	n := &fakeNotifier{}
	w := testWorker(p, onlyRules(func(c *rules.Config) { c.OrderBook = true }), nil, n, nil)
	ctx := context.Background()

	w.Step(ctx) // initialize
	for i := 0; i < 4; i++ {
		w.Step(ctx)
		assert.Empty(t, n.byRule(models.RuleOrderBookBid), "poll %d must not fire", i+1)
	}
	w.Step(ctx)

	bids := n.byRule(models.RuleOrderBookBid)
	require.Len(t, bids, 1)
	assert.Equal(t, 5.0, bids[0].TriggerValue)
	assert.Contains(t, bids[0].Message, "bid1 qty 5")
	assert.Contains(t, bids[0].Message, "A=", "levels appended")
	assert.Empty(t, n.byRule(models.RuleOrderBookAsk))
}

func TestScenario_VolumeGateSkipsOrderBook(t *testing.T) {
	p := &fakeProvider{
		initial: flatCandles(10, 1),
		polls:   [][]models.Candle{{candleAt(10, 10, 10.5, 9.5, 10.2), candleAt(11, 10, 10.5, 9.5, 10.2)}},
		books:   []models.OrderBookSample{{BidQty: 1, AskQty: 1}},
	}
	n := &fakeNotifier{}
	w := testWorker(p, onlyRules(func(c *rules.Config) {
		c.OrderBook = true
		c.VolumeFilter = true
	}), nil, n, nil)

	w.Step(context.Background())
	w.Step(context.Background())

	bids, _ := w.State().OrderBook()
	assert.Empty(t, bids, "order book must not be sampled behind a closed gate")
	assert.Len(t, p.books, 1)
}

// ─── worker behavior ─────────────────────────────────────────────────────────

func TestWorker_InitialFetchFailureRetried(t *testing.T) {
	p := &fakeProvider{initial: flatCandles(5, 1), failNext: 1}
	w := testWorker(p, onlyRules(func(*rules.Config) {}), nil, &fakeNotifier{}, nil)

	w.Step(context.Background())
	assert.Equal(t, PhaseInitializing, w.Phase())

	w.Step(context.Background())
	assert.Equal(t, PhasePolling, w.Phase())
	assert.Equal(t, 4, w.State().Len())
}

func TestWorker_ErrorAndRecoveryNotices(t *testing.T) {
	p := &fakeProvider{initial: flatCandles(5, 1)}
	s := &fakeStatus{}
	w := testWorker(p, onlyRules(func(*rules.Config) {}), nil, &fakeNotifier{}, s)
	ctx := context.Background()

	w.Step(ctx)
	p.failNext = 3
	w.Step(ctx)
	w.Step(ctx)
	w.Step(ctx)
	assert.Equal(t, 1, s.errors, "one notice per failure streak")
	assert.Equal(t, 0, s.recoveries)

	w.Step(ctx)
	assert.Equal(t, 1, s.recoveries)
	assert.Equal(t, 3, s.lastCount)
}

func TestWorker_RenderFailureStillNotifies(t *testing.T) {
	p := &fakeProvider{initial: flatCandles(5, 1)}
	n := &fakeNotifier{}
	w := testWorker(p, onlyRules(func(*rules.Config) {}), &fakeRenderer{err: errors.New("disk full")}, n, nil)

	w.Step(context.Background())

	levels := n.byRule(models.RuleLevels)
	require.Len(t, levels, 1)
	assert.Empty(t, levels[0].ChartPath)
	assert.True(t, strings.HasPrefix(levels[0].Message, "Starting levels"))
}

func TestWorker_DeliveryFailureIsDropped(t *testing.T) {
	p := &fakeProvider{initial: flatCandles(5, 1)}
	n := &fakeNotifier{err: errors.New("telegram down")}
	w := testWorker(p, onlyRules(func(*rules.Config) {}), nil, n, nil)

	w.Step(context.Background())
	assert.Equal(t, PhasePolling, w.Phase())
	assert.Len(t, n.events, 1, "attempted exactly once")
}

func TestWorker_PanicRecovered(t *testing.T) {
	p := &fakeProvider{initial: flatCandles(5, 1), panicPoll: true}
	w := testWorker(p, onlyRules(func(*rules.Config) {}), nil, &fakeNotifier{}, nil)

	w.Step(context.Background())
	assert.NotPanics(t, func() { w.Step(context.Background()) })
	assert.Equal(t, PhasePolling, w.Phase())
	assert.Equal(t, 1, w.failures)
	assert.ErrorContains(t, w.lastErr, "cycle panicked")
}

func TestWorker_PanicDoesNotEndFailureStreak(t *testing.T) {
	p := &fakeProvider{initial: flatCandles(5, 1)}
	s := &fakeStatus{}
	w := testWorker(p, onlyRules(func(*rules.Config) {}), nil, &fakeNotifier{}, s)
	ctx := context.Background()

	w.Step(ctx)
	p.failNext = 2
	w.Step(ctx)
	w.Step(ctx)
	require.Equal(t, 1, s.errors)

	p.panicPoll = true
	w.Step(ctx)
	assert.Equal(t, 3, w.failures)
	assert.Equal(t, 1, s.errors)
	assert.Equal(t, 0, s.recoveries, "a panicking cycle is not a recovery")
}

func TestWorker_PreviousDayATRCached(t *testing.T) {
	daily := make([]models.Candle, 20)
	for i := range daily {
		daily[i] = candleAt(int64(i), 100, 104, 98, 101)
	}
	p := &fakeProvider{initial: flatCandles(5, 1), daily: daily}
	w := testWorker(p, onlyRules(func(*rules.Config) {}), nil, &fakeNotifier{}, nil)

	w.Step(context.Background())
	atr, ok := w.State().PrevDayATR()
	require.True(t, ok)
	assert.InDelta(t, 6.0, atr, 1e-9)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	p := &fakeProvider{initial: flatCandles(5, 1)}
	w := testWorker(p, onlyRules(func(*rules.Config) {}), nil, &fakeNotifier{}, nil)
	w.cfg.PollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestMissedBars(t *testing.T) {
	const step = int64(5 * 60 * 1000)
	tests := []struct {
		name    string
		prev    int64
		hadPrev bool
		ts      int64
		want    int
	}{
		{"first candle", 0, false, step, 0},
		{"next bar", step, true, 2 * step, 0},
		{"two bars skipped", step, true, 4 * step, 2},
		{"older timestamp", 4 * step, true, step, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, missedBars(tt.prev, tt.hadPrev, tt.ts, models.Timeframe5m))
		})
	}
	assert.Equal(t, 0, missedBars(0, true, 10*step, models.Timeframe("7m")), "unknown timeframe")
}
