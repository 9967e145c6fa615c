package monitor

import (
	"context"
	"strings"
	"time"

	"github.com/rewired-gh/candlesentry/internal/logger"
	"github.com/rewired-gh/candlesentry/internal/market"
	"github.com/rewired-gh/candlesentry/internal/models"
	"github.com/rewired-gh/candlesentry/internal/rules"
	"golang.org/x/sync/errgroup"
)

// Options configures the orchestrator.
type Options struct {
	Rules          rules.Config
	FastTimeframes []models.Timeframe
	PollFast       time.Duration
	PollSlow       time.Duration

	InitCandles      int
	MaxCandles       int
	OrderBookWindow  int
	ATRPeriod        int
	ErrorNotifyAfter int
}

// Orchestrator starts one worker per strategy and waits for all of them.
type Orchestrator struct {
	opts     Options
	provider market.Provider
	renderer Renderer
	notifier Notifier
	status   StatusNotifier
	workers  []*Worker
}

// NewOrchestrator builds a worker for every enabled strategy. The provider,
// renderer and sinks are shared by all workers.
func NewOrchestrator(opts Options, strategies []models.Strategy, provider market.Provider, renderer Renderer, notifier Notifier, status StatusNotifier) *Orchestrator {
	o := &Orchestrator{
		opts:     opts,
		provider: provider,
		renderer: renderer,
		notifier: notifier,
		status:   status,
	}
	for _, st := range strategies {
		if !st.Enabled {
			continue
		}
		engine := rules.New(opts.Rules.WithDetectors(st.Detectors))
		o.workers = append(o.workers, NewWorker(WorkerConfig{
			Strategy:         st,
			PollInterval:     o.PollInterval(st),
			InitCandles:      opts.InitCandles,
			MaxCandles:       opts.MaxCandles,
			OrderBookWindow:  opts.OrderBookWindow,
			ATRPeriod:        opts.ATRPeriod,
			ErrorNotifyAfter: opts.ErrorNotifyAfter,
		}, provider, engine, renderer, notifier, status))
	}
	return o
}

// PollInterval returns the strategy's explicit interval, else the fast one
// for short timeframes and the slow one otherwise.
func (o *Orchestrator) PollInterval(st models.Strategy) time.Duration {
	if st.PollInterval > 0 {
		return st.PollInterval
	}
	for _, tf := range o.opts.FastTimeframes {
		if tf == st.Timeframe {
			return o.opts.PollFast
		}
	}
	return o.opts.PollSlow
}

func (o *Orchestrator) Workers() []*Worker { return o.workers }

// Run blocks until ctx is cancelled and every worker has returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	logger.Info("Starting %d workers on %s", len(o.workers), o.provider.Name())

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range o.workers {
		w := w
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}

// Strategies merges explicit strategies with the symbols x timeframes
// expansion. Explicit entries win for their (symbol, timeframe) pair, and a
// disabled explicit entry suppresses the expanded one.
func Strategies(symbols []string, timeframes []models.Timeframe, explicit []models.Strategy) []models.Strategy {
	var out []models.Strategy
	seen := make(map[string]bool)
	add := func(st models.Strategy) {
		st.Symbol = strings.ToUpper(strings.TrimSpace(st.Symbol))
		if st.Symbol == "" || seen[st.Key()] {
			return
		}
		seen[st.Key()] = true
		if !st.Enabled {
			return
		}
		if st.Name == "" {
			st.Name = st.Key()
		}
		out = append(out, st)
	}

	for _, st := range explicit {
		add(st)
	}
	for _, sym := range symbols {
		for _, tf := range timeframes {
			add(models.Strategy{Symbol: sym, Timeframe: tf, Enabled: true})
		}
	}
	return out
}
