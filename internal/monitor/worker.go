package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/candlesentry/internal/levels"
	"github.com/rewired-gh/candlesentry/internal/logger"
	"github.com/rewired-gh/candlesentry/internal/market"
	"github.com/rewired-gh/candlesentry/internal/metrics"
	"github.com/rewired-gh/candlesentry/internal/models"
	"github.com/rewired-gh/candlesentry/internal/rules"
)

// Phase is the worker lifecycle stage.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhasePolling
)

func (p Phase) String() string {
	if p == PhasePolling {
		return "polling"
	}
	return "initializing"
}

// WorkerConfig sizes one worker.
type WorkerConfig struct {
	Strategy        models.Strategy
	PollInterval    time.Duration
	InitCandles     int
	MaxCandles      int
	OrderBookWindow int
	ATRPeriod       int
	// ErrorNotifyAfter consecutive failed cycles send one error notice; 0 disables.
	ErrorNotifyAfter int
}

// Worker polls one (symbol, timeframe) pair. All of its state is private;
// the only things it shares with other workers are the provider, the engine
// and the sinks, which are safe for concurrent use.
type Worker struct {
	cfg      WorkerConfig
	key      string
	provider market.Provider
	engine   *rules.Engine
	renderer Renderer
	notifier Notifier
	status   StatusNotifier

	state    *State
	phase    Phase
	failures int
	lastErr  error

	now func() time.Time
}

// NewWorker wires a worker. renderer and status may be nil.
func NewWorker(cfg WorkerConfig, provider market.Provider, engine *rules.Engine, renderer Renderer, notifier Notifier, status StatusNotifier) *Worker {
	if cfg.InitCandles < 2 {
		cfg.InitCandles = 2
	}
	if cfg.MaxCandles < cfg.InitCandles {
		cfg.MaxCandles = cfg.InitCandles
	}
	if cfg.OrderBookWindow < 1 {
		cfg.OrderBookWindow = 1
	}
	if cfg.ATRPeriod < 1 {
		cfg.ATRPeriod = 14
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Worker{
		cfg:      cfg,
		key:      cfg.Strategy.Key(),
		provider: provider,
		engine:   engine,
		renderer: renderer,
		notifier: notifier,
		status:   status,
		state:    NewState(cfg.MaxCandles, cfg.OrderBookWindow),
		phase:    PhaseInitializing,
		now:      time.Now,
	}
}

func (w *Worker) Key() string { return w.key }

func (w *Worker) Phase() Phase { return w.phase }

// State exposes the worker state for inspection in tests.
func (w *Worker) State() *State { return w.state }

// Interval is the poll period.
func (w *Worker) Interval() time.Duration { return w.cfg.PollInterval }

// Run loops until ctx is cancelled. The first step runs immediately; later
// steps follow the poll interval. Run never returns an error for a failed
// cycle.
func (w *Worker) Run(ctx context.Context) error {
	metrics.WorkerStarted()
	defer metrics.WorkerStopped()

	logger.Info("Worker %s started (interval: %v)", w.key, w.cfg.PollInterval)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.Step(ctx)
		select {
		case <-ctx.Done():
			logger.Info("Worker %s stopped", w.key)
			return nil
		case <-ticker.C:
		}
	}
}

// Step runs one cycle for the current phase. Errors and panics stay inside.
func (w *Worker) Step(ctx context.Context) {
	start := w.now()
	result, err := w.safeCycle(ctx)
	metrics.ObservePoll(string(w.cfg.Strategy.Timeframe), result, time.Since(start))
	if ctx.Err() != nil {
		return
	}
	w.handleCycleResult(err)
}

func (w *Worker) safeCycle(ctx context.Context) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Worker %s cycle panicked: %v", w.key, r)
			result, err = metrics.ResultPanic, fmt.Errorf("cycle panicked: %v", r)
		}
	}()

	if w.phase == PhaseInitializing {
		if err := w.initialize(ctx); err != nil {
			return metrics.ResultWarming, err
		}
		w.phase = PhasePolling
		return metrics.ResultOK, nil
	}
	return w.poll(ctx)
}

func (w *Worker) handleCycleResult(err error) {
	if err != nil {
		w.failures++
		w.lastErr = err
		logger.Warn("Worker %s cycle skipped: %v", w.key, err)
		if w.status != nil && w.cfg.ErrorNotifyAfter > 0 && w.failures == w.cfg.ErrorNotifyAfter {
			if sendErr := w.status.SendError(w.key, err); sendErr != nil {
				logger.Warn("Failed to send error notification for %s: %v", w.key, sendErr)
			}
		}
		return
	}
	if w.status != nil && w.cfg.ErrorNotifyAfter > 0 && w.failures >= w.cfg.ErrorNotifyAfter {
		if sendErr := w.status.SendRecovery(w.key, w.failures); sendErr != nil {
			logger.Warn("Failed to send recovery notification for %s: %v", w.key, sendErr)
		}
	}
	w.failures = 0
	w.lastErr = nil
}

// initialize seeds the window from one batch, anchors the reference levels
// and caches the previous-day ATR. The newest candle of the batch is still
// forming and is left for the polling loop.
func (w *Worker) initialize(ctx context.Context) error {
	st := w.cfg.Strategy
	batch, err := w.provider.FetchCandles(ctx, st.Symbol, st.Timeframe, w.cfg.InitCandles)
	if err != nil {
		w.countProviderError(err)
		return fmt.Errorf("initial fetch: %w", err)
	}

	closed := batch
	if len(batch) >= 2 {
		closed = batch[:len(batch)-1]
	}
	for _, c := range closed {
		w.state.AppendCandle(c)
	}
	logger.Info("Worker %s seeded with %d candles", w.key, w.state.Len())

	if w.state.SetLevels(levels.Compute(batch)) {
		lv := w.state.Levels()
		w.emit(ctx, rules.Signal{
			Rule:         models.RuleLevels,
			Message:      "Starting levels: " + lv.String(),
			TriggerValue: lv.C,
		})
	}

	atr, ok, err := market.PreviousDayATR(ctx, w.provider, st.Symbol, w.cfg.ATRPeriod)
	if err != nil {
		w.countProviderError(err)
		logger.Warn("Worker %s previous-day ATR unavailable: %v", w.key, err)
	}
	w.state.SetPrevDayATR(atr, ok && err == nil)
	return nil
}

// poll fetches the two newest candles and evaluates the closed one if it is new.
func (w *Worker) poll(ctx context.Context) (string, error) {
	st := w.cfg.Strategy
	latest, err := w.provider.FetchCandles(ctx, st.Symbol, st.Timeframe, 2)
	if err != nil {
		w.countProviderError(err)
		return metrics.ResultError, err
	}
	if len(latest) == 0 {
		return metrics.ResultNoNew, nil
	}

	closed := latest[len(latest)-1]
	if len(latest) >= 2 {
		closed = latest[len(latest)-2]
	}
	prevSeen, hadPrev := w.state.LastSeen()
	if !w.state.AppendCandle(closed) {
		return metrics.ResultNoNew, nil
	}
	metrics.IncClosedCandle(string(st.Timeframe))
	if missed := missedBars(prevSeen, hadPrev, closed.Timestamp, st.Timeframe); missed > 0 {
		metrics.AddMissedBars(string(st.Timeframe), missed)
		logger.Warn("Worker %s missed %d closed bar(s) before %d", w.key, missed, closed.Timestamp)
	}

	candles := w.state.Candles()
	if !w.engine.PassesVolumeGate(candles) {
		logger.Debug("Worker %s candle %d filtered by volume gate", w.key, closed.Timestamp)
		return metrics.ResultOK, nil
	}

	atr, hasATR := w.state.PrevDayATR()
	signals := w.engine.EvaluateCandles(candles, atr, hasATR)

	if w.engine.Config().OrderBook {
		sample, err := w.provider.FetchTopOfBook(ctx, st.Symbol)
		if err != nil {
			w.countProviderError(err)
			logger.Warn("Worker %s order book skipped: %v", w.key, err)
		} else {
			w.state.PushOrderBook(sample)
			bids, asks := w.state.OrderBook()
			for _, sig := range w.engine.EvaluateOrderBook(bids, asks) {
				if lv := w.state.Levels(); lv != nil {
					sig.Message += "\n" + lv.String()
				}
				signals = append(signals, sig)
			}
		}
	}

	for _, sig := range signals {
		w.emit(ctx, sig)
	}
	return metrics.ResultOK, nil
}

// emit renders a chart and hands the alert to the notifier. A failed render
// still sends the text; a failed delivery is logged and dropped.
func (w *Worker) emit(ctx context.Context, sig rules.Signal) {
	st := w.cfg.Strategy
	candles := w.state.Candles()

	var chartPath string
	if w.renderer != nil && len(candles) > 0 {
		path, err := w.renderer.Render(st.Symbol, st.Timeframe, candles, w.state.Levels())
		if err != nil {
			metrics.IncRenderFailure()
			logger.Warn("Worker %s chart render failed, sending text only: %v", w.key, err)
		} else {
			chartPath = path
		}
	}

	event := models.AlertEvent{
		StrategyName: st.Name,
		Symbol:       strings.ToUpper(st.Symbol),
		Timeframe:    st.Timeframe,
		Rule:         sig.Rule,
		Message:      sig.Message,
		TriggerValue: sig.TriggerValue,
		ChartPath:    chartPath,
		CreatedAt:    w.now(),
	}
	metrics.IncAlert(string(sig.Rule))
	logger.Info("Worker %s alert [%s] %s", w.key, sig.Rule, sig.Message)

	if err := w.notifier.Notify(ctx, event); err != nil {
		logger.Error("Worker %s alert dropped: %v", w.key, err)
	}
}

// missedBars is the number of whole bars between the previous and the new
// closed candle that were never observed.
func missedBars(prevSeen int64, hadPrev bool, ts int64, tf models.Timeframe) int {
	step := tf.Duration().Milliseconds()
	if !hadPrev || step <= 0 || ts <= prevSeen {
		return 0
	}
	return int((ts-prevSeen)/step) - 1
}

func (w *Worker) countProviderError(err error) {
	var pe *market.ProviderError
	if errors.As(err, &pe) {
		metrics.IncProviderError(pe.Provider, pe.Op)
		return
	}
	metrics.IncProviderError(w.provider.Name(), "unknown")
}
