// Package metrics exposes Prometheus counters for the polling engine.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlesentry_polls_total",
		Help: "Poll cycles by result",
	}, []string{"timeframe", "result"})

	closedCandlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlesentry_closed_candles_total",
		Help: "Newly closed candles processed",
	}, []string{"timeframe"})

	alertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlesentry_alerts_total",
		Help: "Alerts emitted by rule",
	}, []string{"rule"})

	providerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlesentry_provider_errors_total",
		Help: "Failed market-data fetches",
	}, []string{"provider", "op"})

	deliveryFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlesentry_delivery_failures_total",
		Help: "Alerts a sink failed to deliver",
	}, []string{"sink"})

	missedBarsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlesentry_missed_bars_total",
		Help: "Closed bars skipped between two polls",
	}, []string{"timeframe"})

	renderFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "candlesentry_render_failures_total",
		Help: "Charts that could not be rendered",
	})

	cycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "candlesentry_cycle_seconds",
		Help:    "Time spent in one poll cycle",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"timeframe"})

	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "candlesentry_active_workers",
		Help: "Workers currently running",
	})
)

// Poll results.
const (
	ResultOK      = "ok"
	ResultNoNew   = "no_new_candle"
	ResultError   = "error"
	ResultPanic   = "panic"
	ResultWarming = "initializing"
)

func ObservePoll(timeframe, result string, d time.Duration) {
	pollsTotal.WithLabelValues(timeframe, result).Inc()
	cycleDuration.WithLabelValues(timeframe).Observe(d.Seconds())
}

func IncClosedCandle(timeframe string) {
	closedCandlesTotal.WithLabelValues(timeframe).Inc()
}

func AddMissedBars(timeframe string, n int) {
	missedBarsTotal.WithLabelValues(timeframe).Add(float64(n))
}

func IncAlert(rule string) {
	alertsTotal.WithLabelValues(rule).Inc()
}

func IncProviderError(provider, op string) {
	providerErrorsTotal.WithLabelValues(provider, op).Inc()
}

func IncDeliveryFailure(sink string) {
	deliveryFailuresTotal.WithLabelValues(sink).Inc()
}

func IncRenderFailure() {
	renderFailuresTotal.Inc()
}

func WorkerStarted() { activeWorkers.Inc() }

func WorkerStopped() { activeWorkers.Dec() }

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
