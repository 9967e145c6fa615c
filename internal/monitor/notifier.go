package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewired-gh/candlesentry/internal/logger"
	"github.com/rewired-gh/candlesentry/internal/metrics"
	"github.com/rewired-gh/candlesentry/internal/models"
)

// Notifier delivers one alert. Delivery is best effort: callers log a failure
// and move on, nothing is retried.
type Notifier interface {
	Notify(ctx context.Context, event models.AlertEvent) error
}

// StatusNotifier receives operational notices about a failing worker.
type StatusNotifier interface {
	SendError(source string, err error) error
	SendRecovery(source string, failureCount int) error
}

// Renderer produces a chart file for an alert.
type Renderer interface {
	Render(symbol string, tf models.Timeframe, candles []models.Candle, levels *models.ReferenceLevels) (string, error)
}

// DeliveryError reports a sink that failed to take an alert.
type DeliveryError struct {
	Sink string
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Sink, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// NamedNotifier labels a sink for logs and metrics.
type NamedNotifier struct {
	Name string
	Notifier
}

// Multi fans an alert out to every sink. Each sink is attempted once; failures
// are counted and joined into the returned error.
type Multi []NamedNotifier

func (m Multi) Notify(ctx context.Context, event models.AlertEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			metrics.IncDeliveryFailure(n.Name)
			errs = append(errs, &DeliveryError{Sink: n.Name, Err: err})
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes alerts to the log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event models.AlertEvent) error {
	logger.Info("ALERT %s %s [%s] %s (value %.6g, chart %q)",
		event.Symbol, event.Timeframe, event.Rule, event.Message, event.TriggerValue, event.ChartPath)
	return nil
}
