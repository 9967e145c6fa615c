package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Strategy is an externally supplied watch definition: one worker runs per
// enabled strategy. A zero PollInterval means the orchestrator picks one from
// the timeframe.
type Strategy struct {
	Name         string        `json:"name" mapstructure:"name"`
	Symbol       string        `json:"symbol" mapstructure:"symbol"`
	Timeframe    Timeframe     `json:"timeframe" mapstructure:"timeframe"`
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`

	// Detectors overrides the global detector switches when set.
	Detectors *DetectorFlags `json:"detectors,omitempty" mapstructure:"detectors"`
}

// DetectorFlags switches detector families on or off.
type DetectorFlags struct {
	Patterns     bool `json:"patterns" mapstructure:"patterns"`
	Indicators   bool `json:"indicators" mapstructure:"indicators"`
	ATRAnomaly   bool `json:"atr_anomaly" mapstructure:"atr_anomaly"`
	VolumeFilter bool `json:"volume_filter" mapstructure:"volume_filter"`
	OrderBook    bool `json:"orderbook" mapstructure:"orderbook"`
}

// Key identifies the (symbol, timeframe) pair.
func (s Strategy) Key() string {
	return strings.ToUpper(s.Symbol) + "/" + string(s.Timeframe)
}

// Validate checks strategy field constraints.
func (s *Strategy) Validate() error {
	if s.Symbol == "" {
		return errors.New("strategy symbol must not be empty")
	}
	if err := s.Timeframe.Validate(); err != nil {
		return fmt.Errorf("strategy %s: %w", s.Symbol, err)
	}
	if s.PollInterval < 0 {
		return errors.New("strategy poll interval must not be negative")
	}
	return nil
}
