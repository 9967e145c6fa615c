package models

import (
	"errors"
	"time"
)

// Rule identifies the detector that produced an alert.
type Rule string

const (
	RuleLevels       Rule = "levels"
	RuleRSICross     Rule = "rsi_cross"
	RuleStochCross   Rule = "stoch_cross"
	RuleRSITouch     Rule = "rsi_touch"
	RuleStochTouch   Rule = "stoch_touch"
	RuleATRAnomaly   Rule = "atr_anomaly"
	RulePattern      Rule = "pattern"
	RuleOrderBookBid Rule = "orderbook_bid"
	RuleOrderBookAsk Rule = "orderbook_ask"
)

// AlertEvent is what a worker hands to the notifier sinks. It is built once per
// fired detector and never mutated afterwards. ChartPath is empty when the
// chart could not be rendered.
type AlertEvent struct {
	ID           string    `json:"id,omitempty"`
	StrategyName string    `json:"strategy"`
	Symbol       string    `json:"symbol"`
	Timeframe    Timeframe `json:"timeframe"`
	Rule         Rule      `json:"rule"`
	Message      string    `json:"message"`
	TriggerValue float64   `json:"trigger_value"`
	ChartPath    string    `json:"chart_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks alert field constraints.
func (e *AlertEvent) Validate() error {
	if e.Symbol == "" {
		return errors.New("alert symbol must not be empty")
	}
	if err := e.Timeframe.Validate(); err != nil {
		return err
	}
	if e.Rule == "" {
		return errors.New("alert rule must not be empty")
	}
	if e.Message == "" {
		return errors.New("alert message must not be empty")
	}
	if e.CreatedAt.IsZero() {
		return errors.New("alert created at must be set")
	}
	return nil
}
