package rules

import (
	"fmt"
	"math"
	"strings"

	"github.com/rewired-gh/candlesentry/internal/indicator"
	"github.com/rewired-gh/candlesentry/internal/models"
	"github.com/samber/lo"
)

// Signal is one fired detector. The worker turns it into an AlertEvent.
type Signal struct {
	Rule         models.Rule
	Message      string
	TriggerValue float64
}

// Engine evaluates the configured detectors. It holds no mutable state and is
// safe to share between workers.
type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// PassesVolumeGate reports whether the latest candle is large enough and
// traded on enough volume for the remaining detectors to run. A closed gate
// skips every other detector for this candle, order book included.
func (e *Engine) PassesVolumeGate(candles []models.Candle) bool {
	if !e.cfg.VolumeFilter {
		return true
	}
	if len(candles) == 0 {
		return false
	}
	return e.candleBigEnough(candles[len(candles)-1]) && e.volumeGrowthPassed(candles)
}

func (e *Engine) candleBigEnough(c models.Candle) bool {
	denom := math.Abs(c.Close)
	if c.Close == 0 {
		denom = math.Max(math.Abs(c.Open), 1e-9)
	}
	return c.EffectiveRange()/denom >= e.cfg.MinCandlePct
}

func (e *Engine) volumeGrowthPassed(candles []models.Candle) bool {
	w := e.cfg.VolumeWindow
	if len(candles) < w+1 {
		w = min(w, max(0, len(candles)-1))
		if w < e.cfg.VolumeMinSamples {
			return false
		}
	}
	if w <= 0 {
		return false
	}
	prior := candles[len(candles)-1-w : len(candles)-1]
	avg := lo.SumBy(prior, func(c models.Candle) float64 { return c.Volume }) / float64(len(prior))
	return avg > 0 && candles[len(candles)-1].Volume >= e.cfg.VolumeFactor*avg
}

// EvaluateCandles runs the candle-driven detectors over the window. prevDayATR
// is only consulted when hasATR is true and it is non-zero.
func (e *Engine) EvaluateCandles(candles []models.Candle, prevDayATR float64, hasATR bool) []Signal {
	if len(candles) == 0 {
		return nil
	}
	var out []Signal

	if e.cfg.Indicators {
		out = append(out, e.evaluateIndicators(candles)...)
	}

	if e.cfg.ATRAnomaly && hasATR && prevDayATR != 0 {
		if sig, ok := e.atrAnomaly(candles, prevDayATR); ok {
			out = append(out, sig)
		}
	}

	if e.cfg.Patterns {
		if pats := e.DetectPatterns(candles); len(pats) > 0 {
			out = append(out, Signal{
				Rule:         models.RulePattern,
				Message:      "Pattern(s): " + strings.Join(pats, ", "),
				TriggerValue: candles[len(candles)-1].Close,
			})
		}
	}
	return out
}

func (e *Engine) evaluateIndicators(candles []models.Candle) []Signal {
	closes := lo.Map(candles, func(c models.Candle, _ int) float64 { return c.Close })
	highs := lo.Map(candles, func(c models.Candle, _ int) float64 { return c.High })
	lows := lo.Map(candles, func(c models.Candle, _ int) float64 { return c.Low })

	var out []Signal

	rsi := indicator.RSI(closes, e.cfg.RSIPeriod)
	for _, sig := range crossSignals(rsi, e.cfg.RSILow, e.cfg.RSIHigh, "RSI") {
		sig.Rule = models.RuleRSICross
		out = append(out, sig)
	}

	k, _ := indicator.Stochastic(highs, lows, closes, e.cfg.StochK, e.cfg.StochD, e.cfg.StochSmooth)
	for _, sig := range crossSignals(k, e.cfg.StochLow, e.cfg.StochHigh, "Stoch %K") {
		sig.Rule = models.RuleStochCross
		out = append(out, sig)
	}

	if n, ok := e.MultiTouch(OutsideBand(rsi, e.cfg.RSILow, e.cfg.RSIHigh)); ok {
		out = append(out, Signal{
			Rule:         models.RuleRSITouch,
			Message:      fmt.Sprintf("RSI touched its band %d times", n),
			TriggerValue: float64(n),
		})
	}
	if n, ok := e.MultiTouch(OutsideBand(k, e.cfg.StochLow, e.cfg.StochHigh)); ok {
		out = append(out, Signal{
			Rule:         models.RuleStochTouch,
			Message:      fmt.Sprintf("Stoch touched its band %d times", n),
			TriggerValue: float64(n),
		})
	}
	return out
}

// crossSignals fires when the series moves from inside to beyond a threshold
// between the previous and the latest value. Staying beyond does not re-fire.
func crossSignals(s indicator.Series, low, high float64, name string) []Signal {
	cur, ok := s.Last()
	if !ok {
		return nil
	}
	prev, ok := s.Prev()
	if !ok {
		return nil
	}
	var out []Signal
	if prev >= low && cur < low {
		out = append(out, Signal{Message: fmt.Sprintf("%s < %g: %.6g", name, low, cur), TriggerValue: cur})
	}
	if prev <= high && cur > high {
		out = append(out, Signal{Message: fmt.Sprintf("%s > %g: %.6g", name, high, cur), TriggerValue: cur})
	}
	return out
}

func (e *Engine) atrAnomaly(candles []models.Candle, prevDayATR float64) (Signal, bool) {
	last := candles[len(candles)-1]
	prevClose := last.Close
	if len(candles) >= 2 {
		prevClose = candles[len(candles)-2].Close
	}
	tr := indicator.TrueRange(last.High, last.Low, prevClose)
	if tr < e.cfg.ATRRatio*prevDayATR {
		return Signal{}, false
	}
	return Signal{
		Rule:         models.RuleATRAnomaly,
		Message:      fmt.Sprintf("ATR anomaly %.6g (%.0f%% of daily ATR %.6g)", tr, tr/prevDayATR*100, prevDayATR),
		TriggerValue: tr,
	}, true
}
