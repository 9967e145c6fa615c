package rules

import (
	"fmt"

	"github.com/rewired-gh/candlesentry/internal/models"
	"github.com/samber/lo"
)

// EvaluateOrderBook compares the latest best bid/ask quantity with the mean of
// the earlier samples in each window. Each side fires on its own once both
// windows hold OrderBookMinSamples samples.
func (e *Engine) EvaluateOrderBook(bids, asks []float64) []Signal {
	if !e.cfg.OrderBook {
		return nil
	}
	if len(bids) < e.cfg.OrderBookMinSamples || len(asks) < e.cfg.OrderBookMinSamples {
		return nil
	}
	var out []Signal
	if sig, ok := e.imbalance(bids, "bid1", models.RuleOrderBookBid); ok {
		out = append(out, sig)
	}
	if sig, ok := e.imbalance(asks, "ask1", models.RuleOrderBookAsk); ok {
		out = append(out, sig)
	}
	return out
}

func (e *Engine) imbalance(samples []float64, side string, rule models.Rule) (Signal, bool) {
	if len(samples) < 2 {
		return Signal{}, false
	}
	latest := samples[len(samples)-1]
	prior := samples[:len(samples)-1]
	avg := lo.Sum(prior) / float64(len(prior))
	if avg <= 0 || latest < e.cfg.OrderBookFactor*avg {
		return Signal{}, false
	}
	return Signal{
		Rule:         rule,
		Message:      fmt.Sprintf("Orderbook anomaly: %s qty %.6g (avg %.6g, x%.2f)", side, latest, avg, latest/avg),
		TriggerValue: latest,
	}, true
}
