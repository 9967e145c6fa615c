package rules

import "github.com/rewired-gh/candlesentry/internal/models"

const (
	PatternDoji               = "Doji"
	PatternBullishEngulfing   = "Bullish Engulfing"
	PatternBearishEngulfing   = "Bearish Engulfing"
	PatternThreeWhiteSoldiers = "Three White Soldiers"
	PatternThreeBlackCrows    = "Three Black Crows"
)

// DetectPatterns matches candlestick patterns on the last four candles and
// returns every pattern found. Fewer than four candles never match.
func (e *Engine) DetectPatterns(candles []models.Candle) []string {
	if len(candles) < 4 {
		return nil
	}
	c2, c3, c4 := candles[len(candles)-3], candles[len(candles)-2], candles[len(candles)-1]

	var out []string
	if r := c4.Range(); r > 0 && c4.Body()/r < e.cfg.DojiRatio {
		out = append(out, PatternDoji)
	}
	if c3.Close < c3.Open && c4.Close > c4.Open && c4.Close > c3.Open && c4.Open < c3.Close {
		out = append(out, PatternBullishEngulfing)
	}
	if c3.Close > c3.Open && c4.Close < c4.Open && c4.Close < c3.Open && c4.Open > c3.Close {
		out = append(out, PatternBearishEngulfing)
	}
	if rising(c2) && rising(c3) && rising(c4) {
		out = append(out, PatternThreeWhiteSoldiers)
	}
	if falling(c2) && falling(c3) && falling(c4) {
		out = append(out, PatternThreeBlackCrows)
	}
	return out
}

func rising(c models.Candle) bool  { return c.Close > c.Open }
func falling(c models.Candle) bool { return c.Close < c.Open }
