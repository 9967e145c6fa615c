package telegram

import (
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/candlesentry/internal/models"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"Hello_World", "Hello\\_World"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"Price: $100.50", "Price: $100\\.50"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"~strikethrough~", "\\~strikethrough\\~"},
		{"`code`", "\\`code\\`"},
		{">blockquote", "\\>blockquote"},
		{"#header", "\\#header"},
		{"+plus-minus", "\\+plus\\-minus"},
		{"=equal|pipe", "\\=equal\\|pipe"},
		{"{brace}", "\\{brace\\}"},
		{"end!", "end\\!"},
		{"a\\b", "a\\\\b"},
		{"", ""},
		{"RSI < 23: 21.5", "RSI < 23: 21\\.5"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFormatAlert(t *testing.T) {
	event := models.AlertEvent{
		StrategyName: "majors",
		Symbol:       "btcusdt",
		Timeframe:    models.Timeframe15m,
		Rule:         models.RuleRSICross,
		Message:      "RSI < 23: 21.5",
		CreatedAt:    time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
	}

	got := formatAlert(event)
	for _, want := range []string{"*BTCUSDT 15m*", "\\| majors", "RSI < 23: 21\\.5", "2024\\-03\\-01 12:30:00 UTC"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatAlert() = %q, missing %q", got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		n     int
		want  string
	}{
		{"short", "abc", 10, "abc"},
		{"cut", "abcdef", 4, "abc…"},
		{"dangling escape", "ab\\.cd", 4, "ab…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.input, tt.n); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
			}
		})
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	// The chat ID is parsed before any network call.
	_, err := NewClient("", "not-a-number", 3, time.Second)
	if err == nil {
		t.Error("Expected error for invalid chat ID, got nil")
	}
}

type fakeHistory struct {
	alerts  []models.AlertEvent
	asked   int
	cleared bool
}

func (h *fakeHistory) RecentAlerts(k int) ([]models.AlertEvent, error) {
	h.asked = k
	if k < len(h.alerts) {
		return h.alerts[:k], nil
	}
	return h.alerts, nil
}

func (h *fakeHistory) ClearAlerts() error {
	h.cleared = true
	h.alerts = nil
	return nil
}

func TestCommandReply(t *testing.T) {
	history := &fakeHistory{alerts: []models.AlertEvent{
		{Symbol: "BTCUSDT", Timeframe: models.Timeframe5m, Rule: models.RuleRSICross, Message: "RSI > 77: 78.2\nA 1 C 2", CreatedAt: time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)},
		{Symbol: "ETHUSDT", Timeframe: models.Timeframe1h, Rule: models.RulePattern, Message: "Pattern(s): Doji", CreatedAt: time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)},
	}}
	c := &Client{history: history}

	if got := c.commandReply("ping", ""); got != "Pong" {
		t.Errorf("ping = %q", got)
	}
	if got := c.commandReply("unknown", ""); got != "" {
		t.Errorf("unknown command should be ignored, got %q", got)
	}

	got := c.commandReply("recent", "")
	if history.asked != defaultRecentAlerts {
		t.Errorf("default count = %d, want %d", history.asked, defaultRecentAlerts)
	}
	want := "2026-01-02 03:04 BTCUSDT 5m [rsi_cross] RSI > 77: 78.2\n2026-01-02 03:00 ETHUSDT 1h [pattern] Pattern(s): Doji"
	if got != want {
		t.Errorf("recent =\n%q\nwant\n%q", got, want)
	}

	c.commandReply("recent", "500")
	if history.asked != maxRecentAlerts {
		t.Errorf("count should be capped at %d, got %d", maxRecentAlerts, history.asked)
	}
	if got := c.commandReply("recent", "abc"); !strings.HasPrefix(got, "Usage") {
		t.Errorf("bad argument reply = %q", got)
	}

	if got := c.commandReply("clear", ""); got != "Alert history cleared" || !history.cleared {
		t.Errorf("clear = %q, cleared = %v", got, history.cleared)
	}
	if got := c.commandReply("recent", ""); got != "No alerts recorded" {
		t.Errorf("recent after clear = %q", got)
	}
}

func TestCommandReply_NoHistory(t *testing.T) {
	c := &Client{}
	for _, cmd := range []string{"recent", "clear"} {
		if got := c.commandReply(cmd, ""); got != "Alert history is disabled" {
			t.Errorf("%s = %q", cmd, got)
		}
	}
}
