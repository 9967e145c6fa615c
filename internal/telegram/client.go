// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/candlesentry/internal/models"
)

// Telegram rejects photo captions longer than this.
const maxCaptionLen = 1024

const (
	defaultRecentAlerts = 5
	maxRecentAlerts     = 20
)

// AlertHistory is the alert journal behind the /recent and /clear commands.
type AlertHistory interface {
	RecentAlerts(k int) ([]models.AlertEvent, error)
	ClearAlerts() error
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	history        AlertHistory
}

// NewClient creates a new Telegram client. maxRetries applies to operational
// notices only; alerts are sent once.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

// SetHistory enables the /recent and /clear commands.
func (c *Client) SetHistory(h AlertHistory) {
	c.history = h
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	// Commands are only honoured in the configured chat.
	if msg.Chat == nil || msg.Chat.ID != c.chatID {
		return
	}
	text := c.commandReply(msg.Command(), msg.CommandArguments())
	if text == "" {
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	c.bot.Send(reply) //nolint:errcheck
}

// commandReply returns the plain-text answer to a bot command, or "" for
// commands the bot ignores.
func (c *Client) commandReply(command, args string) string {
	switch command {
	case "ping":
		return "Pong"
	case "recent":
		if c.history == nil {
			return "Alert history is disabled"
		}
		k := defaultRecentAlerts
		if args = strings.TrimSpace(args); args != "" {
			n, err := strconv.Atoi(args)
			if err != nil || n <= 0 {
				return "Usage: /recent [count]"
			}
			k = min(n, maxRecentAlerts)
		}
		alerts, err := c.history.RecentAlerts(k)
		if err != nil {
			return "Failed to read alerts: " + err.Error()
		}
		if len(alerts) == 0 {
			return "No alerts recorded"
		}
		var b strings.Builder
		for _, a := range alerts {
			fmt.Fprintf(&b, "%s %s %s [%s] %s\n",
				a.CreatedAt.UTC().Format("2006-01-02 15:04"), a.Symbol, a.Timeframe, a.Rule,
				strings.SplitN(a.Message, "\n", 2)[0])
		}
		return strings.TrimRight(b.String(), "\n")
	case "clear":
		if c.history == nil {
			return "Alert history is disabled"
		}
		if err := c.history.ClearAlerts(); err != nil {
			return "Failed to clear alerts: " + err.Error()
		}
		return "Alert history cleared"
	}
	return ""
}

// Notify delivers one alert: a photo with caption when a chart was rendered,
// a plain message otherwise. A failed send is returned, not retried.
func (c *Client) Notify(ctx context.Context, event models.AlertEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	text := formatAlert(event)
	var msg tgbotapi.Chattable
	if event.ChartPath != "" {
		photo := tgbotapi.NewPhoto(c.chatID, tgbotapi.FilePath(event.ChartPath))
		photo.Caption = truncate(text, maxCaptionLen)
		photo.ParseMode = tgbotapi.ModeMarkdownV2
		msg = photo
	} else {
		m := tgbotapi.NewMessage(c.chatID, text)
		m.ParseMode = tgbotapi.ModeMarkdownV2
		msg = m
	}

	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send %s %s: %w", event.Symbol, event.Rule, err)
	}
	return nil
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(source string, cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Polling error* %s\n`%s`",
		escapeMarkdownV2(source), escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(source string, failureCount int) error {
	text := fmt.Sprintf("✅ *Polling recovered* %s after %d consecutive failure\\(s\\)",
		escapeMarkdownV2(source), failureCount)
	return c.sendMarkdownV2(text)
}

// formatAlert formats an alert into a Telegram MarkdownV2 message.
func formatAlert(event models.AlertEvent) string {
	var b strings.Builder
	icon := "🔔"
	if event.Rule == models.RuleLevels {
		icon = "📌"
	}

	fmt.Fprintf(&b, "%s *%s %s*", icon,
		escapeMarkdownV2(strings.ToUpper(event.Symbol)), escapeMarkdownV2(event.Timeframe.String()))
	if event.StrategyName != "" {
		fmt.Fprintf(&b, " \\| %s", escapeMarkdownV2(event.StrategyName))
	}
	b.WriteString("\n\n")
	b.WriteString(escapeMarkdownV2(event.Message))
	b.WriteString("\n")

	if !event.CreatedAt.IsZero() {
		dateStr := escapeMarkdownV2(event.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(&b, "\n📅 %s UTC", dateStr)
	}
	return b.String()
}

// truncate cuts s to at most n runes without leaving a dangling escape.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	r = r[:n-1]
	for len(r) > 0 && r[len(r)-1] == '\\' {
		r = r[:len(r)-1]
	}
	return string(r) + "…"
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
