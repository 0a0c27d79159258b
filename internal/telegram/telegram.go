// Package telegram sends deadman alerts to a Telegram chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"deadman/internal/notifier"
	tele "gopkg.in/telebot.v4"
)

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int // forum topic; 0 for the main chat

	// URL overrides the Bot API endpoint (self-hosted API servers).
	URL string
}

// Sink is a notifier.Sink backed by a send-only bot. It never polls for updates.
type Sink struct {
	cfg Config
	bot *tele.Bot
}

func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	// Offline skips the getMe round trip; the token is checked on first send.
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.URL,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Sink{cfg: cfg, bot: b}, nil
}

func (s *Sink) Name() string { return "telegram" }

func (s *Sink) Send(ctx context.Context, a notifier.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.bot.Send(&tele.Chat{ID: s.cfg.ChatID}, Render(a), &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              s.cfg.ThreadID,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Render formats a as Telegram HTML.
func Render(a notifier.Alert) string {
	var icon string
	switch a.Severity {
	case notifier.SeverityCritical:
		icon = "🚨 "
	case notifier.SeverityWarning:
		icon = "⚠️ "
	default:
		icon = "ℹ️ "
	}

	var b strings.Builder
	b.WriteString(icon)
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(a.Watchdog))
	b.WriteString("</b>\n")
	b.WriteString(html.EscapeString(notifier.FormatText(a)))
	if !a.At.IsZero() {
		b.WriteString("\n<i>")
		b.WriteString(a.At.UTC().Format("2006-01-02 15:04:05 MST"))
		b.WriteString("</i>")
	}
	return b.String()
}
