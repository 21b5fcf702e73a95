package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"hushd/internal/notification"
	"hushd/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

// TelegramConfig maps pipeline users to Telegram chats.
type TelegramConfig struct {
	Token string
	// Recipients maps a user id to its chat. Users without an entry fall
	// back to DefaultChatID when it is set, otherwise the delivery fails.
	Recipients    map[string]int64
	DefaultChatID int64
}

// TelegramSink pushes deliveries to Telegram chats. Send-only: it never
// polls for updates.
type TelegramSink struct {
	cfg TelegramConfig
	bot *tele.Bot
	log logx.Logger
}

func NewTelegramSink(cfg TelegramConfig, log logx.Logger) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TelegramSink{cfg: cfg, bot: b, log: log}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Deliver(ctx context.Context, d Delivery) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	chatID, ok := s.cfg.Recipients[d.UserID]
	if !ok {
		chatID = s.cfg.DefaultChatID
	}
	if chatID == 0 {
		return fmt.Errorf("no telegram chat for user %q", d.UserID)
	}

	text := renderDelivery(d)
	if text == "" {
		return nil
	}

	_, err := s.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
		DisableWebPagePreview: true,
	})
	return err
}

// renderDelivery formats one delivery as a short plain-text message.
func renderDelivery(d Delivery) string {
	if d.Bundle != nil {
		var b strings.Builder
		fmt.Fprintf(&b, "%s %s\n", bundleEmoji, d.Bundle.Summary.Description)
		apps := make([]string, 0, len(d.Bundle.Summary.AppCounts))
		for app := range d.Bundle.Summary.AppCounts {
			apps = append(apps, app)
		}
		sort.Strings(apps)
		for _, app := range apps {
			fmt.Fprintf(&b, "• %s: %d\n", app, d.Bundle.Summary.AppCounts[app])
		}
		return strings.TrimRight(b.String(), "\n")
	}

	if d.Notification == nil {
		return ""
	}
	n := d.Notification

	var b strings.Builder
	b.WriteString(priorityEmoji(d.Priority))
	if n.AppName != "" {
		fmt.Fprintf(&b, "%s", n.AppName)
		if n.Sender != "" {
			fmt.Fprintf(&b, " — %s", n.Sender)
		}
		b.WriteString("\n")
	}
	b.WriteString(truncate(n.Text, telegramTextLimit))
	if d.Kind == KindQueued && !n.ReceivedAt.IsZero() {
		fmt.Fprintf(&b, "\n(received %s)", n.ReceivedAt.Format(time.Kitchen))
	}
	return b.String()
}

const (
	telegramTextLimit = 4000
	bundleEmoji       = "📬"
)

func priorityEmoji(p notification.Priority) string {
	switch p {
	case notification.PriorityCritical:
		return "🚨 "
	case notification.PriorityHigh:
		return "⚠️ "
	default:
		return ""
	}
}

func truncate(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit-1]) + "…"
}
