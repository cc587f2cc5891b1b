package notify

import (
	"context"
	"fmt"
	"sort"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// TelegramNotifier delivers notifications to one operator chat
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier connects the bot and verifies the token
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat_id is required")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}

	log.Info().
		Str("bot_username", api.Self.UserName).
		Int64("chat_id", chatID).
		Msg("telegram notifier ready")

	return &TelegramNotifier{api: api, chatID: chatID}, nil
}

// Send delivers one notification. tgbotapi is not context-aware; the
// context gates only the attempt, not the HTTP call.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, t.format(n))
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram notification: %w", err)
	}
	return nil
}

func (t *TelegramNotifier) format(n Notification) string {
	var marker string
	switch n.Severity {
	case SeverityCritical:
		marker = "🚨"
	case SeverityWarning:
		marker = "⚠️"
	default:
		marker = "ℹ️"
	}

	msg := fmt.Sprintf("%s *%s*\n\n%s", marker, n.Title, n.Message)

	if len(n.Fields) > 0 {
		keys := make([]string, 0, len(n.Fields))
		for k := range n.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		msg += "\n"
		for _, k := range keys {
			msg += fmt.Sprintf("\n• %s: `%v`", k, n.Fields[k])
		}
	}

	msg += fmt.Sprintf("\n\n_%s_", n.Timestamp.Format("2006-01-02 15:04:05 MST"))
	return msg
}
