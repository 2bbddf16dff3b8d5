package dispatch

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/inkwell-app/remindd/internal/format"
	"github.com/inkwell-app/remindd/internal/models"
	"github.com/inkwell-app/remindd/internal/recurrence"
)

// Telegram sends reminder notifications through a Telegram bot. A reminder
// whose Recipient parses as a chat id is delivered there instead of the
// default chat.
type Telegram struct {
	api           *tgbotapi.BotAPI
	defaultChatID int64
}

func NewTelegram(token string, defaultChatID int64) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram API: %w", err)
	}
	return &Telegram{api: api, defaultChatID: defaultChatID}, nil
}

func (d *Telegram) Name() string { return "telegram" }

func (d *Telegram) Dispatch(ctx context.Context, r *models.Reminder) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	chatID := d.defaultChatID
	if r.Recipient != "" {
		id, err := strconv.ParseInt(r.Recipient, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: recipient %q is not a chat id", models.ErrInvalidConfig, r.Recipient)
		}
		chatID = id
	}
	if chatID == 0 {
		return fmt.Errorf("%w: no recipient chat id", models.ErrInvalidConfig)
	}

	text := "⏰ " + r.Message
	if r.EntryRef != "" {
		text += "\n\n📓 " + r.EntryRef
	}
	if r.IsRecurring() {
		text += "\n🔄 " + recurrence.HumanReadable(r)
	}

	// Entry text may carry Markdown from the journal editor.
	body := format.Render(text)
	msg := tgbotapi.NewMessage(chatID, body.Text)
	msg.Entities = body.Entities
	if _, err := d.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send reminder notification: %w", err)
	}
	return nil
}
