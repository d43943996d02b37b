package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"botdash/internal/model"
)

const (
	actionSent    = "sent"
	actionDeleted = "deleted"
	actionOpen    = "open"
)

func (b *Bot) ack(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	b.ack(cb.ID, "")
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	action, id, ok := strings.Cut(cb.Data, ":")
	if !ok || id == "" {
		return
	}

	b.log.Info("callback",
		"action", action,
		"id", id,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	l, err := b.resolveListing(ctx, id)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	switch action {
	case actionSent:
		b.setStatus(ctx, chatID, l, model.StatusSent)
	case actionDeleted:
		b.setStatus(ctx, chatID, l, model.StatusDeleted)
	case actionOpen:
		b.setStatus(ctx, chatID, l, model.StatusOpen)
	default:
		if c, ok := model.ParseCategory(action); ok {
			b.setCategory(ctx, chatID, l, c)
		}
	}
}
