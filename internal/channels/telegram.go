package channels

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/yologdev/yoclaw/internal/session"
)

// telegramCharLimit is Telegram's single-message character cap.
const telegramCharLimit = 4096

// TelegramPlaceholder identifies a sent message for later edits.
type TelegramPlaceholder struct {
	ChatID    int64
	MessageID int
}

// TelegramAdapter is a long-polling Telegram Bot API adapter. No pack
// example grounds a Telegram client, so this follows
// go-telegram-bot-api/telegram-bot-api's own documented usage pattern
// (NewBotAPI, GetUpdatesChan, Send/EditMessageText) rather than any
// teacher file.
type TelegramAdapter struct {
	bot *tgbotapi.BotAPI
}

// NewTelegramAdapter builds a TelegramAdapter from a bot token.
func NewTelegramAdapter(token string) (*TelegramAdapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: new bot: %w", err)
	}
	return &TelegramAdapter{bot: bot}, nil
}

func (a *TelegramAdapter) Name() string { return "tg" }

func (a *TelegramAdapter) Start(ctx context.Context, handler func(IncomingMessage)) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := a.bot.GetUpdatesChan(cfg)

	for {
		select {
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return nil
		case upd := <-updates:
			if upd.Message == nil || upd.Message.Text == "" {
				continue
			}
			handler(IncomingMessage{
				SessionID:  session.BuildSessionID(session.TransportTelegram, strconv.FormatInt(upd.Message.Chat.ID, 10), ""),
				SenderID:   strconv.FormatInt(upd.Message.From.ID, 10),
				SenderName: upd.Message.From.UserName,
				Content:    upd.Message.Text,
				IsGroup:    upd.Message.Chat.IsGroup() || upd.Message.Chat.IsSuperGroup(),
			})
		}
	}
}

func (a *TelegramAdapter) Stop() error { return nil }

func (a *TelegramAdapter) Send(ctx context.Context, sessionID, text string) error {
	chatID, err := chatIDFromSession(sessionID)
	if err != nil {
		return err
	}
	_, err = a.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (a *TelegramAdapter) SendPlaceholder(ctx context.Context, sessionID, text string) (Placeholder, error) {
	chatID, err := chatIDFromSession(sessionID)
	if err != nil {
		return nil, err
	}
	msg, err := a.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return nil, err
	}
	return TelegramPlaceholder{ChatID: chatID, MessageID: msg.MessageID}, nil
}

func (a *TelegramAdapter) EditMessage(ctx context.Context, ph Placeholder, text string) error {
	p, ok := ph.(TelegramPlaceholder)
	if !ok {
		return fmt.Errorf("telegram: unexpected placeholder type %T", ph)
	}
	_, err := a.bot.Send(tgbotapi.NewEditMessageText(p.ChatID, p.MessageID, text))
	return err
}

func (a *TelegramAdapter) StartTyping(ctx context.Context, sessionID string) {
	chatID, err := chatIDFromSession(sessionID)
	if err != nil {
		return
	}
	_, _ = a.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
}

func (a *TelegramAdapter) CharLimit() int { return telegramCharLimit }

func chatIDFromSession(sessionID string) (int64, error) {
	raw := sessionID[len("tg-"):]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id in session %q: %w", sessionID, err)
	}
	return id, nil
}
