package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// botAPI is the part of *tgbotapi.BotAPI the bot uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// TelegramBot sends notifications and answers /start with the chat id, which
// is what users.tg_id must hold.
type TelegramBot struct {
	api    botAPI
	logger *zap.Logger
}

func NewTelegramBot(token string, logger *zap.Logger) (*TelegramBot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	logger.Info("telegram bot authorized", zap.String("username", api.Self.UserName))
	return &TelegramBot{api: api, logger: logger}, nil
}

func (b *TelegramBot) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram: send to %d: %w", chatID, err)
	}
	return nil
}

// Run long-polls updates until ctx is done.
func (b *TelegramBot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	b.logger.Info("telegram bot polling started")
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("telegram bot polling stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handle(update)
		}
	}
}

func (b *TelegramBot) handle(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || !msg.IsCommand() || msg.Command() != "start" {
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf("Hello! Your chat id is %d", msg.Chat.ID))
	reply.ReplyToMessageID = msg.MessageID
	if _, err := b.api.Send(reply); err != nil {
		b.logger.Warn("telegram: reply to /start failed", zap.Int64("chat_id", msg.Chat.ID), zap.Error(err))
	}
}
