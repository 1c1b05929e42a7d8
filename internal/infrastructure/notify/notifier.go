package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers a text message to a user's chat. Delivery is best effort.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// LogNotifier writes messages to the log instead of a chat. Used by the simulator.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, chatID int64, text string) error {
	n.logger.Info("notification", zap.Int64("chat_id", chatID), zap.String("text", text))
	return nil
}
