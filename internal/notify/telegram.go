package notify

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/bhushan44/hospital-surgoen-sub005/internal/model"
)

type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramNotifier posts every new booking to one operations chat.
type TelegramNotifier struct {
	sender messageSender
	chatID int64
	logger *zap.Logger
}

// NewTelegramNotifier connects to the Bot API with token.
func NewTelegramNotifier(token string, chatID int64, logger *zap.Logger) (*TelegramNotifier, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return newTelegramNotifier(b, chatID, logger), nil
}

func newTelegramNotifier(sender messageSender, chatID int64, logger *zap.Logger) *TelegramNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelegramNotifier{sender: sender, chatID: chatID, logger: logger}
}

func (n *TelegramNotifier) BookingCreated(ctx context.Context, booking *model.Booking) error {
	_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   FormatBookingCreated(booking),
	})
	if err != nil {
		return fmt.Errorf("send booking notification: %w", err)
	}

	n.logger.Debug("Booking notification sent",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("chat_id", n.chatID))
	return nil
}

// Nop drops every notification.
type Nop struct{}

func (Nop) BookingCreated(context.Context, *model.Booking) error { return nil }
