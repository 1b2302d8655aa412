package telegram

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"approve-bot/internal/db"
	"approve-bot/internal/plans"
	"approve-bot/internal/subscription"
)

// BotAPI is the subset of *tgbotapi.BotAPI the service talks to.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Subscriptions is the engine as seen by the handlers.
type Subscriptions interface {
	IsActive(ctx context.Context, userID int64) bool
	Status(ctx context.Context, userID int64) (subscription.Status, error)
	GetOrCreatePaymentLink(ctx context.Context, userID int64, plan plans.Plan) subscription.LinkResult
	VerifyAndApply(ctx context.Context, userID int64, planID plans.ID) subscription.VerifyResult
	PaymentsEnabled() bool
}

type Repository interface {
	RegisterUser(ctx context.Context, tgID int64, username string) error
	Stats(ctx context.Context, now, since time.Time) (db.Stats, error)
}
