package access

import (
	"context"
	"log/slog"

	"approve-bot/internal/metrics"
)

// Decision is what the gate did with a join request.
type Decision string

const (
	Denied        Decision = "denied"
	Approved      Decision = "approved"
	ApproveFailed Decision = "approve_failed"
)

func (d Decision) String() string {
	return string(d)
}

type JoinRequest struct {
	ChatID    int64
	ChatTitle string
	UserID    int64
}

type ActiveChecker interface {
	IsActive(ctx context.Context, userID int64) bool
}

type Approver interface {
	Approve(ctx context.Context, chatID, userID int64) error
}

// Notifier sends direct messages. Delivery fails routinely for users who
// never opened a chat with the bot.
type Notifier interface {
	NotifyDenied(ctx context.Context, userID int64) error
	NotifyApproved(ctx context.Context, userID int64, chatTitle string) error
}

// Gate approves join requests from users with an active subscription.
type Gate struct {
	checker  ActiveChecker
	approver Approver
	notifier Notifier
	log      *slog.Logger
}

func NewGate(checker ActiveChecker, approver Approver, notifier Notifier, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{checker: checker, approver: approver, notifier: notifier, log: log}
}

// Handle decides a single join request. Approval is attempted once; a
// failure is logged and not retried.
func (g *Gate) Handle(ctx context.Context, req JoinRequest) Decision {
	d := g.handle(ctx, req)
	metrics.JoinRequestsTotal.WithLabelValues(d.String()).Inc()
	return d
}

func (g *Gate) handle(ctx context.Context, req JoinRequest) Decision {
	log := g.log.With("user_id", req.UserID, "chat_id", req.ChatID)

	if !g.checker.IsActive(ctx, req.UserID) {
		log.Info("Join request not approved: no active subscription")
		if err := g.notifier.NotifyDenied(ctx, req.UserID); err != nil {
			log.Debug("Denial notice not delivered", "error", err)
		}
		return Denied
	}

	if err := g.approver.Approve(ctx, req.ChatID, req.UserID); err != nil {
		log.Error("Failed to approve join request", "error", err)
		return ApproveFailed
	}

	log.Info("Join request approved")
	if err := g.notifier.NotifyApproved(ctx, req.UserID, req.ChatTitle); err != nil {
		log.Debug("Approval notice not delivered", "error", err)
	}
	return Approved
}
