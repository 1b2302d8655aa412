package telegram

import (
	"context"
	"fmt"
	"html"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Approve implements access.Approver.
func (s *Service) Approve(ctx context.Context, chatID, userID int64) error {
	req := tgbotapi.ApproveChatJoinRequestConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
		UserID:     userID,
	}
	if _, err := s.bot.Request(req); err != nil {
		return fmt.Errorf("approve join request: %w", err)
	}
	return nil
}

// NotifyDenied implements access.Notifier. The user may never have started
// the bot, in which case Telegram rejects the message.
func (s *Service) NotifyDenied(ctx context.Context, userID int64) error {
	return s.reply(userID, "🔒 <b>No active subscription found.</b>\n\n"+
		"Your join request can't be approved automatically right now.\n"+
		"👉 Run /upgrade to purchase a plan,\n"+
		"then send the join request again.")
}

// NotifyApproved implements access.Notifier.
func (s *Service) NotifyApproved(ctx context.Context, userID int64, chatTitle string) error {
	return s.reply(userID, fmt.Sprintf("✅ Your request to join <b>%s</b> has been approved automatically.", html.EscapeString(chatTitle)))
}
