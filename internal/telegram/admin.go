package telegram

import (
	"context"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"approve-bot/internal/scheduler"
	"approve-bot/internal/subscription"
)

func (s *Service) handleSubInfo(ctx context.Context, msg *tgbotapi.Message) {
	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		s.reply(msg.Chat.ID, "Usage: /subinfo &lt;user_id&gt;")
		return
	}

	userID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		s.handleError(msg.Chat.ID, ErrInvalidInputf("subinfo argument %q", arg))
		return
	}

	st, err := s.subs.Status(ctx, userID)
	if err != nil {
		s.handleError(msg.Chat.ID, ErrDatabasef("status of %d: %v", userID, err))
		return
	}
	if st.State == subscription.StateNone {
		s.handleError(msg.Chat.ID, ErrUserNotFoundf("no subscription for %d", userID))
		return
	}

	text := "👤 <code>" + strconv.FormatInt(userID, 10) + "</code>\n" +
		"Plan id: <code>" + st.PlanID + "</code>\n\n" + statusText(st)
	s.reply(msg.Chat.ID, text)
}

func (s *Service) handleStats(ctx context.Context, msg *tgbotapi.Message) {
	now := time.Now().UTC()
	st, err := s.repo.Stats(ctx, now, now.Add(-24*time.Hour))
	if err != nil {
		s.handleError(msg.Chat.ID, ErrDatabasef("stats: %v", err))
		return
	}
	s.reply(msg.Chat.ID, scheduler.FormatStats("📊 Bot statistics", st))
}
