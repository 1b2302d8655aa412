package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"approve-bot/internal/plans"
	"approve-bot/internal/subscription"
)

const paymentsOffText = "❌ Payments are not configured on this bot.\nPlease contact support."

func backToPlansRow() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Back to Plans", CallbackPlansRoot.String()),
	)
}

func backToPlansKeyboard() *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(backToPlansRow())
	return &kb
}

// loadStatusText renders the user's subscription state, or a retry notice
// when the store cannot be read.
func (s *Service) loadStatusText(ctx context.Context, userID int64) string {
	st, err := s.subs.Status(ctx, userID)
	if err != nil {
		slog.Error("Failed to load subscription status", "user_id", userID, "error", err)
		return "⚠️ Couldn't load your plan status right now. Please try again in a minute."
	}
	return statusText(st)
}

// showPlansRoot sends the status and plan overview, editing origin in place
// when the request came from a button.
func (s *Service) showPlansRoot(ctx context.Context, userID, chatID int64, origin *tgbotapi.Message) {
	text := s.loadStatusText(ctx, userID) + "\n\n" + plansHeaderText(s.cfg.BrandName, s.catalog.All(), s.cfg.Currency)

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, plan := range s.catalog.All() {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("View "+plan.Label, CallbackPlanDetails.WithPlan(plan.ID)),
		))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)

	if origin != nil {
		s.edit(origin, text, &kb)
		return
	}
	s.send(chatID, text, &kb)
}

func (s *Service) showPlanDetails(origin *tgbotapi.Message, planID plans.ID) {
	plan, err := s.catalog.Get(planID)
	if err != nil {
		s.handleError(origin.Chat.ID, ErrPlanNotFoundf("plan %q: %v", planID, err))
		return
	}

	kb := tgbotapi.NewInlineKeyboardMarkup(
		backToPlansRow(),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💳 Buy "+priceTag(plan, s.cfg.Currency), CallbackBuy.WithPlan(plan.ID)),
		),
	)
	s.edit(origin, planDetailsText(plan, s.cfg.Currency), &kb)
}

func (s *Service) handleBuy(ctx context.Context, cb *tgbotapi.CallbackQuery, planID plans.ID) {
	plan, err := s.catalog.Get(planID)
	if err != nil {
		s.handleError(cb.Message.Chat.ID, ErrPlanNotFoundf("plan %q: %v", planID, err))
		return
	}

	if !s.subs.PaymentsEnabled() {
		s.edit(cb.Message, paymentsOffText, backToPlansKeyboard())
		return
	}

	res := s.subs.GetOrCreatePaymentLink(ctx, cb.From.ID, plan)

	switch res.Outcome {
	case subscription.LinkNotConfigured:
		s.edit(cb.Message, paymentsOffText, backToPlansKeyboard())
		return
	case subscription.LinkUnavailable:
		s.edit(cb.Message, "❌ Unable to create payment link right now.\n"+
			"The payment service may be busy.\n"+
			"⏳ Please try again in a few minutes.", backToPlansKeyboard())
		return
	}

	title := "🔗 <b>Payment Link Created</b>"
	if res.Outcome == subscription.LinkReused {
		title = "🔗 <b>Your Payment Link</b>"
	}
	text := fmt.Sprintf("%s\nPlan: %s (%s)\n\nAfter completing the payment, don't forget to press <b>Verify</b>.",
		title, html.EscapeString(plan.Label), priceTag(plan, s.cfg.Currency))

	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("💳 Pay Now", res.URL)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✅ I have paid, Verify", CallbackVerify.WithPlan(plan.ID))),
		backToPlansRow(),
	)
	s.edit(cb.Message, text, &kb)
}

func (s *Service) handleVerify(ctx context.Context, cb *tgbotapi.CallbackQuery, planID plans.ID) {
	userID := cb.From.ID
	res := s.subs.VerifyAndApply(ctx, userID, planID)

	switch res.Outcome {
	case subscription.VerifyApplied:
		text := fmt.Sprintf("✅ <b>Payment verified successfully!</b>\n\nYour plan is now active until: <code>%s</code>\n\n"+
			"Join requests in your chats will now be approved automatically. 🎉", formatExpiry(res.ExpiresAt))
		s.edit(cb.Message, text, backToPlansKeyboard())

	case subscription.VerifyAlreadyVerified:
		s.edit(cb.Message, "✅ Payment already verified.\n\n"+s.loadStatusText(ctx, userID), backToPlansKeyboard())

	case subscription.VerifyPending:
		status := res.ProviderStatus
		if status == "" {
			status = "unknown"
		}
		var rows [][]tgbotapi.InlineKeyboardButton
		if res.PaymentURL != "" {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("💳 Pay Now", res.PaymentURL)))
		}
		rows = append(rows, backToPlansRow())
		kb := tgbotapi.NewInlineKeyboardMarkup(rows...)

		text := fmt.Sprintf("⚠️ Payment is not completed yet.\nCurrent status: <code>%s</code>.\n\n"+
			"Please finish payment using <b>Pay Now</b>, then press <b>Verify</b> again.", html.EscapeString(status))
		s.edit(cb.Message, text, &kb)

	case subscription.VerifyNoLink:
		s.edit(cb.Message, "❌ No recent payment link found for this plan.\nUse /upgrade and buy again.", backToPlansKeyboard())

	case subscription.VerifyInvalidLink:
		s.edit(cb.Message, "❌ This payment link record is invalid.\nPlease create a new one via /upgrade.", backToPlansKeyboard())

	case subscription.VerifyNotConfigured:
		s.edit(cb.Message, paymentsOffText, backToPlansKeyboard())

	default:
		s.edit(cb.Message, "⚠️ Couldn't verify your payment right now.\nPlease press <b>Verify</b> again in a minute.", retryKeyboard(planID))
	}
}

func retryKeyboard(planID plans.ID) *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔄 Verify again", CallbackVerify.WithPlan(planID))),
		backToPlansRow(),
	)
	return &kb
}
