package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (s *Service) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	if s.username == "" {
		s.handleError(msg.Chat.ID, NewBotError("CONFIG_ERROR", "Bot username unknown", "The bot is not fully configured yet. Please contact support.", "BOT_USERNAME is empty"))
		return
	}

	if !s.subs.IsActive(ctx, msg.From.ID) {
		s.reply(msg.Chat.ID, "🔒 <b>No active subscription found for this account.</b>\n\n"+
			"You need a plan to use the Auto Approve bot.\n"+
			"👉 Run /upgrade to purchase a plan,\n"+
			"then join requests will be approved automatically.")
		return
	}

	text := "Add this bot to your channel to accept join requests automatically 😊\n\n" +
		"➕ Just add me as admin with <b>Add Members</b> rights in your private " +
		"channel or group. I will auto-approve join requests from subscribers ✅"

	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Add to channel", addToChatURL(s.username, "startchannel")),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Add to group", addToChatURL(s.username, "startgroup")),
		),
	)
	s.send(msg.Chat.ID, text, &kb)
}

func addToChatURL(username, kind string) string {
	return fmt.Sprintf("https://t.me/%s?%s=auto_approve", username, kind)
}

func (s *Service) handleHelp(msg *tgbotapi.Message) {
	text := `🤖 <b>Auto Approve bot</b>

I approve join requests in your channels and groups for users with an active plan.

👤 Commands:
/start - add the bot to a channel or group
/upgrade - plans and purchase
/upgrade_status - your plan status
/help - this help`

	if s.isAdmin(msg.From.ID) {
		text += `

👑 Admin commands:
/subinfo &lt;user_id&gt; - subscription of a user
/stats - bot statistics`
	}

	s.reply(msg.Chat.ID, text)
}

func (s *Service) handleUpgradeStatus(ctx context.Context, msg *tgbotapi.Message) {
	s.reply(msg.Chat.ID, s.loadStatusText(ctx, msg.From.ID))
}
