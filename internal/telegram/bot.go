package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"approve-bot/internal/access"
	"approve-bot/internal/config"
	"approve-bot/internal/plans"
)

const handlerTimeout = 60 * time.Second

type Service struct {
	bot      BotAPI
	repo     Repository
	subs     Subscriptions
	catalog  *plans.Catalog
	gate     *access.Gate
	cfg      *config.Config
	username string

	wg sync.WaitGroup
}

func New(cfg *config.Config, repo Repository, subs Subscriptions, catalog *plans.Catalog) (*Service, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	bot.Debug = false

	// long polling needs the webhook removed
	_, err = bot.Request(tgbotapi.DeleteWebhookConfig{})
	if err != nil {
		slog.Warn("Failed to delete webhook", "error", err)
	} else {
		slog.Info("Webhook deleted, using long polling")
	}

	slog.Info("Authorized as telegram bot", "username", bot.Self.UserName)

	username := cfg.BotUsername
	if username == "" {
		username = bot.Self.UserName
	}

	service := newService(bot, cfg, repo, subs, catalog, username)

	err = service.setCommands()
	if err != nil {
		slog.Warn("Failed to set command menu", "error", err)
	}

	return service, nil
}

func newService(bot BotAPI, cfg *config.Config, repo Repository, subs Subscriptions, catalog *plans.Catalog, username string) *Service {
	s := &Service{
		bot:      bot,
		repo:     repo,
		subs:     subs,
		catalog:  catalog,
		cfg:      cfg,
		username: username,
	}
	s.gate = access.NewGate(subs, s, s, slog.Default())
	return s
}

func (s *Service) Bot() BotAPI {
	return s.bot
}

// NotifyAdmin sends a plain message to the super admin, if one is set.
func (s *Service) NotifyAdmin(text string) {
	adminID := s.cfg.SuperAdmin()
	if adminID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(adminID, text)
	if _, err := s.bot.Send(msg); err != nil {
		slog.Warn("Failed to notify admin", "error", err)
	}
}

// Start polls for updates until ctx is cancelled. Every update runs in its
// own goroutine; Start waits for in-flight handlers before returning.
func (s *Service) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "callback_query", "chat_join_request"}

	updates := s.bot.GetUpdatesChan(u)
	defer s.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			s.bot.StopReceivingUpdates()
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.dispatch(ctx, upd)
			}()
		}
	}
}

func (s *Service) dispatch(ctx context.Context, upd tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic in update handler", "update_id", upd.UpdateID, "panic", r)
			sentry.CurrentHub().Recover(r)
		}
	}()

	hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()
	s.handleUpdate(hctx, upd)
}

func (s *Service) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil && upd.Message.From != nil {
		if err := s.repo.RegisterUser(ctx, upd.Message.From.ID, upd.Message.From.UserName); err != nil {
			slog.Warn("Failed to register user", "user_id", upd.Message.From.ID, "error", err)
		}

		if upd.Message.IsCommand() {
			s.handleCommand(ctx, upd.Message)
		}
		return
	}

	if upd.CallbackQuery != nil {
		s.handleCallbackQuery(ctx, upd.CallbackQuery)
		return
	}

	if req := upd.ChatJoinRequest; req != nil {
		s.gate.Handle(ctx, access.JoinRequest{
			ChatID:    req.Chat.ID,
			ChatTitle: req.Chat.Title,
			UserID:    req.From.ID,
		})
	}
}

func (s *Service) handleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	data := callback.Data
	// stop the button spinner right away; provider calls can take seconds
	s.answerCallback(callback.ID, "")

	if callback.Message == nil {
		return
	}

	if data == CallbackPlansRoot.String() {
		s.showPlansRoot(ctx, callback.From.ID, callback.Message.Chat.ID, callback.Message)
		return
	}

	if planID, ok := CallbackPlanDetails.ParsePlan(data); ok {
		s.showPlanDetails(callback.Message, planID)
		return
	}

	if planID, ok := CallbackBuy.ParsePlan(data); ok {
		s.handleBuy(ctx, callback, planID)
		return
	}

	if planID, ok := CallbackVerify.ParsePlan(data); ok {
		s.handleVerify(ctx, callback, planID)
		return
	}

	slog.Warn("Unknown callback data", "data", data, "user_id", callback.From.ID)
}

func (s *Service) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := Command(msg.Command())

	if !cmd.IsValid() {
		s.handleUnknown(msg)
		return
	}

	if cmd.IsAdminOnly() && !s.isAdmin(msg.From.ID) {
		s.handleError(msg.Chat.ID, ErrPermission(fmt.Sprintf("user %d tried /%s", msg.From.ID, cmd)))
		return
	}

	switch cmd {
	case CmdStart:
		s.handleStart(ctx, msg)
	case CmdHelp:
		s.handleHelp(msg)
	case CmdUpgrade:
		s.showPlansRoot(ctx, msg.From.ID, msg.Chat.ID, nil)
	case CmdUpgradeStatus:
		s.handleUpgradeStatus(ctx, msg)
	case CmdSubInfo:
		s.handleSubInfo(ctx, msg)
	case CmdStats:
		s.handleStats(ctx, msg)
	}
}

func (s *Service) handleUnknown(msg *tgbotapi.Message) {
	s.reply(msg.Chat.ID, "Unknown command. Use /help")
}

func (s *Service) reply(chatID int64, text string) error {
	return s.send(chatID, text, nil)
}

// send delivers an HTML message with an optional inline keyboard.
func (s *Service) send(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if keyboard != nil {
		msg.ReplyMarkup = *keyboard
	}
	_, err := s.bot.Send(msg)
	if err != nil {
		slog.Warn("Failed to send message", "chat_id", chatID, "error", err)
	}
	return err
}

// edit replaces the text of a bot message, falling back to a new message
// when the original cannot be edited.
func (s *Service) edit(origin *tgbotapi.Message, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	cfg := tgbotapi.NewEditMessageText(origin.Chat.ID, origin.MessageID, text)
	cfg.ParseMode = tgbotapi.ModeHTML
	cfg.DisableWebPagePreview = true
	cfg.ReplyMarkup = keyboard

	if _, err := s.bot.Send(cfg); err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return
		}
		slog.Debug("Edit failed, sending new message", "chat_id", origin.Chat.ID, "error", err)
		s.send(origin.Chat.ID, text, keyboard)
	}
}

func (s *Service) isAdmin(userID int64) bool {
	adminID := s.cfg.SuperAdmin()
	return adminID != 0 && adminID == userID
}

func (s *Service) answerCallback(callbackID, text string) {
	callback := tgbotapi.NewCallback(callbackID, text)
	if _, err := s.bot.Request(callback); err != nil {
		slog.Debug("Failed to answer callback", "error", err)
	}
}

func (s *Service) setCommands() error {
	commands := []tgbotapi.BotCommand{
		{Command: CmdStart.String(), Description: "🚀 Add the bot to your channel"},
		{Command: CmdUpgrade.String(), Description: "💳 Plans and purchase"},
		{Command: CmdUpgradeStatus.String(), Description: "📅 Your plan status"},
		{Command: CmdHelp.String(), Description: "❓ Help"},
	}

	config := tgbotapi.NewSetMyCommands(commands...)
	_, err := s.bot.Request(config)
	return err
}
