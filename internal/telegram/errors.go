package telegram

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Error codes reported to the super admin and Sentry
const (
	ErrInvalidInput     = "INVALID_INPUT"
	ErrDatabaseError    = "DATABASE_ERROR"
	ErrPermissionDenied = "PERMISSION_DENIED"
	ErrUserNotFound     = "USER_NOT_FOUND"
	ErrPlanNotFound     = "PLAN_NOT_FOUND"
)

// BotError carries an internal description plus the text shown to the user
type BotError struct {
	Code        string
	Message     string
	UserMessage string
	Details     string
}

func (e *BotError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
}

func NewBotError(code, message, userMessage, details string) *BotError {
	return &BotError{
		Code:        code,
		Message:     message,
		UserMessage: userMessage,
		Details:     details,
	}
}

// reportable errors are the ones an operator has to look at
func (e *BotError) reportable() bool {
	switch e.Code {
	case ErrInvalidInput, ErrPermissionDenied, ErrUserNotFound, ErrPlanNotFound:
		return false
	}
	return true
}

// handleError logs err, reports it when it needs attention and tells the
// user what went wrong.
func (s *Service) handleError(chatID int64, err error) {
	var botErr *BotError
	if !errors.As(err, &botErr) {
		botErr = &BotError{
			Code:        "UNKNOWN_ERROR",
			Message:     "Unknown error occurred",
			UserMessage: "Something went wrong on our side. Please try again later.",
			Details:     err.Error(),
		}
	}

	if botErr.reportable() {
		slog.Error("Bot error occurred", "code", botErr.Code, "error", err)
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("code", botErr.Code)
			scope.SetExtra("chat_id", chatID)
			sentry.CaptureException(botErr)
		})
		s.sendErrorReport(botErr)
	} else {
		slog.Info("Request rejected", "code", botErr.Code, "details", botErr.Details)
	}

	s.reply(chatID, "❌ "+botErr.UserMessage)
}

func (s *Service) sendErrorReport(botErr *BotError) {
	adminID := s.cfg.SuperAdmin()
	if adminID == 0 {
		return
	}

	report := fmt.Sprintf(`🚨 Bot error:

Code: %s
Message: %s
Details: %s

Shown to user: %s`,
		botErr.Code,
		botErr.Message,
		botErr.Details,
		botErr.UserMessage,
	)

	msg := tgbotapi.NewMessage(adminID, report)
	if _, err := s.bot.Send(msg); err != nil {
		slog.Warn("Failed to send error report", "error", err)
	}
}

func ErrInvalidInputf(details string, args ...interface{}) *BotError {
	return NewBotError(
		ErrInvalidInput,
		"Invalid input provided",
		"Invalid input. Please check the command format.",
		fmt.Sprintf(details, args...),
	)
}

func ErrDatabasef(details string, args ...interface{}) *BotError {
	return NewBotError(
		ErrDatabaseError,
		"Database operation failed",
		"Couldn't load your data right now. Please try again in a minute.",
		fmt.Sprintf(details, args...),
	)
}

func ErrPermission(details string) *BotError {
	return NewBotError(
		ErrPermissionDenied,
		"Permission denied",
		"You don't have permission for this command.",
		details,
	)
}

func ErrUserNotFoundf(details string, args ...interface{}) *BotError {
	return NewBotError(
		ErrUserNotFound,
		"User not found",
		"User not found.",
		fmt.Sprintf(details, args...),
	)
}

func ErrPlanNotFoundf(details string, args ...interface{}) *BotError {
	return NewBotError(
		ErrPlanNotFound,
		"Plan not found",
		"This plan is not available.",
		fmt.Sprintf(details, args...),
	)
}
