package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"

	"approve-bot/internal/config"
	"approve-bot/internal/db"
	"approve-bot/internal/metrics"
	"approve-bot/internal/subscription"
)

const maxProbeFailures = 3

type Store interface {
	ListSubscriptions(ctx context.Context) ([]subscription.Subscription, error)
	Stats(ctx context.Context, now, since time.Time) (db.Stats, error)
}

type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Prober checks that the payment provider accepts our credentials.
type Prober interface {
	Probe(ctx context.Context) error
}

type Scheduler struct {
	cron   *cron.Cron
	store  Store
	bot    Sender
	prober Prober
	cfg    *config.Config
	now    func() time.Time

	probeFailures int
}

// NewScheduler builds the job set. prober may be nil when payments are off.
func NewScheduler(store Store, bot Sender, prober Prober, cfg *config.Config) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		store:  store,
		bot:    bot,
		prober: prober,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Scheduler) Start() error {
	// expiry reminders, daily at 04:30 UTC (10:00 IST)
	_, err := s.cron.AddFunc("30 4 * * *", s.sendExpirationReminders)
	if err != nil {
		return fmt.Errorf("failed to add expiration reminders job: %w", err)
	}

	_, err = s.cron.AddFunc("0 3 * * *", s.sendDailyReport)
	if err != nil {
		return fmt.Errorf("failed to add daily report job: %w", err)
	}

	if s.prober != nil {
		_, err = s.cron.AddFunc("*/15 * * * *", s.healthCheckProvider)
		if err != nil {
			return fmt.Errorf("failed to add provider health check job: %w", err)
		}
	}

	s.cron.Start()
	slog.Info("Cron scheduler started")

	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("Cron scheduler stopped")
}

// DueForReminder picks subscriptions whose expiry falls in the one-day window
// ending days from now, so a daily run reminds each subscriber once.
func DueForReminder(subs []subscription.Subscription, now time.Time, days int) []subscription.Subscription {
	windowEnd := now.AddDate(0, 0, days)
	windowStart := windowEnd.Add(-24 * time.Hour)

	var due []subscription.Subscription
	for _, sub := range subs {
		if sub.ExpiresAt == nil || !sub.ActiveAt(now) {
			continue
		}
		if sub.ExpiresAt.After(windowStart) && !sub.ExpiresAt.After(windowEnd) {
			due = append(due, sub)
		}
	}
	return due
}

func (s *Scheduler) sendExpirationReminders() {
	slog.Info("Checking for expiration reminders...")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		slog.Error("Error fetching subscriptions", "error", err)
		return
	}

	due := DueForReminder(subs, s.now(), s.cfg.ReminderDays)
	if len(due) == 0 {
		return
	}

	slog.Info("Found subscriptions expiring soon", "count", len(due), "days", s.cfg.ReminderDays)

	for _, sub := range due {
		text := fmt.Sprintf(`⏰ Subscription reminder

Your plan %s expires on %s.

Renew with /upgrade to keep join requests approved automatically. Every renewal adds to the time you have left.`,
			sub.PlanLabel,
			sub.ExpiresAt.Format("2006-01-02 15:04 UTC"),
		)

		if _, err := s.bot.Send(tgbotapi.NewMessage(sub.UserID, text)); err != nil {
			slog.Error("Failed to send expiration reminder", "user_id", sub.UserID, "error", err)
		}
	}
}

func (s *Scheduler) sendDailyReport() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	now := s.now()
	st, err := s.store.Stats(ctx, now, now.Add(-24*time.Hour))
	if err != nil {
		slog.Error("Error collecting daily stats", "error", err)
		return
	}
	metrics.ActiveSubscriptions.Set(float64(st.Active))

	s.sendAdminReport(FormatStats("📊 Daily report", st))
}

// FormatStats renders store statistics for admins.
func FormatStats(title string, st db.Stats) string {
	return fmt.Sprintf("%s\n\n👥 Users: %d\n🟢 Active subscriptions: %d / %d\n🔗 Links created (24h): %d\n✅ Links paid (24h): %d",
		title, st.Users, st.Active, st.Subscriptions, st.LinksCreated, st.LinksPaid)
}

func (s *Scheduler) healthCheckProvider() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProviderTimeout)
	defer cancel()

	if err := s.prober.Probe(ctx); err != nil {
		s.probeFailures++
		slog.Error("Payment provider health check failed", "error", err, "consecutive_failures", s.probeFailures)

		if s.probeFailures >= maxProbeFailures {
			s.sendHealthAlert(fmt.Sprintf("Payment provider unreachable %d times in a row\n\n❌ Error: %v\n\n⚠️ Users cannot buy or verify plans!", s.probeFailures, err))
			s.probeFailures = 0
		}
		return
	}

	if s.probeFailures > 0 {
		slog.Info("Payment provider health check recovered", "after_failures", s.probeFailures)
	}
	s.probeFailures = 0
}

func (s *Scheduler) sendAdminReport(message string) {
	adminID := s.cfg.SuperAdmin()
	if adminID == 0 {
		return
	}

	if _, err := s.bot.Send(tgbotapi.NewMessage(adminID, message)); err != nil {
		slog.Error("Failed to send admin report", "error", err)
	}
}

func (s *Scheduler) sendHealthAlert(message string) {
	slog.Warn("Health alert", "message", message)
	s.sendAdminReport("🚨 " + message)
}
