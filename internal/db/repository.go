package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"approve-bot/internal/plans"
	"approve-bot/internal/subscription"
)

type Repository struct {
	db *gorm.DB
}

var _ subscription.Store = (*Repository)(nil)

func NewRepository(driver, dsn string) (*Repository, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(log.New(os.Stdout, "\r\n", log.LstdFlags)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if dialector.Name() == "sqlite" {
		// one writer; also keeps ":memory:" a single shared database
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return &Repository{db: db}, nil
}

// newGormLogger keeps slow queries and real errors. A miss is an expected
// answer here (no subscription yet), not an error.
func newGormLogger(w logger.Writer) logger.Interface {
	return logger.New(w, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

func (r *Repository) DB() *gorm.DB {
	return r.db
}

func (r *Repository) AutoMigrate() error {
	return Migrate(r.db)
}

func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InTx runs fn against a repository bound to a single transaction.
func (r *Repository) InTx(ctx context.Context, fn func(tx subscription.Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

// LockUser takes a transaction-scoped advisory lock on the user. On sqlite
// the single connection already serialises writers.
func (r *Repository) LockUser(ctx context.Context, userID int64) error {
	if r.db.Dialector.Name() != "postgres" {
		return nil
	}
	return r.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(?)", userID).Error
}

// RegisterUser records the user the first time they talk to the bot and
// keeps the username current afterwards.
func (r *Repository) RegisterUser(ctx context.Context, tgID int64, username string) error {
	user := User{TgID: tgID}
	err := r.db.WithContext(ctx).
		Where(User{TgID: tgID}).
		Attrs(User{Username: username}).
		FirstOrCreate(&user).Error
	if err != nil {
		return err
	}
	if user.Username != username {
		return r.db.WithContext(ctx).Model(&user).Update("username", username).Error
	}
	return nil
}

func (r *Repository) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&User{}).Count(&n).Error
	return n, err
}

func (r *Repository) GetSubscription(ctx context.Context, userID int64) (*subscription.Subscription, error) {
	var row SubscriptionRow
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, subscription.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sub := subscriptionFromRow(&row)
	return &sub, nil
}

func (r *Repository) UpsertSubscription(ctx context.Context, sub *subscription.Subscription) error {
	updatedAt := sub.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	row := SubscriptionRow{
		UserID:    sub.UserID,
		PlanID:    sub.PlanID.String(),
		PlanLabel: sub.PlanLabel,
		ExpiresAt: formatTimestamp(sub.ExpiresAt),
		UpdatedAt: formatTimestamp(&updatedAt),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"plan_id", "plan_label", "expires_at", "updated_at"}),
	}).Create(&row).Error
}

// ListSubscriptions returns every stored entitlement, expired ones included.
func (r *Repository) ListSubscriptions(ctx context.Context) ([]subscription.Subscription, error) {
	var rows []SubscriptionRow
	if err := r.db.WithContext(ctx).Order("user_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	subs := make([]subscription.Subscription, 0, len(rows))
	for i := range rows {
		subs = append(subs, subscriptionFromRow(&rows[i]))
	}
	return subs, nil
}

func (r *Repository) LatestPaymentLink(ctx context.Context, userID int64, planID plans.ID) (*subscription.PaymentLink, error) {
	var row PaymentLinkRow
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND plan_id = ?", userID, planID.String()).
		Order("created_at DESC, id DESC").
		Limit(1).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, subscription.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return linkFromRow(&row)
}

func (r *Repository) CreatePaymentLink(ctx context.Context, link *subscription.PaymentLink) error {
	row := PaymentLinkRow{
		UserID:         link.UserID,
		PlanID:         link.PlanID.String(),
		PlanLabel:      link.PlanLabel,
		PricePaise:     link.PriceAmount,
		Currency:       link.Currency,
		DurationDays:   link.DurationDays,
		PaymentLinkID:  link.ProviderLinkID,
		PaymentLinkURL: link.ProviderURL,
		Reference:      link.Reference,
		Status:         link.Status.String(),
		CreatedAt:      link.CreatedAt.UTC(),
		PaidAt:         link.PaidAt,
	}
	if row.Status == "" {
		row.Status = subscription.LinkCreated.String()
	}
	if row.Currency == "" {
		row.Currency = "INR"
	}
	if link.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	link.ID = row.ID
	link.CreatedAt = row.CreatedAt
	return nil
}

// MarkLinkPaid is a compare-and-set on status; only one caller ever sees true.
func (r *Repository) MarkLinkPaid(ctx context.Context, linkID uint, paidAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&PaymentLinkRow{}).
		Where("id = ? AND status = ?", linkID, subscription.LinkCreated.String()).
		Updates(map[string]interface{}{
			"status":  subscription.LinkPaid.String(),
			"paid_at": paidAt.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

type Stats struct {
	Users         int64
	Subscriptions int64
	Active        int64
	LinksCreated  int64
	LinksPaid     int64
}

// Stats summarises the store; link counters cover the window starting at since.
func (r *Repository) Stats(ctx context.Context, now, since time.Time) (Stats, error) {
	var st Stats
	var err error

	if st.Users, err = r.CountUsers(ctx); err != nil {
		return st, err
	}

	subs, err := r.ListSubscriptions(ctx)
	if err != nil {
		return st, err
	}
	st.Subscriptions = int64(len(subs))
	for i := range subs {
		if subs[i].ActiveAt(now) {
			st.Active++
		}
	}

	err = r.db.WithContext(ctx).Model(&PaymentLinkRow{}).
		Where("created_at >= ?", since.UTC()).
		Count(&st.LinksCreated).Error
	if err != nil {
		return st, err
	}

	err = r.db.WithContext(ctx).Model(&PaymentLinkRow{}).
		Where("status = ? AND paid_at >= ?", subscription.LinkPaid.String(), since.UTC()).
		Count(&st.LinksPaid).Error
	return st, err
}

func subscriptionFromRow(row *SubscriptionRow) subscription.Subscription {
	sub := subscription.Subscription{
		UserID:    row.UserID,
		PlanID:    plans.ID(strings.ToLower(strings.TrimSpace(row.PlanID))),
		PlanLabel: row.PlanLabel,
		ExpiresAt: parseTimestamp(row.ExpiresAt),
	}
	if ts := parseTimestamp(row.UpdatedAt); ts != nil {
		sub.UpdatedAt = *ts
	}
	if row.ExpiresAt != "" && sub.ExpiresAt == nil {
		slog.Warn("Unparseable subscription expiry", "user_id", row.UserID, "expires_at", row.ExpiresAt)
	}
	return sub
}

func linkFromRow(row *PaymentLinkRow) (*subscription.PaymentLink, error) {
	status, err := subscription.ParseLinkStatus(row.Status)
	if err != nil {
		return nil, fmt.Errorf("payment link %d: %w", row.ID, err)
	}
	return &subscription.PaymentLink{
		ID:             row.ID,
		UserID:         row.UserID,
		PlanID:         plans.ID(row.PlanID),
		PlanLabel:      row.PlanLabel,
		PriceAmount:    row.PricePaise,
		Currency:       row.Currency,
		DurationDays:   row.DurationDays,
		ProviderLinkID: row.PaymentLinkID,
		ProviderURL:    row.PaymentLinkURL,
		Reference:      row.Reference,
		Status:         status,
		CreatedAt:      row.CreatedAt,
		PaidAt:         row.PaidAt,
	}, nil
}

// Layouts accepted for stored timestamps, most specific first.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp returns nil for empty or unreadable values. Values without
// a zone are UTC.
func parseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
