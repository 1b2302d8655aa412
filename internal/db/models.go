package db

import "time"

// User - anyone who has talked to the bot
type User struct {
	TgID      int64 `gorm:"primaryKey"`
	Username  string
	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP"`
}

// SubscriptionRow - one entitlement per user. Timestamps are ISO-8601 text so
// rows written by other clients of the same table stay readable.
type SubscriptionRow struct {
	UserID    int64  `gorm:"primaryKey;autoIncrement:false"`
	PlanID    string `gorm:"not null"`
	PlanLabel string
	ExpiresAt string `gorm:"type:text"`
	UpdatedAt string `gorm:"type:text;autoUpdateTime:false"`
}

func (SubscriptionRow) TableName() string {
	return "user_subscriptions"
}

// PaymentLinkRow - one purchase attempt
type PaymentLinkRow struct {
	ID             uint   `gorm:"primaryKey"`
	UserID         int64  `gorm:"not null;index:idx_links_user_plan,priority:1"`
	PlanID         string `gorm:"not null;index:idx_links_user_plan,priority:2"`
	PlanLabel      string
	PricePaise     int64  `gorm:"not null"`
	Currency       string `gorm:"not null;default:INR"`
	DurationDays   int
	PaymentLinkID  string    `gorm:"column:paymentlink_id"`
	PaymentLinkURL string    `gorm:"column:paymentlink_url"`
	Reference      string    `gorm:"index"`
	Status         string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"index"`
	PaidAt         *time.Time
}

func (PaymentLinkRow) TableName() string {
	return "user_payment_links"
}
