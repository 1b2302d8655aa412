package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"approve-bot/internal/plans"
)

var (
	// ErrNotFound distinguishes "no row" from a failed store call.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidRecord marks stored data that cannot be trusted (unknown status, bad plan id).
	ErrInvalidRecord = errors.New("invalid record")
	// ErrNotConfigured is returned when the payment provider is absent.
	ErrNotConfigured = errors.New("payment provider not configured")
)

// LinkStatus is the lifecycle state of a payment link. created -> paid only.
type LinkStatus string

const (
	LinkCreated LinkStatus = "created"
	LinkPaid    LinkStatus = "paid"
)

func (s LinkStatus) String() string {
	return string(s)
}

func (s LinkStatus) IsValid() bool {
	switch s {
	case LinkCreated, LinkPaid:
		return true
	}
	return false
}

func ParseLinkStatus(s string) (LinkStatus, error) {
	st := LinkStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: link status %q", ErrInvalidRecord, s)
	}
	return st, nil
}

// Subscription is the single entitlement row of a user.
// ExpiresAt is nil when the stored value is missing or unparseable.
type Subscription struct {
	UserID    int64
	PlanID    plans.ID
	PlanLabel string
	ExpiresAt *time.Time
	UpdatedAt time.Time
}

// ActiveAt reports whether the entitlement covers t. Missing expiry is never active.
func (s *Subscription) ActiveAt(t time.Time) bool {
	if s == nil || s.ExpiresAt == nil {
		return false
	}
	return t.Before(*s.ExpiresAt)
}

// PaymentLink is one purchase attempt.
type PaymentLink struct {
	ID             uint
	UserID         int64
	PlanID         plans.ID
	PlanLabel      string
	PriceAmount    int64
	Currency       string
	DurationDays   int
	ProviderLinkID string
	ProviderURL    string
	Reference      string
	Status         LinkStatus
	CreatedAt      time.Time
	PaidAt         *time.Time
}

type SubscriptionStore interface {
	// GetSubscription returns ErrNotFound when the user never paid.
	GetSubscription(ctx context.Context, userID int64) (*Subscription, error)
	UpsertSubscription(ctx context.Context, sub *Subscription) error
	// LockUser serialises subscription changes for userID until the
	// surrounding transaction ends. Only meaningful inside InTx.
	LockUser(ctx context.Context, userID int64) error
}

type PaymentLinkStore interface {
	// LatestPaymentLink returns the most recently created link for (user, plan) or ErrNotFound.
	LatestPaymentLink(ctx context.Context, userID int64, planID plans.ID) (*PaymentLink, error)
	CreatePaymentLink(ctx context.Context, link *PaymentLink) error
	// MarkLinkPaid flips created -> paid atomically. It reports false when
	// the link was already paid (or missing) and nothing changed.
	MarkLinkPaid(ctx context.Context, linkID uint, paidAt time.Time) (bool, error)
}

// Store bundles both stores with a transactional scope.
type Store interface {
	SubscriptionStore
	PaymentLinkStore
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// LinkRequest is what the provider needs to issue a checkout URL.
type LinkRequest struct {
	Amount      int64
	Currency    string
	Description string
	Reference   string
	Metadata    map[string]string
}

type ProviderLink struct {
	ID  string
	URL string
}

// ProviderStatus is the raw provider status; only "paid" is significant.
type ProviderStatus string

func (s ProviderStatus) Paid() bool {
	return strings.EqualFold(strings.TrimSpace(string(s)), "paid")
}

// Provider is the external payment-link service.
type Provider interface {
	CreateLink(ctx context.Context, req LinkRequest) (*ProviderLink, error)
	FetchLink(ctx context.Context, id string) (ProviderStatus, error)
}

// Locker serialises purchase initiation per key across processes.
// The returned release func is always non-nil when err is nil.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// Clock is overridable in tests.
type Clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}
