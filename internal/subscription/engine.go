package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"approve-bot/internal/metrics"
	"approve-bot/internal/plans"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultDurationDays = 30
)

// Engine decides whether a user may act, issues or reuses payment links and
// reconciles provider status into subscription state. It holds no mutable
// state of its own; all durable state lives in the Store.
type Engine struct {
	store       Store
	provider    Provider
	locker      Locker
	now         Clock
	timeout     time.Duration
	currency    string
	brand       string
	defaultDays int
	log         *slog.Logger
}

type Option func(*Engine)

func WithClock(c Clock) Option {
	return func(e *Engine) { e.now = c }
}

// WithTimeout bounds every single store or provider round trip.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

func WithCurrency(code string) Option {
	return func(e *Engine) { e.currency = strings.ToUpper(code) }
}

func WithBrand(name string) Option {
	return func(e *Engine) { e.brand = name }
}

// WithDefaultDuration is used for stored links that carry no duration.
func WithDefaultDuration(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.defaultDays = days
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine wires the engine. provider may be nil: payment features then
// report "not configured" instead of failing.
func NewEngine(store Store, provider Provider, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		provider:    provider,
		now:         utcNow,
		timeout:     defaultTimeout,
		currency:    "INR",
		defaultDays: defaultDurationDays,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PaymentsEnabled reports whether a provider is wired.
func (e *Engine) PaymentsEnabled() bool {
	return e.provider != nil
}

// IsActive is fail-closed: any doubt about the stored expiry means no access.
func (e *Engine) IsActive(ctx context.Context, userID int64) bool {
	sub, err := e.getSubscription(ctx, e.store, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			e.log.Warn("Subscription lookup failed, treating as inactive", "user_id", userID, "error", err)
		}
		return false
	}
	if sub.ExpiresAt == nil {
		e.log.Warn("Subscription has no usable expiry, treating as inactive", "user_id", userID)
		return false
	}
	return sub.ActiveAt(e.now())
}

// Status is a pure read of the stored subscription. A store failure is
// returned so the caller can ask the user to retry.
func (e *Engine) Status(ctx context.Context, userID int64) (Status, error) {
	sub, err := e.getSubscription(ctx, e.store, userID)
	if errors.Is(err, ErrNotFound) {
		return Status{State: StateNone}, nil
	}
	if err != nil {
		return Status{}, err
	}

	st := Status{
		State:     StateExpired,
		PlanID:    sub.PlanID.String(),
		PlanLabel: sub.PlanLabel,
		ExpiresAt: sub.ExpiresAt,
	}
	if sub.ActiveAt(e.now()) {
		st.State = StateActive
	}
	return st, nil
}

// GetOrCreatePaymentLink returns the pending link for (user, plan) when one
// exists, otherwise asks the provider for a new one and records it.
func (e *Engine) GetOrCreatePaymentLink(ctx context.Context, userID int64, plan plans.Plan) LinkResult {
	res := e.getOrCreatePaymentLink(ctx, userID, plan)
	metrics.PaymentLinksTotal.WithLabelValues(res.Outcome.String()).Inc()
	return res
}

func (e *Engine) getOrCreatePaymentLink(ctx context.Context, userID int64, plan plans.Plan) LinkResult {
	log := e.log.With("user_id", userID, "plan_id", plan.ID.String())

	// a pending link could never be verified without a provider
	if e.provider == nil {
		log.Warn("Payment link requested but provider is not configured")
		return LinkResult{Outcome: LinkNotConfigured}
	}

	release := e.lock(ctx, fmt.Sprintf("paylink:%d:%s", userID, plan.ID))
	defer release()

	if link := e.reusableLink(ctx, userID, plan.ID); link != nil {
		log.Info("Reusing pending payment link", "link_id", link.ID)
		return LinkResult{Outcome: LinkReused, URL: link.ProviderURL, Link: link}
	}

	reference := uuid.NewString()
	req := LinkRequest{
		Amount:      plan.Price,
		Currency:    e.currency,
		Description: e.description(plan),
		Reference:   reference,
		Metadata: map[string]string{
			"user_id":  fmt.Sprintf("%d", userID),
			"plan_id":  plan.ID.String(),
			"customer": fmt.Sprintf("%d", userID),
		},
	}

	pctx, cancel := context.WithTimeout(ctx, e.timeout)
	pl, err := e.provider.CreateLink(pctx, req)
	cancel()
	if err != nil {
		log.Error("Provider failed to create payment link", "error", err)
		return LinkResult{Outcome: LinkUnavailable}
	}
	if pl == nil || pl.ID == "" || pl.URL == "" {
		log.Error("Provider returned an incomplete payment link", "link", pl)
		return LinkResult{Outcome: LinkUnavailable}
	}

	link := &PaymentLink{
		UserID:         userID,
		PlanID:         plan.ID,
		PlanLabel:      plan.Label,
		PriceAmount:    plan.Price,
		Currency:       e.currency,
		DurationDays:   plan.DurationDays,
		ProviderLinkID: pl.ID,
		ProviderURL:    pl.URL,
		Reference:      reference,
		Status:         LinkCreated,
		CreatedAt:      e.now(),
	}

	sctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.store.CreatePaymentLink(sctx, link); err != nil {
		// An unrecorded link could never be verified, so it is not handed out.
		log.Error("Failed to record payment link", "provider_link_id", pl.ID, "error", err)
		return LinkResult{Outcome: LinkUnavailable}
	}

	log.Info("Payment link created", "link_id", link.ID, "provider_link_id", pl.ID, "amount", plan.Price)
	return LinkResult{Outcome: LinkIssued, URL: link.ProviderURL, Link: link}
}

func (e *Engine) reusableLink(ctx context.Context, userID int64, planID plans.ID) *PaymentLink {
	sctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	link, err := e.store.LatestPaymentLink(sctx, userID, planID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			e.log.Warn("Latest payment link unavailable, issuing a new one", "user_id", userID, "plan_id", planID.String(), "error", err)
		}
		return nil
	}
	if link.Status != LinkCreated || link.ProviderURL == "" {
		return nil
	}
	return link
}

// VerifyAndApply asks the provider whether the latest link for (user, plan)
// is paid and, if so, extends the subscription exactly once.
func (e *Engine) VerifyAndApply(ctx context.Context, userID int64, planID plans.ID) VerifyResult {
	res := e.verifyAndApply(ctx, userID, planID)
	metrics.VerificationsTotal.WithLabelValues(res.Outcome.String()).Inc()
	return res
}

func (e *Engine) verifyAndApply(ctx context.Context, userID int64, planID plans.ID) VerifyResult {
	log := e.log.With("user_id", userID, "plan_id", planID.String())

	if e.provider == nil {
		log.Warn("Verification requested but provider is not configured")
		return VerifyResult{Outcome: VerifyNotConfigured}
	}

	sctx, cancel := context.WithTimeout(ctx, e.timeout)
	link, err := e.store.LatestPaymentLink(sctx, userID, planID)
	cancel()
	switch {
	case errors.Is(err, ErrNotFound):
		return VerifyResult{Outcome: VerifyNoLink}
	case errors.Is(err, ErrInvalidRecord):
		log.Error("Latest payment link is corrupt", "error", err)
		return VerifyResult{Outcome: VerifyInvalidLink}
	case err != nil:
		log.Error("Failed to load payment link", "error", err)
		return VerifyResult{Outcome: VerifyRetryLater}
	}

	if link.Status == LinkPaid {
		return VerifyResult{Outcome: VerifyAlreadyVerified, ExpiresAt: e.currentExpiry(ctx, userID)}
	}

	if link.ProviderLinkID == "" {
		log.Error("Payment link has no provider id", "link_id", link.ID)
		return VerifyResult{Outcome: VerifyInvalidLink}
	}

	pctx, cancel := context.WithTimeout(ctx, e.timeout)
	status, err := e.provider.FetchLink(pctx, link.ProviderLinkID)
	cancel()
	if err != nil {
		log.Error("Provider status fetch failed", "link_id", link.ID, "provider_link_id", link.ProviderLinkID, "error", err)
		return VerifyResult{Outcome: VerifyRetryLater}
	}

	if !status.Paid() {
		return VerifyResult{
			Outcome:        VerifyPending,
			ProviderStatus: strings.ToLower(string(status)),
			PaymentURL:     link.ProviderURL,
		}
	}

	return e.apply(ctx, log, link)
}

// apply marks the link paid and extends the subscription in one transaction.
// The per-user lock orders payments of the same user; the status CAS makes
// only the caller that flips created -> paid extend the expiry. If the upsert
// fails the CAS is rolled back with it, so the user can verify again.
func (e *Engine) apply(ctx context.Context, log *slog.Logger, link *PaymentLink) VerifyResult {
	paid := *link
	if paid.DurationDays <= 0 {
		paid.DurationDays = e.defaultDays
	}

	var (
		renewed     *Subscription
		alreadyPaid bool
	)

	tctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	err := e.store.InTx(tctx, func(tx Store) error {
		// Links of different plans for one user race on the same row.
		if err := tx.LockUser(tctx, paid.UserID); err != nil {
			return fmt.Errorf("lock user: %w", err)
		}

		now := e.now()

		flipped, err := tx.MarkLinkPaid(tctx, paid.ID, now)
		if err != nil {
			return fmt.Errorf("mark link paid: %w", err)
		}
		if !flipped {
			alreadyPaid = true
			return nil
		}

		current, err := e.getSubscription(tctx, tx, paid.UserID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("load subscription: %w", err)
		}

		next := Renew(current, &paid, now)
		if err := tx.UpsertSubscription(tctx, &next); err != nil {
			return fmt.Errorf("upsert subscription: %w", err)
		}
		renewed = &next
		return nil
	})
	if err != nil {
		log.Error("Failed to apply verified payment", "link_id", paid.ID, "error", err)
		return VerifyResult{Outcome: VerifyRetryLater}
	}

	if alreadyPaid {
		log.Info("Payment link was verified concurrently", "link_id", paid.ID)
		return VerifyResult{Outcome: VerifyAlreadyVerified, ExpiresAt: e.currentExpiry(ctx, paid.UserID)}
	}

	log.Info("Payment verified, subscription extended", "link_id", paid.ID, "expires_at", renewed.ExpiresAt)
	return VerifyResult{Outcome: VerifyApplied, ExpiresAt: renewed.ExpiresAt}
}

func (e *Engine) getSubscription(ctx context.Context, store SubscriptionStore, userID int64) (*Subscription, error) {
	sctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return store.GetSubscription(sctx, userID)
}

func (e *Engine) currentExpiry(ctx context.Context, userID int64) *time.Time {
	sub, err := e.getSubscription(ctx, e.store, userID)
	if err != nil {
		return nil
	}
	return sub.ExpiresAt
}

func (e *Engine) lock(ctx context.Context, key string) func() {
	if e.locker == nil {
		return func() {}
	}
	lctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	release, err := e.locker.Lock(lctx, key)
	if err != nil {
		// Duplicate provider links are tolerated; only one can ever be marked paid.
		e.log.Warn("Proceeding without purchase lock", "key", key, "error", err)
		return func() {}
	}
	return release
}

// description builds an ASCII-only checkout description; the provider
// rejects emoji and other non-ASCII runes.
func (e *Engine) description(plan plans.Plan) string {
	label := asciiLabel(plan.Label)
	if label == "" {
		label = strings.ToUpper(plan.ID.String())
	}
	if e.brand == "" {
		return "Subscription - " + label
	}
	return e.brand + " Subscription - " + label
}

func asciiLabel(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < unicode.MaxASCII && unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
