package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"approve-bot/internal/plans"
)

const testUser int64 = 42

var proPlan = plans.Plan{ID: plans.Pro, Label: "⚡️ PRO", Price: 149900, DurationDays: 30}

func setupEngine(t *testing.T) (*Engine, *memStore, *fakeProvider, *fixedClock) {
	t.Helper()

	store := newMemStore()
	provider := newFakeProvider()
	clock := &fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	engine := NewEngine(store, provider,
		WithClock(clock.Now),
		WithTimeout(time.Second),
		WithBrand("GetAIPilot"),
		WithCurrency("inr"),
	)
	return engine, store, provider, clock
}

func expiry(t time.Time) *time.Time {
	return &t
}

func TestIsActive(t *testing.T) {
	engine, store, _, clock := setupEngine(t)
	ctx := context.Background()
	now := clock.Now()

	assert.False(t, engine.IsActive(ctx, testUser), "no subscription")

	store.data.subs[testUser] = Subscription{UserID: testUser, PlanID: plans.Pro, ExpiresAt: expiry(now.Add(time.Hour))}
	assert.True(t, engine.IsActive(ctx, testUser))

	store.data.subs[testUser] = Subscription{UserID: testUser, PlanID: plans.Pro, ExpiresAt: expiry(now)}
	assert.False(t, engine.IsActive(ctx, testUser), "expiry equal to now is not active")

	// unparseable timestamps reach the engine as a nil expiry
	store.data.subs[testUser] = Subscription{UserID: testUser, PlanID: plans.Pro}
	assert.False(t, engine.IsActive(ctx, testUser))

	store.data.subs[testUser] = Subscription{UserID: testUser, PlanID: plans.Pro, ExpiresAt: expiry(now.Add(time.Hour))}
	store.failOn["get_subscription"] = errors.New("connection reset")
	assert.False(t, engine.IsActive(ctx, testUser), "store failure fails closed")
}

func TestStatus(t *testing.T) {
	engine, store, _, clock := setupEngine(t)
	ctx := context.Background()
	now := clock.Now()

	st, err := engine.Status(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, StateNone, st.State)

	store.data.subs[testUser] = Subscription{UserID: testUser, PlanID: plans.Basic, PlanLabel: "BASIC", ExpiresAt: expiry(now.Add(-time.Minute))}
	st, err = engine.Status(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, st.State)

	exp := now.Add(48 * time.Hour)
	store.data.subs[testUser] = Subscription{UserID: testUser, PlanID: plans.Basic, PlanLabel: "BASIC", ExpiresAt: &exp}
	st, err = engine.Status(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, StateActive, st.State)
	assert.Equal(t, "BASIC", st.PlanLabel)
	assert.Equal(t, exp, *st.ExpiresAt)

	store.failOn["get_subscription"] = errors.New("timeout")
	_, err = engine.Status(ctx, testUser)
	assert.Error(t, err)
}

func TestGetOrCreatePaymentLink_ReusesPendingLink(t *testing.T) {
	engine, store, provider, _ := setupEngine(t)
	ctx := context.Background()

	first := engine.GetOrCreatePaymentLink(ctx, testUser, proPlan)
	require.Equal(t, LinkIssued, first.Outcome)
	require.NotEmpty(t, first.URL)

	second := engine.GetOrCreatePaymentLink(ctx, testUser, proPlan)
	assert.Equal(t, LinkReused, second.Outcome)
	assert.Equal(t, first.URL, second.URL)

	assert.Len(t, provider.created, 1)
	assert.Equal(t, 1, store.linkCount())

	req := provider.created[0]
	assert.Equal(t, int64(149900), req.Amount)
	assert.Equal(t, "INR", req.Currency)
	assert.Equal(t, "GetAIPilot Subscription - PRO", req.Description)
	assert.NotEmpty(t, req.Reference)

	link := store.link(first.Link.ID)
	assert.Equal(t, LinkCreated, link.Status)
	assert.Equal(t, 30, link.DurationDays)
	assert.Equal(t, "plink_1", link.ProviderLinkID)
}

func TestGetOrCreatePaymentLink_PaidLinkIsNotReused(t *testing.T) {
	engine, store, provider, _ := setupEngine(t)
	ctx := context.Background()

	first := engine.GetOrCreatePaymentLink(ctx, testUser, proPlan)
	require.Equal(t, LinkIssued, first.Outcome)

	_, err := store.MarkLinkPaid(ctx, first.Link.ID, time.Now())
	require.NoError(t, err)

	second := engine.GetOrCreatePaymentLink(ctx, testUser, proPlan)
	assert.Equal(t, LinkIssued, second.Outcome)
	assert.NotEqual(t, first.URL, second.URL)
	assert.Len(t, provider.created, 2)
}

func TestGetOrCreatePaymentLink_PlansAreIndependent(t *testing.T) {
	engine, _, provider, _ := setupEngine(t)
	ctx := context.Background()

	pro := engine.GetOrCreatePaymentLink(ctx, testUser, proPlan)
	basic := engine.GetOrCreatePaymentLink(ctx, testUser, plans.Plan{ID: plans.Basic, Label: "💠 BASIC", Price: 69900, DurationDays: 30})

	assert.Equal(t, LinkIssued, pro.Outcome)
	assert.Equal(t, LinkIssued, basic.Outcome)
	assert.NotEqual(t, pro.URL, basic.URL)
	assert.Len(t, provider.created, 2)
}

func TestGetOrCreatePaymentLink_Failures(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		engine, store, provider, _ := setupEngine(t)
		provider.createErr = errors.New("rate limited")

		res := engine.GetOrCreatePaymentLink(context.Background(), testUser, proPlan)
		assert.Equal(t, LinkUnavailable, res.Outcome)
		assert.Empty(t, res.URL)
		assert.Equal(t, 0, store.linkCount())
	})

	t.Run("store error after provider success", func(t *testing.T) {
		engine, store, _, _ := setupEngine(t)
		store.failOn["create_link"] = errors.New("disk full")

		res := engine.GetOrCreatePaymentLink(context.Background(), testUser, proPlan)
		assert.Equal(t, LinkUnavailable, res.Outcome)
		assert.Empty(t, res.URL)
	})

	t.Run("not configured", func(t *testing.T) {
		engine := NewEngine(newMemStore(), nil)
		res := engine.GetOrCreatePaymentLink(context.Background(), testUser, proPlan)
		assert.Equal(t, LinkNotConfigured, res.Outcome)
		assert.False(t, engine.PaymentsEnabled())
	})

	t.Run("not configured hides pending link", func(t *testing.T) {
		store := newMemStore()
		require.NoError(t, store.CreatePaymentLink(context.Background(), &PaymentLink{
			UserID: testUser, PlanID: plans.Pro, Status: LinkCreated,
			ProviderLinkID: "plink_old", ProviderURL: "https://rzp.io/i/old",
		}))

		res := NewEngine(store, nil).GetOrCreatePaymentLink(context.Background(), testUser, proPlan)
		assert.Equal(t, LinkNotConfigured, res.Outcome)
		assert.Empty(t, res.URL)
	})

	t.Run("lookup error still issues", func(t *testing.T) {
		engine, store, provider, _ := setupEngine(t)
		store.failOn["latest_link"] = errors.New("timeout")

		res := engine.GetOrCreatePaymentLink(context.Background(), testUser, proPlan)
		assert.Equal(t, LinkIssued, res.Outcome)
		assert.Len(t, provider.created, 1)
	})
}

func TestVerifyAndApply_Scenario(t *testing.T) {
	engine, store, provider, clock := setupEngine(t)
	ctx := context.Background()

	res := engine.VerifyAndApply(ctx, testUser, plans.Pro)
	assert.Equal(t, VerifyNoLink, res.Outcome)

	link := engine.GetOrCreatePaymentLink(ctx, testUser, proPlan)
	require.Equal(t, LinkIssued, link.Outcome)

	res = engine.VerifyAndApply(ctx, testUser, plans.Pro)
	assert.Equal(t, VerifyPending, res.Outcome)
	assert.Equal(t, "created", res.ProviderStatus)
	assert.Equal(t, link.URL, res.PaymentURL)
	assert.False(t, engine.IsActive(ctx, testUser))

	provider.setStatus(link.Link.ProviderLinkID, "PAID")
	verifiedAt := clock.Now()

	res = engine.VerifyAndApply(ctx, testUser, plans.Pro)
	require.Equal(t, VerifyApplied, res.Outcome)
	require.NotNil(t, res.ExpiresAt)
	assert.Equal(t, verifiedAt.Add(30*24*time.Hour), *res.ExpiresAt)
	assert.True(t, engine.IsActive(ctx, testUser))

	stored := store.link(link.Link.ID)
	assert.Equal(t, LinkPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)

	sub := store.data.subs[testUser]
	assert.Equal(t, plans.Pro, sub.PlanID)
	assert.Equal(t, "⚡️ PRO", sub.PlanLabel)

	clock.Advance(time.Hour)
	again := engine.VerifyAndApply(ctx, testUser, plans.Pro)
	assert.Equal(t, VerifyAlreadyVerified, again.Outcome)
	require.NotNil(t, again.ExpiresAt)
	assert.Equal(t, *res.ExpiresAt, *again.ExpiresAt)
}

func TestVerifyAndApply_StacksOnActiveSubscription(t *testing.T) {
	engine, store, provider, clock := setupEngine(t)
	ctx := context.Background()
	start := clock.Now()

	// active until T+5d, renewal of 30 days applied at T+2d
	current := start.Add(5 * 24 * time.Hour)
	store.data.subs[testUser] = Subscription{UserID: testUser, PlanID: plans.Basic, PlanLabel: "BASIC", ExpiresAt: &current}
	clock.Advance(2 * 24 * time.Hour)

	link := engine.GetOrCreatePaymentLink(ctx, testUser, proPlan)
	provider.setStatus(link.Link.ProviderLinkID, "paid")

	res := engine.VerifyAndApply(ctx, testUser, plans.Pro)
	require.Equal(t, VerifyApplied, res.Outcome)
	assert.Equal(t, current.Add(30*24*time.Hour), *res.ExpiresAt)
	assert.Equal(t, plans.Pro, store.data.subs[testUser].PlanID)
}

func TestVerifyAndApply_ExpiredSubscriptionStartsFromNow(t *testing.T) {
	engine, store, provider, clock := setupEngine(t)
	ctx := context.Background()

	past := clock.Now().Add(-10 * 24 * time.Hour)
	store.data.subs[testUser] = Subscription{UserID: testUser, PlanID: plans.Basic, ExpiresAt: &past}

	link := engine.GetOrCreatePaymentLink(ctx, testUser, proPlan)
	provider.setStatus(link.Link.ProviderLinkID, "paid")

	res := engine.VerifyAndApply(ctx, testUser, plans.Pro)
	require.Equal(t, VerifyApplied, res.Outcome)
	assert.Equal(t, clock.Now().Add(30*24*time.Hour), *res.ExpiresAt)
}

func TestVerifyAndApply_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("not configured", func(t *testing.T) {
		engine := NewEngine(newMemStore(), nil)
		assert.Equal(t, VerifyNotConfigured, engine.VerifyAndApply(ctx, testUser, plans.Pro).Outcome)
	})

	t.Run("missing provider id", func(t *testing.T) {
		engine, store, _, _ := setupEngine(t)
		require.NoError(t, store.CreatePaymentLink(ctx, &PaymentLink{UserID: testUser, PlanID: plans.Pro, Status: LinkCreated, DurationDays: 30}))
		assert.Equal(t, VerifyInvalidLink, engine.VerifyAndApply(ctx, testUser, plans.Pro).Outcome)
	})

	t.Run("corrupt record", func(t *testing.T) {
		engine, store, _, _ := setupEngine(t)
		store.failOn["latest_link"] = ErrInvalidRecord
		assert.Equal(t, VerifyInvalidLink, engine.VerifyAndApply(ctx, testUser, plans.Pro).Outcome)
	})

	t.Run("store read failure", func(t *testing.T) {
		engine, store, _, _ := setupEngine(t)
		store.failOn["latest_link"] = errors.New("connection refused")
		assert.Equal(t, VerifyRetryLater, engine.VerifyAndApply(ctx, testUser, plans.Pro).Outcome)
	})

	t.Run("provider failure", func(t *testing.T) {
		engine, _, provider, _ := setupEngine(t)
		engine.GetOrCreatePaymentLink(ctx, testUser, proPlan)
		provider.fetchErr = errors.New("502 bad gateway")
		assert.Equal(t, VerifyRetryLater, engine.VerifyAndApply(ctx, testUser, plans.Pro).Outcome)
	})

	t.Run("provider timeout", func(t *testing.T) {
		engine, _, provider, _ := setupEngine(t)
		engine.timeout = 20 * time.Millisecond
		engine.GetOrCreatePaymentLink(ctx, testUser, proPlan)
		provider.delay = time.Second
		assert.Equal(t, VerifyRetryLater, engine.VerifyAndApply(ctx, testUser, plans.Pro).Outcome)
	})

	t.Run("upsert failure keeps link verifiable", func(t *testing.T) {
		engine, store, provider, _ := setupEngine(t)
		link := engine.GetOrCreatePaymentLink(ctx, testUser, proPlan)
		provider.setStatus(link.Link.ProviderLinkID, "paid")

		store.failOn["upsert_subscription"] = errors.New("constraint violation")
		assert.Equal(t, VerifyRetryLater, engine.VerifyAndApply(ctx, testUser, plans.Pro).Outcome)
		assert.Equal(t, LinkCreated, store.link(link.Link.ID).Status)

		delete(store.failOn, "upsert_subscription")
		assert.Equal(t, VerifyApplied, engine.VerifyAndApply(ctx, testUser, plans.Pro).Outcome)
	})

	t.Run("user lock failure keeps link verifiable", func(t *testing.T) {
		engine, store, provider, _ := setupEngine(t)
		link := engine.GetOrCreatePaymentLink(ctx, testUser, proPlan)
		provider.setStatus(link.Link.ProviderLinkID, "paid")

		store.failOn["lock_user"] = errors.New("lock timeout")
		assert.Equal(t, VerifyRetryLater, engine.VerifyAndApply(ctx, testUser, plans.Pro).Outcome)
		assert.Equal(t, LinkCreated, store.link(link.Link.ID).Status)
		_, err := store.GetSubscription(ctx, testUser)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestVerifyAndApply_ConcurrentCallsExtendOnce(t *testing.T) {
	engine, store, provider, clock := setupEngine(t)
	ctx := context.Background()

	link := engine.GetOrCreatePaymentLink(ctx, testUser, proPlan)
	provider.setStatus(link.Link.ProviderLinkID, "paid")

	const callers = 16
	results := make([]VerifyResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = engine.VerifyAndApply(ctx, testUser, plans.Pro)
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, r := range results {
		switch r.Outcome {
		case VerifyApplied:
			applied++
		case VerifyAlreadyVerified:
		default:
			t.Fatalf("unexpected outcome %s", r.Outcome)
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, clock.Now().Add(30*24*time.Hour), *store.data.subs[testUser].ExpiresAt)
}

func TestVerifyAndApply_DifferentPlansConcurrentlyBothExtend(t *testing.T) {
	engine, store, provider, clock := setupEngine(t)
	ctx := context.Background()
	basicPlan := plans.Plan{ID: plans.Basic, Label: "💠 BASIC", Price: 69900, DurationDays: 30}

	basic := engine.GetOrCreatePaymentLink(ctx, testUser, basicPlan)
	pro := engine.GetOrCreatePaymentLink(ctx, testUser, proPlan)
	provider.setStatus(basic.Link.ProviderLinkID, "paid")
	provider.setStatus(pro.Link.ProviderLinkID, "paid")

	results := make([]VerifyResult, 2)
	var wg sync.WaitGroup
	for i, planID := range []plans.ID{plans.Basic, plans.Pro} {
		wg.Add(1)
		go func(i int, planID plans.ID) {
			defer wg.Done()
			results[i] = engine.VerifyAndApply(ctx, testUser, planID)
		}(i, planID)
	}
	wg.Wait()

	assert.Equal(t, VerifyApplied, results[0].Outcome)
	assert.Equal(t, VerifyApplied, results[1].Outcome)

	sub, err := store.GetSubscription(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(60*24*time.Hour), *sub.ExpiresAt)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, []int64{testUser, testUser}, store.data.lockedUsers)
}

func TestVerifyAndApply_DefaultsMissingDuration(t *testing.T) {
	engine, store, provider, clock := setupEngine(t)
	ctx := context.Background()
	engine.defaultDays = 7

	require.NoError(t, store.CreatePaymentLink(ctx, &PaymentLink{
		UserID: testUser, PlanID: plans.Pro, Status: LinkCreated,
		ProviderLinkID: "plink_legacy", ProviderURL: "https://rzp.io/i/legacy",
	}))
	provider.setStatus("plink_legacy", "paid")

	res := engine.VerifyAndApply(ctx, testUser, plans.Pro)
	require.Equal(t, VerifyApplied, res.Outcome)
	assert.Equal(t, clock.Now().Add(7*24*time.Hour), *res.ExpiresAt)
	assert.Equal(t, "PRO", store.data.subs[testUser].PlanLabel)
}

type recordingLocker struct {
	mu       sync.Mutex
	keys     []string
	released int
	err      error
}

func (l *recordingLocker) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.keys = append(l.keys, key)
	return func() {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
	}, nil
}

func TestGetOrCreatePaymentLink_UsesLocker(t *testing.T) {
	engine, _, _, _ := setupEngine(t)
	locker := &recordingLocker{}
	engine.locker = locker

	res := engine.GetOrCreatePaymentLink(context.Background(), testUser, proPlan)
	assert.Equal(t, LinkIssued, res.Outcome)
	assert.Equal(t, []string{"paylink:42:pro"}, locker.keys)
	assert.Equal(t, 1, locker.released)

	locker.err = errors.New("redis down")
	res = engine.GetOrCreatePaymentLink(context.Background(), testUser, proPlan)
	assert.Equal(t, LinkReused, res.Outcome, "lock failure degrades to unlocked path")
}

func TestAsciiLabel(t *testing.T) {
	assert.Equal(t, "PRO", asciiLabel("⚡️ PRO"))
	assert.Equal(t, "BASIC plan", asciiLabel("💠  BASIC  plan"))
	assert.Equal(t, "", asciiLabel("💎"))
}
