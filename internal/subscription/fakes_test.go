package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"approve-bot/internal/plans"
)

// memStore is an in-memory Store. InTx holds the mutex for the whole
// callback and hands out an unlocked view, like a serialisable transaction.
type memStore struct {
	mu     sync.Mutex
	data   *memData
	failOn map[string]error
}

type memData struct {
	subs        map[int64]Subscription
	links       []PaymentLink
	nextID      uint
	lockedUsers []int64
}

type memTx struct {
	data   *memData
	failOn map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		data:   &memData{subs: map[int64]Subscription{}},
		failOn: map[string]error{},
	}
}

func (s *memStore) view() *memTx {
	return &memTx{data: s.data, failOn: s.failOn}
}

func (s *memStore) GetSubscription(ctx context.Context, userID int64) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetSubscription(ctx, userID)
}

func (s *memStore) UpsertSubscription(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UpsertSubscription(ctx, sub)
}

func (s *memStore) LockUser(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().LockUser(ctx, userID)
}

func (s *memStore) LatestPaymentLink(ctx context.Context, userID int64, planID plans.ID) (*PaymentLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().LatestPaymentLink(ctx, userID, planID)
}

func (s *memStore) CreatePaymentLink(ctx context.Context, link *PaymentLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreatePaymentLink(ctx, link)
}

func (s *memStore) MarkLinkPaid(ctx context.Context, linkID uint, paidAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().MarkLinkPaid(ctx, linkID, paidAt)
}

func (s *memStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(s.view()); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *memStore) link(id uint) PaymentLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.data.links {
		if l.ID == id {
			return l
		}
	}
	panic(fmt.Sprintf("link %d not found", id))
}

func (s *memStore) linkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.links)
}

func (d *memData) clone() *memData {
	c := &memData{subs: make(map[int64]Subscription, len(d.subs)), nextID: d.nextID}
	for k, v := range d.subs {
		c.subs[k] = v
	}
	c.links = append([]PaymentLink(nil), d.links...)
	c.lockedUsers = append([]int64(nil), d.lockedUsers...)
	return c
}

func (t *memTx) GetSubscription(_ context.Context, userID int64) (*Subscription, error) {
	if err := t.failOn["get_subscription"]; err != nil {
		return nil, err
	}
	sub, ok := t.data.subs[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &sub, nil
}

func (t *memTx) UpsertSubscription(_ context.Context, sub *Subscription) error {
	if err := t.failOn["upsert_subscription"]; err != nil {
		return err
	}
	t.data.subs[sub.UserID] = *sub
	return nil
}

func (t *memTx) LockUser(_ context.Context, userID int64) error {
	if err := t.failOn["lock_user"]; err != nil {
		return err
	}
	t.data.lockedUsers = append(t.data.lockedUsers, userID)
	return nil
}

func (t *memTx) LatestPaymentLink(_ context.Context, userID int64, planID plans.ID) (*PaymentLink, error) {
	if err := t.failOn["latest_link"]; err != nil {
		return nil, err
	}
	for i := len(t.data.links) - 1; i >= 0; i-- {
		l := t.data.links[i]
		if l.UserID == userID && l.PlanID == planID {
			return &l, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) CreatePaymentLink(_ context.Context, link *PaymentLink) error {
	if err := t.failOn["create_link"]; err != nil {
		return err
	}
	t.data.nextID++
	link.ID = t.data.nextID
	t.data.links = append(t.data.links, *link)
	return nil
}

func (t *memTx) MarkLinkPaid(_ context.Context, linkID uint, paidAt time.Time) (bool, error) {
	if err := t.failOn["mark_paid"]; err != nil {
		return false, err
	}
	for i := range t.data.links {
		l := &t.data.links[i]
		if l.ID == linkID && l.Status == LinkCreated {
			l.Status = LinkPaid
			l.PaidAt = &paidAt
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

// fakeProvider issues sequential links and reports statuses set by the test.
type fakeProvider struct {
	mu        sync.Mutex
	created   []LinkRequest
	statuses  map[string]ProviderStatus
	createErr error
	fetchErr  error
	fetches   int
	delay     time.Duration
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{statuses: map[string]ProviderStatus{}}
}

func (p *fakeProvider) CreateLink(ctx context.Context, req LinkRequest) (*ProviderLink, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.created = append(p.created, req)
	id := fmt.Sprintf("plink_%d", len(p.created))
	p.statuses[id] = "created"
	return &ProviderLink{ID: id, URL: "https://rzp.io/i/" + id}, nil
}

func (p *fakeProvider) FetchLink(ctx context.Context, id string) (ProviderStatus, error) {
	p.mu.Lock()
	p.fetches++
	delay, fetchErr := p.delay, p.fetchErr
	status, ok := p.statuses[id]
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fetchErr != nil {
		return "", fetchErr
	}
	if !ok {
		return "", errors.New("payment link not found")
	}
	return status, nil
}

func (p *fakeProvider) setStatus(id string, st ProviderStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[id] = st
}

// fixedClock returns a clock that can be moved forward by the test.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
