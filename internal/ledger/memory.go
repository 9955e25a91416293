package ledger

import (
	"context"
	"sync"
	"time"

	"entitlements/internal/domain"
)

type memoryEntry struct {
	mu   sync.Mutex
	user domain.User
}

// MemoryStore keeps records in process. Each record has its own mutex; the
// email, customer and subscription indexes are concurrent maps.
type MemoryStore struct {
	records       sync.Map // email -> *memoryEntry
	customers     sync.Map // customer id -> email
	subscriptions sync.Map // subscription id -> email
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (m *MemoryStore) entry(email string) (*memoryEntry, bool) {
	v, ok := m.records.Load(email)
	if !ok {
		return nil, false
	}
	return v.(*memoryEntry), true
}

func (m *MemoryStore) Get(_ context.Context, email string) (*domain.User, error) {
	e, ok := m.entry(email)
	if !ok {
		return nil, domain.ErrNotFound
	}
	e.mu.Lock()
	u := e.user
	e.mu.Unlock()
	return &u, nil
}

func (m *MemoryStore) Insert(_ context.Context, u *domain.User) error {
	if prev, loaded := m.customers.LoadOrStore(u.BillingCustomerID, u.Email); loaded && prev.(string) != u.Email {
		return domain.ErrDuplicate
	}
	if _, loaded := m.records.LoadOrStore(u.Email, &memoryEntry{user: *u}); loaded {
		m.customers.CompareAndDelete(u.BillingCustomerID, u.Email)
		return domain.ErrDuplicate
	}
	if u.BillingSubscriptionID != "" {
		m.subscriptions.Store(u.BillingSubscriptionID, u.Email)
	}
	return nil
}

func (m *MemoryStore) ConsumeQuota(_ context.Context, email string) (*domain.User, bool, error) {
	e, ok := m.entry(email)
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	granted := false
	switch {
	case e.user.IsPremium:
		granted = true
	case e.user.QuotaRemaining > 0:
		e.user.QuotaRemaining--
		e.user.UpdatedAt = m.now().UTC()
		granted = true
	}
	u := e.user
	return &u, granted, nil
}

func (m *MemoryStore) SetPremium(_ context.Context, upd domain.PremiumUpdate) (bool, error) {
	index := &m.customers
	if upd.Lookup == domain.BySubscription {
		index = &m.subscriptions
	}
	v, ok := index.Load(upd.ID)
	if !ok {
		return false, nil
	}
	e, ok := m.entry(v.(string))
	if !ok {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// the subscription index may lag a concurrent change on this record
	if upd.Lookup == domain.BySubscription && e.user.BillingSubscriptionID != upd.ID {
		return false, nil
	}
	prevSub := e.user.BillingSubscriptionID
	upd.Apply(&e.user)
	e.user.UpdatedAt = m.now().UTC()
	if prevSub != e.user.BillingSubscriptionID {
		if prevSub != "" {
			m.subscriptions.CompareAndDelete(prevSub, e.user.Email)
		}
		if e.user.BillingSubscriptionID != "" {
			m.subscriptions.Store(e.user.BillingSubscriptionID, e.user.Email)
		}
	}
	return true, nil
}

func (m *MemoryStore) AdjustQuota(_ context.Context, email string, remaining int) (*domain.User, error) {
	e, ok := m.entry(email)
	if !ok {
		return nil, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.user.QuotaRemaining = remaining
	e.user.UpdatedAt = m.now().UTC()
	u := e.user
	return &u, nil
}

var _ domain.UserStore = (*MemoryStore)(nil)
