package repo

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitlements/internal/domain"
	"entitlements/internal/sqlinline"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

func noRows() pgx.Row {
	return fakeRow{scan: func(...any) error { return pgx.ErrNoRows }}
}

func userRow(u domain.User) pgx.Row {
	return fakeRow{scan: func(dest ...any) error {
		*dest[0].(*string) = u.Email
		*dest[1].(*string) = u.SubjectID
		*dest[2].(*int) = u.QuotaRemaining
		*dest[3].(*bool) = u.IsPremium
		*dest[4].(*string) = u.BillingCustomerID
		*dest[5].(*string) = u.BillingSubscriptionID
		*dest[6].(*time.Time) = u.CreatedAt
		*dest[7].(*time.Time) = u.UpdatedAt
		return nil
	}}
}

// fakeLedgerSQL interprets the ledger statements against a map, the way the
// conditional SQL would behave.
type fakeLedgerSQL struct {
	mu      sync.Mutex
	users   map[string]*domain.User
	failAll error
}

func newFakeLedgerSQL() *fakeLedgerSQL {
	return &fakeLedgerSQL{users: map[string]*domain.User{}}
}

func (f *fakeLedgerSQL) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return pgconn.CommandTag{}, f.failAll
	}
	id := args[0].(string)
	premium := args[1].(bool)
	change := domain.SubscriptionChange(args[2].(int))
	subID := args[3].(string)

	var affected int64
	for _, u := range f.users {
		var match bool
		switch query {
		case sqlinline.QSetPremiumByCustomer:
			match = u.BillingCustomerID == id
		case sqlinline.QSetPremiumBySubscription:
			match = u.BillingSubscriptionID != "" && u.BillingSubscriptionID == id
		default:
			return pgconn.CommandTag{}, errors.New("unexpected exec")
		}
		if match {
			domain.PremiumUpdate{Premium: premium, Subscription: change, SubscriptionID: subID}.Apply(u)
			affected++
		}
	}
	return pgconn.NewCommandTag("UPDATE " + strconv.FormatInt(affected, 10)), nil
}

func (f *fakeLedgerSQL) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		err := f.failAll
		return fakeRow{scan: func(...any) error { return err }}
	}
	email := args[0].(string)
	switch query {
	case sqlinline.QSelectLedgerUser:
		if u, ok := f.users[email]; ok {
			return userRow(*u)
		}
		return noRows()
	case sqlinline.QInsertLedgerUser:
		if _, ok := f.users[email]; ok {
			return noRows()
		}
		for _, u := range f.users {
			if u.BillingCustomerID == args[4].(string) {
				return noRows()
			}
		}
		created := args[6].(time.Time)
		f.users[email] = &domain.User{
			Email:                 email,
			SubjectID:             args[1].(string),
			QuotaRemaining:        args[2].(int),
			IsPremium:             args[3].(bool),
			BillingCustomerID:     args[4].(string),
			BillingSubscriptionID: args[5].(string),
			CreatedAt:             created,
			UpdatedAt:             created,
		}
		return fakeRow{scan: func(dest ...any) error {
			*dest[0].(*time.Time) = created
			return nil
		}}
	case sqlinline.QConsumeLedgerQuota:
		u, ok := f.users[email]
		if !ok || u.IsPremium || u.QuotaRemaining <= 0 {
			return noRows()
		}
		u.QuotaRemaining--
		return userRow(*u)
	case sqlinline.QAdjustLedgerQuota:
		u, ok := f.users[email]
		if !ok {
			return noRows()
		}
		u.QuotaRemaining = args[1].(int)
		return userRow(*u)
	}
	return fakeRow{scan: func(...any) error { return errors.New("unexpected query") }}
}

func TestUserStorePGInsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewUserStore(newFakeLedgerSQL())

	u := &domain.User{Email: "ada@example.com", SubjectID: "sub-1", QuotaRemaining: 3, BillingCustomerID: "cus_1"}
	require.NoError(t, store.Insert(ctx, u))
	assert.False(t, u.CreatedAt.IsZero())

	got, err := store.Get(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", got.BillingCustomerID)
	assert.Equal(t, 3, got.QuotaRemaining)

	require.ErrorIs(t, store.Insert(ctx, &domain.User{Email: "ada@example.com", BillingCustomerID: "cus_2"}), domain.ErrDuplicate)

	_, err = store.Get(ctx, "ghost@example.com")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUserStorePGConsumeQuota(t *testing.T) {
	ctx := context.Background()
	store := NewUserStore(newFakeLedgerSQL())
	require.NoError(t, store.Insert(ctx, &domain.User{Email: "ada@example.com", QuotaRemaining: 1, BillingCustomerID: "cus_1"}))

	u, granted, err := store.ConsumeQuota(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, 0, u.QuotaRemaining)

	u, granted, err = store.ConsumeQuota(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, 0, u.QuotaRemaining)

	matched, err := store.SetPremium(ctx, domain.PremiumUpdate{Lookup: domain.ByCustomer, ID: "cus_1", Premium: true, Subscription: domain.SubscriptionSet, SubscriptionID: "sub_1"})
	require.NoError(t, err)
	require.True(t, matched)

	u, granted, err = store.ConsumeQuota(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, granted)
	assert.True(t, u.IsPremium)

	_, _, err = store.ConsumeQuota(ctx, "ghost@example.com")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUserStorePGSetPremiumBySubscription(t *testing.T) {
	ctx := context.Background()
	store := NewUserStore(newFakeLedgerSQL())
	require.NoError(t, store.Insert(ctx, &domain.User{Email: "ada@example.com", BillingCustomerID: "cus_1", BillingSubscriptionID: "sub_1", IsPremium: true}))

	matched, err := store.SetPremium(ctx, domain.PremiumUpdate{Lookup: domain.BySubscription, ID: "sub_1", Premium: false, Subscription: domain.SubscriptionClear})
	require.NoError(t, err)
	require.True(t, matched)

	got, err := store.Get(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.False(t, got.IsPremium)
	assert.Empty(t, got.BillingSubscriptionID)

	matched, err = store.SetPremium(ctx, domain.PremiumUpdate{Lookup: domain.BySubscription, ID: "sub_1", Premium: true})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestUserStorePGPropagatesErrors(t *testing.T) {
	ctx := context.Background()
	fake := newFakeLedgerSQL()
	fake.failAll = errors.New("connection refused")
	store := NewUserStore(fake)

	_, err := store.Get(ctx, "ada@example.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)

	_, err = store.SetPremium(ctx, domain.PremiumUpdate{Lookup: domain.ByCustomer, ID: "cus_1"})
	require.Error(t, err)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}
