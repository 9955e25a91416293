package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitlements/internal/domain"
)

func countingFactory(calls *atomic.Int32, delay time.Duration) domain.CustomerFactory {
	return func(ctx context.Context) (string, error) {
		n := calls.Add(1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return fmt.Sprintf("cus_%d", n), nil
	}
}

func TestGetOrCreateConcurrentFirstLogin(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store)
	var calls atomic.Int32

	const n = 32
	var wg sync.WaitGroup
	results := make([]*domain.User, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.GetOrCreate(context.Background(), "Ada@Example.com ", "sub-1", countingFactory(&calls, 20*time.Millisecond))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "ada@example.com", results[i].Email)
		assert.Equal(t, "cus_1", results[i].BillingCustomerID)
		assert.Equal(t, domain.DefaultFreeQuota, results[i].QuotaRemaining)
		assert.False(t, results[i].IsPremium)
	}
}

func TestGetOrCreateExistingSkipsFactory(t *testing.T) {
	svc := NewService(NewMemoryStore())
	var calls atomic.Int32

	first, err := svc.GetOrCreate(context.Background(), "ada@example.com", "sub-1", countingFactory(&calls, 0))
	require.NoError(t, err)
	second, err := svc.GetOrCreate(context.Background(), "ada@example.com", "sub-1", countingFactory(&calls, 0))
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first.BillingCustomerID, second.BillingCustomerID)
}

func TestGetOrCreateFactoryFailureLeavesNoRecord(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store)

	_, err := svc.GetOrCreate(context.Background(), "ada@example.com", "sub-1", func(context.Context) (string, error) {
		return "", errors.New("stripe down")
	})
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	_, err = store.Get(context.Background(), "ada@example.com")
	require.ErrorIs(t, err, domain.ErrNotFound)

	// a later login retries creation
	var calls atomic.Int32
	u, err := svc.GetOrCreate(context.Background(), "ada@example.com", "sub-1", countingFactory(&calls, 0))
	require.NoError(t, err)
	assert.Equal(t, "cus_1", u.BillingCustomerID)
}

func TestGetOrCreateFactoryTimeoutLeavesNoRecord(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, WithFactoryTimeout(20*time.Millisecond))
	var calls atomic.Int32

	_, err := svc.GetOrCreate(context.Background(), "ada@example.com", "sub-1", countingFactory(&calls, time.Second))
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = store.Get(context.Background(), "ada@example.com")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetOrCreateCallerCancelDoesNotAbortCreation(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store)
	var calls atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, err := svc.GetOrCreate(ctx, "ada@example.com", "sub-1", countingFactory(&calls, 50*time.Millisecond))
	require.ErrorIs(t, err, context.Canceled)

	require.Eventually(t, func() bool {
		_, err := store.Get(context.Background(), "ada@example.com")
		return err == nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrCreateSubjectMismatchIsLoggedNotRejected(t *testing.T) {
	var buf bytes.Buffer
	svc := NewService(NewMemoryStore(), WithLogger(zerolog.New(&buf)))
	var calls atomic.Int32

	_, err := svc.GetOrCreate(context.Background(), "ada@example.com", "sub-1", countingFactory(&calls, 0))
	require.NoError(t, err)

	u, err := svc.GetOrCreate(context.Background(), "ada@example.com", "sub-2", countingFactory(&calls, 0))
	require.NoError(t, err)
	assert.Equal(t, "sub-1", u.SubjectID)
	assert.Contains(t, buf.String(), "subject id mismatch")
	assert.Contains(t, buf.String(), `"presented_subject":"sub-2"`)
}

type recordingLocker struct {
	mu     sync.Mutex
	held   map[string]bool
	calls  int
	failed error
}

func (l *recordingLocker) Lock(_ context.Context, email string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failed != nil {
		return nil, l.failed
	}
	l.calls++
	if l.held == nil {
		l.held = map[string]bool{}
	}
	l.held[email] = true
	return func() {
		l.mu.Lock()
		delete(l.held, email)
		l.mu.Unlock()
	}, nil
}

func TestGetOrCreateUsesLocker(t *testing.T) {
	locker := &recordingLocker{}
	svc := NewService(NewMemoryStore(), WithLocker(locker))
	var calls atomic.Int32

	_, err := svc.GetOrCreate(context.Background(), "ada@example.com", "sub-1", countingFactory(&calls, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, locker.calls)
	assert.Empty(t, locker.held)

	locker.failed = errors.New("redis down")
	_, err = svc.GetOrCreate(context.Background(), "bob@example.com", "sub-2", countingFactory(&calls, 0))
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrCreateDuplicateInsertReturnsWinner(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store)

	factory := func(ctx context.Context) (string, error) {
		// another instance without the shared lock wins the insert
		if err := store.Insert(ctx, &domain.User{Email: "ada@example.com", SubjectID: "sub-1", QuotaRemaining: 3, BillingCustomerID: "cus_winner"}); err != nil {
			return "", err
		}
		return "cus_loser", nil
	}
	u, err := svc.GetOrCreate(context.Background(), "ada@example.com", "sub-1", factory)
	require.NoError(t, err)
	assert.Equal(t, "cus_winner", u.BillingCustomerID)
}

func TestTryConsumeQuotaConcurrent(t *testing.T) {
	for _, tc := range []struct{ quota, callers int }{{3, 50}, {10, 4}, {0, 5}} {
		t.Run(fmt.Sprintf("k=%d c=%d", tc.quota, tc.callers), func(t *testing.T) {
			svc := NewService(NewMemoryStore(), WithFreeQuota(tc.quota))
			_, err := svc.GetOrCreate(context.Background(), "ada@example.com", "sub-1", func(context.Context) (string, error) {
				return "cus_1", nil
			})
			require.NoError(t, err)

			var granted atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < tc.callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					d, err := svc.TryConsumeQuota(context.Background(), "ada@example.com")
					if err == nil && d.Granted {
						granted.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(min(tc.quota, tc.callers)), granted.Load())
			u, err := svc.Get(context.Background(), "ada@example.com")
			require.NoError(t, err)
			assert.Equal(t, tc.quota-min(tc.quota, tc.callers), u.QuotaRemaining)
		})
	}
}

func TestTryConsumeQuotaPremiumBypass(t *testing.T) {
	svc := NewService(NewMemoryStore())
	_, err := svc.GetOrCreate(context.Background(), "ada@example.com", "sub-1", func(context.Context) (string, error) {
		return "cus_1", nil
	})
	require.NoError(t, err)
	matched, err := svc.SetPremium(context.Background(), domain.PremiumUpdate{
		Lookup: domain.ByCustomer, ID: "cus_1", Premium: true,
		Subscription: domain.SubscriptionSet, SubscriptionID: "sub_1",
	})
	require.NoError(t, err)
	require.True(t, matched)

	for i := 0; i < 10; i++ {
		d, err := svc.TryConsumeQuota(context.Background(), "ada@example.com")
		require.NoError(t, err)
		assert.True(t, d.Granted)
		assert.True(t, d.Unlimited)
		assert.Equal(t, domain.DefaultFreeQuota, d.Remaining)
	}
}

func TestTryConsumeQuotaUnknownUser(t *testing.T) {
	svc := NewService(NewMemoryStore())
	_, err := svc.TryConsumeQuota(context.Background(), "ghost@example.com")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetPremiumTransitions(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())
	_, err := svc.GetOrCreate(ctx, "ada@example.com", "sub-1", func(context.Context) (string, error) { return "cus_1", nil })
	require.NoError(t, err)

	activate := domain.PremiumUpdate{Lookup: domain.ByCustomer, ID: "cus_1", Premium: true, Subscription: domain.SubscriptionSet, SubscriptionID: "sub_A"}
	for i := 0; i < 2; i++ {
		matched, err := svc.SetPremium(ctx, activate)
		require.NoError(t, err)
		require.True(t, matched)
	}
	u, err := svc.Get(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, u.IsPremium)
	assert.Equal(t, "sub_A", u.BillingSubscriptionID)

	matched, err := svc.SetPremium(ctx, domain.PremiumUpdate{Lookup: domain.ByCustomer, ID: "cus_1", Premium: false, Subscription: domain.SubscriptionKeep})
	require.NoError(t, err)
	require.True(t, matched)
	u, _ = svc.Get(ctx, "ada@example.com")
	assert.False(t, u.IsPremium)
	assert.Equal(t, "sub_A", u.BillingSubscriptionID)

	matched, err = svc.SetPremium(ctx, domain.PremiumUpdate{Lookup: domain.BySubscription, ID: "sub_other", Premium: false, Subscription: domain.SubscriptionClear})
	require.NoError(t, err)
	assert.False(t, matched)

	matched, err = svc.SetPremium(ctx, domain.PremiumUpdate{Lookup: domain.BySubscription, ID: "sub_A", Premium: false, Subscription: domain.SubscriptionClear})
	require.NoError(t, err)
	require.True(t, matched)
	u, _ = svc.Get(ctx, "ada@example.com")
	assert.False(t, u.IsPremium)
	assert.Empty(t, u.BillingSubscriptionID)

	// the cleared subscription no longer resolves
	matched, err = svc.SetPremium(ctx, domain.PremiumUpdate{Lookup: domain.BySubscription, ID: "sub_A", Premium: true})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestSetPremiumUnknownCustomerIsNoop(t *testing.T) {
	svc := NewService(NewMemoryStore())
	matched, err := svc.SetPremium(context.Background(), domain.PremiumUpdate{Lookup: domain.ByCustomer, ID: "cus_nobody", Premium: true})
	require.NoError(t, err)
	assert.False(t, matched)

	matched, err = svc.SetPremium(context.Background(), domain.PremiumUpdate{Lookup: domain.ByCustomer, ID: "", Premium: true})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestAdjustQuota(t *testing.T) {
	svc := NewService(NewMemoryStore())
	_, err := svc.GetOrCreate(context.Background(), "ada@example.com", "sub-1", func(context.Context) (string, error) { return "cus_1", nil })
	require.NoError(t, err)

	u, err := svc.AdjustQuota(context.Background(), "ada@example.com", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, u.QuotaRemaining)

	_, err = svc.AdjustQuota(context.Background(), "ada@example.com", -1)
	require.Error(t, err)
	_, err = svc.AdjustQuota(context.Background(), "ghost@example.com", 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreationLockTTLOutlivesCreation(t *testing.T) {
	tests := []struct {
		factory time.Duration
		want    time.Duration
	}{
		{factory: 0, want: 40 * time.Second},
		{factory: 15 * time.Second, want: 40 * time.Second},
		{factory: 45 * time.Second, want: 100 * time.Second},
	}
	for _, tc := range tests {
		got := CreationLockTTL(tc.factory)
		assert.Equal(t, tc.want, got, "factory timeout %s", tc.factory)

		svc := NewService(NewMemoryStore(), WithFactoryTimeout(tc.factory))
		assert.Greater(t, got, svc.createTimeout)
	}
}
