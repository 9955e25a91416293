// Package ledger owns per-user entitlement state: account creation, the free-tier
// counter and the premium flag.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"entitlements/internal/domain"
)

const (
	defaultCreateTimeout  = 30 * time.Second
	defaultFactoryTimeout = 15 * time.Second
	lockTTLMargin         = 10 * time.Second
)

func createTimeoutFor(factoryTimeout time.Duration) time.Duration {
	if defaultCreateTimeout < factoryTimeout {
		return 2 * factoryTimeout
	}
	return defaultCreateTimeout
}

// CreationLockTTL returns a creation lock TTL that outlives one account
// creation bounded by factoryTimeout.
func CreationLockTTL(factoryTimeout time.Duration) time.Duration {
	if factoryTimeout <= 0 {
		factoryTimeout = defaultFactoryTimeout
	}
	return createTimeoutFor(factoryTimeout) + lockTTLMargin
}

// Decision is the outcome of a quota consumption attempt.
type Decision struct {
	Granted   bool
	Unlimited bool
	Remaining int
}

// Service coordinates the store with per-email creation serialization.
type Service struct {
	store          domain.UserStore
	locker         Locker
	logger         zerolog.Logger
	freeQuota      int
	factoryTimeout time.Duration
	createTimeout  time.Duration
	now            func() time.Time
	creates        singleflight.Group
}

// Option customizes a Service.
type Option func(*Service)

// WithLocker serializes account creation across processes.
func WithLocker(l Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithLogger sets the logger used for anomalies and transitions.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithFreeQuota overrides domain.DefaultFreeQuota for new accounts.
func WithFreeQuota(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.freeQuota = n
		}
	}
}

// WithFactoryTimeout bounds the billing customer factory call.
func WithFactoryTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.factoryTimeout = d
		}
	}
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store domain.UserStore, opts ...Option) *Service {
	s := &Service{
		store:          store,
		locker:         noopLocker{},
		logger:         zerolog.Nop(),
		freeQuota:      domain.DefaultFreeQuota,
		factoryTimeout: defaultFactoryTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.createTimeout = createTimeoutFor(s.factoryTimeout)
	return s
}

// Get returns the record for email.
func (s *Service) Get(ctx context.Context, email string) (*domain.User, error) {
	u, err := s.store.Get(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return nil, storeErr(err)
	}
	return u, nil
}

// GetOrCreate returns the record for email, creating it on first sight.
// factory runs at most once per email no matter how many logins race; if it fails
// or times out no record is written.
func (s *Service) GetOrCreate(ctx context.Context, email, subjectID string, factory domain.CustomerFactory) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, errors.New("ledger: email is required")
	}

	u, err := s.store.Get(ctx, email)
	switch {
	case err == nil:
		s.checkSubject(u, subjectID)
		return u, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, storeErr(err)
	}

	// The creation runs detached so a disconnecting caller cannot abandon it halfway.
	ch := s.creates.DoChan(email, func() (any, error) {
		return s.create(context.WithoutCancel(ctx), email, subjectID, factory)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		created := *res.Val.(*domain.User)
		if res.Shared {
			s.checkSubject(&created, subjectID)
		}
		return &created, nil
	}
}

func (s *Service) create(ctx context.Context, email, subjectID string, factory domain.CustomerFactory) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.createTimeout)
	defer cancel()

	unlock, err := s.locker.Lock(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: creation lock: %w", domain.ErrUpstreamUnavailable, err)
	}
	defer unlock()

	// another process may have finished while we waited for the lock
	if u, err := s.store.Get(ctx, email); err == nil {
		s.checkSubject(u, subjectID)
		return u, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, storeErr(err)
	}

	fctx, fcancel := context.WithTimeout(ctx, s.factoryTimeout)
	customerID, err := factory(fctx)
	fcancel()
	if err != nil {
		s.logger.Error().Err(err).Str("email", email).Msg("billing customer creation failed")
		return nil, fmt.Errorf("%w: create billing customer: %w", domain.ErrUpstreamUnavailable, err)
	}
	if strings.TrimSpace(customerID) == "" {
		return nil, fmt.Errorf("%w: billing customer id is empty", domain.ErrUpstreamUnavailable)
	}

	now := s.now().UTC()
	u := &domain.User{
		Email:             email,
		SubjectID:         subjectID,
		QuotaRemaining:    s.freeQuota,
		BillingCustomerID: customerID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.Insert(ctx, u); err != nil {
		if !errors.Is(err, domain.ErrDuplicate) {
			return nil, storeErr(err)
		}
		s.logger.Warn().Str("email", email).Str("orphan_customer_id", customerID).
			Msg("account created concurrently elsewhere; billing customer left unused")
		existing, gerr := s.store.Get(ctx, email)
		if gerr != nil {
			return nil, storeErr(gerr)
		}
		s.checkSubject(existing, subjectID)
		return existing, nil
	}
	s.logger.Info().Str("email", email).Str("customer_id", customerID).Msg("account created")
	return u, nil
}

// checkSubject logs when a login for an existing email carries a different subject id.
// The login still proceeds.
func (s *Service) checkSubject(u *domain.User, subjectID string) {
	if subjectID == "" || u.SubjectID == subjectID {
		return
	}
	s.logger.Warn().
		Str("email", u.Email).
		Str("stored_subject", u.SubjectID).
		Str("presented_subject", subjectID).
		Msg("subject id mismatch for existing account")
}

// TryConsumeQuota spends one metered call for email unless the account is premium.
func (s *Service) TryConsumeQuota(ctx context.Context, email string) (Decision, error) {
	u, granted, err := s.store.ConsumeQuota(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return Decision{}, storeErr(err)
	}
	return Decision{Granted: granted, Unlimited: u.IsPremium, Remaining: u.QuotaRemaining}, nil
}

// SetPremium applies a billing transition. A missing record is not an error.
func (s *Service) SetPremium(ctx context.Context, upd domain.PremiumUpdate) (bool, error) {
	if strings.TrimSpace(upd.ID) == "" {
		return false, nil
	}
	matched, err := s.store.SetPremium(ctx, upd)
	if err != nil {
		return false, storeErr(err)
	}
	evt := s.logger.Info()
	if !matched {
		evt = s.logger.Warn()
	}
	evt.Str("lookup", upd.Lookup.String()).Str("id", upd.ID).Bool("premium", upd.Premium).
		Bool("matched", matched).Msg("premium transition")
	return matched, nil
}

// AdjustQuota overwrites the remaining free-tier calls for email.
func (s *Service) AdjustQuota(ctx context.Context, email string, remaining int) (*domain.User, error) {
	if remaining < 0 {
		return nil, errors.New("ledger: remaining quota must not be negative")
	}
	u, err := s.store.AdjustQuota(ctx, domain.NormalizeEmail(email), remaining)
	if err != nil {
		return nil, storeErr(err)
	}
	return u, nil
}

func storeErr(err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUpstreamUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: ledger store: %w", domain.ErrUpstreamUnavailable, err)
}
