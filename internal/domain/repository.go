package domain

import "context"

// UserStore persists ledger records. Every mutating method is atomic per record.
type UserStore interface {
	Get(ctx context.Context, email string) (*User, error)
	// Insert stores u unless a record with the same email exists, in which case
	// ErrDuplicate is returned and nothing changes.
	Insert(ctx context.Context, u *User) error
	// ConsumeQuota decrements the counter of a non-premium record when it is above zero.
	// It returns the record after the attempt and whether a unit was granted.
	ConsumeQuota(ctx context.Context, email string) (*User, bool, error)
	// SetPremium applies upd to the record found through its lookup key and reports
	// whether any record matched.
	SetPremium(ctx context.Context, upd PremiumUpdate) (bool, error)
	// AdjustQuota sets the remaining quota of a record directly.
	AdjustQuota(ctx context.Context, email string, remaining int) (*User, error)
}

// IdentityVerifier validates an identity provider token.
type IdentityVerifier interface {
	VerifyIdentity(ctx context.Context, idToken string) (Identity, error)
}

// CustomerFactory creates a billing customer for a new account.
type CustomerFactory func(ctx context.Context) (string, error)

// BillingProvider is the outbound side of the payment processor.
type BillingProvider interface {
	CreateCustomer(ctx context.Context, email, subjectID string) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
}
