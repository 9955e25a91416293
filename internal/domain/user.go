package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// DefaultFreeQuota is the number of metered calls granted to a new account.
const DefaultFreeQuota = 3

// User is the ledger record for one account, keyed by normalized email.
type User struct {
	Email                 string
	SubjectID             string
	QuotaRemaining        int
	IsPremium             bool
	BillingCustomerID     string
	BillingSubscriptionID string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Unlimited reports whether metered calls bypass the quota counter.
func (u User) Unlimited() bool {
	return u.IsPremium
}

var emailFolder = cases.Fold()

// NormalizeEmail trims and case-folds an email so it can be used as a ledger key.
func NormalizeEmail(email string) string {
	return emailFolder.String(strings.TrimSpace(email))
}

// Identity is what the identity provider asserts about a caller.
type Identity struct {
	Email     string
	SubjectID string
}
