package domain

// LookupKey selects the index SetPremium resolves a record through.
type LookupKey int

const (
	ByCustomer LookupKey = iota + 1
	BySubscription
)

func (k LookupKey) String() string {
	switch k {
	case ByCustomer:
		return "customer"
	case BySubscription:
		return "subscription"
	default:
		return "unknown"
	}
}

// SubscriptionChange describes what happens to the stored subscription id.
type SubscriptionChange int

const (
	SubscriptionKeep SubscriptionChange = iota
	SubscriptionSet
	SubscriptionClear
)

// PremiumUpdate is a single entitlement transition driven by a billing event.
type PremiumUpdate struct {
	Lookup         LookupKey
	ID             string
	Premium        bool
	Subscription   SubscriptionChange
	SubscriptionID string
}

// Apply mutates u according to the update.
func (p PremiumUpdate) Apply(u *User) {
	u.IsPremium = p.Premium
	switch p.Subscription {
	case SubscriptionSet:
		u.BillingSubscriptionID = p.SubscriptionID
	case SubscriptionClear:
		u.BillingSubscriptionID = ""
	}
}

// CheckoutRequest carries what the billing provider needs to start a subscription checkout.
type CheckoutRequest struct {
	CustomerID string
	Email      string
	SuccessURL string
	CancelURL  string
}
