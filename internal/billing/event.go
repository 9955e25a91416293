// Package billing turns payment processor webhooks into entitlement transitions
// and talks to the processor for customers and checkout sessions.
package billing

import "entitlements/internal/domain"

// Stripe event types the processor reacts to.
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// Subscription statuses that revoke premium on customer.subscription.updated.
var revokingStatuses = map[string]bool{
	"canceled": true,
	"unpaid":   true,
	"past_due": true,
}

// Event is the provider-neutral view of a webhook.
type Event struct {
	ID             string
	Type           string
	CustomerID     string
	SubscriptionID string
	Status         string
	InvoiceID      string
	AttemptCount   int64
	AmountDue      int64
	Currency       string
}

// Transition maps an event to the ledger update it implies. ok is false when the
// event carries no entitlement change.
func Transition(evt Event) (upd domain.PremiumUpdate, ok bool) {
	switch evt.Type {
	case EventCheckoutCompleted:
		if evt.CustomerID == "" {
			return upd, false
		}
		upd = domain.PremiumUpdate{Lookup: domain.ByCustomer, ID: evt.CustomerID, Premium: true}
		if evt.SubscriptionID != "" {
			upd.Subscription = domain.SubscriptionSet
			upd.SubscriptionID = evt.SubscriptionID
		}
		return upd, true

	case EventSubscriptionDeleted:
		if evt.SubscriptionID == "" {
			return upd, false
		}
		return domain.PremiumUpdate{
			Lookup:       domain.BySubscription,
			ID:           evt.SubscriptionID,
			Premium:      false,
			Subscription: domain.SubscriptionClear,
		}, true

	case EventSubscriptionUpdated:
		if evt.CustomerID == "" {
			return upd, false
		}
		switch {
		case evt.Status == "active":
			upd = domain.PremiumUpdate{Lookup: domain.ByCustomer, ID: evt.CustomerID, Premium: true}
			if evt.SubscriptionID != "" {
				upd.Subscription = domain.SubscriptionSet
				upd.SubscriptionID = evt.SubscriptionID
			}
			return upd, true
		case revokingStatuses[evt.Status]:
			return domain.PremiumUpdate{
				Lookup:       domain.ByCustomer,
				ID:           evt.CustomerID,
				Premium:      false,
				Subscription: domain.SubscriptionKeep,
			}, true
		}
	}
	return upd, false
}
