package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"entitlements/internal/domain"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name   string
		evt    Event
		want   domain.PremiumUpdate
		wantOK bool
	}{
		{
			name:   "checkout completed",
			evt:    Event{Type: EventCheckoutCompleted, CustomerID: "cus_1", SubscriptionID: "sub_1"},
			want:   domain.PremiumUpdate{Lookup: domain.ByCustomer, ID: "cus_1", Premium: true, Subscription: domain.SubscriptionSet, SubscriptionID: "sub_1"},
			wantOK: true,
		},
		{
			name:   "checkout completed without subscription keeps id",
			evt:    Event{Type: EventCheckoutCompleted, CustomerID: "cus_1"},
			want:   domain.PremiumUpdate{Lookup: domain.ByCustomer, ID: "cus_1", Premium: true},
			wantOK: true,
		},
		{
			name: "checkout completed without customer",
			evt:  Event{Type: EventCheckoutCompleted, SubscriptionID: "sub_1"},
		},
		{
			name:   "subscription deleted",
			evt:    Event{Type: EventSubscriptionDeleted, CustomerID: "cus_1", SubscriptionID: "sub_1"},
			want:   domain.PremiumUpdate{Lookup: domain.BySubscription, ID: "sub_1", Subscription: domain.SubscriptionClear},
			wantOK: true,
		},
		{
			name:   "subscription updated active",
			evt:    Event{Type: EventSubscriptionUpdated, CustomerID: "cus_1", SubscriptionID: "sub_2", Status: "active"},
			want:   domain.PremiumUpdate{Lookup: domain.ByCustomer, ID: "cus_1", Premium: true, Subscription: domain.SubscriptionSet, SubscriptionID: "sub_2"},
			wantOK: true,
		},
		{
			name:   "subscription updated active without subscription keeps id",
			evt:    Event{Type: EventSubscriptionUpdated, CustomerID: "cus_1", Status: "active"},
			want:   domain.PremiumUpdate{Lookup: domain.ByCustomer, ID: "cus_1", Premium: true, Subscription: domain.SubscriptionKeep},
			wantOK: true,
		},
		{
			name:   "subscription updated past due",
			evt:    Event{Type: EventSubscriptionUpdated, CustomerID: "cus_1", SubscriptionID: "sub_2", Status: "past_due"},
			want:   domain.PremiumUpdate{Lookup: domain.ByCustomer, ID: "cus_1", Subscription: domain.SubscriptionKeep},
			wantOK: true,
		},
		{
			name:   "subscription updated canceled",
			evt:    Event{Type: EventSubscriptionUpdated, CustomerID: "cus_1", SubscriptionID: "sub_2", Status: "canceled"},
			want:   domain.PremiumUpdate{Lookup: domain.ByCustomer, ID: "cus_1", Subscription: domain.SubscriptionKeep},
			wantOK: true,
		},
		{
			name:   "subscription updated unpaid",
			evt:    Event{Type: EventSubscriptionUpdated, CustomerID: "cus_1", SubscriptionID: "sub_2", Status: "unpaid"},
			want:   domain.PremiumUpdate{Lookup: domain.ByCustomer, ID: "cus_1", Subscription: domain.SubscriptionKeep},
			wantOK: true,
		},
		{
			name: "subscription updated trialing",
			evt:  Event{Type: EventSubscriptionUpdated, CustomerID: "cus_1", SubscriptionID: "sub_2", Status: "trialing"},
		},
		{
			name: "payment failed",
			evt:  Event{Type: EventInvoicePaymentFailed, CustomerID: "cus_1"},
		},
		{
			name: "unknown",
			evt:  Event{Type: "customer.created", CustomerID: "cus_1"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Transition(tc.evt)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}
