package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"entitlements/internal/domain"
)

// SignatureHeader carries the Stripe webhook signature.
const SignatureHeader = "Stripe-Signature"

// StripeParser authenticates and decodes Stripe webhook payloads.
type StripeParser struct {
	secret string
}

func NewStripeParser(secret string) *StripeParser {
	return &StripeParser{secret: secret}
}

// Verifies reports whether a payload with the given signature header would be authenticated.
// Without a configured secret, or without a header, payloads are trusted as plain JSON.
func (p *StripeParser) Verifies(signature string) bool {
	return p.secret != "" && strings.TrimSpace(signature) != ""
}

// Parse returns the normalized event. Errors wrap domain.ErrWebhookSignatureInvalid
// or domain.ErrWebhookPayloadInvalid.
func (p *StripeParser) Parse(payload []byte, signature string) (Event, error) {
	var (
		evt stripe.Event
		err error
	)
	if p.Verifies(signature) {
		evt, err = webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			if isSignatureError(err) {
				return Event{}, fmt.Errorf("%w: %w", domain.ErrWebhookSignatureInvalid, err)
			}
			return Event{}, fmt.Errorf("%w: %w", domain.ErrWebhookPayloadInvalid, err)
		}
	} else if err = json.Unmarshal(payload, &evt); err != nil {
		return Event{}, fmt.Errorf("%w: %w", domain.ErrWebhookPayloadInvalid, err)
	}

	if evt.Type == "" {
		return Event{}, fmt.Errorf("%w: event type missing", domain.ErrWebhookPayloadInvalid)
	}
	out, err := normalize(evt)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %w", domain.ErrWebhookPayloadInvalid, err)
	}
	return out, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func normalize(evt stripe.Event) (Event, error) {
	out := Event{ID: evt.ID, Type: string(evt.Type)}
	if evt.Data == nil {
		return out, nil
	}

	switch out.Type {
	case EventCheckoutCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &cs); err != nil {
			return out, fmt.Errorf("decode checkout session: %w", err)
		}
		if cs.Customer != nil {
			out.CustomerID = cs.Customer.ID
		}
		if cs.Subscription != nil {
			out.SubscriptionID = cs.Subscription.ID
		}

	case EventSubscriptionDeleted, EventSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return out, fmt.Errorf("decode subscription: %w", err)
		}
		out.SubscriptionID = sub.ID
		out.Status = string(sub.Status)
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}

	case EventInvoicePaymentFailed:
		obj := evt.Data.Object
		out.InvoiceID = stringField(obj, "id")
		out.CustomerID = stringField(obj, "customer")
		out.SubscriptionID = stringField(obj, "subscription")
		out.Currency = stringField(obj, "currency")
		out.AttemptCount = intField(obj, "attempt_count")
		out.AmountDue = intField(obj, "amount_due")
	}
	return out, nil
}

// stringField reads an id that Stripe may send either as a string or as an expanded object.
func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return v
	case map[string]any:
		id, _ := v["id"].(string)
		return id
	}
	return ""
}

func intField(obj map[string]any, key string) int64 {
	if v, ok := obj[key].(float64); ok {
		return int64(v)
	}
	return 0
}
