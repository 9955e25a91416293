package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"entitlements/internal/domain"
)

// StripeProvider creates customers and subscription checkout sessions.
type StripeProvider struct {
	api     *client.API
	priceID string
	timeout time.Duration
}

// StripeOption customizes a StripeProvider.
type StripeOption func(*stripeOptions)

type stripeOptions struct {
	backends *stripe.Backends
	timeout  time.Duration
}

// WithBackends points the client at custom backends.
func WithBackends(b *stripe.Backends) StripeOption {
	return func(o *stripeOptions) { o.backends = b }
}

// WithTimeout bounds every outbound call.
func WithTimeout(d time.Duration) StripeOption {
	return func(o *stripeOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func NewStripeProvider(secretKey, priceID string, opts ...StripeOption) *StripeProvider {
	o := stripeOptions{timeout: 15 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	return &StripeProvider{
		api:     client.New(secretKey, o.backends),
		priceID: priceID,
		timeout: o.timeout,
	}
}

// CreateCustomer registers a billing customer tagged with the identity subject.
func (s *StripeProvider) CreateCustomer(ctx context.Context, email, subjectID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	params.AddMetadata("firebase_uid", subjectID)
	params.SetIdempotencyKey("customer-" + uuid.NewString())

	c, err := s.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: stripe create customer: %w", domain.ErrUpstreamUnavailable, err)
	}
	return c.ID, nil
}

// CreateCheckoutSession starts a hosted subscription checkout and returns its URL.
func (s *StripeProvider) CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (string, error) {
	if req.CustomerID == "" {
		return "", errors.New("billing: customer id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(req.CustomerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: stripe checkout session: %w", domain.ErrUpstreamUnavailable, err)
	}
	if sess.URL == "" {
		return "", fmt.Errorf("%w: stripe checkout session has no url", domain.ErrUpstreamUnavailable)
	}
	return sess.URL, nil
}

var _ domain.BillingProvider = (*StripeProvider)(nil)
