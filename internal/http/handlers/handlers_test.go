package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"entitlements/internal/billing"
	"entitlements/internal/domain"
	"entitlements/internal/infra"
	"entitlements/internal/ledger"
	"entitlements/internal/middleware"
	"entitlements/internal/session"
)

const testWebhookSecret = "whsec_test"

type fakeVerifier struct {
	identities map[string]domain.Identity
}

func (f fakeVerifier) VerifyIdentity(_ context.Context, idToken string) (domain.Identity, error) {
	id, ok := f.identities[idToken]
	if !ok {
		return domain.Identity{}, fmt.Errorf("%w: unknown token", domain.ErrInvalidCredential)
	}
	return id, nil
}

type fakeBilling struct {
	mu          sync.Mutex
	customers   int
	checkouts   []domain.CheckoutRequest
	checkoutErr error
}

func (f *fakeBilling) CreateCustomer(_ context.Context, email, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers++
	return fmt.Sprintf("cus_%d", f.customers), nil
}

func (f *fakeBilling) CreateCheckoutSession(_ context.Context, req domain.CheckoutRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkoutErr != nil {
		return "", f.checkoutErr
	}
	f.checkouts = append(f.checkouts, req)
	return "https://checkout.stripe.test/c/" + req.CustomerID, nil
}

type testApp struct {
	*App
	billing *fakeBilling
}

func newTestApp(t *testing.T, webhookSecret string) testApp {
	t.Helper()
	cfg := &infra.Config{
		FrontendURL:     "http://localhost:3000",
		FreeQuota:       domain.DefaultFreeQuota,
		IdentityTimeout: time.Second,
	}
	issuer, err := session.NewIssuer("test-secret")
	require.NoError(t, err)
	led := ledger.NewService(ledger.NewMemoryStore())
	fb := &fakeBilling{}
	metered, err := NewMeteredProxy("", zerolog.Nop())
	require.NoError(t, err)
	return testApp{
		App: &App{
			Config: cfg,
			Logger: zerolog.Nop(),
			Verifier: fakeVerifier{identities: map[string]domain.Identity{
				"good-token": {Email: "ada@example.com", SubjectID: "uid-ada"},
			}},
			Sessions: issuer,
			Ledger:   led,
			Billing:  fb,
			Webhooks: billing.NewProcessor(billing.NewStripeParser(webhookSecret), led,
				billing.WithDeduper(billing.NewMemoryDeduper(time.Hour))),
			Metered: metered,
		},
		billing: fb,
	}
}

// withPrincipal runs h as if SessionAuth had accepted the caller.
func withPrincipal(r *http.Request, email string) *http.Request {
	return r.WithContext(middleware.ContextWithPrincipal(r.Context(), middleware.Principal{Email: email, SubjectID: "uid-ada"}))
}

func serve(h http.HandlerFunc, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, r)
	return rec
}

func jsonRequest(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

var errStripeDown = errors.New("stripe down")
