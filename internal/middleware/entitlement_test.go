package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitlements/internal/domain"
	"entitlements/internal/ledger"
)

type stubConsumer struct {
	decision ledger.Decision
	err      error
	calls    int
}

func (s *stubConsumer) TryConsumeQuota(context.Context, string) (ledger.Decision, error) {
	s.calls++
	return s.decision, s.err
}

func gateRequest(t *testing.T, consumer QuotaConsumer, withPrincipal bool) (*httptest.ResponseRecorder, int) {
	t.Helper()
	invoked := 0
	h := Entitlement(consumer, 3, "/create-checkout-session")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		invoked++
		w.WriteHeader(http.StatusAccepted)
	}))
	r := httptest.NewRequest(http.MethodPost, "/api/generate-image", nil)
	if withPrincipal {
		r = r.WithContext(ContextWithPrincipal(r.Context(), Principal{Email: "ada@example.com", SubjectID: "uid-1"}))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec, invoked
}

func TestEntitlementGrants(t *testing.T) {
	consumer := &stubConsumer{decision: ledger.Decision{Granted: true, Remaining: 2}}
	rec, invoked := gateRequest(t, consumer, true)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, invoked)
	assert.Equal(t, "2", rec.Header().Get("X-Quota-Remaining"))

	consumer.decision = ledger.Decision{Granted: true, Unlimited: true}
	rec, _ = gateRequest(t, consumer, true)
	assert.Equal(t, "unlimited", rec.Header().Get("X-Quota-Remaining"))
}

func TestEntitlementDeniesWithUpgradePrompt(t *testing.T) {
	rec, invoked := gateRequest(t, &stubConsumer{decision: ledger.Decision{Granted: false}}, true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, invoked)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["upgrade_required"])
	assert.Equal(t, "/create-checkout-session", body["checkout_path"])
	assert.Contains(t, body["detail"], "Upgrade to Premium")
	assert.Equal(t, "quota_exceeded", body["error"].(map[string]any)["code"])
}

func TestEntitlementFailures(t *testing.T) {
	rec, invoked := gateRequest(t, &stubConsumer{err: errors.New("db down")}, true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, invoked)

	rec, invoked = gateRequest(t, &stubConsumer{err: domain.ErrNotFound}, true)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, invoked)

	consumer := &stubConsumer{decision: ledger.Decision{Granted: true}}
	rec, invoked = gateRequest(t, consumer, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, invoked)
	assert.Zero(t, consumer.calls)
}
