package handlers

import (
	"errors"
	"net/http"

	"entitlements/internal/domain"
	"entitlements/internal/i18n"
	"entitlements/internal/middleware"
)

type userDTO struct {
	Email                string  `json:"email"`
	UID                  string  `json:"uid"`
	APICallsRemaining    int     `json:"api_calls_remaining"`
	IsPremium            bool    `json:"is_premium"`
	StripeCustomerID     string  `json:"stripe_customer_id"`
	StripeSubscriptionID *string `json:"stripe_subscription_id"`
}

func newUserDTO(u *domain.User) userDTO {
	dto := userDTO{
		Email:             u.Email,
		UID:               u.SubjectID,
		APICallsRemaining: u.QuotaRemaining,
		IsPremium:         u.IsPremium,
		StripeCustomerID:  u.BillingCustomerID,
	}
	if u.BillingSubscriptionID != "" {
		sub := u.BillingSubscriptionID
		dto.StripeSubscriptionID = &sub
	}
	return dto
}

type usageDTO struct {
	APICallsRemaining int  `json:"api_calls_remaining"`
	IsPremium         bool `json:"is_premium"`
	Unlimited         bool `json:"unlimited"`
}

func (a *App) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, newUserDTO(user))
}

func (a *App) Usage(w http.ResponseWriter, r *http.Request) {
	user, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, usageDTO{
		APICallsRemaining: user.QuotaRemaining,
		IsPremium:         user.IsPremium,
		Unlimited:         user.Unlimited(),
	})
}

// currentUser loads the ledger record of the authenticated caller. It writes
// the error response itself and reports false when the request must stop.
func (a *App) currentUser(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.Unauthorized(w, r)
		return nil, false
	}
	user, err := a.Ledger.Get(r.Context(), p.Email)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		middleware.Unauthorized(w, r)
		return nil, false
	case err != nil:
		a.log(r).Error().Err(err).Str("email", p.Email).Msg("load user failed")
		a.error(w, r, http.StatusServiceUnavailable, "upstream_unavailable", i18n.MsgUpstreamUnavailable)
		return nil, false
	}
	return user, true
}
