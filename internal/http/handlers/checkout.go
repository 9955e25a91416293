package handlers

import (
	"net/http"

	"entitlements/internal/domain"
	"entitlements/internal/i18n"
)

type checkoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
}

// CreateCheckoutSession starts a hosted subscription checkout for the caller.
func (a *App) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	user, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	url, err := a.Billing.CreateCheckoutSession(r.Context(), domain.CheckoutRequest{
		CustomerID: user.BillingCustomerID,
		Email:      user.Email,
		SuccessURL: a.Config.FrontendURL + "/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  a.Config.FrontendURL + "/cancel",
	})
	if err != nil {
		a.log(r).Error().Err(err).Str("email", user.Email).Msg("create checkout session failed")
		a.error(w, r, http.StatusInternalServerError, "checkout_failed", i18n.MsgCheckoutFailed)
		return
	}
	a.json(w, http.StatusOK, checkoutResponse{CheckoutURL: url})
}
