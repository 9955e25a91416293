package handlers

import (
	"context"
	"io"
	"net/http"

	"entitlements/internal/billing"
)

// Stripe caps event payloads well below this.
const maxWebhookBody = 1 << 20

type webhookResponse struct {
	Status    string `json:"status"`
	EventType string `json:"event_type,omitempty"`
	Message   string `json:"message,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Webhook applies a billing event. Only unreadable or unauthenticated
// deliveries are answered with 400; everything else is acknowledged so the
// sender stops retrying.
func (a *App) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		a.log(r).Warn().Err(err).Msg("read webhook body failed")
		a.json(w, http.StatusBadRequest, webhookResponse{Status: "error", Message: "Invalid payload"})
		return
	}
	sig := r.Header.Get(billing.SignatureHeader)
	if sig == "" {
		sig = r.Header.Get("Signature")
	}

	res := a.Webhooks.Handle(context.WithoutCancel(r.Context()), payload, sig)
	switch {
	case res.Outcome == billing.SignatureFailure:
		a.json(w, http.StatusBadRequest, webhookResponse{Status: "error", Message: "Invalid signature"})
	case res.Outcome == billing.ParseFailure:
		a.json(w, http.StatusBadRequest, webhookResponse{Status: "error", Message: "Invalid payload"})
	case res.Err != nil:
		a.json(w, http.StatusOK, webhookResponse{Status: "error", Message: "Error handled: " + res.Err.Error()})
	default:
		a.json(w, http.StatusOK, webhookResponse{Status: "success", EventType: res.EventType, Duplicate: res.Duplicate})
	}
}
