package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"entitlements/internal/billing"
	"entitlements/internal/domain"
	"entitlements/internal/http/respond"
	"entitlements/internal/i18n"
	"entitlements/internal/infra"
	"entitlements/internal/ledger"
	"entitlements/internal/middleware"
	"entitlements/internal/session"
)

// App carries the dependencies shared by every handler.
type App struct {
	Config   *infra.Config
	Logger   zerolog.Logger
	Verifier domain.IdentityVerifier
	Sessions *session.Issuer
	Ledger   *ledger.Service
	Billing  domain.BillingProvider
	Webhooks *billing.Processor
	Metered  http.Handler
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	respond.JSON(w, code, v)
}

// error writes the standard envelope with a message localized for the request.
func (a *App) error(w http.ResponseWriter, r *http.Request, code int, errCode, key string, args ...any) {
	respond.Error(w, code, errCode, i18n.Text(middleware.LocaleFromContext(r.Context()), key, args...))
}

// log returns the request-scoped logger, falling back to the app logger.
func (a *App) log(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &a.Logger
}
