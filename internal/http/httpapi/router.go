package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"entitlements/internal/http/handlers"
	"entitlements/internal/middleware"
)

// CheckoutPath is where clients that ran out of free calls are sent.
const CheckoutPath = "/create-checkout-session"

// NewRouter builds the API. Account routes are served both at the root and
// under /api; metered routes only under /api. The webhook is not rate limited
// since a 429 makes the billing provider redeliver.
func NewRouter(app *handlers.App, countries middleware.CountryLookup) http.Handler {
	r := chi.NewRouter()
	r.Use(
		chimw.RealIP,
		middleware.RequestID(app.Logger),
		middleware.Logger,
		chimw.Recoverer,
		middleware.CORS(app.Config.CORSAllowedOrigins),
		middleware.I18N(countries),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	loginLimit := middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute)
	authed := middleware.SessionAuth(app.Sessions)

	account := func(r chi.Router) {
		r.With(loginLimit).Post("/auth/google", app.AuthGoogle)
		r.With(loginLimit).Get("/login/google", app.LoginGoogle)
		r.Post("/webhook", app.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(authed)
			r.Get("/user/me", app.Me)
			r.Get("/user/usage", app.Usage)
			r.Post(CheckoutPath, app.CreateCheckoutSession)
		})
	}

	r.Group(account)
	r.Route("/api", func(r chi.Router) {
		account(r)
		r.Group(func(r chi.Router) {
			r.Use(authed, middleware.Entitlement(app.Ledger, app.Config.FreeQuota, CheckoutPath))
			r.Post("/generate-image", app.Metered.ServeHTTP)
			r.Post("/edit-image-dual", app.Metered.ServeHTTP)
		})
	})

	return r
}
