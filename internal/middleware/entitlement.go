package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"entitlements/internal/domain"
	"entitlements/internal/http/respond"
	"entitlements/internal/i18n"
	"entitlements/internal/ledger"
)

// QuotaConsumer spends one metered call for an account.
type QuotaConsumer interface {
	TryConsumeQuota(ctx context.Context, email string) (ledger.Decision, error)
}

type quotaExceededBody struct {
	respond.ErrorBody
	UpgradeRequired bool   `json:"upgrade_required"`
	CheckoutPath    string `json:"checkout_path"`
}

// Entitlement charges one unit per request before the wrapped handler runs. The
// unit is not refunded if the handler fails. Must run after SessionAuth.
func Entitlement(consumer QuotaConsumer, freeQuota int, checkoutPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				Unauthorized(w, r)
				return
			}
			log := zerolog.Ctx(r.Context())
			locale := LocaleFromContext(r.Context())

			d, err := consumer.TryConsumeQuota(r.Context(), p.Email)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				Unauthorized(w, r)
				return
			case err != nil:
				log.Error().Err(err).Str("email", p.Email).Msg("quota check failed")
				respond.Error(w, http.StatusServiceUnavailable, "upstream_unavailable",
					i18n.Text(locale, i18n.MsgUpstreamUnavailable))
				return
			case !d.Granted:
				log.Info().Str("email", p.Email).Msg("quota exceeded")
				msg := i18n.Text(locale, i18n.MsgQuotaExceeded, freeQuota)
				respond.JSON(w, http.StatusForbidden, quotaExceededBody{
					ErrorBody: respond.ErrorBody{
						Error:  respond.ErrorDetail{Code: "quota_exceeded", Message: msg},
						Detail: msg,
					},
					UpgradeRequired: true,
					CheckoutPath:    checkoutPath,
				})
				return
			}

			if d.Unlimited {
				w.Header().Set("X-Quota-Remaining", "unlimited")
			} else {
				w.Header().Set("X-Quota-Remaining", strconv.Itoa(d.Remaining))
			}
			next.ServeHTTP(w, r)
		})
	}
}
