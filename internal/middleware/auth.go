package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"entitlements/internal/http/respond"
	"entitlements/internal/i18n"
	"entitlements/internal/session"
)

// TokenVerifier validates a bearer session token.
type TokenVerifier interface {
	Verify(token string) (*session.Claims, error)
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Email     string
	SubjectID string
}

type principalKey struct{}

// SessionAuth requires a valid bearer session token and stores its Principal.
func SessionAuth(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				Unauthorized(w, r)
				return
			}
			claims, err := v.Verify(token)
			if err != nil {
				zerolog.Ctx(r.Context()).Debug().Err(err).Msg("session token rejected")
				Unauthorized(w, r)
				return
			}
			ctx := ContextWithPrincipal(r.Context(), Principal{Email: claims.Email(), SubjectID: claims.SubjectID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Unauthorized writes the generic 401 used for every authentication failure.
func Unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	respond.Error(w, http.StatusUnauthorized, "unauthorized",
		i18n.Text(LocaleFromContext(r.Context()), i18n.MsgUnauthorized))
}

func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	if strings.TrimSpace(p.Email) == "" {
		return ctx
	}
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
