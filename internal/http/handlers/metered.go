package handlers

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/rs/zerolog"

	"entitlements/internal/http/respond"
	"entitlements/internal/i18n"
	"entitlements/internal/middleware"
)

// Headers forwarded to the metered backend so it can attribute the call.
const (
	HeaderAuthenticatedEmail = "X-Authenticated-Email"
	HeaderAuthenticatedUID   = "X-Authenticated-Uid"
)

// NewMeteredProxy forwards entitled requests to upstream. With no upstream it
// answers 501 so the gate can still be exercised.
func NewMeteredProxy(upstream string, logger zerolog.Logger) (http.Handler, error) {
	if upstream == "" {
		return http.HandlerFunc(meteredUnavailable), nil
	}
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("metered upstream: %w", err)
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del(HeaderAuthenticatedEmail)
			pr.Out.Header.Del(HeaderAuthenticatedUID)
			if p, ok := middleware.PrincipalFromContext(pr.In.Context()); ok {
				pr.Out.Header.Set(HeaderAuthenticatedEmail, p.Email)
				pr.Out.Header.Set(HeaderAuthenticatedUID, p.SubjectID)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error().Err(err).Str("path", r.URL.Path).Msg("metered upstream failed")
			respond.Error(w, http.StatusBadGateway, "upstream_unavailable",
				i18n.Text(middleware.LocaleFromContext(r.Context()), i18n.MsgUpstreamUnavailable))
		},
	}, nil
}

func meteredUnavailable(w http.ResponseWriter, r *http.Request) {
	respond.Error(w, http.StatusNotImplemented, "not_implemented",
		i18n.Text(middleware.LocaleFromContext(r.Context()), i18n.MsgMeteredUnavailable))
}
