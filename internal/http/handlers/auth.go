package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"entitlements/internal/i18n"
)

const maxLoginBody = 64 << 10

type googleLoginRequest struct {
	IDToken string `json:"id_token"`
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        userDTO   `json:"user"`
}

// AuthGoogle exchanges a Google ID token for a session token, creating the
// account and its billing customer on first login.
func (a *App) AuthGoogle(w http.ResponseWriter, r *http.Request) {
	idToken, err := readIDToken(w, r)
	if err != nil || idToken == "" {
		a.error(w, r, http.StatusBadRequest, "bad_request", i18n.MsgBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.Config.IdentityTimeout)
	identity, err := a.Verifier.VerifyIdentity(ctx, idToken)
	cancel()
	if err != nil {
		a.log(r).Warn().Err(err).Msg("google token rejected")
		a.error(w, r, http.StatusUnauthorized, "unauthorized", i18n.MsgInvalidCredential)
		return
	}

	factory := func(ctx context.Context) (string, error) {
		return a.Billing.CreateCustomer(ctx, identity.Email, identity.SubjectID)
	}
	user, err := a.Ledger.GetOrCreate(r.Context(), identity.Email, identity.SubjectID, factory)
	if err != nil {
		a.log(r).Error().Err(err).Str("email", identity.Email).Msg("account provisioning failed")
		a.error(w, r, http.StatusServiceUnavailable, "upstream_unavailable", i18n.MsgUpstreamUnavailable)
		return
	}

	token, err := a.Sessions.Issue(user.Email, identity.SubjectID)
	if err != nil {
		a.log(r).Error().Err(err).Msg("sign session token failed")
		a.error(w, r, http.StatusInternalServerError, "internal", i18n.MsgUpstreamUnavailable)
		return
	}
	a.log(r).Info().Str("email", user.Email).Bool("premium", user.IsPremium).Msg("login")
	a.json(w, http.StatusOK, loginResponse{
		AccessToken: token.Value,
		TokenType:   "bearer",
		ExpiresAt:   token.ExpiresAt,
		User:        newUserDTO(user),
	})
}

// readIDToken accepts a JSON body, a form body, or an id_token query parameter.
func readIDToken(w http.ResponseWriter, r *http.Request) (string, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var req googleLoginRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxLoginBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		if tok := strings.TrimSpace(req.IDToken); tok != "" {
			return tok, nil
		}
		return strings.TrimSpace(r.URL.Query().Get("id_token")), nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBody)
	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return strings.TrimSpace(r.Form.Get("id_token")), nil
}

// LoginGoogle sends the browser to the frontend page that starts Google sign-in.
func (a *App) LoginGoogle(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, a.Config.FrontendURL+"/auth-google", http.StatusTemporaryRedirect)
}
