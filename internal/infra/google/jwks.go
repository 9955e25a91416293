package google

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"entitlements/internal/domain"
)

const (
	keyCacheTTL    = time.Hour
	googleIssuer   = "https://accounts.google.com"
	googleIssuerV1 = "accounts.google.com"

	// minRefreshInterval limits refetches triggered by unknown key ids.
	minRefreshInterval = time.Minute
)

type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
	jwt.RegisteredClaims
}

// Verifier validates Google or Firebase ID tokens against the issuer's published keys.
type Verifier struct {
	issuer     string
	issuers    []string
	clientID   string
	mu         sync.RWMutex
	cache      map[string]*rsa.PublicKey
	fetched    time.Time
	refreshes  singleflight.Group
	httpClient *http.Client
	now        func() time.Time
}

// Option customizes a Verifier.
type Option func(*Verifier)

// WithHTTPClient replaces the client used for discovery and key fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Verifier) { v.httpClient = c }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func NewVerifier(issuer, clientID string, opts ...Option) *Verifier {
	issuer = strings.TrimRight(issuer, "/")
	v := &Verifier{
		issuer:     issuer,
		issuers:    []string{issuer},
		clientID:   clientID,
		cache:      make(map[string]*rsa.PublicKey),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
	if issuer == googleIssuer {
		v.issuers = append(v.issuers, googleIssuerV1)
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyIdentity checks the token and returns the asserted email and subject.
// Every failure is reported as domain.ErrInvalidCredential.
func (v *Verifier) VerifyIdentity(ctx context.Context, idToken string) (domain.Identity, error) {
	claims, err := v.verify(ctx, idToken)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrInvalidCredential, err)
	}
	return domain.Identity{Email: claims.Email, SubjectID: claims.Subject}, nil
}

func (v *Verifier) verify(ctx context.Context, idToken string) (*idTokenClaims, error) {
	if strings.TrimSpace(idToken) == "" {
		return nil, errors.New("empty token")
	}
	if err := v.ensureKeys(ctx); err != nil {
		return nil, err
	}

	claims := &idTokenClaims{}
	_, err := jwt.ParseWithClaims(idToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if key, ok := v.keyFor(kid); ok {
			return key, nil
		}
		if !v.refreshAllowed() {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		if err := v.refresh(ctx); err != nil {
			return nil, err
		}
		if key, ok := v.keyFor(kid); ok {
			return key, nil
		}
		return nil, fmt.Errorf("unknown kid %q", kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(30*time.Second),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, err
	}

	if !v.issuerAllowed(claims.Issuer) {
		return nil, fmt.Errorf("invalid issuer %q", claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, errors.New("subject missing")
	}
	claims.Email = strings.TrimSpace(claims.Email)
	if claims.Email == "" {
		return nil, errors.New("email missing")
	}
	if explicitlyUnverified(claims.EmailVerified) {
		return nil, errors.New("email not verified")
	}
	return claims, nil
}

func (v *Verifier) issuerAllowed(iss string) bool {
	for _, allowed := range v.issuers {
		if iss == allowed {
			return true
		}
	}
	return false
}

func explicitlyUnverified(raw any) bool {
	switch val := raw.(type) {
	case bool:
		return !val
	case string:
		return strings.EqualFold(val, "false")
	default:
		return false
	}
}

func (v *Verifier) ensureKeys(ctx context.Context) error {
	v.mu.RLock()
	fresh := v.now().Sub(v.fetched) < keyCacheTTL && len(v.cache) > 0
	v.mu.RUnlock()
	if fresh {
		return nil
	}
	return v.refresh(ctx)
}

// refreshAllowed reports whether the key set is old enough to refetch for an unknown kid.
func (v *Verifier) refreshAllowed() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.now().Sub(v.fetched) >= minRefreshInterval
}

// refresh refetches the key set. Concurrent callers share one fetch.
func (v *Verifier) refresh(ctx context.Context) error {
	_, err, _ := v.refreshes.Do("keys", func() (any, error) {
		return nil, v.fetchKeys(ctx)
	})
	return err
}

func (v *Verifier) fetchKeys(ctx context.Context) error {
	var cfg struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := v.getJSON(ctx, v.issuer+"/.well-known/openid-configuration", &cfg); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	if cfg.JWKSURI == "" {
		return errors.New("discovery: jwks_uri missing")
	}
	var set jwks
	if err := v.getJSON(ctx, cfg.JWKSURI, &set); err != nil {
		return fmt.Errorf("jwks: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey)
	for _, key := range set.Keys {
		if key.Kty != "RSA" {
			continue
		}
		pub, err := rsaKeyFromJWK(key)
		if err != nil {
			continue
		}
		keys[key.Kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("no keys fetched")
	}
	v.mu.Lock()
	v.cache = keys
	v.fetched = v.now()
	v.mu.Unlock()
	return nil
}

func (v *Verifier) getJSON(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (v *Verifier) keyFor(kid string) (*rsa.PublicKey, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	pk, ok := v.cache[kid]
	return pk, ok
}

func rsaKeyFromJWK(j jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}
	if e == 0 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}

var _ domain.IdentityVerifier = (*Verifier)(nil)
