// Package session issues and verifies the service's own bearer tokens.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"entitlements/internal/domain"
)

// DefaultTTL is the lifetime of an issued token.
const DefaultTTL = 7 * 24 * time.Hour

// ErrMissingSecret is returned when the issuer is built without a signing key.
var ErrMissingSecret = errors.New("session: signing secret is required")

// Claims is the payload carried by a session token.
type Claims struct {
	SubjectID string `json:"uid"`
	jwt.RegisteredClaims
}

// Email returns the account email stored in the subject claim.
func (c *Claims) Email() string {
	return c.Subject
}

// Token is an issued session token.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer signs HS256 tokens with a shared secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option customizes an Issuer.
type Option func(*Issuer)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

func NewIssuer(secret string, opts ...Option) (*Issuer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	i := &Issuer{secret: []byte(secret), ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL reports the configured token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for email and subjectID that expires after the configured TTL.
func (i *Issuer) Issue(email, subjectID string) (Token, error) {
	if strings.TrimSpace(email) == "" {
		return Token{}, errors.New("session: email is required")
	}
	now := i.now().UTC().Truncate(time.Second)
	exp := now.Add(i.ttl)
	claims := Claims{
		SubjectID: subjectID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("session: sign: %w", err)
	}
	return Token{Value: signed, IssuedAt: now, ExpiresAt: exp}, nil
}

// Verify checks the signature and expiry of token. Every failure wraps domain.ErrInvalidToken.
func (i *Issuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.SubjectID == "" {
		return nil, fmt.Errorf("%w: sub and uid are required", domain.ErrInvalidToken)
	}
	return claims, nil
}
