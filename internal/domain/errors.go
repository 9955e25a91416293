package domain

import "errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrDuplicate               = errors.New("duplicate")
	ErrInvalidCredential       = errors.New("invalid credential")
	ErrInvalidToken            = errors.New("invalid token")
	ErrQuotaExceeded           = errors.New("quota exceeded")
	ErrWebhookPayloadInvalid   = errors.New("webhook payload invalid")
	ErrWebhookSignatureInvalid = errors.New("webhook signature invalid")
	ErrUpstreamUnavailable     = errors.New("upstream unavailable")
)
