package billing

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"entitlements/internal/domain"
)

// Outcome classifies how a webhook delivery ended.
type Outcome int

const (
	Processed Outcome = iota
	ParseFailure
	SignatureFailure
)

func (o Outcome) String() string {
	switch o {
	case Processed:
		return "processed"
	case ParseFailure:
		return "parse_failure"
	case SignatureFailure:
		return "signature_failure"
	default:
		return "unknown"
	}
}

// Result is what the webhook endpoint reports back. Only ParseFailure and
// SignatureFailure become client errors; a Processed result with Err set was
// logged and acknowledged.
type Result struct {
	Outcome   Outcome
	EventID   string
	EventType string
	Matched   bool
	Duplicate bool
	Err       error
}

// PremiumSetter is the slice of the ledger the processor writes to.
type PremiumSetter interface {
	SetPremium(ctx context.Context, upd domain.PremiumUpdate) (bool, error)
}

// EventParser authenticates and decodes a raw delivery.
type EventParser interface {
	Parse(payload []byte, signature string) (Event, error)
}

// Processor applies billing webhooks to the ledger.
type Processor struct {
	parser   EventParser
	ledger   PremiumSetter
	dedup    Deduper
	notifier Notifier
	logger   zerolog.Logger
}

// ProcessorOption customizes a Processor.
type ProcessorOption func(*Processor)

// WithDeduper skips events whose id was already applied.
func WithDeduper(d Deduper) ProcessorOption {
	return func(p *Processor) { p.dedup = d }
}

// WithNotifier replaces the default log notifier.
func WithNotifier(n Notifier) ProcessorOption {
	return func(p *Processor) {
		if n != nil {
			p.notifier = n
		}
	}
}

// WithProcessorLogger sets the processor logger.
func WithProcessorLogger(l zerolog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

func NewProcessor(parser EventParser, ledger PremiumSetter, opts ...ProcessorOption) *Processor {
	p := &Processor{parser: parser, ledger: ledger, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.notifier == nil {
		p.notifier = NewLogNotifier(p.logger)
	}
	return p
}

// Handle authenticates, decodes and applies one delivery.
func (p *Processor) Handle(ctx context.Context, payload []byte, signature string) Result {
	evt, err := p.parser.Parse(payload, signature)
	if err != nil {
		res := Result{Outcome: ParseFailure, Err: err}
		if errors.Is(err, domain.ErrWebhookSignatureInvalid) {
			res.Outcome = SignatureFailure
		}
		p.logger.Warn().Err(err).Str("outcome", res.Outcome.String()).Msg("webhook rejected")
		return res
	}

	res := Result{Outcome: Processed, EventID: evt.ID, EventType: evt.Type}
	log := p.logger.With().Str("event_id", evt.ID).Str("event_type", evt.Type).Logger()

	claimed := false
	if p.dedup != nil && evt.ID != "" {
		first, err := p.dedup.Claim(ctx, evt.ID)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("webhook dedup unavailable; processing anyway")
		case !first:
			log.Info().Msg("webhook already processed")
			res.Duplicate = true
			return res
		default:
			claimed = true
		}
	}

	res.Matched, res.Err = p.apply(ctx, evt)
	if res.Err != nil {
		log.Error().Err(res.Err).Msg("webhook processing failed")
		if claimed {
			if err := p.dedup.Release(ctx, evt.ID); err != nil {
				log.Warn().Err(err).Msg("webhook dedup release failed")
			}
		}
		return res
	}
	log.Info().Bool("matched", res.Matched).Msg("webhook processed")
	return res
}

func (p *Processor) apply(ctx context.Context, evt Event) (bool, error) {
	if evt.Type == EventInvoicePaymentFailed {
		err := p.notifier.PaymentFailed(ctx, PaymentFailure{
			CustomerID:     evt.CustomerID,
			SubscriptionID: evt.SubscriptionID,
			InvoiceID:      evt.InvoiceID,
			AttemptCount:   evt.AttemptCount,
			AmountDue:      evt.AmountDue,
			Currency:       evt.Currency,
		})
		return false, err
	}
	upd, ok := Transition(evt)
	if !ok {
		return false, nil
	}
	return p.ledger.SetPremium(ctx, upd)
}
