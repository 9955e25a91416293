package billing

import (
	"context"

	"github.com/rs/zerolog"
)

// PaymentFailure describes a failed renewal charge.
type PaymentFailure struct {
	CustomerID     string
	SubscriptionID string
	InvoiceID      string
	AttemptCount   int64
	AmountDue      int64
	Currency       string
}

// Notifier is told about billing events that need a human or an email, not a ledger change.
type Notifier interface {
	PaymentFailed(ctx context.Context, f PaymentFailure) error
}

// LogNotifier records notifications in the service log.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) PaymentFailed(_ context.Context, f PaymentFailure) error {
	n.logger.Warn().
		Str("customer_id", f.CustomerID).
		Str("subscription_id", f.SubscriptionID).
		Str("invoice_id", f.InvoiceID).
		Int64("attempt_count", f.AttemptCount).
		Int64("amount_due", f.AmountDue).
		Str("currency", f.Currency).
		Msg("invoice payment failed")
	return nil
}
