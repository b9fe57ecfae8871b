package webhook

// Sources distinguish the two gateway callback channels.
const (
	SourcePayments = "payments"
	SourcePayouts  = "payouts"
)

// Payment gateway event types.
const (
	EventPaymentSucceeded = "payment_succeeded"
	EventPaymentFailed    = "payment_failed"
	EventPayoutSent       = "payout_sent"
	EventPayoutResolved   = "payout_resolved"
)

// PaymentEvent is the normalized payment-gateway callback payload.
type PaymentEvent struct {
	Event       string `json:"event"`
	PGReference string `json:"pg_reference"`
}

// PayoutEvent is the normalized payout-gateway callback payload. PayoutID is
// optional when the gateway already knows the reference it was issued.
type PayoutEvent struct {
	Event       string `json:"event"`
	PayoutID    string `json:"payout_id"`
	PGReference string `json:"pg_reference"`
}
