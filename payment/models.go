package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// IntentStatus tracks a funding attempt against the payment gateway.
type IntentStatus string

const (
	IntentPending IntentStatus = "pending"
	IntentPaid    IntentStatus = "paid"
	IntentFailed  IntentStatus = "failed"
)

// Intent mirrors the payment_intents table. One active intent per funding
// event; created on fund, updated by webhook confirmation.
type Intent struct {
	ID          string
	EscrowID    string
	Method      string
	PGReference string
	Status      IntentStatus
	PaidAt      *time.Time
	RawPayload  []byte
	CreatedAt   time.Time
}

// PayoutStatus tracks disbursement of released funds to the seller.
type PayoutStatus string

const (
	PayoutPending  PayoutStatus = "pending"
	PayoutSent     PayoutStatus = "sent"
	PayoutResolved PayoutStatus = "resolved"
)

// Payout mirrors the payouts table. Created on release; advanced by
// completion, webhook, or admin resolution.
type Payout struct {
	ID          string
	EscrowID    string
	SellerID    string
	Amount      decimal.Decimal
	Currency    string
	BankName    *string
	BankAccount *string
	Status      PayoutStatus
	PGReference *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
