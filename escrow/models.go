package escrow

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction mirrors the escrow_transactions table. Rows are never deleted;
// every mutation goes through a defined lifecycle transition.
type Transaction struct {
	ID                  string
	BuyerID             string
	SellerID            string
	Amount              decimal.Decimal
	Currency            string
	Status              Status
	SellerProofURL      *string
	SellerReceiptNumber *string
	BuyerProofURL       *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsParty reports whether the user is the buyer or seller of the escrow.
func (t Transaction) IsParty(userID string) bool {
	return userID == t.BuyerID || userID == t.SellerID
}

// Filters narrows list queries.
type Filters struct {
	UserID   string
	Status   Status
	Page     int
	PageSize int
}
