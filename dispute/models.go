package dispute

import "time"

// Status represents the lifecycle of a dispute record. A dispute is opened
// by a party to an active escrow and closed exactly once by an admin.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
	StatusRejected Status = "rejected"
)

// Decision is the irreversible admin verdict recorded at resolution.
type Decision string

const (
	DecisionFavorBuyer  Decision = "favor_buyer"
	DecisionFavorSeller Decision = "favor_seller"
	DecisionRejected    Decision = "rejected"
	DecisionApproved    Decision = "approved"
)

// Record mirrors the disputes table.
type Record struct {
	ID         string
	EscrowID   string
	OpenedBy   string
	Reason     string
	Status     Status
	Decision   *Decision
	ResolvedBy *string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// Evidence mirrors the evidence table. Append-only while the dispute is open.
type Evidence struct {
	ID         string
	DisputeID  string
	UploadedBy string
	FileURL    string
	Note       *string
	CreatedAt  time.Time
}
