package kyc

import "time"

// SubmissionStatus tracks an identity-document review.
type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionVerified SubmissionStatus = "verified"
	SubmissionRejected SubmissionStatus = "rejected"
)

// Submission mirrors the kyc_submissions table.
type Submission struct {
	ID          string
	UserID      string
	DocumentURL string
	Note        *string
	Status      SubmissionStatus
	ReviewedBy  *string
	CreatedAt   time.Time
	ReviewedAt  *time.Time
}

// SubmitRequest contains the identity document supplied by the user.
type SubmitRequest struct {
	DocumentURL string `json:"document_url"`
	Note        string `json:"note"`
}

// VerifyRequest contains the admin verdict.
type VerifyRequest struct {
	Status SubmissionStatus `json:"status"`
}
