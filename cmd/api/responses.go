package main

import (
	"time"

	"escrowflow/auth"
	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/kyc"
	"escrowflow/payment"
)

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	KycStatus string `json:"kyc_status"`
	CreatedAt string `json:"created_at"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Role:      string(u.Role),
		KycStatus: string(u.KycStatus),
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

type escrowResponse struct {
	ID                  string  `json:"id"`
	BuyerID             string  `json:"buyer_id"`
	SellerID            string  `json:"seller_id"`
	Amount              string  `json:"amount"`
	Currency            string  `json:"currency"`
	Status              string  `json:"status"`
	SellerProofURL      *string `json:"seller_proof_url,omitempty"`
	SellerReceiptNumber *string `json:"seller_receipt_number,omitempty"`
	BuyerProofURL       *string `json:"buyer_proof_url,omitempty"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
}

func toEscrowResponse(rec escrow.Transaction) escrowResponse {
	return escrowResponse{
		ID:                  rec.ID,
		BuyerID:             rec.BuyerID,
		SellerID:            rec.SellerID,
		Amount:              rec.Amount.String(),
		Currency:            rec.Currency,
		Status:              string(rec.Status),
		SellerProofURL:      rec.SellerProofURL,
		SellerReceiptNumber: rec.SellerReceiptNumber,
		BuyerProofURL:       rec.BuyerProofURL,
		CreatedAt:           rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           rec.UpdatedAt.Format(time.RFC3339),
	}
}

func toEscrowResponses(items []escrow.Transaction) []escrowResponse {
	out := make([]escrowResponse, 0, len(items))
	for _, rec := range items {
		out = append(out, toEscrowResponse(rec))
	}
	return out
}

type disputeResponse struct {
	ID         string  `json:"id"`
	EscrowID   string  `json:"escrow_id"`
	OpenedBy   string  `json:"opened_by"`
	Reason     string  `json:"reason"`
	Status     string  `json:"status"`
	Decision   *string `json:"decision,omitempty"`
	ResolvedBy *string `json:"resolved_by,omitempty"`
	CreatedAt  string  `json:"created_at"`
	ResolvedAt *string `json:"resolved_at,omitempty"`
}

func toDisputeResponse(rec dispute.Record) disputeResponse {
	resp := disputeResponse{
		ID:         rec.ID,
		EscrowID:   rec.EscrowID,
		OpenedBy:   rec.OpenedBy,
		Reason:     rec.Reason,
		Status:     string(rec.Status),
		ResolvedBy: rec.ResolvedBy,
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.Decision != nil {
		d := string(*rec.Decision)
		resp.Decision = &d
	}
	if rec.ResolvedAt != nil {
		t := rec.ResolvedAt.Format(time.RFC3339)
		resp.ResolvedAt = &t
	}
	return resp
}

func toDisputeResponses(items []dispute.Record) []disputeResponse {
	out := make([]disputeResponse, 0, len(items))
	for _, rec := range items {
		out = append(out, toDisputeResponse(rec))
	}
	return out
}

type evidenceResponse struct {
	ID         string  `json:"id"`
	DisputeID  string  `json:"dispute_id"`
	UploadedBy string  `json:"uploaded_by"`
	FileURL    string  `json:"file_url"`
	Note       *string `json:"note,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

func toEvidenceResponse(ev dispute.Evidence) evidenceResponse {
	return evidenceResponse{
		ID:         ev.ID,
		DisputeID:  ev.DisputeID,
		UploadedBy: ev.UploadedBy,
		FileURL:    ev.FileURL,
		Note:       ev.Note,
		CreatedAt:  ev.CreatedAt.Format(time.RFC3339),
	}
}

func toEvidenceResponses(items []dispute.Evidence) []evidenceResponse {
	out := make([]evidenceResponse, 0, len(items))
	for _, ev := range items {
		out = append(out, toEvidenceResponse(ev))
	}
	return out
}

type submissionResponse struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	DocumentURL string  `json:"document_url"`
	Note        *string `json:"note,omitempty"`
	Status      string  `json:"status"`
	ReviewedBy  *string `json:"reviewed_by,omitempty"`
	CreatedAt   string  `json:"created_at"`
	ReviewedAt  *string `json:"reviewed_at,omitempty"`
}

func toSubmissionResponse(sub kyc.Submission) submissionResponse {
	resp := submissionResponse{
		ID:          sub.ID,
		UserID:      sub.UserID,
		DocumentURL: sub.DocumentURL,
		Note:        sub.Note,
		Status:      string(sub.Status),
		ReviewedBy:  sub.ReviewedBy,
		CreatedAt:   sub.CreatedAt.Format(time.RFC3339),
	}
	if sub.ReviewedAt != nil {
		t := sub.ReviewedAt.Format(time.RFC3339)
		resp.ReviewedAt = &t
	}
	return resp
}

func toSubmissionResponses(items []kyc.Submission) []submissionResponse {
	out := make([]submissionResponse, 0, len(items))
	for _, sub := range items {
		out = append(out, toSubmissionResponse(sub))
	}
	return out
}

type payoutResponse struct {
	ID          string  `json:"id"`
	EscrowID    string  `json:"escrow_id"`
	SellerID    string  `json:"seller_id"`
	Amount      string  `json:"amount"`
	Currency    string  `json:"currency"`
	Status      string  `json:"status"`
	PGReference *string `json:"pg_reference,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func toPayoutResponse(rec payment.Payout) payoutResponse {
	return payoutResponse{
		ID:          rec.ID,
		EscrowID:    rec.EscrowID,
		SellerID:    rec.SellerID,
		Amount:      rec.Amount.String(),
		Currency:    rec.Currency,
		Status:      string(rec.Status),
		PGReference: rec.PGReference,
		CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   rec.UpdatedAt.Format(time.RFC3339),
	}
}

func toPayoutResponses(items []payment.Payout) []payoutResponse {
	out := make([]payoutResponse, 0, len(items))
	for _, rec := range items {
		out = append(out, toPayoutResponse(rec))
	}
	return out
}
