package kyc

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/audit"
)

// Service handles KYC submission and admin review. Both operations bundle
// the submission write and the users.kyc_status mirror into one transaction.
type Service struct {
	pool    *pgxpool.Pool
	repo    *Repository
	auditor *audit.Writer
}

func NewService(pool *pgxpool.Pool, repo *Repository, auditor *audit.Writer) *Service {
	if repo == nil {
		repo = NewRepository(pool)
	}
	if auditor == nil {
		auditor = audit.NewWriter()
	}
	return &Service{pool: pool, repo: repo, auditor: auditor}
}

// Submit records a pending submission and marks the user submitted.
func (s *Service) Submit(ctx context.Context, userID string, req SubmitRequest) (Submission, error) {
	if strings.TrimSpace(req.DocumentURL) == "" {
		return Submission{}, fmt.Errorf("%w: document_url required", ErrValidation)
	}

	var note *string
	if trimmed := strings.TrimSpace(req.Note); trimmed != "" {
		note = &trimmed
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Submission{}, fmt.Errorf("kyc: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.CreateSubmission(ctx, tx, userID, req.DocumentURL, note)
	if err != nil {
		return Submission{}, err
	}

	if err := s.repo.SetUserKycStatus(ctx, tx, userID, "submitted"); err != nil {
		return Submission{}, err
	}

	if err := s.auditor.Append(ctx, tx, audit.Entry{
		ActorID:  userID,
		Action:   "kyc.submitted",
		Entity:   "kyc_submission",
		EntityID: rec.ID,
		Metadata: map[string]any{"document_url": rec.DocumentURL},
	}); err != nil {
		return Submission{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Submission{}, fmt.Errorf("kyc: commit submit: %w", err)
	}
	return rec, nil
}

// Verify applies the admin verdict to the user's pending submission and
// mirrors it onto the user.
func (s *Service) Verify(ctx context.Context, reviewerID, userID string, verdict SubmissionStatus) (Submission, error) {
	if verdict != SubmissionVerified && verdict != SubmissionRejected {
		return Submission{}, fmt.Errorf("%w: verdict must be verified or rejected, got %q", ErrValidation, verdict)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Submission{}, fmt.Errorf("kyc: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.ReviewPendingSubmission(ctx, tx, userID, reviewerID, verdict)
	if err != nil {
		return Submission{}, err
	}

	if err := s.repo.SetUserKycStatus(ctx, tx, userID, string(verdict)); err != nil {
		return Submission{}, err
	}

	if err := s.auditor.Append(ctx, tx, audit.Entry{
		ActorID:  reviewerID,
		Action:   "kyc." + string(verdict),
		Entity:   "kyc_submission",
		EntityID: rec.ID,
		Metadata: map[string]any{"user_id": userID},
	}); err != nil {
		return Submission{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Submission{}, fmt.Errorf("kyc: commit verify: %w", err)
	}
	return rec, nil
}

// ListForUser returns the user's own submissions.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Submission, error) {
	return s.repo.ListForUser(ctx, userID)
}
