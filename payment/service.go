package payment

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/audit"
)

// Service covers the admin-facing payout operations that do not run inside an
// escrow transition: listing payouts and closing out sent ones.
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

// GetPayout returns a single payout by id.
func (s *Service) GetPayout(ctx context.Context, id string) (Payout, error) {
	return s.repo.GetPayout(ctx, id)
}

// ListPayouts returns payouts newest first, optionally filtered by status.
func (s *Service) ListPayouts(ctx context.Context, status PayoutStatus, limit int) ([]Payout, error) {
	return s.repo.ListPayouts(ctx, status, limit)
}

// ResolvePayout marks a sent payout as settled on the seller's side. Resolving
// an already resolved payout returns it unchanged.
func (s *Service) ResolvePayout(ctx context.Context, payoutID, actorID string) (Payout, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payout{}, fmt.Errorf("payment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetPayoutForUpdate(ctx, tx, payoutID, "")
	if err != nil {
		return Payout{}, err
	}
	if rec.Status == PayoutResolved {
		return rec, nil
	}
	if rec.Status != PayoutSent {
		return Payout{}, fmt.Errorf("payment: payout %s is %s, expected sent", rec.ID, rec.Status)
	}

	rec, err = s.repo.UpdatePayoutStatus(ctx, tx, rec.ID, PayoutResolved, nil)
	if err != nil {
		return Payout{}, err
	}

	err = s.auditor.Append(ctx, tx, audit.Entry{
		ActorID:  actorID,
		Action:   "payout.resolved",
		Entity:   "payout",
		EntityID: rec.ID,
		Metadata: map[string]any{"escrow_id": rec.EscrowID},
	})
	if err != nil {
		return Payout{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Payout{}, fmt.Errorf("payment: commit: %w", err)
	}
	return rec, nil
}
