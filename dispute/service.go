package dispute

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/audit"
	"escrowflow/escrow"
)

// Service handles dispute arbitration. Resolutions touch the underlying
// escrow inside the same transaction, leaning on the escrow row lock to
// serialize with lifecycle transitions.
type Service struct {
	pool      *pgxpool.Pool
	repo      *Repository
	escrows   *escrow.Repository
	escrowSvc *escrow.Service
	auditor   *audit.Writer
}

func NewService(pool *pgxpool.Pool, repo *Repository, escrows *escrow.Repository, escrowSvc *escrow.Service, auditor *audit.Writer) *Service {
	if repo == nil {
		repo = NewRepository(pool)
	}
	if escrows == nil {
		escrows = escrow.NewRepository(pool)
	}
	if auditor == nil {
		auditor = audit.NewWriter()
	}
	return &Service{
		pool:      pool,
		repo:      repo,
		escrows:   escrows,
		escrowSvc: escrowSvc,
		auditor:   auditor,
	}
}

// OpenParams names the escrow under dispute.
type OpenParams struct {
	EscrowID string
	ActorID  string
	Reason   string
}

// Open creates a dispute on an active escrow and moves the escrow into the
// dispute state. Only a party to the escrow may open one.
func (s *Service) Open(ctx context.Context, params OpenParams) (Record, error) {
	if strings.TrimSpace(params.Reason) == "" {
		return Record{}, fmt.Errorf("%w: reason required", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	esc, err := s.escrows.GetForUpdate(ctx, tx, params.EscrowID)
	if err != nil {
		return Record{}, err
	}
	if !esc.IsParty(params.ActorID) {
		return Record{}, ErrForbidden
	}
	if !escrow.CanTransition(esc.Status, escrow.StatusDispute) {
		return Record{}, fmt.Errorf("%w: escrow is %s", ErrEscrowNotActive, esc.Status)
	}

	rec, err := s.repo.Create(ctx, tx, esc.ID, params.ActorID, strings.TrimSpace(params.Reason))
	if err != nil {
		return Record{}, err
	}

	if _, err := s.escrows.UpdateStatus(ctx, tx, esc.ID, escrow.StatusDispute); err != nil {
		return Record{}, err
	}

	if err := s.auditor.Append(ctx, tx, audit.Entry{
		ActorID:  params.ActorID,
		Action:   "dispute.opened",
		Entity:   "dispute",
		EntityID: rec.ID,
		Metadata: map[string]any{"escrow_id": esc.ID, "reason": rec.Reason},
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit open: %w", err)
	}
	return rec, nil
}

// EvidenceParams carries an evidence upload.
type EvidenceParams struct {
	DisputeID string
	ActorID   string
	FileURL   string
	Note      string
}

// AddEvidence appends evidence while the dispute is open. Only a party to
// the underlying escrow may upload.
func (s *Service) AddEvidence(ctx context.Context, params EvidenceParams) (Evidence, error) {
	if strings.TrimSpace(params.FileURL) == "" {
		return Evidence{}, fmt.Errorf("%w: file_url required", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Evidence{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, params.DisputeID)
	if err != nil {
		return Evidence{}, err
	}
	if rec.Status != StatusOpen {
		return Evidence{}, ErrNotOpen
	}

	esc, err := s.escrows.GetForUpdate(ctx, tx, rec.EscrowID)
	if err != nil {
		return Evidence{}, err
	}
	if !esc.IsParty(params.ActorID) {
		return Evidence{}, ErrForbidden
	}

	var note *string
	if trimmed := strings.TrimSpace(params.Note); trimmed != "" {
		note = &trimmed
	}

	ev, err := s.repo.AddEvidence(ctx, tx, rec.ID, params.ActorID, params.FileURL, note)
	if err != nil {
		return Evidence{}, err
	}

	if err := s.auditor.Append(ctx, tx, audit.Entry{
		ActorID:  params.ActorID,
		Action:   "dispute.evidence_added",
		Entity:   "dispute",
		EntityID: rec.ID,
		Metadata: map[string]any{"evidence_id": ev.ID, "file_url": ev.FileURL},
	}); err != nil {
		return Evidence{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Evidence{}, fmt.Errorf("dispute: commit evidence: %w", err)
	}
	return ev, nil
}

// Resolve records the admin's single irreversible decision.
//
// favor_buyer resolves the dispute and leaves the escrow in dispute; the
// admin refund endpoint is the explicit path to cancellation. favor_seller
// releases the escrow and creates the payout, so it re-checks seller KYC.
// rejected closes the dispute and completes the escrow.
func (s *Service) Resolve(ctx context.Context, disputeID, actorID string, decision Decision) (Record, error) {
	if decision != DecisionFavorBuyer && decision != DecisionFavorSeller && decision != DecisionRejected {
		return Record{}, fmt.Errorf("%w: unknown decision %q", ErrValidation, decision)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.Status != StatusOpen {
		return Record{}, ErrNotOpen
	}

	esc, err := s.escrows.GetForUpdate(ctx, tx, rec.EscrowID)
	if err != nil {
		return Record{}, err
	}

	switch decision {
	case DecisionFavorBuyer:
		// Escrow stays in dispute until the admin refunds it.
	case DecisionFavorSeller:
		if _, err := s.escrowSvc.ApplyRelease(ctx, tx, esc, actorID, "escrow.released"); err != nil {
			return Record{}, err
		}
	case DecisionRejected:
		if err := escrow.ValidateTransition(esc.Status, escrow.StatusCompleted); err != nil {
			return Record{}, err
		}
		if _, err := s.escrows.UpdateStatus(ctx, tx, esc.ID, escrow.StatusCompleted); err != nil {
			return Record{}, err
		}
	}

	status := StatusResolved
	if decision == DecisionRejected {
		status = StatusRejected
	}
	rec, err = s.repo.SetResolution(ctx, tx, rec.ID, status, decision, actorID)
	if err != nil {
		return Record{}, err
	}

	if err := s.auditor.Append(ctx, tx, audit.Entry{
		ActorID:  actorID,
		Action:   "dispute.resolved",
		Entity:   "dispute",
		EntityID: rec.ID,
		Metadata: map[string]any{"decision": string(decision), "escrow_id": rec.EscrowID},
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit resolve: %w", err)
	}
	return rec, nil
}

// Approve is the forced admin verdict in the buyer's favor: the dispute is
// resolved and the escrow cancelled. Calling it again once approved returns
// the same terminal state without re-mutating.
func (s *Service) Approve(ctx context.Context, disputeID, actorID string) (Record, error) {
	return s.force(ctx, disputeID, actorID, DecisionApproved, StatusResolved, escrow.StatusCancelled, "dispute.approved")
}

// Reject is the forced admin verdict against the opener: the dispute is
// rejected and the escrow completed. Idempotent like Approve.
func (s *Service) Reject(ctx context.Context, disputeID, actorID string) (Record, error) {
	return s.force(ctx, disputeID, actorID, DecisionRejected, StatusRejected, escrow.StatusCompleted, "dispute.rejected")
}

func (s *Service) force(ctx context.Context, disputeID, actorID string, decision Decision, target Status, escrowTarget escrow.Status, action string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.Status == target && rec.Decision != nil && *rec.Decision == decision {
		return rec, nil
	}
	if rec.Status != StatusOpen {
		return Record{}, ErrNotOpen
	}

	esc, err := s.escrows.GetForUpdate(ctx, tx, rec.EscrowID)
	if err != nil {
		return Record{}, err
	}
	if err := escrow.ValidateTransition(esc.Status, escrowTarget); err != nil {
		return Record{}, err
	}
	if _, err := s.escrows.UpdateStatus(ctx, tx, esc.ID, escrowTarget); err != nil {
		return Record{}, err
	}

	rec, err = s.repo.SetResolution(ctx, tx, rec.ID, target, decision, actorID)
	if err != nil {
		return Record{}, err
	}

	if err := s.auditor.Append(ctx, tx, audit.Entry{
		ActorID:  actorID,
		Action:   action,
		Entity:   "dispute",
		EntityID: rec.ID,
		Metadata: map[string]any{"escrow_id": rec.EscrowID, "escrow_status": string(escrowTarget)},
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit %s: %w", action, err)
	}
	return rec, nil
}

// Get returns the dispute if the actor may see it.
func (s *Service) Get(ctx context.Context, actorID, actorRole, disputeID string) (Record, []Evidence, error) {
	rec, err := s.repo.Get(ctx, disputeID)
	if err != nil {
		return Record{}, nil, err
	}

	if actorRole != "admin" {
		esc, err := s.escrows.Get(ctx, rec.EscrowID)
		if err != nil {
			return Record{}, nil, err
		}
		if !esc.IsParty(actorID) {
			return Record{}, nil, ErrForbidden
		}
	}

	evidence, err := s.repo.ListEvidence(ctx, disputeID)
	if err != nil {
		return Record{}, nil, err
	}
	return rec, evidence, nil
}

// List returns the actor's disputes, or all disputes for admins.
func (s *Service) List(ctx context.Context, actorID, actorRole string, status Status) ([]Record, error) {
	if actorRole == "admin" {
		return s.repo.List(ctx, "", status)
	}
	return s.repo.List(ctx, actorID, status)
}
