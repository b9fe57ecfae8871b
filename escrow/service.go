package escrow

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"escrowflow/audit"
	"escrowflow/payment"
)

const roleAdmin = "admin"

// Service drives the escrow lifecycle. Every transition runs as a single
// transaction: lock the row, consult the transition table, apply the update
// and its side effects, append the audit row, commit.
type Service struct {
	pool     *pgxpool.Pool
	repo     *Repository
	payments *payment.Repository
	auditor  *audit.Writer
}

func NewService(pool *pgxpool.Pool, repo *Repository, payments *payment.Repository, auditor *audit.Writer) *Service {
	if repo == nil {
		repo = NewRepository(pool)
	}
	if payments == nil {
		payments = payment.NewRepository(pool)
	}
	if auditor == nil {
		auditor = audit.NewWriter()
	}
	return &Service{
		pool:     pool,
		repo:     repo,
		payments: payments,
		auditor:  auditor,
	}
}

// CreateTxParams names the counterparty for a new escrow. The actor must be
// one of the two parties.
type CreateTxParams struct {
	ActorID  string
	BuyerID  string
	SellerID string
	Amount   decimal.Decimal
	Currency string
}

func (s *Service) Create(ctx context.Context, params CreateTxParams) (Transaction, error) {
	if params.BuyerID == "" || params.SellerID == "" {
		return Transaction{}, fmt.Errorf("%w: buyer and seller ids required", ErrValidation)
	}
	if params.BuyerID == params.SellerID {
		return Transaction{}, fmt.Errorf("%w: buyer and seller must differ", ErrValidation)
	}
	if params.ActorID != params.BuyerID && params.ActorID != params.SellerID {
		return Transaction{}, ErrForbidden
	}
	if !params.Amount.IsPositive() {
		return Transaction{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "USD"
	}
	if len(currency) != 3 {
		return Transaction{}, fmt.Errorf("%w: invalid currency %q", ErrValidation, currency)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.Create(ctx, tx, CreateParams{
		BuyerID:  params.BuyerID,
		SellerID: params.SellerID,
		Amount:   params.Amount,
		Currency: currency,
	})
	if err != nil {
		return Transaction{}, err
	}

	if err := s.auditor.Append(ctx, tx, audit.Entry{
		ActorID:  params.ActorID,
		Action:   "escrow.created",
		Entity:   "escrow_transaction",
		EntityID: rec.ID,
		Metadata: map[string]any{
			"buyer_id":  rec.BuyerID,
			"seller_id": rec.SellerID,
			"amount":    rec.Amount.String(),
			"currency":  rec.Currency,
		},
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("escrow: commit create: %w", err)
	}
	return rec, nil
}

// Get returns the escrow if the actor is a party to it or an admin.
func (s *Service) Get(ctx context.Context, actorID, actorRole, escrowID string) (Transaction, error) {
	rec, err := s.repo.Get(ctx, escrowID)
	if err != nil {
		return Transaction{}, err
	}
	if actorRole != roleAdmin && !rec.IsParty(actorID) {
		return Transaction{}, ErrForbidden
	}
	return rec, nil
}

// ListForUser returns escrows the user participates in.
func (s *Service) ListForUser(ctx context.Context, userID string, status Status, page, pageSize int) ([]Transaction, int, error) {
	return s.repo.List(ctx, Filters{UserID: userID, Status: status, Page: page, PageSize: pageSize})
}

// ListAll is the admin cross-cutting listing.
func (s *Service) ListAll(ctx context.Context, status Status, page, pageSize int) ([]Transaction, int, error) {
	return s.repo.List(ctx, Filters{Status: status, Page: page, PageSize: pageSize})
}

// FundParams describes a funding attempt against the payment gateway.
type FundParams struct {
	EscrowID    string
	ActorID     string
	Method      string
	PGReference string
}

// Fund moves created -> funded and records the pending payment intent that
// the gateway webhook later confirms. Any authenticated user may fund.
func (s *Service) Fund(ctx context.Context, params FundParams) (Transaction, error) {
	if params.Method == "" || params.PGReference == "" {
		return Transaction{}, fmt.Errorf("%w: method and pg_reference required", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, params.EscrowID)
	if err != nil {
		return Transaction{}, err
	}
	if err := ValidateTransition(rec.Status, StatusFunded); err != nil {
		return Transaction{}, err
	}

	rec, err = s.repo.UpdateStatus(ctx, tx, rec.ID, StatusFunded)
	if err != nil {
		return Transaction{}, err
	}

	intent, err := s.payments.CreateIntent(ctx, tx, payment.CreateIntentParams{
		EscrowID:    rec.ID,
		Method:      params.Method,
		PGReference: params.PGReference,
	})
	if err != nil {
		return Transaction{}, err
	}

	if err := s.auditor.Append(ctx, tx, audit.Entry{
		ActorID:  params.ActorID,
		Action:   "escrow.funded",
		Entity:   "escrow_transaction",
		EntityID: rec.ID,
		Metadata: map[string]any{
			"method":       params.Method,
			"pg_reference": params.PGReference,
			"intent_id":    intent.ID,
		},
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("escrow: commit fund: %w", err)
	}
	return rec, nil
}

// ShipParams carries the seller's shipping proof.
type ShipParams struct {
	EscrowID       string
	ActorID        string
	ProofURL       *string
	TrackingNumber *string
}

// Ship moves funded -> shipped. Only the escrow's seller, and only with KYC
// verified, since shipping starts the path toward payout.
func (s *Service) Ship(ctx context.Context, params ShipParams) (Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, params.EscrowID)
	if err != nil {
		return Transaction{}, err
	}
	if rec.SellerID != params.ActorID {
		return Transaction{}, ErrForbidden
	}
	if err := ValidateTransition(rec.Status, StatusShipped); err != nil {
		return Transaction{}, err
	}

	verified, err := s.repo.SellerKycVerified(ctx, tx, rec.SellerID)
	if err != nil {
		return Transaction{}, err
	}
	if !verified {
		return Transaction{}, ErrSellerNotVerified
	}

	rec, err = s.repo.SetShipment(ctx, tx, rec.ID, params.ProofURL, params.TrackingNumber)
	if err != nil {
		return Transaction{}, err
	}

	metadata := map[string]any{}
	if params.TrackingNumber != nil {
		metadata["tracking_number"] = *params.TrackingNumber
	}
	if err := s.auditor.Append(ctx, tx, audit.Entry{
		ActorID:  params.ActorID,
		Action:   "escrow.shipped",
		Entity:   "escrow_transaction",
		EntityID: rec.ID,
		Metadata: metadata,
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("escrow: commit ship: %w", err)
	}
	return rec, nil
}

// UploadReceipt stores the buyer's proof on a shipped escrow. No status change.
func (s *Service) UploadReceipt(ctx context.Context, escrowID, actorID, proofURL string) (Transaction, error) {
	if proofURL == "" {
		return Transaction{}, fmt.Errorf("%w: proof url required", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, escrowID)
	if err != nil {
		return Transaction{}, err
	}
	if rec.BuyerID != actorID {
		return Transaction{}, ErrForbidden
	}
	if rec.Status != StatusShipped {
		return Transaction{}, fmt.Errorf("%w: receipt upload requires shipped, have %s", ErrInvalidTransition, rec.Status)
	}

	rec, err = s.repo.SetBuyerProof(ctx, tx, rec.ID, proofURL)
	if err != nil {
		return Transaction{}, err
	}

	if err := s.auditor.Append(ctx, tx, audit.Entry{
		ActorID:  actorID,
		Action:   "escrow.receipt_uploaded",
		Entity:   "escrow_transaction",
		EntityID: rec.ID,
		Metadata: map[string]any{"proof_url": proofURL},
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("escrow: commit receipt: %w", err)
	}
	return rec, nil
}

// Confirm moves shipped -> confirmed. Only the escrow's buyer.
func (s *Service) Confirm(ctx context.Context, escrowID, actorID string) (Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, escrowID)
	if err != nil {
		return Transaction{}, err
	}
	if rec.BuyerID != actorID {
		return Transaction{}, ErrForbidden
	}
	if err := ValidateTransition(rec.Status, StatusConfirmed); err != nil {
		return Transaction{}, err
	}

	rec, err = s.repo.UpdateStatus(ctx, tx, rec.ID, StatusConfirmed)
	if err != nil {
		return Transaction{}, err
	}

	if err := s.auditor.Append(ctx, tx, audit.Entry{
		ActorID:  actorID,
		Action:   "escrow.confirmed",
		Entity:   "escrow_transaction",
		EntityID: rec.ID,
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("escrow: commit confirm: %w", err)
	}
	return rec, nil
}

// Release moves confirmed -> released and creates the pending payout. The
// actor must be the escrow's buyer or an admin; only an admin may release
// an escrow in dispute, and the seller must have KYC verified either way.
// Already-released escrows return success unchanged.
func (s *Service) Release(ctx context.Context, escrowID, actorID, actorRole string) (Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, escrowID)
	if err != nil {
		return Transaction{}, err
	}
	if actorRole != roleAdmin && rec.BuyerID != actorID {
		return Transaction{}, ErrForbidden
	}
	if rec.Status == StatusReleased {
		return rec, nil
	}
	if actorRole != roleAdmin && rec.Status != StatusConfirmed {
		return Transaction{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, StatusReleased)
	}

	rec, err = s.applyRelease(ctx, tx, rec, actorID, "escrow.released")
	if err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("escrow: commit release: %w", err)
	}
	return rec, nil
}

// ApplyRelease performs the release side effects inside the caller's
// transaction: KYC gate, transition-table check, status update, payout
// creation, audit row. Used by the dispute favor_seller resolution.
func (s *Service) ApplyRelease(ctx context.Context, tx pgx.Tx, rec Transaction, actorID, action string) (Transaction, error) {
	return s.applyRelease(ctx, tx, rec, actorID, action)
}

func (s *Service) applyRelease(ctx context.Context, tx pgx.Tx, rec Transaction, actorID, action string) (Transaction, error) {
	if err := ValidateTransition(rec.Status, StatusReleased); err != nil {
		return Transaction{}, err
	}

	verified, err := s.repo.SellerKycVerified(ctx, tx, rec.SellerID)
	if err != nil {
		return Transaction{}, err
	}
	if !verified {
		return Transaction{}, ErrSellerNotVerified
	}

	rec, err = s.repo.UpdateStatus(ctx, tx, rec.ID, StatusReleased)
	if err != nil {
		return Transaction{}, err
	}

	payout, err := s.payments.CreatePayout(ctx, tx, payment.CreatePayoutParams{
		EscrowID: rec.ID,
		SellerID: rec.SellerID,
		Amount:   rec.Amount,
		Currency: rec.Currency,
	})
	if err != nil {
		return Transaction{}, err
	}

	if err := s.auditor.Append(ctx, tx, audit.Entry{
		ActorID:  actorID,
		Action:   action,
		Entity:   "escrow_transaction",
		EntityID: rec.ID,
		Metadata: map[string]any{"payout_id": payout.ID},
	}); err != nil {
		return Transaction{}, err
	}
	return rec, nil
}

// Complete moves released -> completed and sends pending payouts. Admin only
// at the HTTP layer. Already-completed escrows return success unchanged.
func (s *Service) Complete(ctx context.Context, escrowID, actorID string) (Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, escrowID)
	if err != nil {
		return Transaction{}, err
	}
	if rec.Status == StatusCompleted {
		return rec, nil
	}
	if err := ValidateTransition(rec.Status, StatusCompleted); err != nil {
		return Transaction{}, err
	}

	rec, err = s.repo.UpdateStatus(ctx, tx, rec.ID, StatusCompleted)
	if err != nil {
		return Transaction{}, err
	}

	if err := s.payments.MarkPendingPayoutsSent(ctx, tx, rec.ID); err != nil {
		return Transaction{}, err
	}

	if err := s.auditor.Append(ctx, tx, audit.Entry{
		ActorID:  actorID,
		Action:   "escrow.completed",
		Entity:   "escrow_transaction",
		EntityID: rec.ID,
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("escrow: commit complete: %w", err)
	}
	return rec, nil
}

// Cancel moves created -> cancelled. Only a party to the escrow.
func (s *Service) Cancel(ctx context.Context, escrowID, actorID string) (Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, escrowID)
	if err != nil {
		return Transaction{}, err
	}
	if !rec.IsParty(actorID) {
		return Transaction{}, ErrForbidden
	}
	if rec.Status != StatusCreated {
		return Transaction{}, fmt.Errorf("%w: cancel requires created, have %s", ErrInvalidTransition, rec.Status)
	}

	rec, err = s.repo.UpdateStatus(ctx, tx, rec.ID, StatusCancelled)
	if err != nil {
		return Transaction{}, err
	}

	if err := s.auditor.Append(ctx, tx, audit.Entry{
		ActorID:  actorID,
		Action:   "escrow.cancelled",
		Entity:   "escrow_transaction",
		EntityID: rec.ID,
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("escrow: commit cancel: %w", err)
	}
	return rec, nil
}

// Refund moves a disputed escrow to cancelled. Admin only at the HTTP layer;
// this is the explicit buyer-refund path after a favor_buyer resolution.
func (s *Service) Refund(ctx context.Context, escrowID, actorID string) (Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, escrowID)
	if err != nil {
		return Transaction{}, err
	}
	if rec.Status != StatusDispute {
		return Transaction{}, fmt.Errorf("%w: refund requires dispute, have %s", ErrInvalidTransition, rec.Status)
	}

	rec, err = s.repo.UpdateStatus(ctx, tx, rec.ID, StatusCancelled)
	if err != nil {
		return Transaction{}, err
	}

	if err := s.auditor.Append(ctx, tx, audit.Entry{
		ActorID:  actorID,
		Action:   "escrow.refunded",
		Entity:   "escrow_transaction",
		EntityID: rec.ID,
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("escrow: commit refund: %w", err)
	}
	return rec, nil
}
