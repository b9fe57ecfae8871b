package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"escrowflow/audit"
	"escrowflow/escrow"
	"escrowflow/payment"
)

var (
	// ErrBadSignature signals a missing or mismatched gateway signature.
	ErrBadSignature = errors.New("webhook: bad signature")
	// ErrUnknownEvent signals an event type this service does not handle.
	ErrUnknownEvent = errors.New("webhook: unknown event type")
	// ErrValidation signals malformed caller input.
	ErrValidation = errors.New("webhook: invalid input")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EventRecorder abstracts the dedup insert for testability.
type EventRecorder interface {
	InsertEvent(ctx context.Context, tx pgx.Tx, source, eventType, externalReference string, payload []byte) error
}

// Result reports what a delivery did so the handler can phrase its response.
type Result struct {
	Duplicate bool
	Message   string
}

// Service applies asynchronous gateway callbacks to payment and escrow
// state. Each delivery is one transaction: reserve the event row, apply the
// effects, append the audit row, commit. Redelivery hits the unique
// constraint and commits nothing.
type Service struct {
	pool     TxBeginner
	repo     EventRecorder
	payments *payment.Repository
	escrows  *escrow.Repository
	auditor  *audit.Writer
	secret   []byte
}

func NewService(pool TxBeginner, repo EventRecorder, payments *payment.Repository, escrows *escrow.Repository, auditor *audit.Writer, secret string) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if auditor == nil {
		auditor = audit.NewWriter()
	}
	return &Service{
		pool:     pool,
		repo:     repo,
		payments: payments,
		escrows:  escrows,
		auditor:  auditor,
		secret:   []byte(secret),
	}
}

// VerifySignature checks the hex HMAC-SHA256 of the raw body against the
// shared gateway secret.
func (s *Service) VerifySignature(body []byte, signature string) error {
	if signature == "" {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// HandlePaymentEvent applies a payment-gateway callback.
func (s *Service) HandlePaymentEvent(ctx context.Context, evt PaymentEvent, rawBody []byte) (Result, error) {
	if evt.PGReference == "" {
		return Result{}, fmt.Errorf("%w: missing pg_reference", ErrValidation)
	}
	if evt.Event != EventPaymentSucceeded && evt.Event != EventPaymentFailed {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownEvent, evt.Event)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("webhook: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertEvent(ctx, tx, SourcePayments, evt.Event, evt.PGReference, rawBody); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			return Result{Duplicate: true, Message: "already processed"}, nil
		}
		return Result{}, err
	}

	intent, err := s.payments.GetIntentByReference(ctx, tx, evt.PGReference)
	if err != nil {
		return Result{}, err
	}

	switch evt.Event {
	case EventPaymentSucceeded:
		if _, err := s.payments.MarkIntentPaid(ctx, tx, intent.ID, rawBody); err != nil {
			return Result{}, err
		}

		esc, err := s.escrows.GetForUpdate(ctx, tx, intent.EscrowID)
		if err != nil {
			return Result{}, err
		}
		// The direct fund path may have moved the escrow already; the
		// gateway confirmation only drives created -> funded.
		if esc.Status == escrow.StatusCreated {
			if _, err := s.escrows.UpdateStatus(ctx, tx, esc.ID, escrow.StatusFunded); err != nil {
				return Result{}, err
			}
		}

		if err := s.auditor.Append(ctx, tx, audit.Entry{
			Action:   "webhook.payment_succeeded",
			Entity:   "payment_intent",
			EntityID: intent.ID,
			Metadata: map[string]any{"pg_reference": evt.PGReference, "escrow_id": intent.EscrowID},
		}); err != nil {
			return Result{}, err
		}

	case EventPaymentFailed:
		if _, err := s.payments.MarkIntentFailed(ctx, tx, intent.ID, rawBody); err != nil {
			return Result{}, err
		}
		if err := s.auditor.Append(ctx, tx, audit.Entry{
			Action:   "webhook.payment_failed",
			Entity:   "payment_intent",
			EntityID: intent.ID,
			Metadata: map[string]any{"pg_reference": evt.PGReference},
		}); err != nil {
			return Result{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("webhook: commit payment event: %w", err)
	}
	return Result{Message: "processed"}, nil
}

// HandlePayoutEvent applies a payout-gateway callback.
func (s *Service) HandlePayoutEvent(ctx context.Context, evt PayoutEvent, rawBody []byte) (Result, error) {
	if evt.PGReference == "" {
		return Result{}, fmt.Errorf("%w: missing pg_reference", ErrValidation)
	}
	if evt.Event != EventPayoutSent && evt.Event != EventPayoutResolved {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownEvent, evt.Event)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("webhook: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertEvent(ctx, tx, SourcePayouts, evt.Event, evt.PGReference, rawBody); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			return Result{Duplicate: true, Message: "already processed"}, nil
		}
		return Result{}, err
	}

	rec, err := s.payments.GetPayoutForUpdate(ctx, tx, evt.PayoutID, evt.PGReference)
	if err != nil {
		return Result{}, err
	}

	var next payment.PayoutStatus
	switch evt.Event {
	case EventPayoutSent:
		if rec.Status != payment.PayoutPending {
			return Result{Duplicate: true, Message: "already processed"}, nil
		}
		next = payment.PayoutSent
	case EventPayoutResolved:
		if rec.Status == payment.PayoutResolved {
			return Result{Duplicate: true, Message: "already processed"}, nil
		}
		next = payment.PayoutResolved
	}

	ref := evt.PGReference
	if _, err := s.payments.UpdatePayoutStatus(ctx, tx, rec.ID, next, &ref); err != nil {
		return Result{}, err
	}

	if err := s.auditor.Append(ctx, tx, audit.Entry{
		Action:   "webhook." + evt.Event,
		Entity:   "payout",
		EntityID: rec.ID,
		Metadata: map[string]any{"pg_reference": evt.PGReference},
	}); err != nil {
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("webhook: commit payout event: %w", err)
	}
	return Result{Message: "processed"}, nil
}
