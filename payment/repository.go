package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrIntentNotFound signals no payment intent matches the reference.
	ErrIntentNotFound = errors.New("payment: intent not found")
	// ErrPayoutNotFound signals no payout matches the identifier or reference.
	ErrPayoutNotFound = errors.New("payment: payout not found")
)

const intentColumns = `id, escrow_id, method, pg_reference, status, paid_at, raw_payload, created_at`
const payoutColumns = `id, escrow_id, seller_id, amount::text, currency, bank_name, bank_account, status, pg_reference, created_at, updated_at`

// Repository persists payment intents and payouts. Mutations take a pgx.Tx:
// intents and payouts are only ever written as part of an escrow transition
// or a webhook application.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateIntentParams contains write parameters for a funding event.
type CreateIntentParams struct {
	EscrowID    string
	Method      string
	PGReference string
}

func (r *Repository) CreateIntent(ctx context.Context, tx pgx.Tx, params CreateIntentParams) (Intent, error) {
	const insertSQL = `
		INSERT INTO payment_intents (escrow_id, method, pg_reference, status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING ` + intentColumns

	rec, err := scanIntent(tx.QueryRow(ctx, insertSQL, params.EscrowID, params.Method, params.PGReference))
	if err != nil {
		return Intent{}, fmt.Errorf("payment: create intent: %w", err)
	}
	return rec, nil
}

// GetIntentByReference locks and returns the intent the gateway referenced.
func (r *Repository) GetIntentByReference(ctx context.Context, tx pgx.Tx, pgReference string) (Intent, error) {
	const query = `SELECT ` + intentColumns + ` FROM payment_intents WHERE pg_reference = $1 FOR UPDATE`

	rec, err := scanIntent(tx.QueryRow(ctx, query, pgReference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Intent{}, ErrIntentNotFound
		}
		return Intent{}, fmt.Errorf("payment: intent by reference: %w", err)
	}
	return rec, nil
}

// MarkIntentPaid records gateway confirmation along with the raw payload.
func (r *Repository) MarkIntentPaid(ctx context.Context, tx pgx.Tx, id string, rawPayload []byte) (Intent, error) {
	const query = `
		UPDATE payment_intents
		SET status = 'paid', paid_at = now(), raw_payload = $2::jsonb
		WHERE id = $1
		RETURNING ` + intentColumns

	rec, err := scanIntent(tx.QueryRow(ctx, query, id, rawPayload))
	if err != nil {
		return Intent{}, fmt.Errorf("payment: mark intent paid: %w", err)
	}
	return rec, nil
}

// MarkIntentFailed records gateway rejection along with the raw payload.
func (r *Repository) MarkIntentFailed(ctx context.Context, tx pgx.Tx, id string, rawPayload []byte) (Intent, error) {
	const query = `
		UPDATE payment_intents
		SET status = 'failed', raw_payload = $2::jsonb
		WHERE id = $1
		RETURNING ` + intentColumns

	rec, err := scanIntent(tx.QueryRow(ctx, query, id, rawPayload))
	if err != nil {
		return Intent{}, fmt.Errorf("payment: mark intent failed: %w", err)
	}
	return rec, nil
}

// CreatePayoutParams contains write parameters for a payout created on release.
type CreatePayoutParams struct {
	EscrowID string
	SellerID string
	Amount   decimal.Decimal
	Currency string
}

func (r *Repository) CreatePayout(ctx context.Context, tx pgx.Tx, params CreatePayoutParams) (Payout, error) {
	const insertSQL = `
		INSERT INTO payouts (escrow_id, seller_id, amount, currency, status)
		VALUES ($1, $2, $3::numeric, $4, 'pending')
		RETURNING ` + payoutColumns

	rec, err := scanPayout(tx.QueryRow(ctx, insertSQL, params.EscrowID, params.SellerID, params.Amount.String(), params.Currency))
	if err != nil {
		return Payout{}, fmt.Errorf("payment: create payout: %w", err)
	}
	return rec, nil
}

// GetPayout fetches a payout by id outside any transaction.
func (r *Repository) GetPayout(ctx context.Context, id string) (Payout, error) {
	const query = `SELECT ` + payoutColumns + ` FROM payouts WHERE id = $1`

	rec, err := scanPayout(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payout{}, ErrPayoutNotFound
		}
		return Payout{}, fmt.Errorf("payment: get payout: %w", err)
	}
	return rec, nil
}

// GetPayoutForUpdate locks a payout row by id, or by gateway reference when
// the id is unknown to the caller (payout webhooks).
func (r *Repository) GetPayoutForUpdate(ctx context.Context, tx pgx.Tx, id, pgReference string) (Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE id = $1 FOR UPDATE`
	arg := id
	if id == "" {
		query = `SELECT ` + payoutColumns + ` FROM payouts WHERE pg_reference = $1 FOR UPDATE`
		arg = pgReference
	}

	rec, err := scanPayout(tx.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payout{}, ErrPayoutNotFound
		}
		return Payout{}, fmt.Errorf("payment: payout for update: %w", err)
	}
	return rec, nil
}

// UpdatePayoutStatus advances a payout, recording the gateway reference the
// first time one is presented.
func (r *Repository) UpdatePayoutStatus(ctx context.Context, tx pgx.Tx, id string, status PayoutStatus, pgReference *string) (Payout, error) {
	const query = `
		UPDATE payouts
		SET status = $2,
		    pg_reference = COALESCE(pg_reference, $3),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + payoutColumns

	rec, err := scanPayout(tx.QueryRow(ctx, query, id, status, pgReference))
	if err != nil {
		return Payout{}, fmt.Errorf("payment: update payout: %w", err)
	}
	return rec, nil
}

// MarkPendingPayoutsSent advances every pending payout of the escrow. Called
// on escrow completion.
func (r *Repository) MarkPendingPayoutsSent(ctx context.Context, tx pgx.Tx, escrowID string) error {
	const query = `
		UPDATE payouts
		SET status = 'sent', updated_at = now()
		WHERE escrow_id = $1 AND status = 'pending'
	`
	if _, err := tx.Exec(ctx, query, escrowID); err != nil {
		return fmt.Errorf("payment: mark payouts sent: %w", err)
	}
	return nil
}

// ListPayouts returns payouts newest first, optionally filtered by status.
func (r *Repository) ListPayouts(ctx context.Context, status PayoutStatus, limit int) ([]Payout, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `SELECT ` + payoutColumns + ` FROM payouts`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("payment: list payouts: %w", err)
	}
	defer rows.Close()

	out := []Payout{}
	for rows.Next() {
		rec, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("payment: scan payout: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payment: iterate payouts: %w", err)
	}
	return out, nil
}

func scanIntent(row pgx.Row) (Intent, error) {
	var rec Intent
	err := row.Scan(
		&rec.ID,
		&rec.EscrowID,
		&rec.Method,
		&rec.PGReference,
		&rec.Status,
		&rec.PaidAt,
		&rec.RawPayload,
		&rec.CreatedAt,
	)
	if err != nil {
		return Intent{}, err
	}
	return rec, nil
}

func scanPayout(row pgx.Row) (Payout, error) {
	var (
		rec    Payout
		amount string
	)
	err := row.Scan(
		&rec.ID,
		&rec.EscrowID,
		&rec.SellerID,
		&amount,
		&rec.Currency,
		&rec.BankName,
		&rec.BankAccount,
		&rec.Status,
		&rec.PGReference,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Payout{}, err
	}

	rec.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return Payout{}, fmt.Errorf("payment: parse amount %q: %w", amount, err)
	}
	return rec, nil
}
