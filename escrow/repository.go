package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound signals the escrow transaction does not exist.
	ErrNotFound = errors.New("escrow: not found")
	// ErrInvalidTransition signals a lifecycle step the transition table rejects.
	ErrInvalidTransition = errors.New("escrow: invalid transition")
	// ErrForbidden signals the actor is not a party to the escrow.
	ErrForbidden = errors.New("escrow: forbidden")
	// ErrSellerNotVerified signals the KYC gate blocked a payout-affecting action.
	ErrSellerNotVerified = errors.New("escrow: seller kyc not verified")
	// ErrValidation signals malformed caller input.
	ErrValidation = errors.New("escrow: invalid input")
)

const txColumns = `id, buyer_id, seller_id, amount::text, currency, status, seller_proof_url, seller_receipt_number, buyer_proof_url, created_at, updated_at`

// Repository provides data access for escrow transactions. Mutations take a
// pgx.Tx so the service can bundle them with audit and payment writes.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateParams contains write parameters for a new escrow transaction.
type CreateParams struct {
	BuyerID  string
	SellerID string
	Amount   decimal.Decimal
	Currency string
}

func (r *Repository) Create(ctx context.Context, tx pgx.Tx, params CreateParams) (Transaction, error) {
	const insertSQL = `
		INSERT INTO escrow_transactions (buyer_id, seller_id, amount, currency, status)
		VALUES ($1, $2, $3::numeric, $4, 'created')
		RETURNING ` + txColumns

	rec, err := scanTransaction(tx.QueryRow(ctx, insertSQL, params.BuyerID, params.SellerID, params.Amount.String(), params.Currency))
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: create: %w", err)
	}
	return rec, nil
}

// Get fetches an escrow transaction outside any transaction.
func (r *Repository) Get(ctx context.Context, id string) (Transaction, error) {
	const query = `SELECT ` + txColumns + ` FROM escrow_transactions WHERE id = $1`

	rec, err := scanTransaction(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("escrow: get: %w", err)
	}
	return rec, nil
}

// GetForUpdate locks the escrow row for the duration of the transaction so
// concurrent transitions serialize instead of double-applying.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Transaction, error) {
	const query = `SELECT ` + txColumns + ` FROM escrow_transactions WHERE id = $1 FOR UPDATE`

	rec, err := scanTransaction(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("escrow: get for update: %w", err)
	}
	return rec, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Transaction, error) {
	const query = `
		UPDATE escrow_transactions
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + txColumns

	rec, err := scanTransaction(tx.QueryRow(ctx, query, id, status))
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: update status: %w", err)
	}
	return rec, nil
}

// SetShipment records the seller's proof and tracking number alongside the
// funded -> shipped transition.
func (r *Repository) SetShipment(ctx context.Context, tx pgx.Tx, id string, proofURL, receiptNumber *string) (Transaction, error) {
	const query = `
		UPDATE escrow_transactions
		SET status = 'shipped',
		    seller_proof_url = $2,
		    seller_receipt_number = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + txColumns

	rec, err := scanTransaction(tx.QueryRow(ctx, query, id, proofURL, receiptNumber))
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: set shipment: %w", err)
	}
	return rec, nil
}

// SetBuyerProof stores the buyer's receipt upload without changing status.
func (r *Repository) SetBuyerProof(ctx context.Context, tx pgx.Tx, id string, proofURL string) (Transaction, error) {
	const query = `
		UPDATE escrow_transactions
		SET buyer_proof_url = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + txColumns

	rec, err := scanTransaction(tx.QueryRow(ctx, query, id, proofURL))
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: set buyer proof: %w", err)
	}
	return rec, nil
}

// List returns escrows matching the filters, newest first, with the total
// count for pagination. UserID restricts to escrows the user is a party to.
func (r *Repository) List(ctx context.Context, filters Filters) ([]Transaction, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := "1=1"
	args := []any{}
	if filters.UserID != "" {
		args = append(args, filters.UserID)
		where += fmt.Sprintf(" AND (buyer_id = $%d OR seller_id = $%d)", len(args), len(args))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query := fmt.Sprintf(`SELECT %s FROM escrow_transactions WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		txColumns, where, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("escrow: list: %w", err)
	}
	defer rows.Close()

	list := []Transaction{}
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("escrow: scan list: %w", err)
		}
		list = append(list, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("escrow: iterate list: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM escrow_transactions WHERE %s", where)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("escrow: count list: %w", err)
	}

	return list, total, nil
}

// SellerKycVerified re-checks the KYC gate by direct query inside the
// caller's transaction; the verdict is never cached.
func (r *Repository) SellerKycVerified(ctx context.Context, tx pgx.Tx, sellerID string) (bool, error) {
	var status string
	if err := tx.QueryRow(ctx, `SELECT kyc_status FROM users WHERE id = $1`, sellerID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("escrow: seller %s not found", sellerID)
		}
		return false, fmt.Errorf("escrow: check seller kyc: %w", err)
	}
	return status == "verified", nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		rec    Transaction
		amount string
	)
	err := row.Scan(
		&rec.ID,
		&rec.BuyerID,
		&rec.SellerID,
		&amount,
		&rec.Currency,
		&rec.Status,
		&rec.SellerProofURL,
		&rec.SellerReceiptNumber,
		&rec.BuyerProofURL,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Transaction{}, err
	}

	rec.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: parse amount %q: %w", amount, err)
	}
	return rec, nil
}
