package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the dispute does not exist.
	ErrNotFound = errors.New("dispute: not found")
	// ErrForbidden signals the actor is not a party to the underlying escrow.
	ErrForbidden = errors.New("dispute: forbidden")
	// ErrNotOpen signals the dispute has already been decided.
	ErrNotOpen = errors.New("dispute: not open")
	// ErrEscrowNotActive signals the escrow is not in a disputable state.
	ErrEscrowNotActive = errors.New("dispute: escrow not in an active state")
	// ErrValidation signals malformed caller input.
	ErrValidation = errors.New("dispute: invalid input")
)

const disputeColumns = `id, escrow_id, opened_by, reason, status, decision, resolved_by, created_at, resolved_at`
const evidenceColumns = `id, dispute_id, uploaded_by, file_url, note, created_at`

// Repository persists disputes and evidence.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, tx pgx.Tx, escrowID, openedBy, reason string) (Record, error) {
	const insertSQL = `
		INSERT INTO disputes (escrow_id, opened_by, reason, status)
		VALUES ($1, $2, $3, 'open')
		RETURNING ` + disputeColumns

	rec, err := scanRecord(tx.QueryRow(ctx, insertSQL, escrowID, openedBy, reason))
	if err != nil {
		return Record{}, fmt.Errorf("dispute: create: %w", err)
	}
	return rec, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	const query = `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: get: %w", err)
	}
	return rec, nil
}

// GetForUpdate locks the dispute row so concurrent resolutions serialize.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	const query = `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1 FOR UPDATE`

	rec, err := scanRecord(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: get for update: %w", err)
	}
	return rec, nil
}

// SetResolution records the single irreversible decision.
func (r *Repository) SetResolution(ctx context.Context, tx pgx.Tx, id string, status Status, decision Decision, resolvedBy string) (Record, error) {
	const query = `
		UPDATE disputes
		SET status = $2, decision = $3, resolved_by = $4, resolved_at = now()
		WHERE id = $1
		RETURNING ` + disputeColumns

	rec, err := scanRecord(tx.QueryRow(ctx, query, id, status, decision, resolvedBy))
	if err != nil {
		return Record{}, fmt.Errorf("dispute: set resolution: %w", err)
	}
	return rec, nil
}

func (r *Repository) AddEvidence(ctx context.Context, tx pgx.Tx, disputeID, uploadedBy, fileURL string, note *string) (Evidence, error) {
	const insertSQL = `
		INSERT INTO evidence (dispute_id, uploaded_by, file_url, note)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + evidenceColumns

	rec, err := scanEvidence(tx.QueryRow(ctx, insertSQL, disputeID, uploadedBy, fileURL, note))
	if err != nil {
		return Evidence{}, fmt.Errorf("dispute: add evidence: %w", err)
	}
	return rec, nil
}

func (r *Repository) ListEvidence(ctx context.Context, disputeID string) ([]Evidence, error) {
	const query = `SELECT ` + evidenceColumns + ` FROM evidence WHERE dispute_id = $1 ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list evidence: %w", err)
	}
	defer rows.Close()

	out := []Evidence{}
	for rows.Next() {
		rec, err := scanEvidence(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan evidence: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate evidence: %w", err)
	}
	return out, nil
}

// List returns disputes newest first. userID restricts to disputes on
// escrows the user is a party to; empty userID lists all (admin).
func (r *Repository) List(ctx context.Context, userID string, status Status) ([]Record, error) {
	query := `
		SELECT d.id, d.escrow_id, d.opened_by, d.reason, d.status, d.decision, d.resolved_by, d.created_at, d.resolved_at
		FROM disputes d
		JOIN escrow_transactions e ON e.id = d.escrow_id
		WHERE 1=1
	`
	args := []any{}
	if userID != "" {
		args = append(args, userID)
		query += fmt.Sprintf(" AND (e.buyer_id = $%d OR e.seller_id = $%d)", len(args), len(args))
	}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND d.status = $%d", len(args))
	}
	query += " ORDER BY d.created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.EscrowID,
		&rec.OpenedBy,
		&rec.Reason,
		&rec.Status,
		&rec.Decision,
		&rec.ResolvedBy,
		&rec.CreatedAt,
		&rec.ResolvedAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func scanEvidence(row pgx.Row) (Evidence, error) {
	var rec Evidence
	err := row.Scan(
		&rec.ID,
		&rec.DisputeID,
		&rec.UploadedBy,
		&rec.FileURL,
		&rec.Note,
		&rec.CreatedAt,
	)
	if err != nil {
		return Evidence{}, err
	}
	return rec, nil
}
