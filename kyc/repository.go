package kyc

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNoPendingSubmission signals the user has nothing awaiting review.
	ErrNoPendingSubmission = errors.New("kyc: no pending submission")
	// ErrAlreadySubmitted signals a pending submission already exists.
	ErrAlreadySubmitted = errors.New("kyc: submission already pending")
	// ErrValidation signals malformed caller input.
	ErrValidation = errors.New("kyc: invalid input")
)

const submissionColumns = `id, user_id, document_url, note, status, reviewed_by, created_at, reviewed_at`

// Repository persists KYC submissions and mirrors verdicts onto users.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateSubmission inserts a pending submission unless one already exists.
func (r *Repository) CreateSubmission(ctx context.Context, tx pgx.Tx, userID, documentURL string, note *string) (Submission, error) {
	var pending int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM kyc_submissions WHERE user_id = $1 AND status = 'pending'`, userID,
	).Scan(&pending); err != nil {
		return Submission{}, fmt.Errorf("kyc: check pending: %w", err)
	}
	if pending > 0 {
		return Submission{}, ErrAlreadySubmitted
	}

	const insertSQL = `
		INSERT INTO kyc_submissions (user_id, document_url, note, status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING ` + submissionColumns

	rec, err := scanSubmission(tx.QueryRow(ctx, insertSQL, userID, documentURL, note))
	if err != nil {
		return Submission{}, fmt.Errorf("kyc: create submission: %w", err)
	}
	return rec, nil
}

// SetUserKycStatus mirrors the submission state onto the users row.
func (r *Repository) SetUserKycStatus(ctx context.Context, tx pgx.Tx, userID, status string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE users SET kyc_status = $2, updated_at = now() WHERE id = $1`, userID, status)
	if err != nil {
		return fmt.Errorf("kyc: set user status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("kyc: user %s not found", userID)
	}
	return nil
}

// ReviewPendingSubmission applies the admin verdict to the user's pending
// submission. Keyed by user_id + status='pending' so replays miss.
func (r *Repository) ReviewPendingSubmission(ctx context.Context, tx pgx.Tx, userID, reviewerID string, verdict SubmissionStatus) (Submission, error) {
	const query = `
		UPDATE kyc_submissions
		SET status = $2, reviewed_by = $3, reviewed_at = now()
		WHERE user_id = $1 AND status = 'pending'
		RETURNING ` + submissionColumns

	rec, err := scanSubmission(tx.QueryRow(ctx, query, userID, verdict, reviewerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Submission{}, ErrNoPendingSubmission
		}
		return Submission{}, fmt.Errorf("kyc: review submission: %w", err)
	}
	return rec, nil
}

// ListForUser returns the user's submissions, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID string) ([]Submission, error) {
	const query = `SELECT ` + submissionColumns + ` FROM kyc_submissions WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("kyc: list for user: %w", err)
	}
	defer rows.Close()

	out := []Submission{}
	for rows.Next() {
		rec, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("kyc: scan submission: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kyc: iterate submissions: %w", err)
	}
	return out, nil
}

func scanSubmission(row pgx.Row) (Submission, error) {
	var rec Submission
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.DocumentURL,
		&rec.Note,
		&rec.Status,
		&rec.ReviewedBy,
		&rec.CreatedAt,
		&rec.ReviewedAt,
	)
	if err != nil {
		return Submission{}, err
	}
	return rec, nil
}
