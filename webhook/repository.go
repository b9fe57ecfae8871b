package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateEvent signals the event was already recorded: the insert hit
// the unique (source, event_type, external_reference) constraint.
var ErrDuplicateEvent = errors.New("webhook: duplicate event")

// Repository records received gateway events. The unique constraint, not a
// best-effort existence check, is what makes redelivery safe.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// InsertEvent reserves the event inside the active transaction.
func (r *Repository) InsertEvent(ctx context.Context, tx pgx.Tx, source, eventType, externalReference string, payload []byte) error {
	if externalReference == "" {
		return fmt.Errorf("webhook: empty external reference")
	}

	const insertSQL = `
		INSERT INTO webhook_events (source, event_type, external_reference, payload)
		VALUES ($1, $2, $3, $4::jsonb)
	`
	if _, err := tx.Exec(ctx, insertSQL, source, eventType, externalReference, payload); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("webhook: insert event: %w", err)
	}
	return nil
}
