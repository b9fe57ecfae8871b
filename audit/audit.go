package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Entry captures a single mutating action. Append-only; the audit_logs table
// is the system's sole change history.
type Entry struct {
	ActorID  string
	Action   string
	Entity   string
	EntityID string
	Metadata map[string]any
}

// Writer appends audit entries inside the caller's transaction so the audit
// row commits or rolls back together with the mutation it records.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// Append inserts one audit row. A missing actor (webhooks) is stored as NULL.
func (w *Writer) Append(ctx context.Context, tx pgx.Tx, entry Entry) error {
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return fmt.Errorf("audit: action, entity and entity id are required")
	}

	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	body, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("audit: marshal metadata: %w", err)
	}

	var actor any
	if entry.ActorID != "" {
		actor = entry.ActorID
	}

	const insertSQL = `
		INSERT INTO audit_logs (actor_id, action, entity, entity_id, metadata)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`
	if _, err := tx.Exec(ctx, insertSQL, actor, entry.Action, entry.Entity, entry.EntityID, body); err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}
