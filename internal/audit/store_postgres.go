package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	txcontext "constancia/pkg/platform/tx"
)

// PostgresStore appends audit events to the audit_events table. When the
// emitting operation runs in a transaction the append joins it, so the trail
// never records an action that was rolled back.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO audit_events (id, category, action, subject, operator, reason, request_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.New(), string(event.Category), string(event.Action), event.Subject,
		event.Operator, event.Reason, event.RequestID, event.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
