package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrations creates the audit_events table and an insert-only guard.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS audit_events (
		id            TEXT PRIMARY KEY,
		workspace_id  TEXT NOT NULL,
		type          TEXT NOT NULL,
		actor_user_id TEXT,
		actor_role    TEXT,
		ip_address    TEXT,
		call_id       TEXT,
		message       TEXT,
		metadata      JSONB,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS audit_events_workspace_created_idx ON audit_events (workspace_id, created_at DESC)`,
	`CREATE OR REPLACE FUNCTION audit_events_immutable() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'audit_events is append-only';
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS audit_events_no_mutation ON audit_events`,
	`CREATE TRIGGER audit_events_no_mutation BEFORE UPDATE OR DELETE ON audit_events
		FOR EACH ROW EXECUTE FUNCTION audit_events_immutable()`,
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, workspace_id, type, actor_user_id, actor_role, ip_address, call_id, message, metadata, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, '')::jsonb, $10)`,
		e.ID, e.WorkspaceID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress, e.CallID, e.Message, e.Metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}
