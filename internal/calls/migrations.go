package calls

// Migrations creates the call_records table. Statements are idempotent.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS call_records (
		id                TEXT PRIMARY KEY,
		workspace_id      TEXT NOT NULL,
		owner_id          TEXT NOT NULL,
		source            TEXT NOT NULL DEFAULT 'upload',
		provider_call_id  TEXT,
		audio_location    TEXT,
		audio_key         TEXT,
		transcript        TEXT,
		sentiment         TEXT,
		score             INTEGER,
		feedback          TEXT,
		summary           TEXT,
		analysis_degraded BOOLEAN NOT NULL DEFAULT FALSE,
		status            TEXT NOT NULL,
		error_message     TEXT,
		notes             TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT call_records_status_check CHECK (status IN ('uploaded', 'pending', 'processing', 'transcribed', 'analyzed', 'failed')),
		CONSTRAINT call_records_score_check CHECK (score IS NULL OR (score BETWEEN 0 AND 100)),
		CONSTRAINT call_records_failed_message_check CHECK ((status = 'failed') = (COALESCE(error_message, '') <> ''))
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS call_records_audio_key_uniq ON call_records (audio_key) WHERE audio_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS call_records_workspace_owner_created_idx ON call_records (workspace_id, owner_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS call_records_workspace_status_idx ON call_records (workspace_id, status)`,
}
