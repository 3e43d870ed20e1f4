package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PostgresStore implements Store on the call_records table.
//
// Status transitions are single UPDATE ... WHERE status IN (...) statements, so the guard
// and the write happen in one round trip and concurrent triggers cannot both win.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `
id, workspace_id, owner_id, source, provider_call_id,
audio_location, audio_key, transcript,
sentiment, score, feedback, summary, analysis_degraded,
status, error_message, notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (CallRecord, error) {
	var (
		r                                          CallRecord
		providerCallID, location, key, transcript  sql.NullString
		sentiment, feedback, summary, errMsg, note sql.NullString
		score                                      sql.NullInt32
	)
	if err := row.Scan(
		&r.ID,
		&r.WorkspaceID,
		&r.OwnerID,
		&r.Source,
		&providerCallID,
		&location,
		&key,
		&transcript,
		&sentiment,
		&score,
		&feedback,
		&summary,
		&r.AnalysisDegraded,
		&r.Status,
		&errMsg,
		&note,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return CallRecord{}, err
	}
	r.ProviderCallID = providerCallID.String
	r.Audio = AudioRef{Location: location.String, Key: key.String}
	r.Transcript = transcript.String
	r.ErrorMessage = errMsg.String
	r.Notes = note.String
	if sentiment.Valid && score.Valid {
		r.Analysis = &Analysis{
			Sentiment: Sentiment(sentiment.String),
			Score:     int(score.Int32),
			Feedback:  feedback.String,
			Summary:   summary.String,
		}
	}
	return r, nil
}

func (s *PostgresStore) Create(ctx context.Context, rec CallRecord) (CallRecord, error) {
	if rec.ID == "" || rec.WorkspaceID == "" {
		return CallRecord{}, errors.New("calls: id and workspace_id required")
	}
	q := `
INSERT INTO call_records (id, workspace_id, owner_id, source, provider_call_id, audio_location, audio_key, status, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9, now(), now())
RETURNING ` + recordColumns
	out, err := scanRecord(s.db.QueryRowContext(ctx, q,
		rec.ID,
		rec.WorkspaceID,
		rec.OwnerID,
		rec.Source,
		rec.ProviderCallID,
		rec.Audio.Location,
		rec.Audio.Key,
		rec.Status,
		rec.Notes,
	))
	if err != nil {
		return CallRecord{}, fmt.Errorf("insert call record: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (CallRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM call_records WHERE id = $1`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, &NotFoundError{CallID: id}
		}
		return CallRecord{}, err
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, f ListFilter) ([]CallRecord, error) {
	if f.WorkspaceID == "" {
		return nil, errors.New("calls: workspace_id required")
	}
	where := []string{"workspace_id = $1"}
	args := []any{f.WorkspaceID}
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.OwnerID != "" {
		add("owner_id = $%d", f.OwnerID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}

	q := `SELECT ` + recordColumns + ` FROM call_records WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AttachAudio(ctx context.Context, id string, ref AudioRef) (CallRecord, error) {
	if ref.Key == "" {
		return CallRecord{}, &ValidationError{Field: "audio_key", Reason: "required"}
	}
	q := `
UPDATE call_records
SET audio_location = NULLIF($2, ''), audio_key = $3, updated_at = GREATEST(now(), updated_at)
WHERE id = $1 AND status = 'pending' AND COALESCE(audio_key, '') = ''
RETURNING ` + recordColumns
	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, id, ref.Location, ref.Key))
	if err != nil {
		return CallRecord{}, s.transitionErr(ctx, id, err)
	}
	return rec, nil
}

func (s *PostgresStore) BeginProcessing(ctx context.Context, id string) (CallRecord, error) {
	q := `
UPDATE call_records
SET status = 'processing',
    error_message = NULL,
    transcript = NULL,
    sentiment = NULL,
    score = NULL,
    feedback = NULL,
    summary = NULL,
    analysis_degraded = FALSE,
    updated_at = GREATEST(now(), updated_at)
WHERE id = $1 AND status IN ('uploaded', 'pending', 'failed')
RETURNING ` + recordColumns
	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return CallRecord{}, s.transitionErr(ctx, id, err)
	}
	return rec, nil
}

func (s *PostgresStore) MarkTranscribed(ctx context.Context, id, transcript string) error {
	if strings.TrimSpace(transcript) == "" {
		return &ValidationError{Field: "transcript", Reason: "required"}
	}
	const q = `
UPDATE call_records
SET transcript = $2, status = 'transcribed', updated_at = GREATEST(now(), updated_at)
WHERE id = $1 AND status = 'processing'
`
	return s.execTransition(ctx, id, q, id, transcript)
}

func (s *PostgresStore) MarkAnalyzed(ctx context.Context, id, transcript string, a Analysis, degraded bool) (CallRecord, error) {
	if strings.TrimSpace(transcript) == "" {
		return CallRecord{}, &ValidationError{Field: "transcript", Reason: "required"}
	}
	if !a.Complete() {
		return CallRecord{}, &ValidationError{Field: "analysis", Reason: "incomplete"}
	}
	q := `
UPDATE call_records
SET transcript = $2,
    sentiment = $3,
    score = $4,
    feedback = $5,
    summary = $6,
    analysis_degraded = $7,
    status = 'analyzed',
    error_message = NULL,
    updated_at = GREATEST(now(), updated_at)
WHERE id = $1 AND status IN ('processing', 'transcribed')
RETURNING ` + recordColumns
	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, id, transcript, a.Sentiment, a.Score, a.Feedback, a.Summary, degraded))
	if err != nil {
		return CallRecord{}, s.transitionErr(ctx, id, err)
	}
	return rec, nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, message string) error {
	if strings.TrimSpace(message) == "" {
		message = "processing failed"
	}
	const q = `
UPDATE call_records
SET status = 'failed', error_message = $2, updated_at = GREATEST(now(), updated_at)
WHERE id = $1 AND status IN ('processing', 'transcribed')
`
	return s.execTransition(ctx, id, q, id, message)
}

func (s *PostgresStore) execTransition(ctx context.Context, id, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.transitionErr(ctx, id, sql.ErrNoRows)
	}
	return nil
}

// transitionErr turns a no-row result into NotFoundError or ConflictError.
func (s *PostgresStore) transitionErr(ctx context.Context, id string, err error) error {
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	var status Status
	lookupErr := s.db.QueryRowContext(ctx, `SELECT status FROM call_records WHERE id = $1`, id).Scan(&status)
	if errors.Is(lookupErr, sql.ErrNoRows) {
		return &NotFoundError{CallID: id}
	}
	if lookupErr != nil {
		return lookupErr
	}
	return &ConflictError{CallID: id, Status: status}
}

// Ping is used by readiness checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}
