package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("telephony: call session not found")

type SessionStatus string

const (
	SessionInProgress         SessionStatus = "in-progress"
	SessionRecordingReceived  SessionStatus = "recording-received"
	SessionRecordingProcessed SessionStatus = "recording-processed"
	SessionFailed             SessionStatus = "failed"
)

// CallSession links a provider call to the user who placed it. Browser clients
// report the CallSid when the call starts; the recording webhook only carries the CallSid.
type CallSession struct {
	CallSid      string        `json:"call_sid"`
	UserID       string        `json:"user_id"`
	WorkspaceID  string        `json:"workspace_id"`
	PhoneNumber  string        `json:"phone_number"`
	Status       SessionStatus `json:"status"`
	CallRecordID string        `json:"call_record_id,omitempty"`
	RecordingSid string        `json:"recording_sid,omitempty"`
	RecordingURL string        `json:"recording_url,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type SessionStore interface {
	Save(ctx context.Context, s CallSession) error
	Get(ctx context.Context, callSid string) (CallSession, error)
	// ClaimRecording returns false when the recording was already claimed.
	ClaimRecording(ctx context.Context, recordingSid string) (bool, error)
	ReleaseRecording(ctx context.Context, recordingSid string) error
}

// RedisSessionStore keeps sessions as JSON values that expire after ttl.
type RedisSessionStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisSessionStore(rdb redis.Cmdable, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSessionStore{rdb: rdb, ttl: ttl}
}

func sessionKey(callSid string) string       { return "twilio:call:" + callSid }
func recordingClaimKey(recSid string) string { return "twilio:recording:" + recSid }

func (r *RedisSessionStore) Save(ctx context.Context, s CallSession) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, sessionKey(s.CallSid), b, r.ttl).Err(); err != nil {
		return fmt.Errorf("save call session: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) Get(ctx context.Context, callSid string) (CallSession, error) {
	b, err := r.rdb.Get(ctx, sessionKey(callSid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CallSession{}, ErrSessionNotFound
	}
	if err != nil {
		return CallSession{}, fmt.Errorf("load call session: %w", err)
	}
	var s CallSession
	if err := json.Unmarshal(b, &s); err != nil {
		return CallSession{}, fmt.Errorf("decode call session: %w", err)
	}
	return s, nil
}

func (r *RedisSessionStore) ClaimRecording(ctx context.Context, recordingSid string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, recordingClaimKey(recordingSid), "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim recording: %w", err)
	}
	return ok, nil
}

func (r *RedisSessionStore) ReleaseRecording(ctx context.Context, recordingSid string) error {
	return r.rdb.Del(ctx, recordingClaimKey(recordingSid)).Err()
}

// MemorySessionStore is used by tests and single-process local runs.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]CallSession
	claimed  map[string]struct{}
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: map[string]CallSession{}, claimed: map[string]struct{}{}}
}

func (m *MemorySessionStore) Save(_ context.Context, s CallSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.CallSid] = s
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, callSid string) (CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callSid]
	if !ok {
		return CallSession{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *MemorySessionStore) ClaimRecording(_ context.Context, recordingSid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claimed[recordingSid]; ok {
		return false, nil
	}
	m.claimed[recordingSid] = struct{}{}
	return true, nil
}

func (m *MemorySessionStore) ReleaseRecording(_ context.Context, recordingSid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claimed, recordingSid)
	return nil
}
