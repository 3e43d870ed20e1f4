package calls

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
// A single mutex makes every conditional write atomic, matching the SQL store's guarantees.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]CallRecord
	clock   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]CallRecord{}, clock: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Create(ctx context.Context, rec CallRecord) (CallRecord, error) {
	if rec.ID == "" || rec.WorkspaceID == "" {
		return CallRecord{}, errors.New("calls: id and workspace_id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return CallRecord{}, errors.New("calls: duplicate id")
	}
	if rec.Audio.Key != "" && s.keyInUse(rec.Audio.Key) {
		return CallRecord{}, &ConflictError{CallID: rec.ID}
	}
	now := s.clock().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.records[rec.ID] = clone(rec)
	return clone(rec), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return CallRecord{}, &NotFoundError{CallID: id}
	}
	return clone(rec), nil
}

func (s *MemoryStore) List(ctx context.Context, f ListFilter) ([]CallRecord, error) {
	if f.WorkspaceID == "" {
		return nil, errors.New("calls: workspace_id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallRecord, 0)
	for _, r := range s.records {
		if f.matches(r) {
			out = append(out, clone(r))
		}
	}
	// newest first, id as tie-break for stable output
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AttachAudio(ctx context.Context, id string, ref AudioRef) (CallRecord, error) {
	if ref.Key == "" {
		return CallRecord{}, &ValidationError{Field: "audio_key", Reason: "required"}
	}
	return s.update(id, func(r *CallRecord) bool {
		return r.Status == StatusPending && r.Audio.Key == "" && !s.keyInUse(ref.Key)
	}, func(r *CallRecord) {
		r.Audio = ref
	})
}

func (s *MemoryStore) BeginProcessing(ctx context.Context, id string) (CallRecord, error) {
	return s.update(id, func(r *CallRecord) bool {
		return r.Status.CanStartProcessing()
	}, func(r *CallRecord) {
		// A new attempt starts from audio; nothing from an earlier attempt survives.
		r.Status = StatusProcessing
		r.ErrorMessage = ""
		r.Transcript = ""
		r.Analysis = nil
		r.AnalysisDegraded = false
	})
}

func (s *MemoryStore) MarkTranscribed(ctx context.Context, id, transcript string) error {
	if strings.TrimSpace(transcript) == "" {
		return &ValidationError{Field: "transcript", Reason: "required"}
	}
	_, err := s.update(id, func(r *CallRecord) bool {
		return r.Status == StatusProcessing
	}, func(r *CallRecord) {
		r.Transcript = transcript
		r.Status = StatusTranscribed
	})
	return err
}

func (s *MemoryStore) MarkAnalyzed(ctx context.Context, id, transcript string, a Analysis, degraded bool) (CallRecord, error) {
	if strings.TrimSpace(transcript) == "" {
		return CallRecord{}, &ValidationError{Field: "transcript", Reason: "required"}
	}
	if !a.Complete() {
		return CallRecord{}, &ValidationError{Field: "analysis", Reason: "incomplete"}
	}
	return s.update(id, func(r *CallRecord) bool {
		return r.Status.InFlight()
	}, func(r *CallRecord) {
		r.Transcript = transcript
		an := a
		r.Analysis = &an
		r.AnalysisDegraded = degraded
		r.Status = StatusAnalyzed
		r.ErrorMessage = ""
	})
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id, message string) error {
	if strings.TrimSpace(message) == "" {
		message = "processing failed"
	}
	_, err := s.update(id, func(r *CallRecord) bool {
		return r.Status.InFlight()
	}, func(r *CallRecord) {
		r.Status = StatusFailed
		r.ErrorMessage = message
	})
	return err
}

func (s *MemoryStore) update(id string, eligible func(*CallRecord) bool, apply func(*CallRecord)) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return CallRecord{}, &NotFoundError{CallID: id}
	}
	if !eligible(&rec) {
		return CallRecord{}, &ConflictError{CallID: id, Status: rec.Status}
	}
	apply(&rec)
	now := s.clock().UTC()
	if now.After(rec.UpdatedAt) {
		rec.UpdatedAt = now
	}
	s.records[id] = clone(rec)
	return clone(rec), nil
}

// keyInUse must be called with mu held.
func (s *MemoryStore) keyInUse(key string) bool {
	for _, r := range s.records {
		if r.Audio.Key == key {
			return true
		}
	}
	return false
}

func clone(r CallRecord) CallRecord {
	if r.Analysis != nil {
		a := *r.Analysis
		r.Analysis = &a
	}
	return r
}
