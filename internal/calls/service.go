package calls

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service handles record creation and owner-facing reads.
// Status transitions belong to the pipeline and go straight to the Store.
type Service struct {
	store Store
	// newID is injectable for deterministic tests.
	newID func() string
}

func NewService(store Store) *Service {
	return &Service{store: store, newID: uuid.NewString}
}

type UploadRequest struct {
	WorkspaceID string
	OwnerID     string
	Audio       AudioRef
	Notes       string
}

// CreateUploaded creates a record for audio a client already uploaded.
func (s *Service) CreateUploaded(ctx context.Context, req UploadRequest) (CallRecord, error) {
	if err := requireOwner(req.WorkspaceID, req.OwnerID); err != nil {
		return CallRecord{}, err
	}
	if req.Audio.Key == "" {
		return CallRecord{}, &ValidationError{Field: "audio", Reason: "no audio file provided"}
	}
	return s.store.Create(ctx, CallRecord{
		ID:          s.newID(),
		WorkspaceID: req.WorkspaceID,
		OwnerID:     req.OwnerID,
		Source:      SourceUpload,
		Audio:       req.Audio,
		Status:      StatusUploaded,
		Notes:       strings.TrimSpace(req.Notes),
	})
}

type PendingRequest struct {
	WorkspaceID    string
	OwnerID        string
	Source         Source
	ProviderCallID string
	Notes          string
}

// CreatePending creates a record whose audio will be attached later (telephony flow).
func (s *Service) CreatePending(ctx context.Context, req PendingRequest) (CallRecord, error) {
	if err := requireOwner(req.WorkspaceID, req.OwnerID); err != nil {
		return CallRecord{}, err
	}
	if req.Source == "" {
		req.Source = SourceUpload
	}
	return s.store.Create(ctx, CallRecord{
		ID:             s.newID(),
		WorkspaceID:    req.WorkspaceID,
		OwnerID:        req.OwnerID,
		Source:         req.Source,
		ProviderCallID: req.ProviderCallID,
		Status:         StatusPending,
		Notes:          strings.TrimSpace(req.Notes),
	})
}

func (s *Service) AttachAudio(ctx context.Context, id string, ref AudioRef) (CallRecord, error) {
	if id == "" {
		return CallRecord{}, &ValidationError{Field: "id", Reason: "required"}
	}
	return s.store.AttachAudio(ctx, id, ref)
}

// GetForWorkspace hides records of other tenants behind NotFoundError.
func (s *Service) GetForWorkspace(ctx context.Context, workspaceID, id string) (CallRecord, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return CallRecord{}, err
	}
	if rec.WorkspaceID != workspaceID {
		return CallRecord{}, &NotFoundError{CallID: id}
	}
	return rec, nil
}

// OwnerCalls is the "my calls" listing with per-status counts.
type OwnerCalls struct {
	Calls          []CallRecord   `json:"calls"`
	TotalCalls     int            `json:"total_calls"`
	CallsByStatus  map[Status]int `json:"calls_by_status"`
	DegradedCalls  int            `json:"degraded_calls"`
	LastActivityAt *time.Time     `json:"last_activity_at,omitempty"`
}

func (s *Service) ListForOwner(ctx context.Context, workspaceID, ownerID string) (OwnerCalls, error) {
	if err := requireOwner(workspaceID, ownerID); err != nil {
		return OwnerCalls{}, err
	}
	rows, err := s.store.List(ctx, ListFilter{WorkspaceID: workspaceID, OwnerID: ownerID})
	if err != nil {
		return OwnerCalls{}, err
	}
	out := OwnerCalls{Calls: rows, TotalCalls: len(rows), CallsByStatus: map[Status]int{}}
	for _, st := range AllStatuses {
		out.CallsByStatus[st] = 0
	}
	for _, r := range rows {
		out.CallsByStatus[r.Status]++
		if r.AnalysisDegraded {
			out.DegradedCalls++
		}
		if out.LastActivityAt == nil || r.UpdatedAt.After(*out.LastActivityAt) {
			t := r.UpdatedAt
			out.LastActivityAt = &t
		}
	}
	return out, nil
}

func requireOwner(workspaceID, ownerID string) error {
	if workspaceID == "" {
		return &ValidationError{Field: "workspace_id", Reason: "required"}
	}
	if ownerID == "" {
		return &ValidationError{Field: "owner_id", Reason: "required"}
	}
	return nil
}
