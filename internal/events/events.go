// Package events announces finished pipeline attempts to downstream consumers.
package events

import (
	"time"

	"call-insights/internal/calls"
)

type Type string

const (
	TypeCallAnalyzed Type = "call.analyzed"
	TypeCallFailed   Type = "call.failed"
)

// CallEvent is emitted once per pipeline attempt, after the record is persisted.
type CallEvent struct {
	EventID     string       `json:"event_id"`
	Type        Type         `json:"type"`
	CallID      string       `json:"call_id"`
	WorkspaceID string       `json:"workspace_id"`
	OwnerID     string       `json:"owner_id"`
	Status      calls.Status `json:"status"`
	OccurredAt  time.Time    `json:"occurred_at"`

	Analysis         *calls.Analysis `json:"analysis,omitempty"`
	AnalysisDegraded bool            `json:"analysis_degraded,omitempty"`
	TranscriptLength int             `json:"transcript_length,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`

	TranscriptionMS int64 `json:"transcription_ms,omitempty"`
	AnalysisMS      int64 `json:"analysis_ms,omitempty"`
	TotalMS         int64 `json:"total_ms"`
}
