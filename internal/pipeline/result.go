package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"call-insights/internal/calls"
)

// Timings are reported to clients in milliseconds.
type Timings struct {
	Transcription time.Duration
	Analysis      time.Duration
	Total         time.Duration
}

func (t Timings) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Transcription int64 `json:"transcription_ms"`
		Analysis      int64 `json:"analysis_ms"`
		Total         int64 `json:"total_ms"`
	}{t.Transcription.Milliseconds(), t.Analysis.Milliseconds(), t.Total.Milliseconds()})
}

// Result is what a synchronous Process returns.
type Result struct {
	CallID           string         `json:"call_id"`
	Status           calls.Status   `json:"status"`
	Transcript       string         `json:"transcript"`
	Analysis         calls.Analysis `json:"analysis"`
	AnalysisDegraded bool           `json:"analysis_degraded"`
	Timings          Timings        `json:"processing_times"`
	TranscriptLength int            `json:"transcript_length"`
	WordCount        int            `json:"word_count"`
}

func newResult(rec calls.CallRecord, t Timings) Result {
	r := Result{
		CallID:           rec.ID,
		Status:           rec.Status,
		Transcript:       rec.Transcript,
		AnalysisDegraded: rec.AnalysisDegraded,
		Timings:          t,
		TranscriptLength: len([]rune(rec.Transcript)),
		WordCount:        len(strings.Fields(rec.Transcript)),
	}
	if rec.Analysis != nil {
		r.Analysis = *rec.Analysis
	}
	return r
}

type StatusResults struct {
	Transcript       string         `json:"transcript"`
	Analysis         calls.Analysis `json:"analysis"`
	AnalysisDegraded bool           `json:"analysis_degraded"`
}

type Timestamps struct {
	Created     time.Time `json:"created"`
	LastUpdated time.Time `json:"last_updated"`
}

// StatusView is the polling projection of a record.
type StatusView struct {
	CallID        string         `json:"call_id"`
	Status        calls.Status   `json:"status"`
	HasTranscript bool           `json:"has_transcript"`
	HasAnalysis   bool           `json:"has_analysis"`
	Results       *StatusResults `json:"results,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Timestamps    Timestamps     `json:"timestamps"`
}

// GetStatus is a pure read.
func (p *Pipeline) GetStatus(ctx context.Context, id string) (StatusView, error) {
	rec, err := p.store.Get(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	return StatusOf(rec), nil
}

// StatusOf projects a record; results are only exposed once analyzed.
func StatusOf(rec calls.CallRecord) StatusView {
	v := StatusView{
		CallID:        rec.ID,
		Status:        rec.Status,
		HasTranscript: rec.Transcript != "",
		HasAnalysis:   rec.Analysis != nil,
		Timestamps:    Timestamps{Created: rec.CreatedAt, LastUpdated: rec.UpdatedAt},
	}
	if rec.Status == calls.StatusAnalyzed && rec.Analysis != nil {
		v.Results = &StatusResults{
			Transcript:       rec.Transcript,
			Analysis:         *rec.Analysis,
			AnalysisDegraded: rec.AnalysisDegraded,
		}
	}
	if rec.Status == calls.StatusFailed {
		v.ErrorMessage = rec.ErrorMessage
	}
	return v
}
