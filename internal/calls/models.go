package calls

import "time"

// CallRecord tracks one recorded sales call through transcription and analysis.
//
// Tenant invariant: WorkspaceID is required on every row.
//
// The pipeline is the only writer of Transcript, Analysis, Status and ErrorMessage.
// Notes belong to the user and are never touched after creation.
type CallRecord struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	OwnerID     string `json:"owner_id" db:"owner_id"`

	Source         Source `json:"source" db:"source"`
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	Audio AudioRef `json:"audio"`

	Transcript       string    `json:"transcript,omitempty" db:"transcript"`
	Analysis         *Analysis `json:"analysis,omitempty"`
	AnalysisDegraded bool      `json:"analysis_degraded" db:"analysis_degraded"`

	Status       Status `json:"status" db:"status"`
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	Notes string `json:"notes,omitempty" db:"notes"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AudioRef points at a recording held in object storage.
// Key is what the gateways use; Location is for display only.
type AudioRef struct {
	Location string `json:"location,omitempty" db:"audio_location"`
	Key      string `json:"key,omitempty" db:"audio_key"`
}

func (a AudioRef) IsZero() bool { return a.Key == "" && a.Location == "" }

// Analysis is the validated output of the analysis gateway.
type Analysis struct {
	Sentiment Sentiment `json:"sentiment" db:"sentiment"`
	Score     int       `json:"score" db:"score"`
	Feedback  string    `json:"feedback" db:"feedback"`
	Summary   string    `json:"summary" db:"summary"`
}

// Complete reports whether every field is populated and the score is in range.
func (a *Analysis) Complete() bool {
	if a == nil {
		return false
	}
	return a.Sentiment.Valid() && a.Score >= 0 && a.Score <= 100 && a.Feedback != "" && a.Summary != ""
}

type Sentiment string

const (
	SentimentPositive Sentiment = "Positive"
	SentimentNegative Sentiment = "Negative"
	SentimentNeutral  Sentiment = "Neutral"
)

func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusUploaded    Status = "uploaded"
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusTranscribed Status = "transcribed"
	StatusAnalyzed    Status = "analyzed"
	StatusFailed      Status = "failed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusUploaded,
	StatusPending,
	StatusProcessing,
	StatusTranscribed,
	StatusAnalyzed,
	StatusFailed,
}

// TriggerableStatuses are the only states a processing attempt may start from.
var TriggerableStatuses = []Status{StatusUploaded, StatusPending, StatusFailed}

// CanStartProcessing reports whether a new attempt may begin from s.
func (s Status) CanStartProcessing() bool {
	for _, t := range TriggerableStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// InFlight reports whether an attempt currently owns the record.
func (s Status) InFlight() bool {
	return s == StatusProcessing || s == StatusTranscribed
}

func (s Status) Valid() bool {
	for _, t := range AllStatuses {
		if s == t {
			return true
		}
	}
	return false
}

type Source string

const (
	SourceUpload Source = "upload"
	SourceTwilio Source = "twilio"
)

// ListFilter narrows List queries. WorkspaceID is required.
type ListFilter struct {
	WorkspaceID string
	OwnerID     string
	Status      Status

	// From is inclusive, To is exclusive. Zero values are unbounded.
	From time.Time
	To   time.Time
}

func (f ListFilter) matches(r CallRecord) bool {
	if r.WorkspaceID != f.WorkspaceID {
		return false
	}
	if f.OwnerID != "" && r.OwnerID != f.OwnerID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && r.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.CreatedAt.Before(f.To) {
		return false
	}
	return true
}
