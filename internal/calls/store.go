package calls

import "context"

// Store is the persistence contract for call records.
//
// Every state-changing method is a single conditional write: it only applies when the
// current status allows the transition, and reports ConflictError otherwise.
// Implementations must enforce workspace filtering in List.
type Store interface {
	Create(ctx context.Context, rec CallRecord) (CallRecord, error)
	Get(ctx context.Context, id string) (CallRecord, error)
	List(ctx context.Context, f ListFilter) ([]CallRecord, error)

	// AttachAudio sets the audio reference of a pending record that has none yet.
	AttachAudio(ctx context.Context, id string, ref AudioRef) (CallRecord, error)

	// BeginProcessing moves uploaded|pending|failed to processing and clears ErrorMessage.
	BeginProcessing(ctx context.Context, id string) (CallRecord, error)

	// MarkTranscribed persists the transcript and moves processing to transcribed.
	MarkTranscribed(ctx context.Context, id, transcript string) error

	// MarkAnalyzed persists transcript and analysis together and moves the record to analyzed.
	MarkAnalyzed(ctx context.Context, id, transcript string, a Analysis, degraded bool) (CallRecord, error)

	// MarkFailed moves an in-flight record to failed with a non-empty message.
	MarkFailed(ctx context.Context, id, message string) error
}
