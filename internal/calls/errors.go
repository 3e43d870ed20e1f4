package calls

import (
	"errors"
	"fmt"
)

// ErrEmptyTranscript is the cause recorded when the engine returns no text.
var ErrEmptyTranscript = errors.New("transcription returned empty text")

// ValidationError reports missing or malformed input, detected before any processing starts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown call id.
type NotFoundError struct {
	CallID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("call %s not found", e.CallID)
}

// ConflictError reports a record that is not in an eligible status for the requested transition.
type ConflictError struct {
	CallID string
	Status Status
}

func (e *ConflictError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("call %s is already processing or completed", e.CallID)
	}
	return fmt.Sprintf("call %s is already processing or completed (status %s)", e.CallID, e.Status)
}

// TranscriptionError is terminal for one attempt: retries were exhausted or the text was empty.
type TranscriptionError struct {
	Attempts int
	Err      error
}

func (e *TranscriptionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("transcription failed after %d attempt(s): %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// AnalysisDegraded marks a fallback analysis. It is logged and counted, never returned to clients.
type AnalysisDegraded struct {
	Cause error
}

func (e *AnalysisDegraded) Error() string {
	return fmt.Sprintf("analysis degraded: %v", e.Cause)
}

func (e *AnalysisDegraded) Unwrap() error { return e.Cause }

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
