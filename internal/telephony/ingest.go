package telephony

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"call-insights/internal/calls"
	"call-insights/internal/dispatch"
	"call-insights/internal/metrics"
	"call-insights/internal/storage"
	"call-insights/pkg/logger"
)

type CallRecords interface {
	CreatePending(ctx context.Context, req calls.PendingRequest) (calls.CallRecord, error)
	AttachAudio(ctx context.Context, id string, ref calls.AudioRef) (calls.CallRecord, error)
}

type ProcessingTrigger interface {
	Trigger(ctx context.Context, id string) (calls.CallRecord, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, recordingURL string) (io.ReadCloser, error)
}

type Scheduler interface {
	Schedule(t dispatch.Task) error
}

type Auditor interface {
	LogRecordingIngested(ctx context.Context, workspaceID, callID, providerCallID string) error
}

type IngestorDeps struct {
	Sessions  SessionStore
	Calls     CallRecords
	Objects   storage.ObjectStore
	Fetcher   Fetcher
	Pipeline  ProcessingTrigger
	Scheduler Scheduler
	Audit     Auditor
	Metrics   *metrics.Metrics
}

// RecordingIngestor turns a completed provider recording into a call record and
// starts processing it. The webhook is acknowledged before any download happens.
type RecordingIngestor struct {
	d   IngestorDeps
	now func() time.Time
}

func NewRecordingIngestor(d IngestorDeps) *RecordingIngestor {
	return &RecordingIngestor{d: d, now: time.Now}
}

// Accept validates the callback and schedules ingestion. Non-completed statuses are ignored.
func (i *RecordingIngestor) Accept(ctx context.Context, f RecordingForm) error {
	if !f.Completed() {
		logger.From(ctx).Info("recording callback ignored", "call_sid", f.CallSid, "recording_status", f.RecordingStatus)
		return nil
	}
	return i.d.Scheduler.Schedule(dispatch.Task{
		Name: "recording_ingest",
		Run: func(ctx context.Context) error {
			_, err := i.Ingest(ctx, f)
			return err
		},
	})
}

// Ingest runs synchronously. A recording already claimed by an earlier callback
// returns an empty id and no error.
func (i *RecordingIngestor) Ingest(ctx context.Context, f RecordingForm) (callID string, err error) {
	log := logger.From(ctx).With("call_sid", f.CallSid, "recording_sid", f.RecordingSid)

	sess, err := i.d.Sessions.Get(ctx, f.CallSid)
	if err != nil {
		i.d.Metrics.RecordingIngested(err)
		return "", fmt.Errorf("lookup call session: %w", err)
	}

	claimed, err := i.d.Sessions.ClaimRecording(ctx, f.RecordingSid)
	if err != nil {
		i.d.Metrics.RecordingIngested(err)
		return "", err
	}
	if !claimed {
		log.Info("recording already ingested")
		return "", nil
	}

	defer func() {
		i.d.Metrics.RecordingIngested(err)
		if err == nil {
			return
		}
		// Let a redelivered callback try again.
		cleanup := context.WithoutCancel(ctx)
		_ = i.d.Sessions.ReleaseRecording(cleanup, f.RecordingSid)
		sess.Status = SessionFailed
		sess.UpdatedAt = i.now().UTC()
		_ = i.d.Sessions.Save(cleanup, sess)
	}()

	if sess.CallRecordID == "" {
		rec, err := i.d.Calls.CreatePending(ctx, calls.PendingRequest{
			WorkspaceID:    sess.WorkspaceID,
			OwnerID:        sess.UserID,
			Source:         calls.SourceTwilio,
			ProviderCallID: f.CallSid,
			Notes:          recordingNotes(f, sess),
		})
		if err != nil {
			return "", fmt.Errorf("create pending call: %w", err)
		}
		sess.CallRecordID = rec.ID
	}
	sess.Status = SessionRecordingReceived
	sess.RecordingSid = f.RecordingSid
	sess.RecordingURL = WAVURL(f.RecordingURL)
	sess.UpdatedAt = i.now().UTC()
	if err := i.d.Sessions.Save(ctx, sess); err != nil {
		return "", err
	}
	log = log.With("call_id", sess.CallRecordID)

	body, err := i.d.Fetcher.Fetch(ctx, f.RecordingURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	key := storage.RecordingKey(i.now(), "twilio-recording-"+f.RecordingSid+".wav")
	ref, err := i.d.Objects.Put(ctx, key, body, "audio/wav")
	if err != nil {
		return "", fmt.Errorf("store recording: %w", err)
	}
	if _, err := i.d.Calls.AttachAudio(ctx, sess.CallRecordID, ref); err != nil {
		if derr := i.d.Objects.Delete(context.WithoutCancel(ctx), key); derr != nil && !errors.Is(derr, storage.ErrObjectNotFound) {
			log.Warn("orphaned recording object", "key", key, "error", derr)
		}
		return "", fmt.Errorf("attach audio: %w", err)
	}

	sess.Status = SessionRecordingProcessed
	sess.UpdatedAt = i.now().UTC()
	if err := i.d.Sessions.Save(ctx, sess); err != nil {
		log.Warn("call session not updated", "error", err)
	}

	if i.d.Audit != nil {
		if err := i.d.Audit.LogRecordingIngested(ctx, sess.WorkspaceID, sess.CallRecordID, f.CallSid); err != nil {
			log.Warn("audit append failed", "error", err)
		}
	}

	if _, err := i.d.Pipeline.Trigger(ctx, sess.CallRecordID); err != nil {
		// The record is stored with audio; a manual trigger can still process it.
		log.Error("processing not triggered for ingested recording", "error", err)
	}
	log.Info("recording ingested", "key", key, "duration_s", f.DurationSeconds)
	return sess.CallRecordID, nil
}

func recordingNotes(f RecordingForm, s CallSession) string {
	notes := "Twilio recording - CallSid: " + f.CallSid
	if s.PhoneNumber != "" {
		notes += ", To: " + s.PhoneNumber
	}
	if f.DurationSeconds > 0 {
		notes += fmt.Sprintf(", Duration: %ds", f.DurationSeconds)
	}
	return notes
}
