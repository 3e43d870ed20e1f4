package telephony

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"call-insights/internal/calls"
	"call-insights/internal/dispatch"
	"call-insights/internal/storage"
)

type fakeFetcher struct {
	mu   sync.Mutex
	err  error
	urls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, u string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, u)
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader("RIFFwav")), nil
}

type fakeTrigger struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeTrigger) Trigger(_ context.Context, id string) (calls.CallRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return calls.CallRecord{ID: id}, nil
}

func (f *fakeTrigger) triggered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

type inlineScheduler struct{}

func (inlineScheduler) Schedule(t dispatch.Task) error { return t.Run(context.Background()) }

type ingestHarness struct {
	sessions *MemorySessionStore
	records  *calls.MemoryStore
	objects  *storage.MemoryStore
	fetcher  *fakeFetcher
	trigger  *fakeTrigger
	ingestor *RecordingIngestor
}

func newIngestHarness(t *testing.T) *ingestHarness {
	t.Helper()
	h := &ingestHarness{
		sessions: NewMemorySessionStore(),
		records:  calls.NewMemoryStore(),
		objects:  storage.NewMemoryStore(),
		fetcher:  &fakeFetcher{},
		trigger:  &fakeTrigger{},
	}
	h.ingestor = NewRecordingIngestor(IngestorDeps{
		Sessions:  h.sessions,
		Calls:     calls.NewService(h.records),
		Objects:   h.objects,
		Fetcher:   h.fetcher,
		Pipeline:  h.trigger,
		Scheduler: inlineScheduler{},
	})
	h.ingestor.now = func() time.Time { return time.UnixMilli(1700000000123) }

	if err := h.sessions.Save(context.Background(), CallSession{
		CallSid: "CA1", UserID: "u1", WorkspaceID: "w1", PhoneNumber: "+15551234567", Status: SessionInProgress,
	}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return h
}

var completedRecording = RecordingForm{
	CallSid:         "CA1",
	RecordingSid:    "RE1",
	RecordingURL:    "https://api.twilio.com/Recordings/RE1",
	RecordingStatus: "completed",
	DurationSeconds: 42,
}

func TestIngest_CreatesRecordAndTriggers(t *testing.T) {
	h := newIngestHarness(t)
	ctx := context.Background()

	id, err := h.ingestor.Ingest(ctx, completedRecording)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	rec, err := h.records.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	wantKey := "call-recordings/1700000000123-twilio-recording-RE1.wav"
	if rec.Source != calls.SourceTwilio || rec.OwnerID != "u1" || rec.WorkspaceID != "w1" || rec.Audio.Key != wantKey {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !strings.Contains(rec.Notes, "CallSid: CA1") || !strings.Contains(rec.Notes, "Duration: 42s") {
		t.Fatalf("unexpected notes: %q", rec.Notes)
	}
	if !h.objects.Has(wantKey) || h.objects.ContentType(wantKey) != "audio/wav" {
		t.Fatalf("expected recording stored as wav")
	}
	if got := h.trigger.triggered(); len(got) != 1 || got[0] != id {
		t.Fatalf("expected one trigger for %s, got %v", id, got)
	}
	sess, _ := h.sessions.Get(ctx, "CA1")
	if sess.Status != SessionRecordingProcessed || sess.CallRecordID != id || sess.RecordingURL != "https://api.twilio.com/Recordings/RE1.wav" {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestIngest_DuplicateCallbackIsIgnored(t *testing.T) {
	h := newIngestHarness(t)
	ctx := context.Background()

	if _, err := h.ingestor.Ingest(ctx, completedRecording); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	id, err := h.ingestor.Ingest(ctx, completedRecording)
	if err != nil || id != "" {
		t.Fatalf("expected duplicate to be a no-op, got %q %v", id, err)
	}
	if len(h.trigger.triggered()) != 1 || len(h.fetcher.urls) != 1 {
		t.Fatalf("expected a single download and trigger")
	}
}

func TestIngest_FetchFailureCanBeRetried(t *testing.T) {
	h := newIngestHarness(t)
	ctx := context.Background()
	h.fetcher.err = errors.New("twilio unavailable")

	if _, err := h.ingestor.Ingest(ctx, completedRecording); err == nil {
		t.Fatalf("expected fetch error")
	}
	sess, _ := h.sessions.Get(ctx, "CA1")
	if sess.Status != SessionFailed || sess.CallRecordID == "" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	pendingID := sess.CallRecordID
	rec, _ := h.records.Get(ctx, pendingID)
	if rec.Status != calls.StatusPending || rec.Audio.Key != "" {
		t.Fatalf("expected pending record without audio, got %+v", rec)
	}

	h.fetcher.err = nil
	id, err := h.ingestor.Ingest(ctx, completedRecording)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if id != pendingID {
		t.Fatalf("expected the pending record to be reused, got %s want %s", id, pendingID)
	}
}

func TestIngest_UnknownCall(t *testing.T) {
	h := newIngestHarness(t)
	f := completedRecording
	f.CallSid = "CA-unknown"
	if _, err := h.ingestor.Ingest(context.Background(), f); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestAccept_IgnoresIncompleteRecordings(t *testing.T) {
	h := newIngestHarness(t)
	f := completedRecording
	f.RecordingStatus = "in-progress"
	if err := h.ingestor.Accept(context.Background(), f); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(h.fetcher.urls) != 0 {
		t.Fatalf("expected no download")
	}
}
