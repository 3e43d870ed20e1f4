package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"call-insights/internal/audit"
	"call-insights/internal/auth"
	"call-insights/internal/calls"
	"call-insights/internal/config"
	"call-insights/internal/dispatch"
	"call-insights/internal/pipeline"
	"call-insights/internal/reporting"
	"call-insights/internal/storage"
)

type fakeProcessor struct {
	triggerErr error
	processErr error
	triggered  []string
}

func (f *fakeProcessor) Trigger(_ context.Context, id string) (calls.CallRecord, error) {
	f.triggered = append(f.triggered, id)
	if f.triggerErr != nil {
		return calls.CallRecord{}, f.triggerErr
	}
	return calls.CallRecord{ID: id, Status: calls.StatusProcessing}, nil
}

func (f *fakeProcessor) Process(_ context.Context, id string) (pipeline.Result, error) {
	if f.processErr != nil {
		return pipeline.Result{}, f.processErr
	}
	return pipeline.Result{CallID: id, Status: calls.StatusAnalyzed, Transcript: "hello"}, nil
}

// failingStore fails record creation; every other method is unused.
type failingStore struct{ calls.Store }

func (failingStore) Create(context.Context, calls.CallRecord) (calls.CallRecord, error) {
	return calls.CallRecord{}, errors.New("db down")
}

type testAPI struct {
	h       Handlers
	records *calls.MemoryStore
	objects *storage.MemoryStore
	proc    *fakeProcessor
	audit   *audit.MemoryRepo
}

func newTestAPI() *testAPI {
	records := calls.NewMemoryStore()
	objects := storage.NewMemoryStore()
	proc := &fakeProcessor{}
	auditRepo := audit.NewMemoryRepo()
	return &testAPI{
		records: records,
		objects: objects,
		proc:    proc,
		audit:   auditRepo,
		h: Handlers{
			Calls:          calls.NewService(records),
			Pipeline:       proc,
			Objects:        objects,
			Reports:        reporting.NewService(records),
			Audit:          audit.NewService(auditRepo),
			MaxUploadBytes: 1 << 20,
			Now:            func() time.Time { return time.UnixMilli(1700000000123) },
		},
	}
}

func (a *testAPI) router(workspaceID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/auth/login", a.h.Login)

	g := r.Group("/v1", func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), "u1", workspaceID, "agent"))
		c.Next()
	})
	g.POST("/calls", a.h.UploadCall)
	g.GET("/calls", a.h.ListCalls)
	g.GET("/calls/:id", a.h.GetCall)
	g.GET("/calls/:id/status", a.h.CallStatus)
	g.GET("/calls/:id/audio", a.h.CallAudio)
	g.POST("/calls/:id/process", a.h.TriggerProcessing)
	g.POST("/calls/:id/analyze", a.h.AnalyzeCall)
	g.GET("/dashboard/leaderboard", a.h.Leaderboard)
	g.GET("/dashboard/leaderboard.xlsx", a.h.LeaderboardXLSX)
	g.GET("/dashboard/me", a.h.MyDashboard)
	g.GET("/dashboard/analytics", a.h.Analytics)
	return r
}

func uploadRequest(t *testing.T, filename, contentType string, data []byte, notes string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, filename))
		hdr.Set("Content-Type", contentType)
		part, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatalf("part: %v", err)
		}
		_, _ = part.Write(data)
	}
	if notes != "" {
		_ = mw.WriteField("callNotes", notes)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/calls", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func (a *testAPI) seedUploaded(t *testing.T, id, workspaceID string) {
	t.Helper()
	key := "call-recordings/" + id + ".wav"
	if _, err := a.objects.Put(context.Background(), key, strings.NewReader("RIFF"), "audio/wav"); err != nil {
		t.Fatalf("seed object: %v", err)
	}
	if _, err := a.records.Create(context.Background(), calls.CallRecord{
		ID: id, WorkspaceID: workspaceID, OwnerID: "u1", Status: calls.StatusUploaded,
		Audio: calls.AudioRef{Key: key},
	}); err != nil {
		t.Fatalf("seed record: %v", err)
	}
}

func TestUploadCall(t *testing.T) {
	a := newTestAPI()
	w := do(a.router("w1"), uploadRequest(t, "my call.wav", "audio/wav", []byte("RIFFdata"), " ask about pricing "))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var out uploadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.AudioKey != "call-recordings/1700000000123-my_call.wav" || out.Status != calls.StatusUploaded || out.Processing {
		t.Fatalf("unexpected response: %+v", out)
	}
	rec, err := a.records.Get(context.Background(), out.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.OwnerID != "u1" || rec.WorkspaceID != "w1" || rec.Notes != "ask about pricing" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !a.objects.Has(out.AudioKey) {
		t.Fatalf("expected object stored")
	}
	if evs := a.audit.Events(); len(evs) != 1 || evs[0].Type != audit.EventTypeCallUploaded {
		t.Fatalf("expected upload audit event, got %+v", evs)
	}
}

func TestUploadCall_AutoProcess(t *testing.T) {
	a := newTestAPI()
	a.h.AutoProcess = true
	w := do(a.router("w1"), uploadRequest(t, "a.mp3", "audio/mpeg", []byte("ID3"), ""))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var out uploadResponse
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if !out.Processing || out.Status != calls.StatusProcessing || len(a.proc.triggered) != 1 {
		t.Fatalf("expected processing to start, got %+v", out)
	}
}

func TestUploadCall_Rejections(t *testing.T) {
	a := newTestAPI()
	a.h.MaxUploadBytes = 4
	r := a.router("w1")

	if w := do(r, uploadRequest(t, "", "", nil, "notes only")); w.Code != http.StatusBadRequest {
		t.Fatalf("missing file: expected 400, got %d", w.Code)
	}
	if w := do(r, uploadRequest(t, "notes.txt", "text/plain", []byte("hi"), "")); w.Code != http.StatusBadRequest {
		t.Fatalf("bad type: expected 400, got %d", w.Code)
	}
	if w := do(r, uploadRequest(t, "a.wav", "text/plain", []byte("hi"), "")); w.Code != http.StatusBadRequest {
		t.Fatalf("bad mime: expected 400, got %d", w.Code)
	}
	if w := do(r, uploadRequest(t, "a.wav", "audio/wav", []byte("0123456789"), "")); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("too large: expected 413, got %d", w.Code)
	}
}

func TestUploadCall_DeletesObjectWhenRecordFails(t *testing.T) {
	a := newTestAPI()
	a.h.Calls = calls.NewService(failingStore{})
	w := do(a.router("w1"), uploadRequest(t, "a.wav", "audio/wav", []byte("RIFF"), ""))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if a.objects.Has("call-recordings/1700000000123-a.wav") {
		t.Fatalf("expected uploaded object to be removed")
	}
}

func TestCallReads_WorkspaceIsolation(t *testing.T) {
	a := newTestAPI()
	a.seedUploaded(t, "c1", "w1")

	if w := do(a.router("w2"), httptest.NewRequest(http.MethodGet, "/v1/calls/c1", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 across workspaces, got %d", w.Code)
	}
	w := do(a.router("w1"), httptest.NewRequest(http.MethodGet, "/v1/calls/c1/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var view pipeline.StatusView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.CallID != "c1" || view.Status != calls.StatusUploaded || view.HasTranscript {
		t.Fatalf("unexpected status view: %+v", view)
	}

	w = do(a.router("w1"), httptest.NewRequest(http.MethodGet, "/v1/calls", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"total_calls":1`) {
		t.Fatalf("unexpected list: %d %s", w.Code, w.Body.String())
	}
}

func TestCallAudio(t *testing.T) {
	a := newTestAPI()
	a.seedUploaded(t, "c1", "w1")
	w := do(a.router("w1"), httptest.NewRequest(http.MethodGet, "/v1/calls/c1/audio", nil))
	if w.Code != http.StatusOK || w.Body.String() != "RIFF" || w.Header().Get("Content-Type") != "audio/wav" {
		t.Fatalf("unexpected audio response: %d %q %s", w.Code, w.Body.String(), w.Header().Get("Content-Type"))
	}
}

func TestTriggerProcessing(t *testing.T) {
	a := newTestAPI()
	a.seedUploaded(t, "c1", "w1")
	r := a.router("w1")

	w := do(r, httptest.NewRequest(http.MethodPost, "/v1/calls/c1/process", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if evs := a.audit.Events(); len(evs) != 1 || evs[0].Type != audit.EventTypeProcessingTriggered {
		t.Fatalf("expected trigger audit event, got %+v", evs)
	}

	a.proc.triggerErr = &calls.ConflictError{CallID: "c1", Status: calls.StatusProcessing}
	if w := do(r, httptest.NewRequest(http.MethodPost, "/v1/calls/c1/process", nil)); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	a.proc.triggerErr = &calls.ValidationError{Field: "audio", Reason: "no audio attached"}
	if w := do(r, httptest.NewRequest(http.MethodPost, "/v1/calls/c1/process", nil)); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	a.proc.triggerErr = fmt.Errorf("processing was not scheduled: %w", dispatch.ErrShuttingDown)
	if w := do(r, httptest.NewRequest(http.MethodPost, "/v1/calls/c1/process", nil)); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if w := do(r, httptest.NewRequest(http.MethodPost, "/v1/calls/missing/process", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAnalyzeCall(t *testing.T) {
	a := newTestAPI()
	a.seedUploaded(t, "c1", "w1")
	r := a.router("w1")

	if w := do(r, httptest.NewRequest(http.MethodPost, "/v1/calls/c1/analyze", nil)); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if n := len(a.audit.Events()); n != 1 {
		t.Fatalf("expected one trigger audit event, got %d", n)
	}

	a.proc.processErr = &calls.TranscriptionError{Attempts: 3, Err: errors.New("network")}
	w := do(r, httptest.NewRequest(http.MethodPost, "/v1/calls/c1/analyze", nil))
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), "transcription failed") {
		t.Fatalf("expected transcription failure, got %d %s", w.Code, w.Body.String())
	}
	if n := len(a.audit.Events()); n != 2 {
		t.Fatalf("expected failed attempt audited, got %d events", n)
	}
}

func TestAnalyzeCall_RejectedAttemptsNotAudited(t *testing.T) {
	a := newTestAPI()
	a.seedUploaded(t, "c1", "w1")
	r := a.router("w1")

	a.proc.processErr = &calls.ConflictError{CallID: "c1", Status: calls.StatusProcessing}
	if w := do(r, httptest.NewRequest(http.MethodPost, "/v1/calls/c1/analyze", nil)); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	a.proc.processErr = &calls.ValidationError{Field: "audio", Reason: "no audio attached"}
	if w := do(r, httptest.NewRequest(http.MethodPost, "/v1/calls/c1/analyze", nil)); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := do(r, httptest.NewRequest(http.MethodPost, "/v1/calls/missing/analyze", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if evs := a.audit.Events(); len(evs) != 0 {
		t.Fatalf("expected no audit events for rejected attempts, got %+v", evs)
	}
}

func TestDashboardEndpoints(t *testing.T) {
	a := newTestAPI()
	r := a.router("w1")

	if w := do(r, httptest.NewRequest(http.MethodGet, "/v1/dashboard/leaderboard?limit=abc", nil)); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}
	if w := do(r, httptest.NewRequest(http.MethodGet, "/v1/dashboard/leaderboard?timeframe=decade", nil)); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad timeframe, got %d", w.Code)
	}
	if w := do(r, httptest.NewRequest(http.MethodGet, "/v1/dashboard/leaderboard", nil)); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w := do(r, httptest.NewRequest(http.MethodGet, "/v1/dashboard/leaderboard.xlsx?timeframe=week", nil))
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != xlsxContentType {
		t.Fatalf("unexpected export: %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "leaderboard-week.xlsx") {
		t.Fatalf("unexpected disposition: %s", w.Header().Get("Content-Disposition"))
	}
	if w := do(r, httptest.NewRequest(http.MethodGet, "/v1/dashboard/me", nil)); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := do(r, httptest.NewRequest(http.MethodGet, "/v1/dashboard/analytics", nil)); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestLogin(t *testing.T) {
	a := newTestAPI()
	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "s", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	a.h.Auth = m
	body := `{"user_id":"u1","workspace_id":"w1","role":"agent"}`

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if w := do(a.router("w1"), req); w.Code != http.StatusNotFound {
		t.Fatalf("expected login disabled, got %d", w.Code)
	}

	a.h.AllowLogin = true
	req = httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := do(a.router("w1"), req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "access_token") {
		t.Fatalf("expected token pair, got %d %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"user_id":"u1","workspace_id":"w1","role":"pirate"}`))
	req.Header.Set("Content-Type", "application/json")
	if w := do(a.router("w1"), req); w.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown role to be rejected, got %d", w.Code)
	}
}
