package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"call-insights/internal/auth"
)

func newTestRouter(t *testing.T, h *Handler) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/twilio/voice", h.Voice)
	r.POST("/webhooks/twilio/recording", h.RecordingStatus)

	withUser := func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u1", "w1", "agent")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
	r.POST("/v1/telephony/token", withUser, h.Token)
	r.POST("/v1/telephony/calls", withUser, h.CallStarted)
	return r
}

func TestVoiceHandler(t *testing.T) {
	h := &Handler{CallerID: "+15550000000", RecordingCallbackURL: "https://api.example.com/webhooks/twilio/recording"}
	r := newTestRouter(t, h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("/webhooks/twilio/voice", "CallSid=CA1&To=%2B15551234567"))
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Header().Get("Content-Type"), "text/xml") {
		t.Fatalf("unexpected response %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), `record="record-from-answer"`) {
		t.Fatalf("expected recording dial: %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("/webhooks/twilio/voice", "CallSid=CA1"))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<Say>") {
		t.Fatalf("expected a spoken error, got %d %s", w.Code, w.Body.String())
	}
}

func TestRecordingStatusHandler(t *testing.T) {
	ih := newIngestHarness(t)
	r := newTestRouter(t, &Handler{Sessions: ih.sessions, Ingestor: ih.ingestor})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("/webhooks/twilio/recording", "CallSid=CA1"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("/webhooks/twilio/recording",
		"CallSid=CA1&RecordingSid=RE1&RecordingUrl=https%3A%2F%2Fapi.twilio.com%2FRecordings%2FRE1&RecordingStatus=completed"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(ih.trigger.triggered()) != 1 {
		t.Fatalf("expected ingestion to trigger processing")
	}
}

func TestCallStartedHandler(t *testing.T) {
	sessions := NewMemorySessionStore()
	h := &Handler{Sessions: sessions, Now: func() time.Time { return time.Unix(1700000000, 0) }}
	r := newTestRouter(t, h)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/telephony/calls", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	if w := post(`{"call_sid":"CA1"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	w := post(`{"call_sid":"CA1","phone_number":"+15551234567"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	sess, err := sessions.Get(context.Background(), "CA1")
	if err != nil || sess.UserID != "u1" || sess.WorkspaceID != "w1" || sess.Status != SessionInProgress {
		t.Fatalf("unexpected session %+v (%v)", sess, err)
	}

	_ = sessions.Save(context.Background(), CallSession{CallSid: "CA2", UserID: "someone-else", WorkspaceID: "w1"})
	if w := post(`{"call_sid":"CA2","phone_number":"+1555"}`); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestTokenHandler(t *testing.T) {
	iss, err := NewTokenIssuer(TokenConfig{AccountSID: "AC1", APIKeySID: "SK1", APIKeySecret: "s", TwiMLAppSID: "AP1"})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	r := newTestRouter(t, &Handler{Tokens: iss})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/telephony/token", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out VoiceToken
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Identity != "agent_u1" || out.Token == "" {
		t.Fatalf("unexpected token: %+v", out)
	}

	r = newTestRouter(t, &Handler{})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/telephony/token", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without issuer, got %d", w.Code)
	}
}
