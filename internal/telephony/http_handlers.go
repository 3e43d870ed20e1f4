package telephony

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"call-insights/internal/auth"
	"call-insights/pkg/logger"
)

// Handler serves the provider webhooks and the agent-facing telephony endpoints.
// Webhook routes are unauthenticated and protected by RequireSignature instead.
type Handler struct {
	Sessions SessionStore
	Tokens   *TokenIssuer
	Ingestor *RecordingIngestor

	CallerID             string
	RecordingCallbackURL string

	Now func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func (h *Handler) Voice(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseVoiceWebhook(c.Request)
	if err != nil {
		log.Warn("voice webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	var twiml string
	if form.To == "" {
		log.Warn("voice webhook without a number to dial", "call_sid", form.CallSid)
		twiml, err = RenderSay("No phone number provided to dial.")
	} else {
		twiml, err = RenderDial(DialOptions{
			CallerID:          h.CallerID,
			Number:            form.To,
			RecordingCallback: h.RecordingCallbackURL,
		})
	}
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}

	log.Info("voice webhook answered", "call_sid", form.CallSid, "recording", h.RecordingCallbackURL != "")
	c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(twiml))
}

// RecordingStatus acknowledges the callback and ingests in the background.
func (h *Handler) RecordingStatus(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseRecordingWebhook(c.Request)
	if errors.Is(err, ErrInvalidRecording) {
		log.Warn("recording callback rejected", "err", err, "call_sid", form.CallSid)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	if err := h.Ingestor.Accept(c.Request.Context(), form); err != nil {
		log.Error("recording ingest not scheduled", "err", err, "call_sid", form.CallSid)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "try again later"})
		return
	}
	c.String(http.StatusOK, "OK")
}

// Token issues a Voice SDK access token for the authenticated user.
func (h *Handler) Token(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	if h.Tokens == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "telephony not configured"})
		return
	}
	tok, err := h.Tokens.Issue(h.now(), uid)
	if err != nil {
		logger.FromGin(c).Error("voice token issue failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token failed"})
		return
	}
	c.JSON(http.StatusOK, tok)
}

type callStartedRequest struct {
	CallSid     string `json:"call_sid" binding:"required"`
	PhoneNumber string `json:"phone_number" binding:"required"`
}

// CallStarted records which user placed a call so the recording can be attributed.
func (h *Handler) CallStarted(c *gin.Context) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req callStartedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_sid and phone_number are required"})
		return
	}
	req.CallSid = strings.TrimSpace(req.CallSid)

	if prev, err := h.Sessions.Get(c.Request.Context(), req.CallSid); err == nil && prev.UserID != id.UserID {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call already registered"})
		return
	}

	now := h.now().UTC()
	sess := CallSession{
		CallSid:     req.CallSid,
		UserID:      id.UserID,
		WorkspaceID: id.WorkspaceID,
		PhoneNumber: normalizePhone(req.PhoneNumber),
		Status:      SessionInProgress,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.Sessions.Save(c.Request.Context(), sess); err != nil {
		logger.FromGin(c).Error("call session save failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session not stored"})
		return
	}
	c.JSON(http.StatusOK, sess)
}
