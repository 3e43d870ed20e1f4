package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"

	"call-insights/internal/calls"
	"call-insights/internal/pipeline"
	"call-insights/internal/storage"
	"call-insights/pkg/logger"
)

// Processor is the slice of the pipeline the HTTP layer drives.
type Processor interface {
	Trigger(ctx context.Context, id string) (calls.CallRecord, error)
	Process(ctx context.Context, id string) (pipeline.Result, error)
}

const multipartOverhead = 1 << 20

type uploadResponse struct {
	ID         string       `json:"id"`
	Status     calls.Status `json:"status"`
	AudioKey   string       `json:"audio_key"`
	Location   string       `json:"location,omitempty"`
	FileSize   string       `json:"file_size"`
	Processing bool         `json:"processing"`
}

// UploadCall stores a recording and creates an uploaded call record.
// Form fields: audio (file), callNotes (optional).
func (h Handlers) UploadCall(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	log := logger.FromGin(c)

	if h.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes+multipartOverhead)
	}
	fh, err := c.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "no audio file provided"})
		return
	}
	if h.MaxUploadBytes > 0 && fh.Size > h.MaxUploadBytes {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	if !storage.AllowedExtension(fh.Filename) || !storage.AllowedContentType(fh.Header.Get("Content-Type")) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":   "invalid file type",
			"allowed": storage.AllowedExtensions,
		})
		return
	}

	f, err := fh.Open()
	if err != nil {
		writeError(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer f.Close()

	ctx := c.Request.Context()
	key := storage.RecordingKey(h.now(), fh.Filename)
	ref, err := h.Objects.Put(ctx, key, f, storage.ContentTypeFor(fh.Filename))
	if err != nil {
		writeError(c, fmt.Errorf("store upload: %w", err))
		return
	}

	rec, err := h.Calls.CreateUploaded(ctx, calls.UploadRequest{
		WorkspaceID: id.WorkspaceID,
		OwnerID:     id.UserID,
		Audio:       ref,
		Notes:       c.PostForm("callNotes"),
	})
	if err != nil {
		// No record points at the object; remove it.
		if derr := h.Objects.Delete(logger.Detached(ctx), key); derr != nil {
			log.Warn("orphaned upload", "key", key, "err", derr)
		}
		writeError(c, err)
		return
	}

	if h.Audit != nil {
		meta := fmt.Sprintf(`{"size":%d,"filename":%q}`, fh.Size, fh.Filename)
		if err := h.Audit.LogCallUploaded(ctx, id.WorkspaceID, rec.ID, actor(c, id), meta); err != nil {
			log.Warn("audit append failed", "err", err)
		}
	}

	out := uploadResponse{
		ID:       rec.ID,
		Status:   rec.Status,
		AudioKey: ref.Key,
		Location: ref.Location,
		FileSize: fmt.Sprintf("%.2fMB", float64(fh.Size)/1024/1024),
	}
	if h.AutoProcess && h.Pipeline != nil {
		if started, err := h.Pipeline.Trigger(ctx, rec.ID); err != nil {
			// The record exists; the client can retry processing explicitly.
			log.Warn("auto-process not started", "call_id", rec.ID, "err", err)
		} else {
			out.Status = started.Status
			out.Processing = true
		}
	}
	log.Info("call uploaded", "call_id", rec.ID, "key", ref.Key, "size", fh.Size)
	c.JSON(http.StatusCreated, out)
}

func (h Handlers) ListCalls(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	out, err := h.Calls.ListForOwner(c.Request.Context(), id.WorkspaceID, id.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// workspaceCall loads the :id record of the caller's workspace or writes an error.
func (h Handlers) workspaceCall(c *gin.Context) (calls.CallRecord, bool) {
	id, ok := identity(c)
	if !ok {
		return calls.CallRecord{}, false
	}
	rec, err := h.Calls.GetForWorkspace(c.Request.Context(), id.WorkspaceID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return calls.CallRecord{}, false
	}
	return rec, true
}

func (h Handlers) GetCall(c *gin.Context) {
	rec, ok := h.workspaceCall(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) CallStatus(c *gin.Context) {
	rec, ok := h.workspaceCall(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, pipeline.StatusOf(rec))
}

// TriggerProcessing starts background processing and answers 202 with the
// record as it is after the status guard.
func (h Handlers) TriggerProcessing(c *gin.Context) {
	rec, ok := h.workspaceCall(c)
	if !ok {
		return
	}
	started, err := h.Pipeline.Trigger(c.Request.Context(), rec.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	h.auditTrigger(c, rec)
	c.JSON(http.StatusAccepted, gin.H{
		"call_id": started.ID,
		"status":  started.Status,
		"message": "processing started",
	})
}

// AnalyzeCall runs the pipeline within the request and returns the result.
func (h Handlers) AnalyzeCall(c *gin.Context) {
	rec, ok := h.workspaceCall(c)
	if !ok {
		return
	}
	res, err := h.Pipeline.Process(c.Request.Context(), rec.ID)
	if err != nil {
		var te *calls.TranscriptionError
		var ve *calls.ValidationError
		var ce *calls.ConflictError
		if errors.As(err, &ve) || errors.As(err, &ce) || calls.IsNotFound(err) {
			writeError(c, err)
			return
		}
		// The attempt got past the status guard, so it counts as a trigger.
		h.auditTrigger(c, rec)
		msg := "call processing failed"
		if errors.As(err, &te) {
			msg = "transcription failed"
		}
		logger.FromGin(c).Error(msg, "call_id", rec.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msg, "call_id": rec.ID, "status": calls.StatusFailed})
		return
	}
	h.auditTrigger(c, rec)
	c.JSON(http.StatusOK, res)
}

func (h Handlers) auditTrigger(c *gin.Context, rec calls.CallRecord) {
	if h.Audit == nil {
		return
	}
	id, _ := identity(c)
	if err := h.Audit.LogProcessingTriggered(c.Request.Context(), rec.WorkspaceID, rec.ID, actor(c, id)); err != nil {
		logger.FromGin(c).Warn("audit append failed", "err", err)
	}
}

// CallAudio streams the stored recording.
func (h Handlers) CallAudio(c *gin.Context) {
	rec, ok := h.workspaceCall(c)
	if !ok {
		return
	}
	if rec.Audio.Key == "" {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call has no recording"})
		return
	}
	body, err := h.Objects.Open(c.Request.Context(), rec.Audio.Key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "recording missing from storage"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	defer body.Close()

	c.Header("Content-Type", storage.ContentTypeFor(rec.Audio.Key))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.ID+path.Ext(rec.Audio.Key)))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		logger.FromGin(c).Warn("audio stream interrupted", "call_id", rec.ID, "err", err)
	}
}
