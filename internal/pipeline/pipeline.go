// Package pipeline drives a call record from audio to analysis.
//
// Lifecycle: uploaded|pending|failed -> processing -> transcribed -> analyzed,
// with any transcription or persistence failure ending in failed.
// Only one attempt may own a record at a time; the store's conditional
// BeginProcessing is the guard.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"call-insights/internal/analysis"
	"call-insights/internal/calls"
	"call-insights/internal/dispatch"
	"call-insights/internal/events"
	"call-insights/internal/metrics"
	"call-insights/pkg/logger"
)

type Transcriber interface {
	Transcribe(ctx context.Context, audio calls.AudioRef) (string, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (analysis.Outcome, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, e events.CallEvent) error
}

type Scheduler interface {
	Schedule(t dispatch.Task) error
}

type Config struct {
	// Zero disables the per-phase deadline.
	TranscriptionTimeout time.Duration
	AnalysisTimeout      time.Duration
}

type Deps struct {
	Store       calls.Store
	Transcriber Transcriber
	Analyzer    Analyzer
	Events      EventPublisher
	Scheduler   Scheduler
	Metrics     *metrics.Metrics
	Config      Config
}

type Pipeline struct {
	store       calls.Store
	transcriber Transcriber
	analyzer    Analyzer
	events      EventPublisher
	scheduler   Scheduler
	metrics     *metrics.Metrics
	cfg         Config

	now   func() time.Time
	newID func() string
}

func New(d Deps) *Pipeline {
	return &Pipeline{
		store:       d.Store,
		transcriber: d.Transcriber,
		analyzer:    d.Analyzer,
		events:      d.Events,
		scheduler:   d.Scheduler,
		metrics:     d.Metrics,
		cfg:         d.Config,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Trigger claims the record and schedules the attempt in the background.
// Input and eligibility errors are returned synchronously; everything after is
// recorded on the record and in the logs.
func (p *Pipeline) Trigger(ctx context.Context, id string) (calls.CallRecord, error) {
	rec, err := p.begin(ctx, id)
	if err != nil {
		return calls.CallRecord{}, err
	}

	err = p.scheduler.Schedule(dispatch.Task{
		Name:   "pipeline",
		CallID: rec.ID,
		Run: func(ctx context.Context) error {
			_, err := p.Run(ctx, rec)
			return err
		},
		OnReject: func(ctx context.Context, err error) {
			p.fail(ctx, rec, fmt.Errorf("processing was not scheduled: %w", err), Timings{})
		},
	})
	if err != nil {
		return calls.CallRecord{}, p.fail(ctx, rec, fmt.Errorf("processing was not scheduled: %w", err), Timings{})
	}

	logger.From(ctx).InfoContext(ctx, "processing scheduled", "call_id", rec.ID)
	return rec, nil
}

// Process claims the record and runs the attempt on the caller's goroutine.
func (p *Pipeline) Process(ctx context.Context, id string) (Result, error) {
	rec, err := p.begin(ctx, id)
	if err != nil {
		return Result{}, err
	}
	return p.Run(ctx, rec)
}

func (p *Pipeline) begin(ctx context.Context, id string) (calls.CallRecord, error) {
	if strings.TrimSpace(id) == "" {
		return calls.CallRecord{}, &calls.ValidationError{Field: "id", Reason: "required"}
	}
	rec, err := p.store.Get(ctx, id)
	if err != nil {
		return calls.CallRecord{}, err
	}
	if rec.Audio.Key == "" {
		return calls.CallRecord{}, &calls.ValidationError{Field: "audio", Reason: "no audio file associated with this call"}
	}
	return p.store.BeginProcessing(ctx, id)
}

// Run executes one attempt on a record already moved to processing.
// Analysis problems never fail the record: they yield a degraded fallback.
func (p *Pipeline) Run(ctx context.Context, rec calls.CallRecord) (res Result, err error) {
	log := logger.From(ctx).With("call_id", rec.ID)
	ctx = logger.With(ctx, log)

	start := p.now()
	var timings Timings
	outcomeLabel := "failed"
	p.metrics.RunStarted()

	defer func() {
		if r := recover(); r != nil {
			timings.Total = p.now().Sub(start)
			res, err = Result{}, p.fail(ctx, rec, fmt.Errorf("panic during processing: %v", r), timings)
			outcomeLabel = "failed"
		}
		p.metrics.RunFinished(outcomeLabel, p.now().Sub(start))
	}()

	log.InfoContext(ctx, "processing started", "audio_key", rec.Audio.Key)

	transcript, err := p.transcribe(ctx, rec)
	timings.Transcription = p.now().Sub(start)
	p.metrics.ObservePhase("transcription", timings.Transcription)
	if err != nil {
		timings.Total = timings.Transcription
		return Result{}, p.fail(ctx, rec, err, timings)
	}
	if err := p.store.MarkTranscribed(ctx, rec.ID, transcript); err != nil {
		timings.Total = p.now().Sub(start)
		return Result{}, p.fail(ctx, rec, fmt.Errorf("save transcript: %w", err), timings)
	}
	log.InfoContext(ctx, "transcription completed",
		"chars", len(transcript),
		"duration_ms", timings.Transcription.Milliseconds(),
	)

	analysisStart := p.now()
	outcome := p.analyze(ctx, log, transcript)
	timings.Analysis = p.now().Sub(analysisStart)
	p.metrics.ObservePhase("analysis", timings.Analysis)

	final, err := p.store.MarkAnalyzed(ctx, rec.ID, transcript, outcome.Analysis, outcome.Degraded)
	timings.Total = p.now().Sub(start)
	if err != nil {
		return Result{}, p.fail(ctx, rec, fmt.Errorf("save analysis: %w", err), timings)
	}

	res = newResult(final, timings)
	outcomeLabel = "analyzed"
	if outcome.Degraded {
		outcomeLabel = "degraded"
	}
	p.publish(ctx, events.CallEvent{
		Type:             events.TypeCallAnalyzed,
		CallID:           final.ID,
		WorkspaceID:      final.WorkspaceID,
		OwnerID:          final.OwnerID,
		Status:           final.Status,
		Analysis:         final.Analysis,
		AnalysisDegraded: final.AnalysisDegraded,
		TranscriptLength: res.TranscriptLength,
		TranscriptionMS:  timings.Transcription.Milliseconds(),
		AnalysisMS:       timings.Analysis.Milliseconds(),
		TotalMS:          timings.Total.Milliseconds(),
	})

	log.InfoContext(ctx, "processing completed",
		"sentiment", outcome.Analysis.Sentiment,
		"score", outcome.Analysis.Score,
		"degraded", outcome.Degraded,
		"total_ms", timings.Total.Milliseconds(),
	)
	return res, nil
}

func (p *Pipeline) transcribe(ctx context.Context, rec calls.CallRecord) (string, error) {
	tctx, cancel := withTimeout(ctx, p.cfg.TranscriptionTimeout)
	defer cancel()

	text, err := p.transcriber.Transcribe(tctx, rec.Audio)
	if err != nil {
		var te *calls.TranscriptionError
		if !errors.As(err, &te) {
			err = &calls.TranscriptionError{Err: err}
		}
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &calls.TranscriptionError{Err: calls.ErrEmptyTranscript}
	}
	return text, nil
}

func (p *Pipeline) analyze(ctx context.Context, log *slog.Logger, transcript string) analysis.Outcome {
	actx, cancel := withTimeout(ctx, p.cfg.AnalysisTimeout)
	defer cancel()

	outcome, err := p.analyzer.Analyze(actx, transcript)
	if err != nil {
		log.WarnContext(ctx, "analysis unavailable; using fallback", "error", err)
		p.metrics.Degraded("unavailable")
		return analysis.Outcome{
			Analysis: analysis.UnavailableFallback(),
			Degraded: true,
			Cause:    &calls.AnalysisDegraded{Cause: err},
		}
	}
	if outcome.Degraded {
		log.WarnContext(ctx, "analysis degraded", "cause", outcome.Cause)
	}
	return outcome
}

// fail records cause on the record and returns it. The write ignores ctx
// cancellation so an abandoned request still leaves the record in failed.
func (p *Pipeline) fail(ctx context.Context, rec calls.CallRecord, cause error, timings Timings) error {
	log := logger.From(ctx)
	wctx := context.WithoutCancel(ctx)

	msg := cause.Error()
	if err := p.store.MarkFailed(wctx, rec.ID, msg); err != nil {
		log.ErrorContext(ctx, "failed to record processing failure", "call_id", rec.ID, "cause", msg, "error", err)
	}
	log.ErrorContext(ctx, "processing failed", "call_id", rec.ID, "error", msg)

	p.publish(wctx, events.CallEvent{
		Type:            events.TypeCallFailed,
		CallID:          rec.ID,
		WorkspaceID:     rec.WorkspaceID,
		OwnerID:         rec.OwnerID,
		Status:          calls.StatusFailed,
		ErrorMessage:    msg,
		TranscriptionMS: timings.Transcription.Milliseconds(),
		TotalMS:         timings.Total.Milliseconds(),
	})
	return cause
}

// publish is best effort; the record is already persisted.
func (p *Pipeline) publish(ctx context.Context, e events.CallEvent) {
	if p.events == nil {
		return
	}
	e.EventID = p.newID()
	e.OccurredAt = p.now().UTC()
	if err := p.events.Publish(ctx, e); err != nil {
		logger.From(ctx).WarnContext(ctx, "failed to publish call event", "type", e.Type, "call_id", e.CallID, "error", err)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
