// Package transcription turns a stored recording into plain text.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"call-insights/internal/calls"
	"call-insights/internal/metrics"
	"call-insights/pkg/logger"
)

// Engine is the external speech-to-text service.
type Engine interface {
	// TranscribeURL lets the engine fetch the audio itself.
	TranscribeURL(ctx context.Context, audioURL string) (string, error)
	// TranscribeFile uploads a local copy.
	TranscribeFile(ctx context.Context, path string) (string, error)
}

type URLResolver interface {
	ResolveURL(ctx context.Context, key string) (string, error)
}

type ObjectReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// RetryPolicy bounds the download fallback. Zero values take the defaults
// (3 attempts, 2s growing x2, capped at 10s).
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 2 * time.Second
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 10 * time.Second
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
}

type GatewayConfig struct {
	Engine   Engine
	Resolver URLResolver
	Objects  ObjectReader
	Retry    RetryPolicy
	// URLTimeout bounds the direct-URL attempt so a hung engine still leaves
	// time for the download fallback. Zero uses DefaultURLTimeout.
	URLTimeout time.Duration
	// TempDir holds transient downloads; empty uses os.TempDir().
	TempDir string
	Metrics *metrics.Metrics
}

// Gateway prefers a direct URL and falls back to downloading the recording.
type Gateway struct {
	engine     Engine
	resolver   URLResolver
	objects    ObjectReader
	retry      RetryPolicy
	urlTimeout time.Duration
	tempDir    string
	metrics    *metrics.Metrics
}

const DefaultURLTimeout = 2 * time.Minute

func NewGateway(cfg GatewayConfig) *Gateway {
	urlTimeout := cfg.URLTimeout
	if urlTimeout <= 0 {
		urlTimeout = DefaultURLTimeout
	}
	return &Gateway{
		engine:     cfg.Engine,
		resolver:   cfg.Resolver,
		objects:    cfg.Objects,
		retry:      cfg.Retry.withDefaults(),
		urlTimeout: urlTimeout,
		tempDir:    cfg.TempDir,
		metrics:    cfg.Metrics,
	}
}

// Transcribe returns the engine's text as-is. Deciding that an empty text is a
// failure is left to the caller.
func (g *Gateway) Transcribe(ctx context.Context, audio calls.AudioRef) (string, error) {
	if audio.Key == "" {
		return "", &calls.ValidationError{Field: "audio", Reason: "audio reference is required"}
	}
	log := logger.From(ctx).With("audio_key", audio.Key)

	if g.resolver != nil {
		text, err := g.viaURL(ctx, audio.Key)
		if err == nil {
			return text, nil
		}
		// Only the phase deadline is fatal; the URL attempt's own deadline is not.
		if ctx.Err() != nil {
			return "", &calls.TranscriptionError{Attempts: 1, Err: ctx.Err()}
		}
		log.WarnContext(ctx, "direct url transcription failed; falling back to download", "error", err)
	}

	return g.viaDownload(ctx, log, audio.Key)
}

func (g *Gateway) viaURL(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.urlTimeout)
	defer cancel()

	u, err := g.resolver.ResolveURL(ctx, key)
	if err != nil {
		return "", fmt.Errorf("resolve url: %w", err)
	}
	start := time.Now()
	text, err := g.engine.TranscribeURL(ctx, u)
	g.metrics.TranscriptionAttempt("url", err)
	if err != nil {
		return "", err
	}
	logger.From(ctx).DebugContext(ctx, "direct url transcription completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"chars", len(text),
	)
	return text, nil
}

func (g *Gateway) viaDownload(ctx context.Context, log *slog.Logger, key string) (string, error) {
	path, err := g.download(ctx, key)
	if err != nil {
		return "", &calls.TranscriptionError{Attempts: 0, Err: err}
	}
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.WarnContext(ctx, "failed to remove temp recording", "path", path, "error", rmErr)
		}
	}()

	attempts := 0
	var text string
	op := func() error {
		attempts++
		log.DebugContext(ctx, "transcription attempt", "attempt", attempts, "max_attempts", g.retry.MaxAttempts)
		t, err := g.engine.TranscribeFile(ctx, path)
		g.metrics.TranscriptionAttempt("file", err)
		if err != nil {
			log.WarnContext(ctx, "transcription engine error", "attempt", attempts, "error", err)
			return err
		}
		text = t
		return nil
	}
	if err := backoff.Retry(op, g.retry.backOff(ctx)); err != nil {
		return "", &calls.TranscriptionError{Attempts: attempts, Err: err}
	}
	return text, nil
}

// download copies the object into a temp file and rejects empty recordings.
func (g *Gateway) download(ctx context.Context, key string) (string, error) {
	if g.objects == nil {
		return "", errors.New("no object reader configured")
	}
	rc, err := g.objects.Open(ctx, key)
	if err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}
	defer rc.Close()

	f, err := os.CreateTemp(g.tempDir, "recording-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()

	n, copyErr := io.Copy(f, rc)
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		_ = os.Remove(path)
		return "", fmt.Errorf("download recording: %w", copyErr)
	case closeErr != nil:
		_ = os.Remove(path)
		return "", fmt.Errorf("close temp file: %w", closeErr)
	case n == 0:
		_ = os.Remove(path)
		return "", errors.New("audio file is empty")
	}
	return path, nil
}
