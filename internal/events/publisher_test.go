package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"

	"call-insights/internal/calls"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error {
	c.closed = true
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublisher_DisabledIsLogOnly(t *testing.T) {
	p := New(Config{TopicAnalyzed: "call.analyzed", TopicFailed: "call.failed"}, quietLogger(), nil)
	if err := p.Publish(context.Background(), CallEvent{Type: TypeCallAnalyzed, CallID: "c1"}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPublisher_RoutesByType(t *testing.T) {
	analyzed, failed := &captureWriter{}, &captureWriter{}
	p := New(Config{TopicAnalyzed: "a", TopicFailed: "f", Principal: "svc"}, quietLogger(), nil)
	p.writers = map[Type]messageWriter{TypeCallAnalyzed: analyzed, TypeCallFailed: failed}
	p.enabled = true

	ctx := context.Background()
	a := &calls.Analysis{Sentiment: calls.SentimentPositive, Score: 82, Feedback: "f", Summary: "s"}
	if err := p.Publish(ctx, CallEvent{Type: TypeCallAnalyzed, CallID: "c1", WorkspaceID: "w", Analysis: a}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.Publish(ctx, CallEvent{Type: TypeCallFailed, CallID: "c2", ErrorMessage: "boom"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(analyzed.msgs) != 1 || len(failed.msgs) != 1 {
		t.Fatalf("expected one message per topic, got %d/%d", len(analyzed.msgs), len(failed.msgs))
	}
	m := analyzed.msgs[0]
	if string(m.Key) != "c1" {
		t.Fatalf("expected call id key, got %q", m.Key)
	}
	var got CallEvent
	if err := json.Unmarshal(m.Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Analysis == nil || got.Analysis.Score != 82 {
		t.Fatalf("unexpected payload: %+v", got)
	}

	if err := p.Close(); err != nil || !analyzed.closed || !failed.closed {
		t.Fatalf("expected writers closed")
	}
}

func TestPublisher_WriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := New(Config{TopicAnalyzed: "a", TopicFailed: "f"}, quietLogger(), nil)
	p.writers = map[Type]messageWriter{TypeCallAnalyzed: &captureWriter{err: boom}}
	p.enabled = true

	if err := p.Publish(context.Background(), CallEvent{Type: TypeCallAnalyzed, CallID: "c1"}); !errors.Is(err, boom) {
		t.Fatalf("expected broker error, got %v", err)
	}
	if err := p.Publish(context.Background(), CallEvent{Type: "call.unknown"}); err == nil {
		t.Fatalf("expected unknown type error")
	}
}
