package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RunStarted()
	m.RunFinished("analyzed", time.Second)
	m.TranscriptionAttempt("url", nil)
	m.Degraded("unparsable")
	m.EventPublished("call.analyzed", nil, time.Millisecond)
	m.TaskFailed("pipeline")
	m.TaskPanicked()
	m.RecordingIngested(nil)
}

func TestMetrics_RunLifecycle(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RunStarted()
	if got := testutil.ToFloat64(m.PipelineInFlight); got != 1 {
		t.Fatalf("expected 1 in flight, got %v", got)
	}
	m.RunFinished("failed", 3*time.Second)
	if got := testutil.ToFloat64(m.PipelineInFlight); got != 0 {
		t.Fatalf("expected 0 in flight, got %v", got)
	}
	if got := testutil.ToFloat64(m.PipelineRuns.WithLabelValues("failed")); got != 1 {
		t.Fatalf("expected one failed run, got %v", got)
	}

	m.TranscriptionAttempt("file", errors.New("boom"))
	m.TranscriptionAttempt("file", nil)
	if got := testutil.ToFloat64(m.TranscriptionAttempts.WithLabelValues("file", "error")); got != 1 {
		t.Fatalf("expected one errored attempt, got %v", got)
	}
}
