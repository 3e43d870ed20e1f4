package calls

import "testing"

func TestStatusValuesAreNonEmpty(t *testing.T) {
	for _, s := range AllStatuses {
		if s == "" || !s.Valid() {
			t.Fatalf("expected valid non-empty status, got %q", s)
		}
	}
	if Status("queued").Valid() {
		t.Fatalf("expected unknown status to be invalid")
	}
}

func TestStatus_CanStartProcessing(t *testing.T) {
	cases := map[Status]bool{
		StatusUploaded:    true,
		StatusPending:     true,
		StatusFailed:      true,
		StatusProcessing:  false,
		StatusTranscribed: false,
		StatusAnalyzed:    false,
	}
	for s, want := range cases {
		if got := s.CanStartProcessing(); got != want {
			t.Fatalf("%s: expected %v, got %v", s, want, got)
		}
	}
}

func TestAnalysis_Complete(t *testing.T) {
	ok := &Analysis{Sentiment: SentimentPositive, Score: 82, Feedback: "Good rapport.", Summary: "Customer interested."}
	if !ok.Complete() {
		t.Fatalf("expected complete analysis")
	}
	if (&Analysis{Sentiment: "Happy", Score: 82, Feedback: "f", Summary: "s"}).Complete() {
		t.Fatalf("expected unknown sentiment to be incomplete")
	}
	if (&Analysis{Sentiment: SentimentNeutral, Score: 101, Feedback: "f", Summary: "s"}).Complete() {
		t.Fatalf("expected out-of-range score to be incomplete")
	}
	var nilAnalysis *Analysis
	if nilAnalysis.Complete() {
		t.Fatalf("expected nil analysis to be incomplete")
	}
}
