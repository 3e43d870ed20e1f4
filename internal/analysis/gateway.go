// Package analysis scores a call transcript with an LLM and validates the answer.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"call-insights/internal/calls"
	"call-insights/internal/metrics"
	"call-insights/pkg/logger"
)

const SystemPrompt = `You are a CRM performance coach AI. Analyze call transcripts quickly and efficiently.
Return ONLY valid JSON with this exact structure:
{
  "sentiment": "Positive|Negative|Neutral",
  "feedback": "Brief actionable feedback (1-2 sentences)",
  "summary": "Concise call summary (1-2 sentences)",
  "score": 75
}`

const (
	DefaultMaxInputChars = 8000
	defaultScore         = 50

	defaultFeedback = "No specific feedback available"
	defaultSummary  = "No summary available"
)

var errUnparsable = errors.New("engine output contained no usable JSON object")

// Prompt is one analysis request.
type Prompt struct {
	System string
	User   string
}

// Engine is the external LLM. It returns the raw completion text.
type Engine interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Outcome is a validated analysis. Degraded means Analysis is the fallback.
type Outcome struct {
	Analysis calls.Analysis
	Degraded bool
	Cause    error
}

type Gateway struct {
	engine   Engine
	maxChars int
	metrics  *metrics.Metrics
}

func NewGateway(engine Engine, maxChars int, m *metrics.Metrics) *Gateway {
	if maxChars <= 0 {
		maxChars = DefaultMaxInputChars
	}
	return &Gateway{engine: engine, maxChars: maxChars, metrics: m}
}

// Analyze never fails on content: malformed output produces a degraded fallback.
// Only engine transport errors are returned.
func (g *Gateway) Analyze(ctx context.Context, transcript string) (Outcome, error) {
	if strings.TrimSpace(transcript) == "" {
		return Outcome{}, &calls.ValidationError{Field: "transcript", Reason: "empty transcript provided for analysis"}
	}
	log := logger.From(ctx)

	raw, err := g.engine.Complete(ctx, Prompt{
		System: SystemPrompt,
		User:   `Analyze this call transcript:` + "\n\n" + `"` + truncateRunes(transcript, g.maxChars) + `"`,
	})
	if err != nil {
		return Outcome{}, err
	}

	a, defaulted, err := Parse(raw)
	if err != nil {
		log.WarnContext(ctx, "analysis output unparsable; using fallback", "error", err, "raw_len", len(raw))
		g.metrics.Degraded("unparsable")
		return Outcome{Analysis: UnparsableFallback(), Degraded: true, Cause: &calls.AnalysisDegraded{Cause: err}}, nil
	}
	if len(defaulted) > 0 {
		log.DebugContext(ctx, "analysis fields defaulted", "fields", defaulted)
	}
	return Outcome{Analysis: a}, nil
}

// UnparsableFallback is used when the engine answered with something that is not JSON.
func UnparsableFallback() calls.Analysis {
	return calls.Analysis{
		Sentiment: calls.SentimentNeutral,
		Score:     defaultScore,
		Feedback:  "Unable to analyze transcript properly",
		Summary:   "Analysis failed - please try again",
	}
}

// UnavailableFallback is used when the engine could not be reached at all.
func UnavailableFallback() calls.Analysis {
	return calls.Analysis{
		Sentiment: calls.SentimentNeutral,
		Score:     defaultScore,
		Feedback:  "Analysis temporarily unavailable",
		Summary:   "Please try again later",
	}
}

// Parse extracts the first JSON object from raw and repairs missing or invalid fields.
// It returns the names of the fields that were defaulted.
func Parse(raw string) (calls.Analysis, []string, error) {
	obj := extractJSON(raw)
	if obj == "" {
		return calls.Analysis{}, nil, errUnparsable
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return calls.Analysis{}, nil, err
	}

	var defaulted []string
	a := calls.Analysis{}

	if s, ok := sentimentOf(fields["sentiment"]); ok {
		a.Sentiment = s
	} else {
		a.Sentiment = calls.SentimentNeutral
		defaulted = append(defaulted, "sentiment")
	}

	if n, ok := scoreOf(fields["score"]); ok {
		a.Score = n
	} else {
		a.Score = defaultScore
		defaulted = append(defaulted, "score")
	}

	if a.Feedback = stringOf(fields["feedback"]); a.Feedback == "" {
		a.Feedback = defaultFeedback
		defaulted = append(defaulted, "feedback")
	}
	if a.Summary = stringOf(fields["summary"]); a.Summary == "" {
		a.Summary = defaultSummary
		defaulted = append(defaulted, "summary")
	}
	return a, defaulted, nil
}

func sentimentOf(v any) (calls.Sentiment, bool) {
	s, _ := v.(string)
	s = strings.TrimSpace(s)
	for _, c := range []calls.Sentiment{calls.SentimentPositive, calls.SentimentNegative, calls.SentimentNeutral} {
		if strings.EqualFold(s, string(c)) {
			return c, true
		}
	}
	return "", false
}

// scoreOf accepts numbers and numeric strings in [0,100]; fractions are rounded.
func scoreOf(v any) (int, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) || f < 0 || f > 100 {
		return 0, false
	}
	return int(math.Round(f)), true
}

func stringOf(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// extractJSON finds the first balanced JSON object in s, ignoring markdown fences
// and braces inside string literals.
func extractJSON(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, f := range []string{"```json", "```JSON", "```"} {
		s = strings.ReplaceAll(s, f, "")
	}

	for start := strings.IndexByte(s, '{'); start != -1; {
		depth := 0
		inString, escaped := false, false
		end := -1
	scan:
		for i := start; i < len(s); i++ {
			c := s[i]
			switch {
			case escaped:
				escaped = false
			case inString && c == '\\':
				escaped = true
			case c == '"':
				inString = !inString
			case inString:
			case c == '{':
				depth++
			case c == '}':
				depth--
				if depth == 0 {
					end = i
					break scan
				}
			}
		}
		if end == -1 {
			return ""
		}
		candidate := strings.TrimSpace(s[start : end+1])
		if json.Valid([]byte(candidate)) {
			return candidate
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next == -1 {
			return ""
		}
		start += next + 1
	}
	return ""
}
