package reporting

import (
	"time"

	"call-insights/internal/calls"
)

// Timeframe selects how far back reports look.
type Timeframe string

const (
	TimeframeWeek    Timeframe = "week"
	TimeframeMonth   Timeframe = "month"
	TimeframeQuarter Timeframe = "quarter"
	TimeframeAll     Timeframe = "all"
)

// Since returns the inclusive lower bound for tf, or the zero time for "all".
func (tf Timeframe) Since(now time.Time) time.Time {
	switch tf {
	case TimeframeWeek:
		return now.Add(-7 * 24 * time.Hour)
	case TimeframeMonth:
		return now.Add(-30 * 24 * time.Hour)
	case TimeframeQuarter:
		return now.Add(-90 * 24 * time.Hour)
	default:
		return time.Time{}
	}
}

func (tf Timeframe) Valid() bool {
	switch tf {
	case TimeframeWeek, TimeframeMonth, TimeframeQuarter, TimeframeAll:
		return true
	default:
		return false
	}
}

type SortBy string

const (
	SortByAvgScore      SortBy = "avg_score"
	SortByTotalCalls    SortBy = "total_calls"
	SortByPositiveRatio SortBy = "positive_ratio"
)

// LeaderboardRequest ranks owners in one workspace.
// Workspace isolation: WorkspaceID is required.
type LeaderboardRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	Timeframe   Timeframe `json:"timeframe"`
	SortBy      SortBy    `json:"sort_by"`
	Limit       int       `json:"limit"`
}

type CallSnippet struct {
	CallID    string          `json:"call_id"`
	Score     int             `json:"score"`
	Sentiment calls.Sentiment `json:"sentiment"`
	Summary   string          `json:"summary"`
	Feedback  string          `json:"feedback,omitempty"`
	Notes     string          `json:"notes,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type SentimentBreakdown struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

type LeaderboardEntry struct {
	Rank    int    `json:"rank"`
	Badge   string `json:"badge"`
	OwnerID string `json:"owner_id"`

	TotalCalls int     `json:"total_calls"`
	AvgScore   float64 `json:"avg_score"`
	MaxScore   int     `json:"max_score"`
	MinScore   int     `json:"min_score"`

	Sentiment     SentimentBreakdown `json:"sentiment"`
	PositiveRatio float64            `json:"positive_ratio"`
	NegativeRatio float64            `json:"negative_ratio"`

	RecentCalls []CallSnippet `json:"recent_calls"`
}

type Leaderboard struct {
	Rankings    []LeaderboardEntry `json:"rankings"`
	TotalOwners int                `json:"total_owners"`
	Timeframe   Timeframe          `json:"timeframe"`
	SortBy      SortBy             `json:"sort_by"`
	GeneratedAt time.Time          `json:"generated_at"`
}

type DashboardRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	OwnerID     string    `json:"owner_id"`
	Timeframe   Timeframe `json:"timeframe"`
}

type PersonalStats struct {
	TotalCalls    int     `json:"total_calls"`
	AvgScore      float64 `json:"avg_score"`
	BestScore     int     `json:"best_score"`
	LowestScore   int     `json:"lowest_score"`
	PositiveRatio int     `json:"positive_ratio_pct"`
	// Rank is 0 when the owner has no analyzed calls in the timeframe.
	Rank  int    `json:"rank"`
	Badge string `json:"badge"`
}

type Trend string

const (
	TrendImproving        Trend = "improving"
	TrendDeclining        Trend = "declining"
	TrendStable           Trend = "stable"
	TrendInsufficientData Trend = "insufficient_data"
)

type UserDashboard struct {
	OwnerID          string             `json:"owner_id"`
	Stats            PersonalStats      `json:"personal_stats"`
	Sentiment        SentimentBreakdown `json:"sentiment"`
	RecentCalls      []CallSnippet      `json:"recent_calls"`
	Trend            Trend              `json:"trend"`
	ImprovementAreas []string           `json:"improvement_areas"`
	Timeframe        Timeframe          `json:"timeframe"`
	GeneratedAt      time.Time          `json:"generated_at"`
}

type AnalyticsRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	Timeframe   Timeframe `json:"timeframe"`
}

type AnalyticsSummary struct {
	TotalAnalyzed        int     `json:"total_analyzed"`
	AvgScore             float64 `json:"avg_score"`
	PositiveRatio        int     `json:"positive_ratio_pct"`
	HighPerformanceRatio int     `json:"high_performance_ratio_pct"`
	DegradedAnalyses     int     `json:"degraded_analyses"`
}

// ScoreDistribution buckets: high is 80+, low is 50 or below.
type ScoreDistribution struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

type DailyTrend struct {
	Date          string  `json:"date"`
	CallCount     int     `json:"call_count"`
	AvgScore      float64 `json:"avg_score"`
	PositiveCount int     `json:"positive_count"`
}

type TopPerformer struct {
	OwnerID    string  `json:"owner_id"`
	AvgScore   float64 `json:"avg_score"`
	TotalCalls int     `json:"total_calls"`
}

type Analytics struct {
	Summary       AnalyticsSummary     `json:"summary"`
	Sentiment     SentimentBreakdown   `json:"sentiment"`
	Distribution  ScoreDistribution    `json:"distribution"`
	CallsByStatus map[calls.Status]int `json:"calls_by_status"`
	DailyTrends   []DailyTrend         `json:"daily_trends"`
	TopPerformers []TopPerformer       `json:"top_performers"`
	Timeframe     Timeframe            `json:"timeframe"`
	GeneratedAt   time.Time            `json:"generated_at"`
}
