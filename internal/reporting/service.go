package reporting

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"call-insights/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
// Implementations must enforce workspace filtering; calls.Store satisfies it.
type Repository interface {
	List(ctx context.Context, f calls.ListFilter) ([]calls.CallRecord, error)
}

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
	recentCallsPerOwner     = 5
	dashboardRecentCalls    = 10
	topPerformerMinCalls    = 3
	topPerformerCount       = 5
	maxDailyTrendDays       = 30
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service { return &Service{repo: repo, now: time.Now} }

func (s *Service) Leaderboard(ctx context.Context, req LeaderboardRequest) (Leaderboard, error) {
	if req.WorkspaceID == "" {
		return Leaderboard{}, ErrInvalidRequest
	}
	if req.Timeframe == "" {
		req.Timeframe = TimeframeAll
	}
	if req.SortBy == "" {
		req.SortBy = SortByAvgScore
	}
	if !req.Timeframe.Valid() || !validSort(req.SortBy) {
		return Leaderboard{}, ErrInvalidRequest
	}
	if req.Limit <= 0 {
		req.Limit = defaultLeaderboardLimit
	}
	if req.Limit > maxLeaderboardLimit {
		req.Limit = maxLeaderboardLimit
	}

	now := s.now()
	rows, err := s.analyzed(ctx, calls.ListFilter{WorkspaceID: req.WorkspaceID, From: req.Timeframe.Since(now)})
	if err != nil {
		return Leaderboard{}, err
	}

	entries := rankOwners(rows, req.SortBy)
	total := len(entries)
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	return Leaderboard{
		Rankings:    entries,
		TotalOwners: total,
		Timeframe:   req.Timeframe,
		SortBy:      req.SortBy,
		GeneratedAt: now.UTC(),
	}, nil
}

func (s *Service) UserDashboard(ctx context.Context, req DashboardRequest) (UserDashboard, error) {
	if req.WorkspaceID == "" || req.OwnerID == "" {
		return UserDashboard{}, ErrInvalidRequest
	}
	if req.Timeframe == "" {
		req.Timeframe = TimeframeMonth
	}
	if !req.Timeframe.Valid() {
		return UserDashboard{}, ErrInvalidRequest
	}

	now := s.now()
	rows, err := s.analyzed(ctx, calls.ListFilter{WorkspaceID: req.WorkspaceID, From: req.Timeframe.Since(now)})
	if err != nil {
		return UserDashboard{}, err
	}

	var mine []calls.CallRecord
	for _, r := range rows {
		if r.OwnerID == req.OwnerID {
			mine = append(mine, r)
		}
	}
	newestFirst(mine)

	agg := aggregate(mine)
	rank := 0
	for i, e := range rankOwners(rows, SortByAvgScore) {
		if e.OwnerID == req.OwnerID {
			rank = i + 1
			break
		}
	}

	out := UserDashboard{
		OwnerID: req.OwnerID,
		Stats: PersonalStats{
			TotalCalls:    agg.total,
			AvgScore:      round(agg.avg(), 1),
			BestScore:     agg.max,
			LowestScore:   agg.min,
			PositiveRatio: percent(agg.sentiment.Positive, agg.total),
			Rank:          rank,
			Badge:         Badge(rank, agg.avg()),
		},
		Sentiment:   agg.sentiment,
		RecentCalls: snippets(mine, dashboardRecentCalls, true),
		Trend:       PerformanceTrend(scores(mine)),
		Timeframe:   req.Timeframe,
		GeneratedAt: now.UTC(),
	}
	out.ImprovementAreas = improvementAreas(agg, mine)
	return out, nil
}

// Analytics reads analyzed calls and the full status mix concurrently.
func (s *Service) Analytics(ctx context.Context, req AnalyticsRequest) (Analytics, error) {
	if req.WorkspaceID == "" {
		return Analytics{}, ErrInvalidRequest
	}
	if req.Timeframe == "" {
		req.Timeframe = TimeframeMonth
	}
	if !req.Timeframe.Valid() {
		return Analytics{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return Analytics{}, errors.New("reporting: repository not configured")
	}

	now := s.now()
	since := req.Timeframe.Since(now)

	var analyzed, all []calls.CallRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		analyzed, err = s.analyzed(gctx, calls.ListFilter{WorkspaceID: req.WorkspaceID, From: since})
		return err
	})
	g.Go(func() error {
		var err error
		all, err = s.repo.List(gctx, calls.ListFilter{WorkspaceID: req.WorkspaceID, From: since})
		return err
	})
	if err := g.Wait(); err != nil {
		return Analytics{}, err
	}

	agg := aggregate(analyzed)
	out := Analytics{
		Summary: AnalyticsSummary{
			TotalAnalyzed:        agg.total,
			AvgScore:             round(agg.avg(), 1),
			PositiveRatio:        percent(agg.sentiment.Positive, agg.total),
			HighPerformanceRatio: percent(agg.high, agg.total),
			DegradedAnalyses:     agg.degraded,
		},
		Sentiment:     agg.sentiment,
		Distribution:  ScoreDistribution{High: agg.high, Low: agg.low, Medium: agg.total - agg.high - agg.low},
		CallsByStatus: map[calls.Status]int{},
		DailyTrends:   dailyTrends(analyzed),
		TopPerformers: topPerformers(analyzed),
		Timeframe:     req.Timeframe,
		GeneratedAt:   now.UTC(),
	}
	for _, st := range calls.AllStatuses {
		out.CallsByStatus[st] = 0
	}
	for _, r := range all {
		out.CallsByStatus[r.Status]++
	}
	return out, nil
}

func (s *Service) analyzed(ctx context.Context, f calls.ListFilter) ([]calls.CallRecord, error) {
	if s.repo == nil {
		return nil, errors.New("reporting: repository not configured")
	}
	f.Status = calls.StatusAnalyzed
	rows, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, r := range rows {
		if r.Analysis != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// Badge labels a rank; unranked owners (rank 0) fall through to score bands.
func Badge(rank int, avgScore float64) string {
	switch {
	case rank == 1:
		return "Champion"
	case rank > 0 && rank <= 3:
		return "Top Performer"
	case rank > 0 && rank <= 10:
		return "High Achiever"
	case avgScore >= 80:
		return "Expert"
	case avgScore >= 60:
		return "Improving"
	default:
		return "Getting Started"
	}
}

// PerformanceTrend compares the mean of the three newest scores against the
// three before them. scores must be newest first.
func PerformanceTrend(scores []int) Trend {
	if len(scores) < 2 {
		return TrendInsufficientData
	}
	recent := scores[:min(3, len(scores))]
	var older []int
	if len(scores) > 3 {
		older = scores[3:min(6, len(scores))]
	}
	if len(older) == 0 {
		return TrendInsufficientData
	}
	diff := mean(recent) - mean(older)
	switch {
	case diff > 5:
		return TrendImproving
	case diff < -5:
		return TrendDeclining
	default:
		return TrendStable
	}
}

type ownerAgg struct {
	owner     string
	total     int
	sum       int
	max, min  int
	high, low int
	degraded  int
	sentiment SentimentBreakdown
}

func (a ownerAgg) avg() float64 {
	if a.total == 0 {
		return 0
	}
	return float64(a.sum) / float64(a.total)
}

func aggregate(rows []calls.CallRecord) ownerAgg {
	var a ownerAgg
	for _, r := range rows {
		a.add(r)
	}
	return a
}

func (a *ownerAgg) add(r calls.CallRecord) {
	score := r.Analysis.Score
	if a.total == 0 || score > a.max {
		a.max = score
	}
	if a.total == 0 || score < a.min {
		a.min = score
	}
	a.total++
	a.sum += score
	if score >= 80 {
		a.high++
	}
	if score <= 50 {
		a.low++
	}
	if r.AnalysisDegraded {
		a.degraded++
	}
	switch r.Analysis.Sentiment {
	case calls.SentimentPositive:
		a.sentiment.Positive++
	case calls.SentimentNegative:
		a.sentiment.Negative++
	default:
		a.sentiment.Neutral++
	}
}

func rankOwners(rows []calls.CallRecord, by SortBy) []LeaderboardEntry {
	byOwner := map[string][]calls.CallRecord{}
	for _, r := range rows {
		byOwner[r.OwnerID] = append(byOwner[r.OwnerID], r)
	}

	entries := make([]LeaderboardEntry, 0, len(byOwner))
	for owner, list := range byOwner {
		agg := aggregate(list)
		newestFirst(list)
		entries = append(entries, LeaderboardEntry{
			OwnerID:       owner,
			TotalCalls:    agg.total,
			AvgScore:      round(agg.avg(), 1),
			MaxScore:      agg.max,
			MinScore:      agg.min,
			Sentiment:     agg.sentiment,
			PositiveRatio: round(ratio(agg.sentiment.Positive, agg.total), 3),
			NegativeRatio: round(ratio(agg.sentiment.Negative, agg.total), 3),
			RecentCalls:   snippets(list, recentCallsPerOwner, false),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch by {
		case SortByTotalCalls:
			if a.TotalCalls != b.TotalCalls {
				return a.TotalCalls > b.TotalCalls
			}
			if a.AvgScore != b.AvgScore {
				return a.AvgScore > b.AvgScore
			}
		case SortByPositiveRatio:
			if a.PositiveRatio != b.PositiveRatio {
				return a.PositiveRatio > b.PositiveRatio
			}
			if a.AvgScore != b.AvgScore {
				return a.AvgScore > b.AvgScore
			}
		default:
			if a.AvgScore != b.AvgScore {
				return a.AvgScore > b.AvgScore
			}
			if a.TotalCalls != b.TotalCalls {
				return a.TotalCalls > b.TotalCalls
			}
		}
		return a.OwnerID < b.OwnerID
	})

	for i := range entries {
		entries[i].Rank = i + 1
		entries[i].Badge = Badge(i+1, entries[i].AvgScore)
	}
	return entries
}

func dailyTrends(rows []calls.CallRecord) []DailyTrend {
	type day struct {
		agg ownerAgg
	}
	byDay := map[string]*day{}
	for _, r := range rows {
		k := r.CreatedAt.UTC().Format("2006-01-02")
		d, ok := byDay[k]
		if !ok {
			d = &day{}
			byDay[k] = d
		}
		d.agg.add(r)
	}
	out := make([]DailyTrend, 0, len(byDay))
	for k, d := range byDay {
		out = append(out, DailyTrend{
			Date:          k,
			CallCount:     d.agg.total,
			AvgScore:      round(d.agg.avg(), 1),
			PositiveCount: d.agg.sentiment.Positive,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	if len(out) > maxDailyTrendDays {
		out = out[len(out)-maxDailyTrendDays:]
	}
	return out
}

func topPerformers(rows []calls.CallRecord) []TopPerformer {
	var out []TopPerformer
	for _, e := range rankOwners(rows, SortByAvgScore) {
		if e.TotalCalls < topPerformerMinCalls {
			continue
		}
		out = append(out, TopPerformer{OwnerID: e.OwnerID, AvgScore: e.AvgScore, TotalCalls: e.TotalCalls})
		if len(out) == topPerformerCount {
			break
		}
	}
	return out
}

func improvementAreas(a ownerAgg, recent []calls.CallRecord) []string {
	var out []string
	if a.avg() < 60 {
		out = append(out, "Focus on active listening and customer needs identification")
	}
	if a.sentiment.Negative > a.sentiment.Positive {
		out = append(out, "Work on building rapport and positive communication")
	}
	if a.total < 5 {
		out = append(out, "Increase call volume to improve experience and confidence")
	}
	for i, r := range recent {
		if i == dashboardRecentCalls {
			break
		}
		if r.Analysis.Score < 50 {
			out = append(out, "Review recent call feedback and practice key improvement areas")
			break
		}
	}
	if len(out) == 0 {
		return []string{"Keep up the great work!"}
	}
	return out
}

func newestFirst(rows []calls.CallRecord) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
}

// snippets expects rows newest first.
func snippets(rows []calls.CallRecord, n int, detailed bool) []CallSnippet {
	if len(rows) > n {
		rows = rows[:n]
	}
	out := make([]CallSnippet, 0, len(rows))
	for _, r := range rows {
		s := CallSnippet{
			CallID:    r.ID,
			Score:     r.Analysis.Score,
			Sentiment: r.Analysis.Sentiment,
			Summary:   r.Analysis.Summary,
			CreatedAt: r.CreatedAt,
		}
		if detailed {
			s.Feedback = r.Analysis.Feedback
			s.Notes = r.Notes
		}
		out = append(out, s)
	}
	return out
}

func scores(rows []calls.CallRecord) []int {
	out := make([]int, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Analysis.Score)
	}
	return out
}

func mean(xs []int) float64 {
	sum := 0
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func percent(n, total int) int {
	return int(math.Round(ratio(n, total) * 100))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
