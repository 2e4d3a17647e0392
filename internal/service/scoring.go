package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/grant-reconciler/internal/adapter"
	"github.com/grant-reconciler/internal/logging"
	"github.com/grant-reconciler/internal/types"
)

// Component caps of the deterministic formula
const (
	maxActivity     = 25
	maxPopularity   = 20
	maxCommunity    = 20
	maxContribution = 15
	baseInnovation  = 20
)

// DeterministicScore applies the weighted formula over repository metrics.
// The total is rounded half-up and clamped to [0,100].
func DeterministicScore(m types.RepoMetrics) (int, types.ScoreBreakdown) {
	activity := math.Min(maxActivity, float64(m.Commits)/10)
	popularity := math.Min(maxPopularity, float64(m.Stars+m.Forks)/10)
	community := math.Min(maxCommunity, float64(m.Contributors)*2)
	contribution := math.Min(maxContribution, float64(m.PullRequests+m.Issues)/5)

	total := roundHalfUp(activity + popularity + community + contribution + baseInnovation)

	return clampInt(total, 0, 100), types.ScoreBreakdown{
		CodeQuality:         roundHalfUp(activity),
		CommunityEngagement: roundHalfUp(community),
		Sustainability:      roundHalfUp(popularity),
		ImpactPotential:     roundHalfUp(contribution),
		Innovation:          baseInnovation,
	}
}

func deterministicReasoning(total int, m types.RepoMetrics) (string, []string) {
	strength, engagement := "developing", "promising"
	switch {
	case total > 70:
		strength, engagement = "strong", "excellent"
	case total > 50:
		strength, engagement = "moderate", "good"
	}
	reasoning := fmt.Sprintf(
		"This project shows %s potential based on GitHub metrics. With %d stars, %d commits, and %d contributors, it demonstrates %s community engagement and development activity.",
		strength, m.Stars, m.Commits, m.Contributors, engagement)

	recs := make([]string, 0, 3)
	if m.Stars < 50 {
		recs = append(recs, "Increase project visibility through marketing and community outreach")
	} else {
		recs = append(recs, "Strong community presence")
	}
	if m.Commits < 100 {
		recs = append(recs, "Maintain consistent development activity")
	} else {
		recs = append(recs, "Excellent development rhythm")
	}
	if m.Contributors < 5 {
		recs = append(recs, "Encourage more community contributions")
	} else {
		recs = append(recs, "Good contributor diversity")
	}
	return reasoning, recs
}

// Scorer computes impact scores. It never returns an error: metric and
// backend failures degrade to zeroed metrics and the deterministic formula.
type Scorer struct {
	metrics    MetricsFetcher
	generative GenerativeScorer
	logger     *logging.Logger
	now        func() time.Time
}

// NewScorer creates a scorer. generative may be nil for formula-only scoring.
func NewScorer(metrics MetricsFetcher, generative GenerativeScorer, logger *logging.Logger) *Scorer {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Scorer{
		metrics:    metrics,
		generative: generative,
		logger:     logger,
		now:        time.Now,
	}
}

// Score fetches metrics for githubURL and scores them
func (s *Scorer) Score(ctx context.Context, chainID int64, githubURL, description string) *types.ScoreResult {
	metrics, degraded := s.fetchMetrics(ctx, githubURL)
	return s.ScoreMetrics(ctx, chainID, githubURL, description, metrics, degraded)
}

func (s *Scorer) fetchMetrics(ctx context.Context, githubURL string) (types.RepoMetrics, bool) {
	if s.metrics == nil {
		return types.RepoMetrics{}, true
	}
	m, err := s.metrics.FetchMetrics(ctx, githubURL)
	if err != nil || m == nil {
		s.logger.WithError(err).WithField("githubUrl", githubURL).Warn("repository metrics unavailable, scoring with zeroed metrics")
		return types.RepoMetrics{}, true
	}
	return *m, false
}

// ScoreMetrics scores already-known metrics
func (s *Scorer) ScoreMetrics(ctx context.Context, chainID int64, githubURL, description string, m types.RepoMetrics, degraded bool) *types.ScoreResult {
	result := &types.ScoreResult{
		ProjectChainID: chainID,
		Degraded:       degraded,
		ComputedAt:     s.now().UTC(),
	}

	if s.generative != nil {
		gen, err := s.generative.Score(ctx, adapter.ScoringInput{
			GithubURL:   githubURL,
			Description: description,
			Metrics:     m,
		})
		if err == nil {
			if ok := applyGenerative(result, gen); ok {
				return result
			}
			err = fmt.Errorf("generative score out of range")
		}
		s.logger.WithError(err).WithProject(chainID).Warn("generative scoring failed, using deterministic formula")
		result.Degraded = true
	}

	total, breakdown := DeterministicScore(m)
	reasoning, recs := deterministicReasoning(total, m)
	result.ImpactScore = total
	result.Breakdown = breakdown
	result.Reasoning = reasoning
	result.Recommendations = recs
	result.Source = types.ScoreSourceDeterministic
	return result
}

// applyGenerative copies a backend answer into result, clamping every
// component to its range. It rejects answers with a non-finite score.
func applyGenerative(result *types.ScoreResult, gen *adapter.GenerativeScore) bool {
	if gen == nil || math.IsNaN(gen.ImpactScore) || math.IsInf(gen.ImpactScore, 0) {
		return false
	}
	result.ImpactScore = clampInt(roundHalfUp(gen.ImpactScore), 0, 100)
	result.Breakdown = types.ScoreBreakdown{
		CodeQuality:         clampInt(gen.Breakdown.CodeQuality, 0, maxActivity),
		CommunityEngagement: clampInt(gen.Breakdown.CommunityEngagement, 0, maxCommunity),
		Sustainability:      clampInt(gen.Breakdown.Sustainability, 0, maxPopularity),
		ImpactPotential:     clampInt(gen.Breakdown.ImpactPotential, 0, maxContribution),
		Innovation:          clampInt(gen.Breakdown.Innovation, 0, baseInnovation),
	}
	result.Reasoning = gen.Reasoning
	result.Recommendations = gen.Recommendations
	if result.Recommendations == nil {
		result.Recommendations = []string{}
	}
	result.Source = types.ScoreSourceGenerative
	return true
}
