package adapter

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/grant-reconciler/internal/circuitbreaker"
	"github.com/grant-reconciler/internal/logging"
	"github.com/grant-reconciler/internal/types"
)

// MetricsCache stores repository metrics between requests
type MetricsCache interface {
	GetMetrics(ctx context.Context, repo string) (*types.RepoMetrics, bool)
	SetMetrics(ctx context.Context, repo string, m *types.RepoMetrics)
}

// GitHubClient fetches repository activity metrics from the GitHub REST API
type GitHubClient struct {
	token    string
	baseURL  string
	lookback time.Duration
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *circuitbreaker.CircuitBreaker
	cache    MetricsCache
	now      func() time.Time
}

// GitHubClientConfig configures the client
type GitHubClientConfig struct {
	Token             string
	BaseURL           string
	CommitLookback    time.Duration
	RequestsPerSecond float64
	Timeout           time.Duration
}

// NewGitHubClient creates a client; cache may be nil
func NewGitHubClient(cfg GitHubClientConfig, cache MetricsCache) *GitHubClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	lookback := cfg.CommitLookback
	if lookback <= 0 {
		lookback = 90 * 24 * time.Hour
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	breakerCfg := circuitbreaker.DefaultConfig("github")
	breakerCfg.IsFailure = func(err error) bool {
		// A missing repository says nothing about the host's health
		return !stderrors.Is(err, ErrRepositoryNotFound)
	}

	return &GitHubClient{
		token:    cfg.Token,
		baseURL:  baseURL,
		lookback: lookback,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		breaker:  circuitbreaker.NewCircuitBreaker(breakerCfg),
		cache:    cache,
		now:      time.Now,
	}
}

var githubRepoPattern = regexp.MustCompile(`github\.com[/:]([^/\s]+)/([^/\s?#]+)`)

// ParseRepository extracts owner and repository from a GitHub URL. A trailing
// ".git" and any path after the repository are ignored.
func ParseRepository(githubURL string) (owner, repo string, err error) {
	m := githubRepoPattern.FindStringSubmatch(strings.TrimSpace(githubURL))
	if m == nil {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRepositoryURL, githubURL)
	}
	owner = m[1]
	repo = strings.TrimSuffix(m[2], ".git")
	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRepositoryURL, githubURL)
	}
	return owner, repo, nil
}

type githubRepo struct {
	StargazersCount  int    `json:"stargazers_count"`
	ForksCount       int    `json:"forks_count"`
	OpenIssuesCount  int    `json:"open_issues_count"`
	SubscribersCount int    `json:"subscribers_count"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
	PushedAt         string `json:"pushed_at"`
}

// FetchMetrics returns metrics for the repository behind githubURL. Commits are
// counted over the configured lookback; every list count is capped at one page of 100.
func (c *GitHubClient) FetchMetrics(ctx context.Context, githubURL string) (*types.RepoMetrics, error) {
	owner, repo, err := ParseRepository(githubURL)
	if err != nil {
		return nil, NewAdapterError("github", "FetchMetrics", err, nil)
	}
	key := strings.ToLower(owner + "/" + repo)

	if c.cache != nil {
		if cached, ok := c.cache.GetMetrics(ctx, key); ok {
			return cached, nil
		}
	}

	var metrics *types.RepoMetrics
	err = c.breaker.Execute(ctx, func() error {
		var ferr error
		metrics, ferr = c.fetch(ctx, owner, repo)
		return ferr
	})
	if err != nil {
		return nil, NewAdapterError("github", "FetchMetrics", err, map[string]interface{}{"repo": key})
	}

	if c.cache != nil {
		c.cache.SetMetrics(ctx, key, metrics)
	}
	return metrics, nil
}

func (c *GitHubClient) fetch(ctx context.Context, owner, repo string) (*types.RepoMetrics, error) {
	base := fmt.Sprintf("%s/repos/%s/%s", c.baseURL, url.PathEscape(owner), url.PathEscape(repo))

	var info githubRepo
	if err := c.getJSON(ctx, base, nil, &info); err != nil {
		return nil, err
	}

	since := c.now().Add(-c.lookback).UTC().Format(time.RFC3339)
	commits, err := c.count(ctx, base+"/commits", url.Values{"since": {since}, "per_page": {"100"}})
	if err != nil {
		return nil, err
	}
	pulls, err := c.count(ctx, base+"/pulls", url.Values{"state": {"all"}, "per_page": {"100"}})
	if err != nil {
		return nil, err
	}
	contributors, err := c.count(ctx, base+"/contributors", url.Values{"per_page": {"100"}})
	if err != nil {
		return nil, err
	}

	return &types.RepoMetrics{
		Stars:        info.StargazersCount,
		Forks:        info.ForksCount,
		Issues:       info.OpenIssuesCount,
		Watchers:     info.SubscribersCount,
		Commits:      commits,
		PullRequests: pulls,
		Contributors: contributors,
		CreatedAt:    info.CreatedAt,
		LastUpdated:  info.UpdatedAt,
		LastPushed:   info.PushedAt,
	}, nil
}

func (c *GitHubClient) count(ctx context.Context, endpoint string, params url.Values) (int, error) {
	var items []json.RawMessage
	if err := c.getJSON(ctx, endpoint, params, &items); err != nil {
		return 0, err
	}
	return len(items), nil
}

func (c *GitHubClient) getJSON(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrRepositoryNotFound
	case resp.StatusCode == http.StatusNoContent:
		// GitHub answers 204 for contributor lists of empty repositories
		body = []byte("[]")
	case resp.StatusCode >= 300:
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"status":   resp.StatusCode,
			"endpoint": endpoint,
		}).Warn("GitHub API returned an error status")
		return fmt.Errorf("github API status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
