package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/grant-reconciler/internal/circuitbreaker"
	"github.com/grant-reconciler/internal/types"
)

// ScoringInput is what the scorer sees about a project
type ScoringInput struct {
	GithubURL   string
	Description string
	Metrics     types.RepoMetrics
}

// GenerativeScore is the raw, unvalidated answer of the generative backend
type GenerativeScore struct {
	ImpactScore     float64              `json:"impactScore"`
	Breakdown       types.ScoreBreakdown `json:"breakdown"`
	Reasoning       string               `json:"reasoning"`
	Recommendations []string             `json:"recommendations"`
}

// GenerativeScoringClient asks a Gemini-style generateContent endpoint for a score
type GenerativeScoringClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// ScoringClientConfig configures the generative client
type ScoringClientConfig struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewGenerativeScoringClient creates a client for cfg.URL
func NewGenerativeScoringClient(cfg ScoringClientConfig) *GenerativeScoringClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GenerativeScoringClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("scoring")),
	}
}

type generateContentRequest struct {
	Contents []generateContent `json:"contents"`
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
}

type generatePart struct {
	Text string `json:"text"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content generateContent `json:"content"`
	} `json:"candidates"`
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// Score sends the prompt and parses the first JSON object in the reply
func (c *GenerativeScoringClient) Score(ctx context.Context, in ScoringInput) (*GenerativeScore, error) {
	var score *GenerativeScore
	err := c.breaker.Execute(ctx, func() error {
		var serr error
		score, serr = c.score(ctx, in)
		return serr
	})
	if err != nil {
		return nil, NewAdapterError("scoring", "Score", err, map[string]interface{}{"model": c.model})
	}
	return score, nil
}

func (c *GenerativeScoringClient) score(ctx context.Context, in ScoringInput) (*GenerativeScore, error) {
	payload, err := json.Marshal(generateContentRequest{
		Contents: []generateContent{{Parts: []generatePart{{Text: buildPrompt(in)}}}},
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	if c.apiKey != "" {
		endpoint += "?key=" + url.QueryEscape(c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scoring backend status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed generateContentResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("scoring backend returned no candidates")
	}

	return ParseGenerativeScore(parsed.Candidates[0].Content.Parts[0].Text)
}

// ParseGenerativeScore extracts the JSON object from model output, tolerating
// markdown fences and prose around it
func ParseGenerativeScore(text string) (*GenerativeScore, error) {
	match := jsonObjectPattern.FindString(text)
	if match == "" {
		return nil, fmt.Errorf("no JSON object in scoring response")
	}
	var score GenerativeScore
	if err := json.Unmarshal([]byte(match), &score); err != nil {
		return nil, fmt.Errorf("invalid scoring JSON: %w", err)
	}
	return &score, nil
}

func buildPrompt(in ScoringInput) string {
	m := in.Metrics
	return fmt.Sprintf(`You are an expert blockchain project evaluator assessing Web3 projects for grant distribution. Provide objective, data-driven analysis.

Analyze this project for grant eligibility and calculate an impact score (0-100).

Project Details:
- GitHub URL: %s
- Description: %s
- Commits (last 90 days): %d
- Pull Requests: %d
- Issues: %d
- Stars: %d
- Forks: %d
- Contributors: %d

Respond with JSON in exactly this structure:
{
  "impactScore": 0-100,
  "breakdown": {
    "codeQuality": 0-25,
    "communityEngagement": 0-20,
    "sustainability": 0-20,
    "impactPotential": 0-15,
    "innovation": 0-20
  },
  "reasoning": "Brief explanation",
  "recommendations": ["suggestion 1", "suggestion 2", "suggestion 3"]
}`, in.GithubURL, in.Description, m.Commits, m.PullRequests, m.Issues, m.Stars, m.Forks, m.Contributors)
}
