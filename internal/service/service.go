// Package service holds the read-model reconciliation logic: identifier
// reconciliation, off-chain enrichment, company resolution, view assembly
// and the single-flight action submitter.
package service

import (
	"context"
	"math"
	"math/big"

	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/grant-reconciler/internal/adapter"
	"github.com/grant-reconciler/internal/types"
)

// Adapter interfaces for dependency injection

// ChainReader is the read side of the grant contract
type ChainReader interface {
	ProjectCount(ctx context.Context) (int64, error)
	GetProject(ctx context.Context, chainID int64) (types.Project, error)
	ImpactScore(ctx context.Context, chainID int64) (uint64, error)
	AssignedCompanies(ctx context.Context, chainID int64) ([]string, error)
	AllCompanies(ctx context.Context) ([]string, error)
	Company(ctx context.Context, address string) (types.Company, error)
	CompanyAssignedProjects(ctx context.Context, address string) ([]int64, error)
	ProjectsByAddress(ctx context.Context, address string) ([]int64, error)
	Treasury(ctx context.Context) (types.TreasurySummary, error)
	GrantEvents(ctx context.Context, from, to *uint64) ([]types.GrantEvent, error)
	ProposedProjectID(logs []*ethtypes.Log) (int64, bool)
}

// ChainWriter is the write side of the grant contract
type ChainWriter interface {
	From() string
	SubmitTransaction(ctx context.Context, functionName string, args []interface{}, value *big.Int) (string, error)
	WaitForConfirmation(ctx context.Context, txHash string) (*adapter.Confirmation, error)
}

// MetricsFetcher fetches repository activity from the code host
type MetricsFetcher interface {
	FetchMetrics(ctx context.Context, githubURL string) (*types.RepoMetrics, error)
}

// GenerativeScorer asks a generative backend for a score
type GenerativeScorer interface {
	Score(ctx context.Context, in adapter.ScoringInput) (*adapter.GenerativeScore, error)
}

var (
	_ ChainReader      = (*adapter.GrantContractReader)(nil)
	_ ChainWriter      = (*adapter.GrantContractWriter)(nil)
	_ MetricsFetcher   = (*adapter.GitHubClient)(nil)
	_ GenerativeScorer = (*adapter.GenerativeScoringClient)(nil)
)

// roundHalfUp rounds halves toward positive infinity, matching the rounding
// the dapp used for displayed scores and rates
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
