package service

import (
	"context"
	"fmt"

	"github.com/grant-reconciler/internal/errors"
	"github.com/grant-reconciler/internal/types"
)

// ProjectSelector names a project by chain id or by catalog id. A chain id
// taken from a chain view is confirmed; a catalog id goes through the
// identifier reconciler.
type ProjectSelector struct {
	ChainID   *int64 `json:"chainId,omitempty"`
	CatalogID *int64 `json:"catalogId,omitempty"`
}

// AllocationRequest is one line of a distribution request
type AllocationRequest struct {
	Project ProjectSelector `json:"project"`
	Amount  types.Amount    `json:"amount"`
	Reason  string          `json:"reason"`
}

// ActionRequest is the wire form of an intent
type ActionRequest struct {
	Kind types.IntentKind `json:"kind"`

	Project *ProjectSelector `json:"project,omitempty"`

	// vote
	Support *bool `json:"support,omitempty"`
	// assign_companies
	Companies []string `json:"companies,omitempty"`
	// distribute_grants
	Allocations []AllocationRequest `json:"allocations,omitempty"`
	// propose
	Name            string        `json:"name,omitempty"`
	Description     string        `json:"description,omitempty"`
	GithubURL       string        `json:"githubUrl,omitempty"`
	RequestedAmount *types.Amount `json:"requestedAmount,omitempty"`
	CatalogID       int64         `json:"catalogId,omitempty"`
	// register_company
	Address string `json:"address,omitempty"`
	// update_score
	Score *uint64 `json:"score,omitempty"`
	// update_oracle
	Oracle string `json:"oracle,omitempty"`
	// deposit_treasury
	Value *types.Amount `json:"value,omitempty"`
}

// IntentBuilder turns requests into typed intents, resolving project ids
type IntentBuilder struct {
	catalog *CatalogService
}

// NewIntentBuilder creates a builder. Without a catalog only chain ids are accepted.
func NewIntentBuilder(catalog *CatalogService) *IntentBuilder {
	return &IntentBuilder{catalog: catalog}
}

func (b *IntentBuilder) resolve(ctx context.Context, sel *ProjectSelector) (types.ProjectRef, error) {
	switch {
	case sel == nil:
		return types.ProjectRef{}, errors.NewInvalidParameterError("project", "required")
	case sel.ChainID != nil:
		if *sel.ChainID < 0 {
			return types.ProjectRef{}, errors.NewInvalidParameterError("project.chainId", "must be non-negative")
		}
		return types.ProjectRef{ChainID: *sel.ChainID, Provenance: types.ProvenanceConfirmed}, nil
	case sel.CatalogID != nil:
		if b.catalog == nil {
			return types.ProjectRef{}, errors.NewServiceUnavailableError("catalog")
		}
		return b.catalog.Resolve(ctx, *sel.CatalogID)
	}
	return types.ProjectRef{}, errors.NewInvalidParameterError("project", "chainId or catalogId is required")
}

// Build validates the request shape and returns the matching intent
func (b *IntentBuilder) Build(ctx context.Context, req *ActionRequest) (types.Intent, error) {
	switch req.Kind {
	case types.IntentPropose:
		if req.RequestedAmount == nil {
			return nil, errors.NewInvalidParameterError("requestedAmount", "required")
		}
		return types.ProposeIntent{
			Name:            req.Name,
			Description:     req.Description,
			GithubURL:       req.GithubURL,
			RequestedAmount: *req.RequestedAmount,
			CatalogID:       req.CatalogID,
		}, nil

	case types.IntentVote:
		if req.Support == nil {
			return nil, errors.NewInvalidParameterError("support", "required")
		}
		ref, err := b.resolve(ctx, req.Project)
		if err != nil {
			return nil, err
		}
		return types.VoteIntent{Project: ref, Support: *req.Support}, nil

	case types.IntentAssignCompanies:
		ref, err := b.resolve(ctx, req.Project)
		if err != nil {
			return nil, err
		}
		return types.AssignCompaniesIntent{Project: ref, Companies: req.Companies}, nil

	case types.IntentDistributeGrants:
		allocs := make([]types.GrantAllocation, 0, len(req.Allocations))
		for i := range req.Allocations {
			a := req.Allocations[i]
			ref, err := b.resolve(ctx, &a.Project)
			if err != nil {
				return nil, err
			}
			allocs = append(allocs, types.GrantAllocation{Project: ref, Amount: a.Amount, Reason: a.Reason})
		}
		return types.DistributeGrantsIntent{Allocations: allocs}, nil

	case types.IntentRegisterCompany:
		return types.RegisterCompanyIntent{Address: req.Address, Name: req.Name}, nil

	case types.IntentUpdateScore:
		if req.Score == nil {
			return nil, errors.NewInvalidParameterError("score", "required")
		}
		ref, err := b.resolve(ctx, req.Project)
		if err != nil {
			return nil, err
		}
		return types.UpdateScoreIntent{Project: ref, Score: *req.Score}, nil

	case types.IntentUpdateOracle:
		return types.UpdateOracleIntent{Oracle: req.Oracle}, nil

	case types.IntentDepositTreasury:
		if req.Value == nil {
			return nil, errors.NewInvalidParameterError("value", "required")
		}
		return types.DepositTreasuryIntent{Value: *req.Value}, nil
	}
	return nil, errors.NewInvalidParameterError("kind", fmt.Sprintf("unknown intent kind %q", req.Kind))
}
