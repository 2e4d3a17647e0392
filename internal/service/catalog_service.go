package service

import (
	"context"

	"github.com/grant-reconciler/internal/storage"
	"github.com/grant-reconciler/internal/types"
)

// CatalogService exposes the catalog with reconciled chain ids
type CatalogService struct {
	store      storage.CatalogStore
	reconciler *IdentifierReconciler
}

// NewCatalogService creates a catalog service
func NewCatalogService(store storage.CatalogStore, reconciler *IdentifierReconciler) *CatalogService {
	if reconciler == nil {
		reconciler = NewIdentifierReconciler()
	}
	return &CatalogService{store: store, reconciler: reconciler}
}

// List returns active rows, highest score first, each with its chain id and provenance
func (s *CatalogService) List(ctx context.Context) ([]types.CatalogEntry, error) {
	rows, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return s.reconciler.ReconcileAll(rows), nil
}

// Create inserts a row and returns it reconciled
func (s *CatalogService) Create(ctx context.Context, p *types.NewCatalogProject) (*types.CatalogEntry, error) {
	row, err := s.store.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	entries := s.reconciler.ReconcileAll([]*types.CatalogProject{row})
	return &entries[0], nil
}

// Resolve maps a catalog id to a chain project reference
func (s *CatalogService) Resolve(ctx context.Context, catalogID int64) (types.ProjectRef, error) {
	row, err := s.store.GetByID(ctx, catalogID)
	if err != nil {
		return types.ProjectRef{}, err
	}
	return s.reconciler.Resolve(row)
}

// LinkChainID stores a confirmed chain id on a catalog row
func (s *CatalogService) LinkChainID(ctx context.Context, catalogID, chainID int64, txHash string) error {
	return s.store.SetBlockchainProjectID(ctx, catalogID, chainID, txHash)
}

// RecordProposal catalogs a project that was proposed on chain without a row
func (s *CatalogService) RecordProposal(ctx context.Context, owner string, intent types.ProposeIntent, chainID int64, txHash string) error {
	amount := intent.RequestedAmount
	_, err := s.store.Create(ctx, &types.NewCatalogProject{
		ProjectAddress:      owner,
		Name:                intent.Name,
		Description:         intent.Description,
		GithubURL:           intent.GithubURL,
		RequestedAmount:     &amount,
		BlockchainTxHash:    &txHash,
		BlockchainProjectID: &chainID,
	})
	return err
}

// UpdateImpactScore mirrors an on-chain score write into the catalog
func (s *CatalogService) UpdateImpactScore(ctx context.Context, chainID int64, score int) error {
	return s.store.UpdateImpactScoreByChainID(ctx, chainID, score)
}
