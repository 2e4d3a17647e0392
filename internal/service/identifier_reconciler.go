package service

import (
	"github.com/grant-reconciler/internal/errors"
	"github.com/grant-reconciler/internal/types"
)

// IdentifierReconciler maps catalog rows to chain project ids.
//
// Rows that carry blockchain_project_id resolve to it as confirmed. Legacy
// rows fall back to catalogId-1, which only holds if rows were created in
// proposal order; those ids are tagged inferred so irreversible actions can
// refuse them.
type IdentifierReconciler struct{}

// NewIdentifierReconciler creates a reconciler
func NewIdentifierReconciler() *IdentifierReconciler {
	return &IdentifierReconciler{}
}

// Resolve returns the chain id for row, or an UnresolvedIdentifierError
func (r *IdentifierReconciler) Resolve(row *types.CatalogProject) (types.ProjectRef, error) {
	if row.BlockchainProjectID != nil {
		if *row.BlockchainProjectID < 0 {
			return types.ProjectRef{}, &errors.UnresolvedIdentifierError{
				CatalogID: row.ID,
				Reason:    "stored chain id is negative",
			}
		}
		return types.ProjectRef{ChainID: *row.BlockchainProjectID, Provenance: types.ProvenanceConfirmed}, nil
	}

	chainID := row.ID - 1
	if chainID < 0 {
		return types.ProjectRef{}, &errors.UnresolvedIdentifierError{
			CatalogID: row.ID,
			Reason:    "legacy fallback produced a negative id",
		}
	}
	return types.ProjectRef{ChainID: chainID, Provenance: types.ProvenanceInferred}, nil
}

// ReconcileAll resolves every row. Unresolvable rows keep a nil ChainID and
// carry the reason instead of failing the whole list.
func (r *IdentifierReconciler) ReconcileAll(rows []*types.CatalogProject) []types.CatalogEntry {
	entries := make([]types.CatalogEntry, 0, len(rows))
	for _, row := range rows {
		entry := types.CatalogEntry{CatalogProject: *row}
		ref, err := r.Resolve(row)
		if err != nil {
			entry.Unresolved = err.Error()
		} else {
			id := ref.ChainID
			entry.ChainID = &id
			entry.Provenance = ref.Provenance
		}
		entries = append(entries, entry)
	}
	return entries
}

// ByChainID indexes resolved entries by chain id. When two rows claim the
// same id, a confirmed row wins over an inferred one.
func ByChainID(entries []types.CatalogEntry) map[int64]types.CatalogEntry {
	out := make(map[int64]types.CatalogEntry, len(entries))
	for _, e := range entries {
		if e.ChainID == nil {
			continue
		}
		prev, ok := out[*e.ChainID]
		if ok && prev.Provenance == types.ProvenanceConfirmed && e.Provenance != types.ProvenanceConfirmed {
			continue
		}
		out[*e.ChainID] = e
	}
	return out
}
