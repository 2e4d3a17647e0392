package service

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grant-reconciler/internal/errors"
	"github.com/grant-reconciler/internal/types"
)

func int64Ptr(v int64) *int64 { return &v }

func TestResolveLegacyRowIsInferred(t *testing.T) {
	ref, err := NewIdentifierReconciler().Resolve(&types.CatalogProject{ID: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(6), ref.ChainID)
	assert.Equal(t, types.ProvenanceInferred, ref.Provenance)
}

func TestResolveStoredIDIsConfirmed(t *testing.T) {
	ref, err := NewIdentifierReconciler().Resolve(&types.CatalogProject{ID: 7, BlockchainProjectID: int64Ptr(42)})
	require.NoError(t, err)
	assert.Equal(t, int64(42), ref.ChainID)
	assert.Equal(t, types.ProvenanceConfirmed, ref.Provenance)
}

func TestResolveNeverProducesNegativeIDs(t *testing.T) {
	r := NewIdentifierReconciler()
	for _, row := range []*types.CatalogProject{
		{ID: 0},
		{ID: -5},
		{ID: 3, BlockchainProjectID: int64Ptr(-1)},
	} {
		_, err := r.Resolve(row)
		var unresolved *errors.UnresolvedIdentifierError
		assert.True(t, stderrors.As(err, &unresolved), "row %d", row.ID)
		assert.Equal(t, 422, errors.GetHTTPStatusCode(err))
	}
}

func TestReconcileAllKeepsUnresolvedRows(t *testing.T) {
	entries := NewIdentifierReconciler().ReconcileAll([]*types.CatalogProject{
		{ID: 0},
		{ID: 1},
		{ID: 9, BlockchainProjectID: int64Ptr(0)},
	})
	require.Len(t, entries, 3)
	assert.Nil(t, entries[0].ChainID)
	assert.NotEmpty(t, entries[0].Unresolved)

	// both rows claim chain id 0; the confirmed one wins
	byID := ByChainID(entries)
	assert.Equal(t, int64(9), byID[0].ID)
	assert.Equal(t, types.ProvenanceConfirmed, byID[0].Provenance)
}
