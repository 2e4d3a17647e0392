package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grant-reconciler/internal/errors"
	"github.com/grant-reconciler/internal/types"
)

func decodeRequest(t *testing.T, body string) *ActionRequest {
	t.Helper()
	var req ActionRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	return &req
}

func TestBuildVoteFromChainIDIsConfirmed(t *testing.T) {
	rig := newTestRig()
	b := NewIntentBuilder(rig.catalogs)

	intent, err := b.Build(context.Background(), decodeRequest(t, `{"kind":"vote","project":{"chainId":4},"support":true}`))
	require.NoError(t, err)
	vote, ok := intent.(types.VoteIntent)
	require.True(t, ok)
	assert.Equal(t, types.ProjectRef{ChainID: 4, Provenance: types.ProvenanceConfirmed}, vote.Project)
	assert.True(t, vote.Support)
}

func TestBuildResolvesCatalogIDs(t *testing.T) {
	rig := newTestRig()
	rig.catalog.Put(&types.CatalogProject{ID: 7, IsActive: true})
	linked := int64(42)
	rig.catalog.Put(&types.CatalogProject{ID: 3, IsActive: true, BlockchainProjectID: &linked})
	b := NewIntentBuilder(rig.catalogs)

	intent, err := b.Build(context.Background(), decodeRequest(t, `{"kind":"update_score","project":{"catalogId":7},"score":80}`))
	require.NoError(t, err)
	assert.Equal(t, types.ProjectRef{ChainID: 6, Provenance: types.ProvenanceInferred}, intent.(types.UpdateScoreIntent).Project)

	intent, err = b.Build(context.Background(), decodeRequest(t,
		`{"kind":"distribute_grants","allocations":[{"project":{"catalogId":3},"amount":"1000000000000000000000","reason":"milestone"}]}`))
	require.NoError(t, err)
	alloc := intent.(types.DistributeGrantsIntent).Allocations[0]
	assert.Equal(t, types.ProjectRef{ChainID: 42, Provenance: types.ProvenanceConfirmed}, alloc.Project)
	assert.Equal(t, "1000000000000000000000", alloc.Amount.String())
}

func TestBuildRejectsIncompleteRequests(t *testing.T) {
	rig := newTestRig()
	b := NewIntentBuilder(rig.catalogs)

	cases := map[string]string{
		"unknown kind":     `{"kind":"burn"}`,
		"vote no support":  `{"kind":"vote","project":{"chainId":1}}`,
		"vote no project":  `{"kind":"vote","support":false}`,
		"negative chainId": `{"kind":"assign_companies","project":{"chainId":-2}}`,
		"score missing":    `{"kind":"update_score","project":{"chainId":1}}`,
		"propose amount":   `{"kind":"propose","name":"x","githubUrl":"https://github.com/a/b"}`,
		"deposit value":    `{"kind":"deposit_treasury"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := b.Build(context.Background(), decodeRequest(t, body))
			assert.Equal(t, 400, errors.GetHTTPStatusCode(err))
		})
	}
}

func TestBuildUnknownCatalogRow(t *testing.T) {
	rig := newTestRig()
	b := NewIntentBuilder(rig.catalogs)

	_, err := b.Build(context.Background(), decodeRequest(t, `{"kind":"vote","project":{"catalogId":99},"support":true}`))
	assert.Equal(t, 404, errors.GetHTTPStatusCode(err))
}

func TestBuildCatalogSelectorWithoutCatalog(t *testing.T) {
	b := NewIntentBuilder(nil)

	_, err := b.Build(context.Background(), decodeRequest(t, `{"kind":"vote","project":{"catalogId":1},"support":true}`))
	assert.Equal(t, 503, errors.GetHTTPStatusCode(err))
}
