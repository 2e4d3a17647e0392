package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grant-reconciler/internal/errors"
	"github.com/grant-reconciler/internal/types"
)

const (
	companyA = "0x00000000000000000000000000000000000000A1"
	companyB = "0x00000000000000000000000000000000000000b2"
	companyX = "0x00000000000000000000000000000000000000c3"
)

func TestDeriveRatesNeverDividesByZero(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("rates are zero without assigned companies", prop.ForAll(
		func(votesFor, votesAgainst uint64) bool {
			approval, rejection := DeriveRates(votesFor, votesAgainst, 0)
			return approval == 0 && rejection == 0
		},
		gen.UInt64(), gen.UInt64(),
	))
	properties.TestingRun(t)

	approval, rejection := DeriveRates(2, 1, 3)
	assert.Equal(t, 67, approval)
	assert.Equal(t, 33, rejection)
}

func TestAssembleProjectViewDerivedFields(t *testing.T) {
	rig := newTestRig()
	rig.reader.addCompany(companyA, "Acme Ventures")
	rig.reader.addCompany(companyB, "Beta Capital")
	p := project(0, 2, 1)
	p.IsApproved = true
	p.IsFunded = true
	rig.reader.addProject(p, companyA, companyB, companyX)
	rig.reader.scores[0] = 73

	view, err := rig.assembler.AssembleProjectView(context.Background(), 0, nil)
	require.NoError(t, err)

	assert.Equal(t, types.BadgeFunded, view.StatusBadge)
	assert.Equal(t, uint64(3), view.TotalVotes)
	assert.Equal(t, 67, view.ApprovalRate)
	assert.Equal(t, 33, view.RejectionRate)
	require.NotNil(t, view.Project.ImpactScore)
	assert.Equal(t, uint64(73), *view.Project.ImpactScore)

	require.Len(t, view.AssignedCompanies, 3)
	assert.Equal(t, "Acme Ventures", view.AssignedCompanies[0].Name)
	assert.True(t, view.AssignedCompanies[0].Registered)
	assert.Equal(t, "Company 0x0000...00c3", view.AssignedCompanies[2].Name)
	assert.False(t, view.AssignedCompanies[2].Registered)
}

func TestAssembleProjectViewCarriesCatalogLinkAndSessionScore(t *testing.T) {
	rig := newTestRig()
	rig.reader.addProject(project(6, 0, 0))
	rig.catalog.Put(&types.CatalogProject{ID: 7, Name: "legacy", IsActive: true})

	session, _ := rig.sessions.GetOrCreate("")
	session.SetScore(&types.ScoreResult{ProjectChainID: 6, ImpactScore: 55})

	view, err := rig.assembler.AssembleProjectView(context.Background(), 6, session)
	require.NoError(t, err)
	require.NotNil(t, view.CatalogID)
	assert.Equal(t, int64(7), *view.CatalogID)
	assert.Equal(t, types.ProvenanceInferred, view.Provenance)
	require.NotNil(t, view.Score)
	assert.Equal(t, 55, view.Score.ImpactScore)
	assert.Equal(t, 0, view.ApprovalRate)
}

func TestAssembleAllToleratesPartialFailure(t *testing.T) {
	rig := newTestRig()
	for _, id := range []int64{0, 1, 2, 4} {
		rig.reader.addProject(project(id, uint64(id), 0))
	}
	rig.reader.projectErrs[3] = errors.NewChainReadError("getProject", fmt.Errorf("node timeout"))

	list, err := rig.assembler.AssembleAll(context.Background(), "test", ListOptions{SortBy: SortByID}, nil)
	require.NoError(t, err)

	require.Len(t, list.Views, 4)
	ids := make([]int64, 0, 4)
	for _, v := range list.Views {
		ids = append(ids, v.Project.ChainID)
	}
	assert.Equal(t, []int64{0, 1, 2, 4}, ids)

	require.Len(t, list.Errors, 1)
	assert.Equal(t, int64(3), list.Errors[0].ProjectChainID)
	assert.Equal(t, "CHAIN_READ_ERROR", list.Errors[0].Code)
}

func TestAssembleAllFailsWhenCountUnavailable(t *testing.T) {
	rig := newTestRig()
	rig.reader.countErr = fmt.Errorf("boom")

	_, err := rig.assembler.AssembleAll(context.Background(), "test", ListOptions{}, nil)
	assert.Error(t, err)
}

func TestAssembleAllSortsByVotesDescending(t *testing.T) {
	rig := newTestRig()
	rig.reader.addProject(project(0, 1, 0))
	rig.reader.addProject(project(1, 5, 1))
	rig.reader.addProject(project(2, 1, 0))

	list, err := rig.assembler.AssembleAll(context.Background(), "votes", ListOptions{SortBy: SortByVotes, Descending: true}, nil)
	require.NoError(t, err)
	require.Len(t, list.Views, 3)
	assert.Equal(t, int64(1), list.Views[0].Project.ChainID)
	// equal vote totals keep ascending id order
	assert.Equal(t, int64(0), list.Views[1].Project.ChainID)
	assert.Equal(t, int64(2), list.Views[2].Project.ChainID)
}

func TestSortViewsByScorePrefersSessionScore(t *testing.T) {
	committed := uint64(90)
	views := []types.ProjectView{
		{Project: types.Project{ChainID: 0}},
		{Project: types.Project{ChainID: 1, ImpactScore: &committed}},
		{Project: types.Project{ChainID: 2}, Score: &types.ScoreResult{ImpactScore: 95}},
	}
	SortViews(views, ListOptions{SortBy: SortByScore, Descending: true})
	assert.Equal(t, int64(2), views[0].Project.ChainID)
	assert.Equal(t, int64(1), views[1].Project.ChainID)
	assert.Equal(t, int64(0), views[2].Project.ChainID)
}

func TestParseListOptions(t *testing.T) {
	opts, err := ParseListOptions("", "")
	require.NoError(t, err)
	assert.Equal(t, ListOptions{SortBy: SortByID}, opts)

	opts, err = ParseListOptions("Score", "DESC")
	require.NoError(t, err)
	assert.Equal(t, ListOptions{SortBy: SortByScore, Descending: true}, opts)

	_, err = ParseListOptions("name", "")
	assert.Equal(t, 400, errors.GetHTTPStatusCode(err))
	_, err = ParseListOptions("id", "sideways")
	assert.Equal(t, 400, errors.GetHTTPStatusCode(err))
}

// blockingReader stalls ProjectCount until released so two refreshes overlap
type blockingReader struct {
	*fakeReader
	release chan struct{}
	once    sync.Once
	entered chan struct{}
}

func (b *blockingReader) ProjectCount(ctx context.Context) (int64, error) {
	first := false
	b.once.Do(func() { first = true })
	if first {
		close(b.entered)
		<-b.release
	}
	return b.fakeReader.ProjectCount(ctx)
}

func TestAssembleAllLastRequestWins(t *testing.T) {
	base := newFakeReader()
	base.addProject(project(0, 0, 0))
	reader := &blockingReader{fakeReader: base, release: make(chan struct{}), entered: make(chan struct{})}
	assembler := NewViewAssembler(reader, NewCompanyResolver(reader, 1, quietLogger()), nil, AssemblerConfig{}, quietLogger())

	var (
		wg       sync.WaitGroup
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = assembler.AssembleAll(context.Background(), "session-1", ListOptions{}, nil)
	}()

	<-reader.entered
	second, err := assembler.AssembleAll(context.Background(), "session-1", ListOptions{}, nil)
	require.NoError(t, err)
	assert.Len(t, second.Views, 1)

	close(reader.release)
	wg.Wait()
	assert.ErrorIs(t, firstErr, errors.ErrRefreshSuperseded)

	// other scopes are independent
	_, err = assembler.AssembleAll(context.Background(), "session-2", ListOptions{}, nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, assembler.trackedScopes())
}

func TestAssembleAllReleasesFinishedScopes(t *testing.T) {
	rig := newTestRig()
	rig.reader.addProject(project(0, 0, 0))

	for i := 0; i < 1000; i++ {
		_, err := rig.assembler.AssembleAll(context.Background(), fmt.Sprintf("projects:session-%d", i), ListOptions{}, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, rig.assembler.trackedScopes())

	rig.reader.countErr = fmt.Errorf("node down")
	_, err := rig.assembler.AssembleAll(context.Background(), "projects:failing", ListOptions{}, nil)
	assert.Error(t, err)
	assert.Equal(t, 0, rig.assembler.trackedScopes())
}

func TestAssembleAllRejectsImplausibleCount(t *testing.T) {
	for _, count := range []int64{-1, MaxProjectCount + 1, 1 << 62} {
		rig := newTestRig()
		c := count
		rig.reader.countOverride = &c

		_, err := rig.assembler.AssembleAll(context.Background(), "count", ListOptions{}, nil)
		var chainErr *errors.ChainReadError
		require.True(t, stderrors.As(err, &chainErr), "count %d", count)
		assert.Equal(t, 502, errors.GetHTTPStatusCode(err))
	}
}

func TestViewPreservesAmountPrecision(t *testing.T) {
	rig := newTestRig()
	amount, err := types.ParseAmount("123456789012345678901")
	require.NoError(t, err)
	p := project(0, 0, 0)
	p.RequestedAmount = amount
	rig.reader.addProject(p)

	list, err := rig.assembler.AssembleAll(context.Background(), "precision", ListOptions{}, nil)
	require.NoError(t, err)
	require.Len(t, list.Views, 1)

	data, err := json.Marshal(list)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"requestedAmount":"123456789012345678901"`)

	var decoded types.ProjectList
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "123456789012345678901", decoded.Views[0].Project.RequestedAmount.String())
}

func TestStatusBadgeFundedWinsOverApproved(t *testing.T) {
	rig := newTestRig()
	p := project(0, 3, 0)
	p.IsFunded, p.IsApproved, p.IsActive = true, true, true
	rig.reader.addProject(p)

	view, err := rig.assembler.AssembleProjectView(context.Background(), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, types.BadgeFunded, view.StatusBadge)
}
