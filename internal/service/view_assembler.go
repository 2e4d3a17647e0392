package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/grant-reconciler/internal/errors"
	"github.com/grant-reconciler/internal/logging"
	"github.com/grant-reconciler/internal/ratelimit"
	"github.com/grant-reconciler/internal/retry"
	"github.com/grant-reconciler/internal/types"
)

// MaxProjectCount bounds the project count accepted from the node before a
// full list is assembled
const MaxProjectCount = 100000

// SortField selects the list ordering
type SortField string

const (
	SortByID    SortField = "id"
	SortByScore SortField = "score"
	SortByVotes SortField = "votes"
)

// ListOptions controls the ordering of an assembled list
type ListOptions struct {
	SortBy     SortField
	Descending bool
}

// ParseListOptions reads sort/order query values, defaulting to id ascending
func ParseListOptions(sortBy, order string) (ListOptions, error) {
	opts := ListOptions{SortBy: SortByID}
	switch SortField(strings.ToLower(sortBy)) {
	case "", SortByID:
	case SortByScore:
		opts.SortBy = SortByScore
	case SortByVotes:
		opts.SortBy = SortByVotes
	default:
		return opts, errors.NewInvalidParameterError("sort", "must be one of id, score, votes")
	}
	switch strings.ToLower(order) {
	case "", "asc":
	case "desc":
		opts.Descending = true
	default:
		return opts, errors.NewInvalidParameterError("order", "must be asc or desc")
	}
	return opts, nil
}

// AssemblerConfig configures the view assembler
type AssemblerConfig struct {
	MaxConcurrency int
	// ReadRetry applies to retryable chain read failures per project
	ReadRetry *retry.RetryConfig
}

// ViewAssembler derives ProjectViews from chain state, the company index,
// catalog links and the session's provisional scores
type ViewAssembler struct {
	reader    ChainReader
	companies *CompanyResolver
	catalog   *CatalogService
	cfg       AssemblerConfig
	logger    *logging.Logger

	mu          sync.Mutex
	generations map[string]*generation
}

// NewViewAssembler creates an assembler. catalog may be nil.
func NewViewAssembler(reader ChainReader, companies *CompanyResolver, catalog *CatalogService, cfg AssemblerConfig, logger *logging.Logger) *ViewAssembler {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.ReadRetry == nil {
		cfg.ReadRetry = retry.DefaultRetryConfig()
	}
	if cfg.ReadRetry.ShouldRetry == nil {
		cfg.ReadRetry.ShouldRetry = errors.IsRetryable
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &ViewAssembler{
		reader:      reader,
		companies:   companies,
		catalog:     catalog,
		cfg:         cfg,
		logger:      logger,
		generations: make(map[string]*generation),
	}
}

// DeriveRates returns approval and rejection percentages over the assigned
// company count, both zero when no company is assigned
func DeriveRates(votesFor, votesAgainst uint64, assigned int) (int, int) {
	if assigned <= 0 {
		return 0, 0
	}
	n := float64(assigned)
	return roundHalfUp(float64(votesFor) / n * 100), roundHalfUp(float64(votesAgainst) / n * 100)
}

// refresh context shared by every project of one assembly
type refreshContext struct {
	index   CompanyIndex
	links   map[int64]types.CatalogEntry
	session *Session
}

func (a *ViewAssembler) prepare(ctx context.Context, session *Session) *refreshContext {
	rc := &refreshContext{session: session}

	idx, _, err := a.companies.BuildIndex(ctx)
	if err != nil {
		a.logger.WithError(err).Warn("company index unavailable, assignments will show fallback names")
		idx = CompanyIndex{}
	}
	rc.index = idx

	if a.catalog != nil {
		entries, err := a.catalog.List(ctx)
		if err != nil {
			a.logger.WithError(err).Warn("catalog unavailable, views will not carry catalog links")
		} else {
			rc.links = ByChainID(entries)
		}
	}
	return rc
}

func (a *ViewAssembler) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	result := retry.Do(ctx, a.cfg.ReadRetry, func(ctx context.Context, attempt int) error {
		return fn(ctx)
	})
	if !result.Success {
		return result.LastError
	}
	return nil
}

func (a *ViewAssembler) assemble(ctx context.Context, chainID int64, rc *refreshContext) (*types.ProjectView, error) {
	var project types.Project
	if err := a.withRetry(ctx, func(ctx context.Context) (err error) {
		project, err = a.reader.GetProject(ctx, chainID)
		return err
	}); err != nil {
		return nil, err
	}

	var assigned []types.AssignedCompany
	if err := a.withRetry(ctx, func(ctx context.Context) (err error) {
		assigned, err = a.companies.AssignedCompaniesOf(ctx, rc.index, chainID)
		return err
	}); err != nil {
		return nil, err
	}

	// the committed score is decoration; a failed read leaves it unset
	if score, err := a.reader.ImpactScore(ctx, chainID); err != nil {
		a.logger.WithError(err).WithProject(chainID).Debug("impact score read failed")
	} else if score > 0 {
		project.ImpactScore = &score
	}

	view := &types.ProjectView{
		Project:           project,
		AssignedCompanies: assigned,
		TotalVotes:        project.VotesFor + project.VotesAgainst,
		StatusBadge:       types.DeriveBadge(project),
	}
	view.ApprovalRate, view.RejectionRate = DeriveRates(project.VotesFor, project.VotesAgainst, len(assigned))

	if rc.session != nil {
		if score, ok := rc.session.Score(chainID); ok {
			view.Score = score
		}
	}
	if entry, ok := rc.links[chainID]; ok {
		id := entry.ID
		view.CatalogID = &id
		view.Provenance = entry.Provenance
	}
	return view, nil
}

// AssembleProjectView assembles a single project with a fresh company index
func (a *ViewAssembler) AssembleProjectView(ctx context.Context, chainID int64, session *Session) (*types.ProjectView, error) {
	if chainID < 0 {
		return nil, errors.NewInvalidParameterError("chainId", "must be non-negative")
	}
	return a.assemble(ctx, chainID, a.prepare(ctx, session))
}

// generation tracks the newest refresh of a scope and how many are running
type generation struct {
	latest  uint64
	running int
}

// begin starts a new generation for scope; older refreshes of the same
// scope discard their result
func (a *ViewAssembler) begin(scope string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.generations[scope]
	if !ok {
		g = &generation{}
		a.generations[scope] = g
	}
	g.latest++
	g.running++
	return g.latest
}

// finish ends a refresh and reports whether it is still the newest one. The
// scope entry is dropped once no refresh of it is running.
func (a *ViewAssembler) finish(scope string, gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.generations[scope]
	if !ok {
		return false
	}
	current := g.latest == gen
	g.running--
	if g.running <= 0 {
		delete(a.generations, scope)
	}
	return current
}

// trackedScopes is the number of scopes with a refresh in flight
func (a *ViewAssembler) trackedScopes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.generations)
}

// AssembleAll assembles every on-chain project. Individual failures are
// reported in Errors and never abort the list. When a newer refresh for the
// same scope starts before this one finishes, ErrRefreshSuperseded is returned.
func (a *ViewAssembler) AssembleAll(ctx context.Context, scope string, opts ListOptions, session *Session) (*types.ProjectList, error) {
	gen := a.begin(scope)
	var list *types.ProjectList
	err := func() error {
		ctx := ratelimit.WithPriority(ctx, ratelimit.PriorityRefresh)

		var count int64
		if err := a.withRetry(ctx, func(ctx context.Context) (err error) {
			count, err = a.reader.ProjectCount(ctx)
			return err
		}); err != nil {
			return err
		}
		if count < 0 || count > MaxProjectCount {
			return errors.NewChainReadError("projectCount", fmt.Errorf("implausible project count %d (limit %d)", count, MaxProjectCount))
		}

		ids := make([]int64, count)
		for i := range ids {
			ids[i] = int64(i)
		}
		list = a.AssembleIDs(ctx, ids, opts, session)
		return nil
	}()

	if !a.finish(scope, gen) {
		return nil, errors.ErrRefreshSuperseded
	}
	if err != nil {
		return nil, err
	}
	return list, nil
}

// AssembleIDs assembles the given projects with bounded parallelism
func (a *ViewAssembler) AssembleIDs(ctx context.Context, ids []int64, opts ListOptions, session *Session) *types.ProjectList {
	rc := a.prepare(ctx, session)

	var (
		mu   sync.Mutex
		list = &types.ProjectList{Views: make([]types.ProjectView, 0, len(ids))}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MaxConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			view, err := a.assemble(gctx, id, rc)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.logger.WithError(err).WithProject(id).Warn("project failed to load")
				cat := errors.Categorize(err)
				list.Errors = append(list.Errors, types.ViewError{
					ProjectChainID: id,
					Code:           cat.Code,
					Message:        fmt.Sprintf("failed to load project %d: %s", id, err.Error()),
				})
				return nil
			}
			list.Views = append(list.Views, *view)
			return nil
		})
	}
	_ = g.Wait()

	SortViews(list.Views, opts)
	sort.Slice(list.Errors, func(i, j int) bool {
		return list.Errors[i].ProjectChainID < list.Errors[j].ProjectChainID
	})
	return list
}

// SortViews orders views by opts, breaking ties by ascending chain id
func SortViews(views []types.ProjectView, opts ListOptions) {
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Project.ChainID < views[j].Project.ChainID
	})
	if opts.SortBy == SortByID && !opts.Descending {
		return
	}
	key := func(v types.ProjectView) int64 {
		switch opts.SortBy {
		case SortByScore:
			return effectiveScore(v)
		case SortByVotes:
			return int64(v.TotalVotes) // #nosec G115 - vote counts are small
		default:
			return v.Project.ChainID
		}
	}
	sort.SliceStable(views, func(i, j int) bool {
		ki, kj := key(views[i]), key(views[j])
		if opts.Descending {
			return ki > kj
		}
		return ki < kj
	})
}

// effectiveScore prefers the session's provisional score over the committed one.
// Unscored projects sort as -1.
func effectiveScore(v types.ProjectView) int64 {
	if v.Score != nil {
		return int64(v.Score.ImpactScore)
	}
	if v.Project.ImpactScore != nil {
		return int64(*v.Project.ImpactScore) // #nosec G115 - scores are 0..100
	}
	return -1
}
