package service

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/grant-reconciler/internal/logging"
	"github.com/grant-reconciler/internal/types"
)

// CompanyIndex maps lowercased company addresses to registry records.
// It is built once per refresh and read-only afterwards.
type CompanyIndex map[string]types.Company

// Lookup finds a company by address, case-insensitively
func (idx CompanyIndex) Lookup(address string) (types.Company, bool) {
	c, ok := idx[strings.ToLower(address)]
	return c, ok
}

// Companies returns the index entries in registry order
func (idx CompanyIndex) Companies(order []string) []types.Company {
	out := make([]types.Company, 0, len(idx))
	for _, addr := range order {
		if c, ok := idx.Lookup(addr); ok {
			out = append(out, c)
		}
	}
	return out
}

// FallbackCompanyName is the display name for an address missing from the registry
func FallbackCompanyName(address string) string {
	if len(address) <= 10 {
		return "Company " + address
	}
	return "Company " + address[:6] + "..." + address[len(address)-4:]
}

// CompanyResolver builds the company index and joins assignments through it
type CompanyResolver struct {
	reader      ChainReader
	concurrency int
	logger      *logging.Logger
}

// NewCompanyResolver creates a resolver reading at most concurrency companies at once
func NewCompanyResolver(reader ChainReader, concurrency int, logger *logging.Logger) *CompanyResolver {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &CompanyResolver{reader: reader, concurrency: concurrency, logger: logger}
}

// BuildIndex reads the full registry. A company whose record cannot be read
// is left out of the index and later displayed with its fallback name.
func (r *CompanyResolver) BuildIndex(ctx context.Context) (CompanyIndex, []string, error) {
	addresses, err := r.reader.AllCompanies(ctx)
	if err != nil {
		return nil, nil, err
	}

	var (
		mu  sync.Mutex
		idx = make(CompanyIndex, len(addresses))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, addr := range addresses {
		addr := addr
		g.Go(func() error {
			company, err := r.reader.Company(gctx, addr)
			if err != nil {
				r.logger.WithError(err).WithField("company", addr).Warn("company record unavailable")
				return nil
			}
			if company.Address == "" {
				company.Address = addr
			}
			mu.Lock()
			idx[strings.ToLower(addr)] = company
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return idx, addresses, nil
}

// AssignedCompaniesOf joins a project's assignments through idx
func (r *CompanyResolver) AssignedCompaniesOf(ctx context.Context, idx CompanyIndex, chainID int64) ([]types.AssignedCompany, error) {
	addresses, err := r.reader.AssignedCompanies(ctx, chainID)
	if err != nil {
		return nil, err
	}
	return JoinAssignments(idx, addresses), nil
}

// JoinAssignments resolves names for addresses, falling back to a truncated address
func JoinAssignments(idx CompanyIndex, addresses []string) []types.AssignedCompany {
	out := make([]types.AssignedCompany, 0, len(addresses))
	for _, addr := range addresses {
		if c, ok := idx.Lookup(addr); ok && c.Name != "" {
			out = append(out, types.AssignedCompany{Address: addr, Name: c.Name, Registered: true})
			continue
		}
		out = append(out, types.AssignedCompany{Address: addr, Name: FallbackCompanyName(addr)})
	}
	return out
}
