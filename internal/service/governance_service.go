package service

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/grant-reconciler/internal/errors"
	"github.com/grant-reconciler/internal/logging"
	"github.com/grant-reconciler/internal/types"
)

// UnknownProjectName labels grant events whose project could not be read
const UnknownProjectName = "Unknown Project"

// GovernanceService serves the company, treasury and funding-history reads
type GovernanceService struct {
	reader    ChainReader
	companies *CompanyResolver
	assembler *ViewAssembler
	logger    *logging.Logger
}

// NewGovernanceService creates a governance read service
func NewGovernanceService(reader ChainReader, companies *CompanyResolver, assembler *ViewAssembler, logger *logging.Logger) *GovernanceService {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &GovernanceService{reader: reader, companies: companies, assembler: assembler, logger: logger}
}

// Companies returns the registry in on-chain order. Companies whose record
// could not be read are listed with their fallback name.
func (s *GovernanceService) Companies(ctx context.Context) ([]types.Company, error) {
	idx, order, err := s.companies.BuildIndex(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Company, 0, len(order))
	for _, addr := range order {
		if c, ok := idx.Lookup(addr); ok {
			out = append(out, c)
			continue
		}
		out = append(out, types.Company{Address: addr, Name: FallbackCompanyName(addr)})
	}
	return out, nil
}

// CompanyQueue lists the projects assigned to a company with the session's
// advisory vote state
func (s *GovernanceService) CompanyQueue(ctx context.Context, address string, session *Session, opts ListOptions) ([]types.CompanyQueueEntry, []types.ViewError, error) {
	if !common.IsHexAddress(address) {
		return nil, nil, errors.NewInvalidAddressError(address)
	}
	ids, err := s.reader.CompanyAssignedProjects(ctx, address)
	if err != nil {
		return nil, nil, err
	}

	list := s.assembler.AssembleIDs(ctx, ids, opts, session)
	entries := make([]types.CompanyQueueEntry, 0, len(list.Views))
	for _, v := range list.Views {
		entries = append(entries, types.CompanyQueueEntry{
			View:     v,
			HasVoted: session != nil && session.HasVoted(v.Project.ChainID),
		})
	}
	return entries, list.Errors, nil
}

// OwnerProjects lists the projects proposed from an owner address
func (s *GovernanceService) OwnerProjects(ctx context.Context, address string, session *Session, opts ListOptions) (*types.ProjectList, error) {
	if !common.IsHexAddress(address) {
		return nil, errors.NewInvalidAddressError(address)
	}
	ids, err := s.reader.ProjectsByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	return s.assembler.AssembleIDs(ctx, ids, opts, session), nil
}

// Treasury returns the treasury summary
func (s *GovernanceService) Treasury(ctx context.Context) (types.TreasurySummary, error) {
	return s.reader.Treasury(ctx)
}

// FundingHistory returns GrantDistributed events, most recent first, named
// after their project. Name lookups that fail degrade to UnknownProjectName.
func (s *GovernanceService) FundingHistory(ctx context.Context, from, to *uint64) ([]types.GrantEvent, error) {
	events, err := s.reader.GrantEvents(ctx, from, to)
	if err != nil {
		return nil, err
	}

	names := make(map[int64]string)
	for i := range events {
		id := events[i].ProjectChainID
		name, ok := names[id]
		if !ok {
			name = UnknownProjectName
			if p, err := s.reader.GetProject(ctx, id); err != nil {
				s.logger.WithError(err).WithProject(id).Debug("grant event project lookup failed")
			} else if p.Name != "" {
				name = p.Name
			}
			names[id] = name
		}
		events[i].ProjectName = name
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber > events[j].BlockNumber
		}
		return events[i].LogIndex > events[j].LogIndex
	})
	return events, nil
}
