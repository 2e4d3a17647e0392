package service

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/grant-reconciler/internal/adapter"
	"github.com/grant-reconciler/internal/errors"
	"github.com/grant-reconciler/internal/logging"
	"github.com/grant-reconciler/internal/retry"
	"github.com/grant-reconciler/internal/storage"
	"github.com/grant-reconciler/internal/types"
)

func quietLogger() *logging.Logger {
	return logging.NewLoggerWithOutput(logging.LevelError, logging.FormatJSON, io.Discard)
}

// fakeReader is an in-memory ChainReader
type fakeReader struct {
	mu              sync.Mutex
	projects        map[int64]types.Project
	projectErrs     map[int64]error
	assigned        map[int64][]string
	companies       []string
	records         map[string]types.Company
	recordErrs      map[string]error
	scores          map[int64]uint64
	events          []types.GrantEvent
	treasury        types.TreasurySummary
	companyProjects map[string][]int64
	ownerProjects   map[string][]int64
	proposedID      *int64
	countErr        error
	countOverride   *int64
	getProjectCalls int
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		projects:        make(map[int64]types.Project),
		projectErrs:     make(map[int64]error),
		assigned:        make(map[int64][]string),
		records:         make(map[string]types.Company),
		recordErrs:      make(map[string]error),
		scores:          make(map[int64]uint64),
		companyProjects: make(map[string][]int64),
		ownerProjects:   make(map[string][]int64),
	}
}

func (f *fakeReader) addProject(p types.Project, assigned ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[p.ChainID] = p
	f.assigned[p.ChainID] = assigned
}

func (f *fakeReader) addCompany(addr, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.companies = append(f.companies, addr)
	f.records[strings.ToLower(addr)] = types.Company{Address: addr, Name: name, IsActive: true}
}

func (f *fakeReader) update(chainID int64, fn func(p *types.Project)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.projects[chainID]
	fn(&p)
	f.projects[chainID] = p
}

func (f *fakeReader) ProjectCount(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	if f.countOverride != nil {
		return *f.countOverride, nil
	}
	return int64(len(f.projects) + len(f.projectErrs)), nil
}

func (f *fakeReader) GetProject(ctx context.Context, chainID int64) (types.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getProjectCalls++
	if err, ok := f.projectErrs[chainID]; ok {
		return types.Project{}, err
	}
	p, ok := f.projects[chainID]
	if !ok {
		return types.Project{}, errors.NewChainReadError("getProject", fmt.Errorf("execution reverted: project %d does not exist", chainID))
	}
	return p, nil
}

func (f *fakeReader) ImpactScore(ctx context.Context, chainID int64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scores[chainID], nil
}

func (f *fakeReader) AssignedCompanies(ctx context.Context, chainID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.assigned[chainID]...), nil
}

func (f *fakeReader) AllCompanies(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.companies...), nil
}

func (f *fakeReader) Company(ctx context.Context, address string) (types.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.recordErrs[strings.ToLower(address)]; ok {
		return types.Company{}, err
	}
	return f.records[strings.ToLower(address)], nil
}

func (f *fakeReader) CompanyAssignedProjects(ctx context.Context, address string) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.companyProjects[strings.ToLower(address)], nil
}

func (f *fakeReader) ProjectsByAddress(ctx context.Context, address string) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ownerProjects[strings.ToLower(address)], nil
}

func (f *fakeReader) Treasury(ctx context.Context) (types.TreasurySummary, error) {
	return f.treasury, nil
}

func (f *fakeReader) GrantEvents(ctx context.Context, from, to *uint64) ([]types.GrantEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.GrantEvent(nil), f.events...), nil
}

func (f *fakeReader) ProposedProjectID(logs []*ethtypes.Log) (int64, bool) {
	if f.proposedID == nil {
		return 0, false
	}
	return *f.proposedID, true
}

// fakeWriter records broadcasts and confirms them on demand
type fakeWriter struct {
	mu        sync.Mutex
	sent      []string
	args      [][]interface{}
	values    []*big.Int
	submitErr error
	gate      chan struct{}
	status    adapter.ConfirmationStatus
	reason    string
	waitErr   error
	onConfirm func()
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{status: adapter.StatusSuccess}
}

func (w *fakeWriter) From() string { return "0x00000000000000000000000000000000000000F0" }

func (w *fakeWriter) SubmitTransaction(ctx context.Context, fn string, args []interface{}, value *big.Int) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitErr != nil {
		return "", errors.NewSubmissionRejectedError(w.submitErr)
	}
	w.sent = append(w.sent, fn)
	w.args = append(w.args, args)
	w.values = append(w.values, value)
	return fmt.Sprintf("0x%064x", len(w.sent)), nil
}

func (w *fakeWriter) WaitForConfirmation(ctx context.Context, txHash string) (*adapter.Confirmation, error) {
	w.mu.Lock()
	gate := w.gate
	w.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, errors.NewChainReadError("waitForConfirmation", ctx.Err())
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.waitErr != nil {
		return nil, w.waitErr
	}
	if w.onConfirm != nil && w.status == adapter.StatusSuccess {
		w.onConfirm()
	}
	return &adapter.Confirmation{
		TxHash:       txHash,
		Status:       w.status,
		BlockNumber:  99,
		RevertReason: w.reason,
	}, nil
}

func (w *fakeWriter) broadcasts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sent)
}

type testRig struct {
	reader    *fakeReader
	writer    *fakeWriter
	catalog   *storage.MemoryCatalog
	catalogs  *CatalogService
	assembler *ViewAssembler
	submitter *ActionSubmitter
	governor  *GovernanceService
	sessions  *SessionStore
}

func newTestRig() *testRig {
	logger := quietLogger()
	reader := newFakeReader()
	writer := newFakeWriter()
	catalog := storage.NewMemoryCatalog()
	catalogs := NewCatalogService(catalog, NewIdentifierReconciler())
	companies := NewCompanyResolver(reader, 4, logger)
	assembler := NewViewAssembler(reader, companies, catalogs, AssemblerConfig{
		MaxConcurrency: 3,
		ReadRetry:      retry.FixedDelayConfig(2, time.Millisecond),
	}, logger)
	submitter := NewActionSubmitter(writer, reader, assembler, catalogs, storage.NewMemoryInFlightStore(), SubmitterConfig{
		ConfirmationTimeout: time.Second,
		RefreshDelay:        time.Millisecond,
		RefreshRetries:      1,
	}, logger)

	return &testRig{
		reader:    reader,
		writer:    writer,
		catalog:   catalog,
		catalogs:  catalogs,
		assembler: assembler,
		submitter: submitter,
		governor:  NewGovernanceService(reader, companies, assembler, logger),
		sessions:  NewSessionStore(time.Minute),
	}
}

func project(id int64, votesFor, votesAgainst uint64) types.Project {
	return types.Project{
		ChainID:             id,
		Name:                fmt.Sprintf("project-%d", id),
		GithubURL:           fmt.Sprintf("https://github.com/acme/p%d", id),
		RequestedAmount:     types.AmountFromUint64(1000),
		TotalGrantsReceived: types.AmountFromUint64(0),
		VotesFor:            votesFor,
		VotesAgainst:        votesAgainst,
		IsActive:            true,
	}
}

func confirmedRef(id int64) types.ProjectRef {
	return types.ProjectRef{ChainID: id, Provenance: types.ProvenanceConfirmed}
}
