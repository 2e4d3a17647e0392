package service

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/grant-reconciler/internal/adapter"
	"github.com/grant-reconciler/internal/errors"
	"github.com/grant-reconciler/internal/logging"
	"github.com/grant-reconciler/internal/retry"
	"github.com/grant-reconciler/internal/storage"
	"github.com/grant-reconciler/internal/types"
)

// ActionState is a state of the per-action submission machine
type ActionState string

const (
	StateIdle                ActionState = "idle"
	StateSubmitting          ActionState = "submitting"
	StatePendingConfirmation ActionState = "pending_confirmation"
	StateConfirmed           ActionState = "confirmed"
	StateFailed              ActionState = "failed"
)

var allowedTransitions = map[ActionState][]ActionState{
	StateIdle:                {StateSubmitting},
	StateSubmitting:          {StatePendingConfirmation, StateFailed},
	StatePendingConfirmation: {StateConfirmed, StateFailed},
	StateConfirmed:           {StateIdle},
	StateFailed:              {StateIdle},
}

// settled states accept a new submission
func (s ActionState) settled() bool {
	return s == StateIdle || s == StateConfirmed || s == StateFailed
}

// StateTransition is one entry of an action's history
type StateTransition struct {
	State ActionState `json:"state"`
	At    time.Time   `json:"at"`
}

// ActionSnapshot is a point-in-time copy of an action state machine
type ActionSnapshot struct {
	ID          string              `json:"id"`
	Key         string              `json:"key"`
	Kind        types.IntentKind    `json:"kind"`
	State       ActionState         `json:"state"`
	TxHash      string              `json:"txHash,omitempty"`
	BlockNumber uint64              `json:"blockNumber,omitempty"`
	ChainID     *int64              `json:"chainId,omitempty"` // set for a confirmed proposal
	Error       *types.ServiceError `json:"error,omitempty"`
	Views       []types.ProjectView `json:"views,omitempty"`
	History     []StateTransition   `json:"history"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// actionRecord is guarded by its Session's mutex
type actionRecord struct {
	snapshot ActionSnapshot
	done     chan struct{}
}

func (r *actionRecord) state() ActionState {
	return r.snapshot.State
}

// idle reports whether the record accepts a new attempt: a settled state
// whose post-confirmation work has finished
func (r *actionRecord) idle() bool {
	if !r.snapshot.State.settled() {
		return false
	}
	if r.done == nil {
		return true
	}
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *actionRecord) transition(to ActionState, at time.Time) error {
	from := r.snapshot.State
	for _, next := range allowedTransitions[from] {
		if next == to {
			r.snapshot.State = to
			r.snapshot.UpdatedAt = at
			r.snapshot.History = append(r.snapshot.History, StateTransition{State: to, At: at})
			return nil
		}
	}
	return fmt.Errorf("illegal action transition %s -> %s", from, to)
}

func (r *actionRecord) copy() *ActionSnapshot {
	snap := r.snapshot
	snap.History = append([]StateTransition(nil), r.snapshot.History...)
	snap.Views = append([]types.ProjectView(nil), r.snapshot.Views...)
	return &snap
}

// SubmitterConfig configures the action submitter
type SubmitterConfig struct {
	ConfirmationTimeout time.Duration
	// RefreshDelay is the fixed wait between post-confirmation refresh attempts
	RefreshDelay time.Duration
	// RefreshRetries is the number of delayed refreshes after the first; at least one
	RefreshRetries int
	// LockTTL bounds how long a crashed instance can hold a shared in-flight key
	LockTTL time.Duration
}

// ActionSubmitter drives single-flight submission of intents
type ActionSubmitter struct {
	writer    ChainWriter
	reader    ChainReader
	assembler *ViewAssembler
	catalog   *CatalogService
	locks     storage.InFlightStore
	cfg       SubmitterConfig
	logger    *logging.Logger
	now       func() time.Time
}

// NewActionSubmitter creates a submitter. A nil writer disables every write
// with WriteDisabledError; a nil catalog skips catalog write-backs.
func NewActionSubmitter(writer ChainWriter, reader ChainReader, assembler *ViewAssembler, catalog *CatalogService, locks storage.InFlightStore, cfg SubmitterConfig, logger *logging.Logger) *ActionSubmitter {
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 2 * time.Minute
	}
	if cfg.RefreshRetries < 1 {
		cfg.RefreshRetries = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.ConfirmationTimeout + time.Minute
	}
	if locks == nil {
		locks = storage.NewMemoryInFlightStore()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &ActionSubmitter{
		writer:    writer,
		reader:    reader,
		assembler: assembler,
		catalog:   catalog,
		locks:     locks,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// WriteEnabled reports whether a signer is configured
func (s *ActionSubmitter) WriteEnabled() bool {
	return s.writer != nil
}

// Submit validates intent and broadcasts its transaction. It returns once the
// transaction is broadcast; confirmation is awaited in the background and
// observable through Action or Await.
func (s *ActionSubmitter) Submit(ctx context.Context, session *Session, intent types.Intent) (*ActionSnapshot, error) {
	if s.writer == nil {
		return nil, &errors.WriteDisabledError{}
	}
	if err := s.validate(session, intent); err != nil {
		return nil, err
	}
	fn, args, value, err := callFor(intent)
	if err != nil {
		return nil, err
	}

	key := intent.Key()
	logger := s.logger.WithIntent(string(intent.Kind()), key).WithField("session", session.ID)

	rec, err := s.claim(session, intent)
	if err != nil {
		return nil, err
	}

	lockKey := strings.ToLower(s.writer.From()) + ":" + key
	token := rec.snapshot.ID
	acquired, err := s.locks.Acquire(ctx, lockKey, token, s.cfg.LockTTL)
	if err != nil || !acquired {
		if err == nil {
			err = &errors.AlreadyInFlightError{Key: key, State: string(StateSubmitting)}
		}
		s.fail(session, rec, err)
		return nil, err
	}

	baseline := s.baseline(ctx, intent.Projects())

	txHash, err := s.writer.SubmitTransaction(ctx, fn, args, value)
	if err != nil {
		logger.WithError(err).Warn("submission rejected")
		s.fail(session, rec, err)
		s.release(lockKey, token)
		return nil, err
	}

	session.mu.Lock()
	rec.snapshot.TxHash = txHash
	if terr := rec.transition(StatePendingConfirmation, s.now()); terr != nil {
		logger.WithError(terr).Error("action state machine violated")
	}
	snap := rec.copy()
	session.mu.Unlock()

	logger.WithField("txHash", txHash).Info("transaction broadcast")

	waitCtx := logging.WithLogger(context.WithoutCancel(ctx), logger)
	go s.await(waitCtx, session, rec, intent, lockKey, token, txHash, baseline)

	return snap, nil
}

// claim moves the session's record for intent from a settled state to
// Submitting, or rejects the call when the action is already running
func (s *ActionSubmitter) claim(session *Session, intent types.Intent) (*actionRecord, error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	key := intent.Key()
	now := s.now()
	rec, ok := session.actions[key]
	if ok && !rec.idle() {
		return nil, &errors.AlreadyInFlightError{Key: key, State: string(rec.state())}
	}
	if !ok {
		rec = &actionRecord{snapshot: ActionSnapshot{
			Key:     key,
			Kind:    intent.Kind(),
			State:   StateIdle,
			History: []StateTransition{{State: StateIdle, At: now}},
		}}
		session.actions[key] = rec
	} else if rec.state() != StateIdle {
		if err := rec.transition(StateIdle, now); err != nil {
			return nil, err
		}
	}

	rec.snapshot.ID = uuid.NewString()
	rec.snapshot.TxHash = ""
	rec.snapshot.BlockNumber = 0
	rec.snapshot.ChainID = nil
	rec.snapshot.Error = nil
	rec.snapshot.Views = nil
	rec.done = make(chan struct{})
	if err := rec.transition(StateSubmitting, now); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *ActionSubmitter) fail(session *Session, rec *actionRecord, cause error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	rec.snapshot.Error = serviceError(cause)
	if err := rec.transition(StateFailed, s.now()); err != nil {
		s.logger.WithError(err).Error("action state machine violated")
	}
	close(rec.done)
}

func (s *ActionSubmitter) release(lockKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.locks.Release(ctx, lockKey, token); err != nil {
		s.logger.WithError(err).WithField("key", lockKey).Warn("failed to release in-flight key")
	}
}

func (s *ActionSubmitter) await(ctx context.Context, session *Session, rec *actionRecord, intent types.Intent, lockKey, token, txHash string, baseline map[int64]string) {
	logger := logging.FromContext(ctx)
	defer s.release(lockKey, token)

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmationTimeout)
	conf, err := s.writer.WaitForConfirmation(waitCtx, txHash)
	cancel()
	if err != nil {
		logger.WithError(err).WithField("txHash", txHash).Warn("confirmation not observed")
		s.fail(session, rec, err)
		return
	}
	if conf.Status == adapter.StatusReverted {
		reverted := errors.NewTransactionRevertedError(txHash, conf.RevertReason)
		logger.WithField("txHash", txHash).WithField("cause", string(reverted.Cause)).Warn("transaction reverted")
		s.fail(session, rec, reverted)
		return
	}

	session.mu.Lock()
	rec.snapshot.BlockNumber = conf.BlockNumber
	if terr := rec.transition(StateConfirmed, s.now()); terr != nil {
		logger.WithError(terr).Error("action state machine violated")
	}
	session.mu.Unlock()
	logger.WithField("txHash", txHash).WithField("block", conf.BlockNumber).Info("transaction confirmed")

	refs := intent.Projects()
	var proposedID *int64
	switch it := intent.(type) {
	case types.VoteIntent:
		session.markVoted(it.Project.ChainID)
	case types.ProposeIntent:
		if id, ok := s.reader.ProposedProjectID(conf.Logs); ok {
			proposedID = &id
			refs = append(refs, types.ProjectRef{ChainID: id, Provenance: types.ProvenanceConfirmed})
		}
	}
	s.afterConfirm(ctx, intent, txHash, proposedID)

	views := make([]types.ProjectView, 0, len(refs))
	for _, ref := range refs {
		if s.assembler == nil {
			break
		}
		prev, had := baseline[ref.ChainID]
		if proposedID != nil && ref.ChainID == *proposedID {
			// the project did not exist before, any successful read shows it
			prev, had = "", true
		}
		if v := s.refresh(ctx, session, ref.ChainID, prev, had); v != nil {
			views = append(views, *v)
		}
	}

	session.mu.Lock()
	rec.snapshot.ChainID = proposedID
	rec.snapshot.Views = views
	close(rec.done)
	session.mu.Unlock()
}

// afterConfirm mirrors confirmed chain writes into the catalog. Failures are
// logged; the chain stays authoritative.
func (s *ActionSubmitter) afterConfirm(ctx context.Context, intent types.Intent, txHash string, proposedID *int64) {
	if s.catalog == nil {
		return
	}
	logger := logging.FromContext(ctx)

	switch it := intent.(type) {
	case types.ProposeIntent:
		if proposedID == nil {
			logger.Warn("confirmed proposal carried no ProjectProposed log, catalog not linked")
			return
		}
		var err error
		if it.CatalogID > 0 {
			err = s.catalog.LinkChainID(ctx, it.CatalogID, *proposedID, txHash)
		} else {
			err = s.catalog.RecordProposal(ctx, s.writer.From(), it, *proposedID, txHash)
		}
		if err != nil {
			logger.WithError(err).WithProject(*proposedID).Warn("failed to link proposal into catalog")
		}
	case types.UpdateScoreIntent:
		if err := s.catalog.UpdateImpactScore(ctx, it.Project.ChainID, int(it.Score)); err != nil { // #nosec G115 - validated <= 100
			logger.WithError(err).WithProject(it.Project.ChainID).Warn("failed to mirror impact score into catalog")
		}
	}
}

// errNotYetVisible marks a refresh that still sees pre-transaction state
var errNotYetVisible = fmt.Errorf("confirmed change not yet visible")

// refresh re-reads a project until it differs from its pre-submission
// fingerprint. It always retries at least once after the fixed delay, then
// returns the last view flagged Stale. Without a pre-submission read the first
// refresh stands in for it, so an unverified view is never reported as final.
func (s *ActionSubmitter) refresh(ctx context.Context, session *Session, chainID int64, baseline string, hasBaseline bool) *types.ProjectView {
	var view *types.ProjectView
	cfg := retry.FixedDelayConfig(1+s.cfg.RefreshRetries, s.cfg.RefreshDelay)

	result := retry.Do(ctx, cfg, func(ctx context.Context, attempt int) error {
		v, err := s.assembler.AssembleProjectView(ctx, chainID, session)
		if err != nil {
			return err
		}
		view = v
		fp := fingerprint(v)
		if !hasBaseline {
			baseline, hasBaseline = fp, true
			return errNotYetVisible
		}
		if fp == baseline {
			return errNotYetVisible
		}
		return nil
	})

	if view == nil {
		logging.FromContext(ctx).WithError(result.LastError).WithProject(chainID).Warn("post-confirmation refresh failed")
		return nil
	}
	if !result.Success {
		view.Stale = true
	}
	return view
}

func (s *ActionSubmitter) baseline(ctx context.Context, refs []types.ProjectRef) map[int64]string {
	out := make(map[int64]string, len(refs))
	if s.assembler == nil {
		return out
	}
	for _, ref := range refs {
		v, err := s.assembler.AssembleProjectView(ctx, ref.ChainID, nil)
		if err != nil {
			continue
		}
		out[ref.ChainID] = fingerprint(v)
	}
	return out
}

// fingerprint captures the chain-derived parts of a view
func fingerprint(v *types.ProjectView) string {
	p := v.Project
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%d|%d|%t|%t|%t|%s|%s", p.ChainID, p.VotesFor, p.VotesAgainst,
		p.IsActive, p.IsApproved, p.IsFunded, p.RequestedAmount.String(), p.TotalGrantsReceived.String())
	if p.ImpactScore != nil {
		fmt.Fprintf(&b, "|score=%d", *p.ImpactScore)
	}
	for _, c := range v.AssignedCompanies {
		b.WriteString("|" + strings.ToLower(c.Address))
	}
	return b.String()
}

// Action returns the current snapshot of an action in session
func (s *ActionSubmitter) Action(session *Session, key string) (*ActionSnapshot, bool) {
	session.mu.Lock()
	defer session.mu.Unlock()
	rec, ok := session.actions[key]
	if !ok {
		return nil, false
	}
	return rec.copy(), true
}

// Await blocks until the current attempt of key settles or ctx ends
func (s *ActionSubmitter) Await(ctx context.Context, session *Session, key string) (*ActionSnapshot, error) {
	session.mu.Lock()
	rec, ok := session.actions[key]
	var done chan struct{}
	if ok {
		done = rec.done
	}
	session.mu.Unlock()
	if !ok {
		return nil, errors.NewNotFoundError("action", key)
	}

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	snap, _ := s.Action(session, key)
	return snap, nil
}

// validate enforces the local preconditions of an intent
func (s *ActionSubmitter) validate(session *Session, intent types.Intent) error {
	for _, ref := range intent.Projects() {
		if ref.ChainID < 0 {
			return &errors.UnresolvedIdentifierError{CatalogID: ref.ChainID + 1, Reason: "negative chain id"}
		}
		if intent.Irreversible() && ref.Provenance != types.ProvenanceConfirmed {
			return &errors.InferredIdentifierError{ProjectChainID: ref.ChainID, Kind: intent.Kind()}
		}
	}

	switch it := intent.(type) {
	case types.VoteIntent:
		if session.HasVoted(it.Project.ChainID) {
			return &errors.AlreadyVotedError{ProjectChainID: it.Project.ChainID}
		}
	case types.ProposeIntent:
		if strings.TrimSpace(it.Name) == "" || strings.TrimSpace(it.GithubURL) == "" {
			return errors.NewInvalidParameterError("name,githubUrl", "required")
		}
		if it.RequestedAmount.IsZero() {
			return errors.NewInvalidParameterError("requestedAmount", "must be positive")
		}
	case types.AssignCompaniesIntent:
		if len(it.Companies) == 0 {
			return errors.NewInvalidParameterError("companies", "at least one company is required")
		}
		for _, c := range it.Companies {
			if !common.IsHexAddress(c) {
				return errors.NewInvalidAddressError(c)
			}
		}
	case types.DistributeGrantsIntent:
		if len(it.Allocations) == 0 {
			return errors.NewInvalidParameterError("allocations", "at least one allocation is required")
		}
		seen := make(map[int64]bool, len(it.Allocations))
		for _, a := range it.Allocations {
			if a.Amount.IsZero() {
				return errors.NewInvalidParameterError("allocations.amount", "must be positive")
			}
			if seen[a.Project.ChainID] {
				return errors.NewInvalidParameterError("allocations", fmt.Sprintf("project %d listed twice", a.Project.ChainID))
			}
			seen[a.Project.ChainID] = true
		}
	case types.RegisterCompanyIntent:
		if !common.IsHexAddress(it.Address) {
			return errors.NewInvalidAddressError(it.Address)
		}
		if strings.TrimSpace(it.Name) == "" {
			return errors.NewInvalidParameterError("name", "required")
		}
	case types.UpdateScoreIntent:
		if it.Score > 100 {
			return errors.NewInvalidParameterError("score", "must be between 0 and 100")
		}
	case types.UpdateOracleIntent:
		if !common.IsHexAddress(it.Oracle) {
			return errors.NewInvalidAddressError(it.Oracle)
		}
	case types.DepositTreasuryIntent:
		if it.Value.IsZero() {
			return errors.NewInvalidParameterError("value", "must be positive")
		}
	default:
		return errors.NewInvalidParameterError("kind", fmt.Sprintf("unsupported intent %s", intent.Kind()))
	}
	return nil
}

// callFor maps an intent to its contract call
func callFor(intent types.Intent) (string, []interface{}, *big.Int, error) {
	switch it := intent.(type) {
	case types.ProposeIntent:
		return "proposeProject", []interface{}{it.Name, it.Description, it.GithubURL, it.RequestedAmount.Big()}, nil, nil
	case types.VoteIntent:
		return "voteOnProject", []interface{}{big.NewInt(it.Project.ChainID), it.Support}, nil, nil
	case types.AssignCompaniesIntent:
		addrs := make([]common.Address, len(it.Companies))
		for i, c := range it.Companies {
			addrs[i] = common.HexToAddress(c)
		}
		return "assignProjectToCompanies", []interface{}{big.NewInt(it.Project.ChainID), addrs}, nil, nil
	case types.DistributeGrantsIntent:
		ids := make([]*big.Int, len(it.Allocations))
		amounts := make([]*big.Int, len(it.Allocations))
		reasons := make([]string, len(it.Allocations))
		for i, a := range it.Allocations {
			ids[i] = big.NewInt(a.Project.ChainID)
			amounts[i] = a.Amount.Big()
			reasons[i] = a.Reason
		}
		return "distributeGrants", []interface{}{ids, amounts, reasons}, nil, nil
	case types.RegisterCompanyIntent:
		return "registerCompany", []interface{}{common.HexToAddress(it.Address), it.Name}, nil, nil
	case types.UpdateScoreIntent:
		return "updateImpactScore", []interface{}{big.NewInt(it.Project.ChainID), new(big.Int).SetUint64(it.Score)}, nil, nil
	case types.UpdateOracleIntent:
		return "updateAIOracle", []interface{}{common.HexToAddress(it.Oracle)}, nil, nil
	case types.DepositTreasuryIntent:
		return "depositToTreasury", nil, it.Value.Big(), nil
	}
	return "", nil, nil, errors.NewInvalidParameterError("kind", fmt.Sprintf("unsupported intent %s", intent.Kind()))
}

// serviceError converts any error into the wire error shape
func serviceError(err error) *types.ServiceError {
	cat := errors.Categorize(err)
	return &types.ServiceError{Code: cat.Code, Message: cat.Message, Details: cat.Details}
}
