package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/grant-reconciler/internal/types"
)

// ErrRefreshSuperseded is returned when a newer refresh for the same scope started
// before this one finished.
var ErrRefreshSuperseded = stderrors.New("refresh superseded by a newer request")

// ChainReadError is an RPC/node failure or a malformed contract response
type ChainReadError struct {
	Op  string
	Err error
}

func (e *ChainReadError) Error() string {
	return fmt.Sprintf("chain read %s: %v", e.Op, e.Err)
}

func (e *ChainReadError) Unwrap() error { return e.Err }

// NewChainReadError wraps err unless it already is a ChainReadError
func NewChainReadError(op string, err error) error {
	var existing *ChainReadError
	if stderrors.As(err, &existing) {
		return err
	}
	return &ChainReadError{Op: op, Err: err}
}

// UnresolvedIdentifierError means a catalog row could not be mapped to a chain id
type UnresolvedIdentifierError struct {
	CatalogID int64
	Reason    string
}

func (e *UnresolvedIdentifierError) Error() string {
	return fmt.Sprintf("catalog project %d has no chain id: %s", e.CatalogID, e.Reason)
}

// InferredIdentifierError refuses an irreversible action against a heuristically derived id
type InferredIdentifierError struct {
	ProjectChainID int64
	Kind           types.IntentKind
}

func (e *InferredIdentifierError) Error() string {
	return fmt.Sprintf("refusing %s on project %d: chain id is inferred, not confirmed", e.Kind, e.ProjectChainID)
}

// FailureCause classifies a write failure
type FailureCause string

const (
	CauseInsufficientFunds FailureCause = "insufficient_funds"
	CauseUserRejected      FailureCause = "user_rejected"
	CauseUnauthorized      FailureCause = "unauthorized"
	CauseAlreadyVoted      FailureCause = "already_voted"
	CauseGeneric           FailureCause = "generic"
)

var causePatterns = []struct {
	cause    FailureCause
	patterns []string
}{
	{CauseInsufficientFunds, []string{"insufficient funds", "insufficient balance", "insufficient treasury"}},
	{CauseUserRejected, []string{"user rejected", "user denied", "rejected by user"}},
	{CauseAlreadyVoted, []string{"already voted"}},
	{CauseUnauthorized, []string{"not authorized", "unauthorized", "only owner", "caller is not", "not assigned", "not a registered", "only ai oracle"}},
}

// ClassifyFailure pattern-matches a raw failure message to a known cause
func ClassifyFailure(message string) FailureCause {
	lower := strings.ToLower(message)
	for _, entry := range causePatterns {
		for _, p := range entry.patterns {
			if strings.Contains(lower, p) {
				return entry.cause
			}
		}
	}
	return CauseGeneric
}

// SubmissionRejectedError means the transaction never left the node: signing failed or
// the node refused it before broadcast. Fully resumable.
type SubmissionRejectedError struct {
	Cause FailureCause
	Err   error
}

func (e *SubmissionRejectedError) Error() string {
	return fmt.Sprintf("submission rejected (%s): %v", e.Cause, e.Err)
}

func (e *SubmissionRejectedError) Unwrap() error { return e.Err }

// Raw returns the unmodified underlying message
func (e *SubmissionRejectedError) Raw() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// NewSubmissionRejectedError classifies err
func NewSubmissionRejectedError(err error) *SubmissionRejectedError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &SubmissionRejectedError{Cause: ClassifyFailure(msg), Err: err}
}

// TransactionRevertedError means the transaction was mined but execution reverted
type TransactionRevertedError struct {
	TxHash     string
	Cause      FailureCause
	RawMessage string
}

func (e *TransactionRevertedError) Error() string {
	if e.RawMessage == "" {
		return fmt.Sprintf("transaction %s reverted (%s)", e.TxHash, e.Cause)
	}
	return fmt.Sprintf("transaction %s reverted (%s): %s", e.TxHash, e.Cause, e.RawMessage)
}

// NewTransactionRevertedError classifies a revert reason
func NewTransactionRevertedError(txHash, raw string) *TransactionRevertedError {
	return &TransactionRevertedError{TxHash: txHash, Cause: ClassifyFailure(raw), RawMessage: raw}
}

// AlreadyInFlightError rejects a submit for an action that is not idle
type AlreadyInFlightError struct {
	Key   string
	State string
}

func (e *AlreadyInFlightError) Error() string {
	return fmt.Sprintf("action %s is already in flight (state %s)", e.Key, e.State)
}

// AlreadyVotedError rejects a vote once a confirmed vote was observed in this session
type AlreadyVotedError struct {
	ProjectChainID int64
}

func (e *AlreadyVotedError) Error() string {
	return fmt.Sprintf("a vote on project %d was already confirmed in this session", e.ProjectChainID)
}

// WriteDisabledError is returned when no signer is configured
type WriteDisabledError struct{}

func (e *WriteDisabledError) Error() string {
	return "write path disabled: no signer configured"
}
