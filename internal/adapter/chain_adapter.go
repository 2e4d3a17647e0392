package adapter

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ContractBackend is the read side of an EVM node used by the contract reader
type ContractBackend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// TransactionBackend adds what the writer needs to sign, broadcast and confirm
type TransactionBackend interface {
	ContractBackend
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Common error types for adapters
var (
	// ErrInvalidAddress indicates the address format is invalid
	ErrInvalidAddress = fmt.Errorf("invalid address format")

	// ErrUnknownFunction indicates the contract has no such view function
	ErrUnknownFunction = fmt.Errorf("unknown contract function")

	// ErrNotReadOnly indicates a generic read targeted a state-changing function
	ErrNotReadOnly = fmt.Errorf("function is not view or pure")

	// ErrUnknownEvent indicates the contract has no such event
	ErrUnknownEvent = fmt.Errorf("unknown contract event")

	// ErrInvalidBlockRange indicates an invalid block range was specified
	ErrInvalidBlockRange = fmt.Errorf("invalid block range")

	// ErrInvalidRepositoryURL indicates the URL is not a github.com/{owner}/{repo} URL
	ErrInvalidRepositoryURL = fmt.Errorf("invalid repository URL")

	// ErrRepositoryNotFound indicates the code host returned 404
	ErrRepositoryNotFound = fmt.Errorf("repository not found")
)

// AdapterError wraps errors from an external source with operation context
type AdapterError struct {
	Source  string // e.g. "github", "scoring"
	Op      string
	Err     error
	Details map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("adapter error [%s:%s]: %v (details: %+v)", e.Source, e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("adapter error [%s:%s]: %v", e.Source, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(source, op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Source:  source,
		Op:      op,
		Err:     err,
		Details: details,
	}
}
