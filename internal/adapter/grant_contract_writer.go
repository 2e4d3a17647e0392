package adapter

import (
	"context"
	"crypto/ecdsa"
	stderrors "errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/grant-reconciler/internal/errors"
	"github.com/grant-reconciler/internal/logging"
)

// ConfirmationStatus is the terminal status of a mined transaction
type ConfirmationStatus string

const (
	StatusSuccess  ConfirmationStatus = "success"
	StatusReverted ConfirmationStatus = "reverted"
)

// Confirmation is the outcome of waiting for a receipt
type Confirmation struct {
	TxHash      string
	Status      ConfirmationStatus
	BlockNumber uint64
	Logs        []*ethtypes.Log
	// RevertReason is filled for reverted transactions when a replay could recover it
	RevertReason string
}

// GrantContractWriter signs and broadcasts contract transactions from a single
// configured account and waits for their receipts.
type GrantContractWriter struct {
	backend      TransactionBackend
	contract     common.Address
	abi          abi.ABI
	key          *ecdsa.PrivateKey
	from         common.Address
	signer       ethtypes.Signer
	pollInterval time.Duration

	// Nonce allocation must not interleave between two concurrent submissions
	nonceMu sync.Mutex

	mu      sync.Mutex
	pending map[common.Hash]ethereum.CallMsg
}

// WriterConfig configures the writer
type WriterConfig struct {
	ContractAddress string
	PrivateKeyHex   string
	ChainID         int64
	PollInterval    time.Duration
}

// NewGrantContractWriter creates a writer; an invalid key is a configuration error
func NewGrantContractWriter(backend TransactionBackend, cfg WriterConfig) (*GrantContractWriter, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, cfg.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}
	parsed, err := GrantABI()
	if err != nil {
		return nil, err
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	return &GrantContractWriter{
		backend:      backend,
		contract:     common.HexToAddress(cfg.ContractAddress),
		abi:          parsed,
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		signer:       ethtypes.LatestSignerForChainID(big.NewInt(cfg.ChainID)),
		pollInterval: poll,
		pending:      make(map[common.Hash]ethereum.CallMsg),
	}, nil
}

// From returns the signing account
func (w *GrantContractWriter) From() string {
	return w.from.Hex()
}

// SubmitTransaction packs, signs and broadcasts a call to functionName. Any
// failure before the node accepts the transaction is a *errors.SubmissionRejectedError.
func (w *GrantContractWriter) SubmitTransaction(ctx context.Context, functionName string, args []interface{}, value *big.Int) (string, error) {
	method, ok := w.abi.Methods[functionName]
	if !ok || method.IsConstant() {
		return "", errors.NewSubmissionRejectedError(fmt.Errorf("%w: %s", ErrUnknownFunction, functionName))
	}
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() > 0 && !method.IsPayable() {
		return "", errors.NewSubmissionRejectedError(fmt.Errorf("%s is not payable", functionName))
	}

	data, err := w.abi.Pack(functionName, args...)
	if err != nil {
		return "", errors.NewSubmissionRejectedError(fmt.Errorf("pack %s: %w", functionName, err))
	}

	w.nonceMu.Lock()
	defer w.nonceMu.Unlock()

	nonce, err := w.backend.PendingNonceAt(ctx, w.from)
	if err != nil {
		return "", errors.NewSubmissionRejectedError(fmt.Errorf("nonce: %w", err))
	}
	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", errors.NewSubmissionRejectedError(fmt.Errorf("gas price: %w", err))
	}

	msg := ethereum.CallMsg{
		From:     w.from,
		To:       &w.contract,
		GasPrice: gasPrice,
		Value:    value,
		Data:     data,
	}
	// Estimation executes the call, so contract-level rejections surface here
	gasLimit, err := w.backend.EstimateGas(ctx, msg)
	if err != nil {
		return "", errors.NewSubmissionRejectedError(err)
	}
	gasLimit = gasLimit * 12 / 10

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &w.contract,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := ethtypes.SignTx(tx, w.signer, w.key)
	if err != nil {
		return "", errors.NewSubmissionRejectedError(fmt.Errorf("sign: %w", err))
	}

	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return "", errors.NewSubmissionRejectedError(err)
	}

	msg.Gas = gasLimit
	w.mu.Lock()
	w.pending[signed.Hash()] = msg
	w.mu.Unlock()

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"txHash":   signed.Hash().Hex(),
		"function": functionName,
		"nonce":    nonce,
	}).Info("Transaction broadcast")

	return signed.Hash().Hex(), nil
}

// WaitForConfirmation polls for the receipt until it is mined or ctx ends.
// Transient receipt errors are logged and polling continues.
func (w *GrantContractWriter) WaitForConfirmation(ctx context.Context, txHash string) (*Confirmation, error) {
	hash := common.HexToHash(txHash)
	logger := logging.FromContext(ctx).WithField("txHash", txHash)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := w.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			return w.confirmation(ctx, txHash, receipt), nil
		case err != nil && !stderrors.Is(err, ethereum.NotFound):
			logger.WithError(err).Warn("Receipt lookup failed, will retry")
		}

		select {
		case <-ctx.Done():
			w.forget(hash)
			return nil, errors.NewChainReadError("waitForConfirmation", ctx.Err())
		case <-ticker.C:
		}
	}
}

// forget drops the replay message kept for revert reasons
func (w *GrantContractWriter) forget(hash common.Hash) {
	w.mu.Lock()
	delete(w.pending, hash)
	w.mu.Unlock()
}

// pendingCount is the number of broadcast transactions awaiting a receipt
func (w *GrantContractWriter) pendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *GrantContractWriter) confirmation(ctx context.Context, txHash string, receipt *ethtypes.Receipt) *Confirmation {
	hash := common.HexToHash(txHash)
	w.mu.Lock()
	msg, known := w.pending[hash]
	delete(w.pending, hash)
	w.mu.Unlock()

	conf := &Confirmation{
		TxHash: txHash,
		Status: StatusSuccess,
		Logs:   receipt.Logs,
	}
	if receipt.BlockNumber != nil {
		conf.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status == ethtypes.ReceiptStatusSuccessful {
		return conf
	}

	conf.Status = StatusReverted
	conf.RevertReason = "execution reverted"
	if known {
		// Replaying the call at the mined block recovers the revert string
		if _, err := w.backend.CallContract(ctx, msg, receipt.BlockNumber); err != nil {
			conf.RevertReason = err.Error()
		}
	}
	return conf
}
