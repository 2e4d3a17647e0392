package adapter

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// fakeBackend answers contract calls with ABI-packed values so the real decode
// path is exercised
type fakeBackend struct {
	mu sync.Mutex

	outputs  map[string][]interface{}
	callErrs map[string]error
	logs     []ethtypes.Log
	head     uint64
	lastQ    ethereum.FilterQuery
	calls    map[string]int

	nonce        uint64
	estimateErr  error
	sendErr      error
	sent         []*ethtypes.Transaction
	receipts     map[common.Hash]*ethtypes.Receipt
	replayErr    error
	receiptCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		outputs:  make(map[string][]interface{}),
		callErrs: make(map[string]error),
		calls:    make(map[string]int),
		receipts: make(map[common.Hash]*ethtypes.Receipt),
	}
}

func (f *fakeBackend) set(method string, values ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[method] = values
}

func (f *fakeBackend) fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callErrs[method] = err
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	parsed, err := GrantABI()
	if err != nil {
		return nil, err
	}
	if len(msg.Data) < 4 {
		return nil, fmt.Errorf("short calldata")
	}
	method, err := parsed.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method.Name]++

	// A replay of a mined transaction
	if blockNumber != nil && !method.IsConstant() {
		return nil, f.replayErr
	}
	if err := f.callErrs[method.Name]; err != nil {
		return nil, err
	}
	values, ok := f.outputs[method.Name]
	if !ok {
		return nil, fmt.Errorf("no output configured for %s", method.Name)
	}
	return method.Outputs.Pack(values...)
}

func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQ = q
	var out []ethtypes.Log
	for _, lg := range f.logs {
		if q.FromBlock != nil && lg.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && lg.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 && (len(lg.Topics) == 0 || lg.Topics[0] != q.Topics[0][0]) {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptCalls++
	if r, ok := f.receipts[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) Close() {}

// packedLog builds a contract log for eventName with indexed values as topics
func packedLog(eventName string, block uint64, index uint, indexed []common.Hash, data ...interface{}) ethtypes.Log {
	parsed, _ := GrantABI()
	event := parsed.Events[eventName]
	encoded, err := event.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		panic(err)
	}
	topics := append([]common.Hash{event.ID}, indexed...)
	return ethtypes.Log{
		Address:     testContract,
		Topics:      topics,
		Data:        encoded,
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(big.NewInt(int64(block*1000) + int64(index))),
	}
}

func projectTupleValue(id int64, requested *big.Int, votesFor, votesAgainst int64, active, approved, funded bool) projectTuple {
	return projectTuple{
		Id:                  big.NewInt(id),
		ProjectAddress:      common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Name:                fmt.Sprintf("project-%d", id),
		Description:         "desc",
		GithubUrl:           "https://github.com/acme/repo",
		RequestedAmount:     requested,
		VotesFor:            big.NewInt(votesFor),
		VotesAgainst:        big.NewInt(votesAgainst),
		TotalGrantsReceived: big.NewInt(0),
		CreatedAt:           big.NewInt(1700000000),
		IsActive:            active,
		IsApproved:          approved,
		IsFunded:            funded,
	}
}
