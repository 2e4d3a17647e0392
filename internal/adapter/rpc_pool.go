package adapter

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/grant-reconciler/internal/logging"
	"github.com/grant-reconciler/internal/ratelimit"
)

// RPCClient is a dialled node connection
type RPCClient interface {
	TransactionBackend
	Close()
}

// DialFunc opens a connection to one endpoint
type DialFunc func(ctx context.Context, url string) (RPCClient, error)

func dialEthclient(ctx context.Context, url string) (RPCClient, error) {
	return ethclient.DialContext(ctx, url)
}

// RPCPool manages multiple RPC endpoints and fails over on rate limiting or
// connection errors. It sticks to the current endpoint until it misbehaves.
type RPCPool struct {
	endpoints    []string
	clients      []RPCClient
	currentIndex int
	mu           sync.RWMutex
	cooldowns    map[int]time.Time
	cooldownTime time.Duration
	dial         DialFunc
	budget       CallBudget
	costs        *ratelimit.CostRegistry
	logger       *logging.Logger
}

// CallBudget gates RPC calls on a shared compute-unit budget
type CallBudget interface {
	Wait(ctx context.Context, cu int, priority ratelimit.Priority) error
}

// RPCPoolConfig holds configuration for creating an RPC pool
type RPCPoolConfig struct {
	Endpoints []string
	// CooldownTime is how long a failed endpoint is skipped. Default: 60 seconds
	CooldownTime time.Duration
	// Dial overrides ethclient.DialContext
	Dial DialFunc
	// Budget, when set, is charged before every attempt using Costs
	Budget CallBudget
	Costs  *ratelimit.CostRegistry
}

// NewRPCPool creates a pool and dials the primary endpoint; the rest are dialled lazily
func NewRPCPool(ctx context.Context, cfg *RPCPoolConfig) (*RPCPool, error) {
	if cfg == nil || len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}

	cooldownTime := cfg.CooldownTime
	if cooldownTime == 0 {
		cooldownTime = 60 * time.Second
	}
	dial := cfg.Dial
	if dial == nil {
		dial = dialEthclient
	}

	costs := cfg.Costs
	if costs == nil {
		costs = ratelimit.NewCostRegistry(nil)
	}

	pool := &RPCPool{
		endpoints:    cfg.Endpoints,
		clients:      make([]RPCClient, len(cfg.Endpoints)),
		cooldowns:    make(map[int]time.Time),
		cooldownTime: cooldownTime,
		dial:         dial,
		budget:       cfg.Budget,
		costs:        costs,
		logger:       logging.FromContext(ctx).WithField("component", "rpc_pool"),
	}

	client, err := dial(ctx, cfg.Endpoints[0])
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary RPC endpoint: %w", err)
	}
	pool.clients[0] = client

	pool.logger.WithField("endpoints", len(cfg.Endpoints)).Info("RPC pool initialized")
	return pool, nil
}

func (p *RPCPool) current() (RPCClient, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clients[p.currentIndex], p.currentIndex
}

// CurrentIndex returns the active endpoint index
func (p *RPCPool) CurrentIndex() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentIndex
}

// EndpointCount returns the number of endpoints in the pool
func (p *RPCPool) EndpointCount() int {
	return len(p.endpoints)
}

// failover marks the failing endpoint as cooling down and switches to the next
// available one. It is a no-op if another caller already switched away.
func (p *RPCPool) failover(ctx context.Context, failedIndex int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.currentIndex != failedIndex {
		return nil
	}
	p.cooldowns[failedIndex] = time.Now()

	for i := 1; i <= len(p.endpoints); i++ {
		next := (failedIndex + i) % len(p.endpoints)
		if next == failedIndex {
			break
		}
		if since, ok := p.cooldowns[next]; ok {
			if time.Since(since) < p.cooldownTime {
				continue
			}
			delete(p.cooldowns, next)
		}
		if p.clients[next] == nil {
			client, err := p.dial(ctx, p.endpoints[next])
			if err != nil {
				p.logger.WithError(err).WithField("endpoint", next).Warn("Failed to dial fallback endpoint")
				p.cooldowns[next] = time.Now()
				continue
			}
			p.clients[next] = client
		}
		p.currentIndex = next
		p.logger.WithFields(map[string]interface{}{"from": failedIndex, "to": next}).Warn("Switched RPC endpoint")
		return nil
	}

	return fmt.Errorf("all %d RPC endpoints are unavailable", len(p.endpoints))
}

// do runs fn against the current endpoint and retries on the next one when the
// error warrants a failover. Every attempt is charged to the budget.
func (p *RPCPool) do(ctx context.Context, method string, fn func(c RPCClient) error) error {
	var lastErr error
	for attempt := 0; attempt < len(p.endpoints); attempt++ {
		if p.budget != nil {
			if err := p.budget.Wait(ctx, p.costs.Cost(method), ratelimit.PriorityFromContext(ctx)); err != nil {
				p.logger.WithError(err).WithField("method", method).Debug("rpc budget check failed")
				if stderrors.Is(err, ratelimit.ErrBudgetExhausted) {
					return err
				}
			}
		}
		client, index := p.current()
		err := fn(client)
		if err == nil || !ShouldFailover(err) {
			return err
		}
		lastErr = err
		if ferr := p.failover(ctx, index); ferr != nil {
			return fmt.Errorf("%w (last error: %v)", ferr, lastErr)
		}
	}
	return lastErr
}

// CallContract implements ContractBackend
func (p *RPCPool) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := p.do(ctx, ratelimit.MethodCall, func(c RPCClient) error {
		var err error
		out, err = c.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}

// FilterLogs implements ContractBackend
func (p *RPCPool) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	var out []ethtypes.Log
	err := p.do(ctx, ratelimit.MethodGetLogs, func(c RPCClient) error {
		var err error
		out, err = c.FilterLogs(ctx, q)
		return err
	})
	return out, err
}

// BlockNumber implements ContractBackend
func (p *RPCPool) BlockNumber(ctx context.Context) (uint64, error) {
	var out uint64
	err := p.do(ctx, ratelimit.MethodBlockNumber, func(c RPCClient) error {
		var err error
		out, err = c.BlockNumber(ctx)
		return err
	})
	return out, err
}

// PendingNonceAt implements TransactionBackend
func (p *RPCPool) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var out uint64
	err := p.do(ctx, ratelimit.MethodGetTransactionCount, func(c RPCClient) error {
		var err error
		out, err = c.PendingNonceAt(ctx, account)
		return err
	})
	return out, err
}

// SuggestGasPrice implements TransactionBackend
func (p *RPCPool) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := p.do(ctx, ratelimit.MethodGasPrice, func(c RPCClient) error {
		var err error
		out, err = c.SuggestGasPrice(ctx)
		return err
	})
	return out, err
}

// EstimateGas implements TransactionBackend
func (p *RPCPool) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var out uint64
	err := p.do(ctx, ratelimit.MethodEstimateGas, func(c RPCClient) error {
		var err error
		out, err = c.EstimateGas(ctx, msg)
		return err
	})
	return out, err
}

// SendTransaction implements TransactionBackend. Resending the same signed
// transaction on another endpoint cannot double-spend: the hash and nonce are fixed.
func (p *RPCPool) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	return p.do(ctx, ratelimit.MethodSendRawTransaction, func(c RPCClient) error {
		return c.SendTransaction(ctx, tx)
	})
}

// TransactionReceipt implements TransactionBackend
func (p *RPCPool) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	var out *ethtypes.Receipt
	err := p.do(ctx, ratelimit.MethodGetReceipt, func(c RPCClient) error {
		var err error
		out, err = c.TransactionReceipt(ctx, txHash)
		return err
	})
	return out, err
}

// ShouldFailover reports whether err is an endpoint problem rather than a call problem
func ShouldFailover(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimitError(err) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "502 bad gateway") ||
		strings.Contains(errStr, "503 service unavailable")
}

// IsRateLimitError checks if an error indicates rate limiting (429)
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "throttl")
}

// Close closes all client connections
func (p *RPCPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, client := range p.clients {
		if client != nil {
			client.Close()
			p.clients[i] = nil
		}
	}
}

// Status returns the current status of the pool
func (p *RPCPool) Status() *RPCPoolStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := &RPCPoolStatus{
		TotalEndpoints: len(p.endpoints),
		CurrentIndex:   p.currentIndex,
		EndpointStatus: make([]EndpointStatus, len(p.endpoints)),
	}

	for i := range p.endpoints {
		es := EndpointStatus{
			Index:     i,
			Connected: p.clients[i] != nil,
			IsCurrent: i == p.currentIndex,
		}
		if since, ok := p.cooldowns[i]; ok {
			if remaining := p.cooldownTime - time.Since(since); remaining > 0 {
				es.InCooldown = true
				es.CooldownRemaining = remaining.String()
			}
		}
		status.EndpointStatus[i] = es
	}

	return status
}

// RPCPoolStatus represents the current status of the RPC pool
type RPCPoolStatus struct {
	TotalEndpoints int              `json:"totalEndpoints"`
	CurrentIndex   int              `json:"currentIndex"`
	EndpointStatus []EndpointStatus `json:"endpoints"`
}

// EndpointStatus represents the status of a single endpoint
type EndpointStatus struct {
	Index             int    `json:"index"`
	Connected         bool   `json:"connected"`
	IsCurrent         bool   `json:"isCurrent"`
	InCooldown        bool   `json:"inCooldown"`
	CooldownRemaining string `json:"cooldownRemaining,omitempty"`
}
