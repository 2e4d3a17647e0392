package ratelimit

import "sync"

// DefaultCost is charged for methods missing from the registry
const DefaultCost = 20

// RPC methods issued by the contract reader and writer
const (
	MethodBlockNumber         = "eth_blockNumber"
	MethodCall                = "eth_call"
	MethodGetLogs             = "eth_getLogs"
	MethodGetTransactionCount = "eth_getTransactionCount"
	MethodGasPrice            = "eth_gasPrice"
	MethodEstimateGas         = "eth_estimateGas"
	MethodSendRawTransaction  = "eth_sendRawTransaction"
	MethodGetReceipt          = "eth_getTransactionReceipt"
)

// CostRegistry maps RPC methods to CU costs. It is safe for concurrent use.
type CostRegistry struct {
	mu          sync.RWMutex
	costs       map[string]int
	defaultCost int
}

// NewCostRegistry creates a registry with typical hosted-provider costs.
// Non-positive overrides are ignored.
func NewCostRegistry(overrides map[string]int) *CostRegistry {
	costs := map[string]int{
		MethodBlockNumber:         10,
		MethodCall:                26,
		MethodGetLogs:             75,
		MethodGetTransactionCount: 26,
		MethodGasPrice:            20,
		MethodEstimateGas:         87,
		MethodSendRawTransaction:  250,
		MethodGetReceipt:          15,
	}
	for method, cost := range overrides {
		if cost > 0 {
			costs[method] = cost
		}
	}
	return &CostRegistry{costs: costs, defaultCost: DefaultCost}
}

// Cost returns the CU cost of method
func (r *CostRegistry) Cost(method string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cost, ok := r.costs[method]; ok {
		return cost
	}
	return r.defaultCost
}

// SetCost updates the cost of a method; non-positive costs are ignored
func (r *CostRegistry) SetCost(method string, cost int) {
	if cost <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.costs[method] = cost
}
