// Package ratelimit shares an RPC compute-unit budget between service
// instances through Redis. Interactive calls draw on a reserved pool so a
// large view refresh cannot starve a vote confirmation.
package ratelimit

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultTotalBudget    = 330 // CU/s, the free tier of most hosted providers
	DefaultReservedBudget = 130
	DefaultWindowSize     = time.Second
)

const (
	keyPrefixTotal    = "cu:total:"
	keyPrefixReserved = "cu:reserved:"
	keyPrefixShared   = "cu:shared:"
)

// Priority selects the budget pool a call draws from.
type Priority int

const (
	// PriorityInteractive covers single-project reads, writes and confirmations.
	PriorityInteractive Priority = iota
	// PriorityRefresh covers bulk view refreshes and log scans.
	PriorityRefresh
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityInteractive:
		return "interactive"
	case PriorityRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

type priorityKey struct{}

// WithPriority tags ctx so budgeted calls made with it use p
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFromContext returns the priority set on ctx, PriorityInteractive by default
func PriorityFromContext(ctx context.Context) Priority {
	if p, ok := ctx.Value(priorityKey{}).(Priority); ok {
		return p
	}
	return PriorityInteractive
}

// ErrBudgetExhausted is returned by Wait when ctx ends before budget frees up
var ErrBudgetExhausted = fmt.Errorf("rpc budget exhausted")

// consumeScript checks and increments the total and pool counters atomically
var consumeScript = redis.NewScript(`
	local totalUsed = tonumber(redis.call('GET', KEYS[1]) or '0')
	local poolUsed = tonumber(redis.call('GET', KEYS[2]) or '0')
	local cu = tonumber(ARGV[1])
	if totalUsed + cu > tonumber(ARGV[2]) or poolUsed + cu > tonumber(ARGV[3]) then
		return 0
	end
	redis.call('INCRBY', KEYS[1], cu)
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
	redis.call('INCRBY', KEYS[2], cu)
	redis.call('PEXPIRE', KEYS[2], ARGV[4])
	return 1
`)

// BudgetTracker is a fixed-window CU limiter. Refresh traffic may use at most
// total minus reserved per window; interactive traffic is bounded by the total.
type BudgetTracker struct {
	redis          redis.Cmdable
	totalBudget    int
	reservedBudget int
	sharedBudget   int
	windowSize     time.Duration
	now            func() time.Time
}

// BudgetConfig holds configuration for the budget tracker.
type BudgetConfig struct {
	Redis          redis.Cmdable
	TotalBudget    int
	ReservedBudget int
	WindowSize     time.Duration
}

// Usage is the consumption in the current window.
type Usage struct {
	TotalUsed    int       `json:"totalUsed"`
	ReservedUsed int       `json:"reservedUsed"`
	SharedUsed   int       `json:"sharedUsed"`
	TotalBudget  int       `json:"totalBudget"`
	WindowStart  time.Time `json:"windowStart"`
}

// NewBudgetTracker creates a tracker, applying defaults for zero values.
func NewBudgetTracker(cfg *BudgetConfig) (*BudgetTracker, error) {
	if cfg == nil || cfg.Redis == nil {
		return nil, stderrors.New("redis client is required")
	}
	if cfg.TotalBudget < 0 || cfg.ReservedBudget < 0 {
		return nil, stderrors.New("budgets cannot be negative")
	}

	total := cfg.TotalBudget
	if total == 0 {
		total = DefaultTotalBudget
	}
	reserved := cfg.ReservedBudget
	if reserved == 0 {
		reserved = DefaultReservedBudget
	}
	if reserved > total {
		return nil, fmt.Errorf("reserved budget (%d) cannot exceed total budget (%d)", reserved, total)
	}
	window := cfg.WindowSize
	if window <= 0 {
		window = DefaultWindowSize
	}

	return &BudgetTracker{
		redis:          cfg.Redis,
		totalBudget:    total,
		reservedBudget: reserved,
		sharedBudget:   total - reserved,
		windowSize:     window,
		now:            time.Now,
	}, nil
}

func (t *BudgetTracker) window() (int64, time.Time) {
	start := t.now().Truncate(t.windowSize)
	return start.UnixMilli(), start
}

func keys(windowTS int64) (total, reserved, shared string) {
	ts := strconv.FormatInt(windowTS, 10)
	return keyPrefixTotal + ts, keyPrefixReserved + ts, keyPrefixShared + ts
}

// TryConsume takes cu from the pool for priority. When denied it returns the
// time until the next window. A Redis failure allows the call: the provider's
// own rate limiting and the RPC pool failover still apply.
func (t *BudgetTracker) TryConsume(ctx context.Context, cu int, priority Priority) (bool, time.Duration, error) {
	if cu <= 0 {
		return true, 0, nil
	}

	windowTS, start := t.window()
	totalKey, reservedKey, sharedKey := keys(windowTS)
	// Refreshes are capped at the shared pool so the reserved headroom is
	// always left for interactive calls, which may use the whole budget.
	poolKey, poolBudget := sharedKey, t.sharedBudget
	if priority == PriorityInteractive {
		poolKey, poolBudget = reservedKey, t.totalBudget
	}
	if cu > poolBudget {
		cu = poolBudget
	}

	ttl := (2 * t.windowSize).Milliseconds()
	ok, err := consumeScript.Run(ctx, t.redis, []string{totalKey, poolKey}, cu, t.totalBudget, poolBudget, ttl).Int()
	if err != nil {
		return true, 0, fmt.Errorf("budget check failed: %w", err)
	}
	if ok == 1 {
		return true, 0, nil
	}

	wait := start.Add(t.windowSize).Sub(t.now())
	if wait < 0 {
		wait = 0
	}
	return false, wait + time.Millisecond, nil
}

// Wait blocks until cu is granted or ctx ends.
func (t *BudgetTracker) Wait(ctx context.Context, cu int, priority Priority) error {
	for {
		ok, wait, err := t.TryConsume(ctx, cu, priority)
		if ok {
			return err
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", ErrBudgetExhausted, ctx.Err())
		case <-timer.C:
		}
	}
}

// Usage returns consumption in the current window.
func (t *BudgetTracker) Usage(ctx context.Context) (*Usage, error) {
	windowTS, start := t.window()
	totalKey, reservedKey, sharedKey := keys(windowTS)

	pipe := t.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)
	if _, err := pipe.Exec(ctx); err != nil && !stderrors.Is(err, redis.Nil) {
		return nil, err
	}

	return &Usage{
		TotalUsed:    intOrZero(totalCmd),
		ReservedUsed: intOrZero(reservedCmd),
		SharedUsed:   intOrZero(sharedCmd),
		TotalBudget:  t.totalBudget,
		WindowStart:  start,
	}, nil
}

func intOrZero(cmd *redis.StringCmd) int {
	v, err := cmd.Int()
	if err != nil {
		return 0
	}
	return v
}
