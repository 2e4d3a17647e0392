package adapter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grant-reconciler/internal/ratelimit"
)

type headBackend struct {
	*fakeBackend
	err error
}

func (h *headBackend) BlockNumber(ctx context.Context) (uint64, error) {
	if h.err != nil {
		return 0, h.err
	}
	return h.fakeBackend.BlockNumber(ctx)
}

func TestRPCPoolFailsOverOnRateLimit(t *testing.T) {
	primary := &headBackend{fakeBackend: newFakeBackend(), err: fmt.Errorf("429 Too Many Requests")}
	secondary := &headBackend{fakeBackend: newFakeBackend()}
	secondary.head = 42

	dialled := map[string]int{}
	pool, err := NewRPCPool(context.Background(), &RPCPoolConfig{
		Endpoints:    []string{"primary", "secondary"},
		CooldownTime: time.Minute,
		Dial: func(ctx context.Context, url string) (RPCClient, error) {
			dialled[url]++
			if url == "primary" {
				return primary, nil
			}
			return secondary, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, dialled["secondary"])

	head, err := pool.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), head)
	assert.Equal(t, 1, pool.CurrentIndex())
	assert.True(t, pool.Status().EndpointStatus[0].InCooldown)
}

func TestRPCPoolDoesNotFailOverOnCallErrors(t *testing.T) {
	primary := &headBackend{fakeBackend: newFakeBackend(), err: fmt.Errorf("execution reverted")}
	pool, err := NewRPCPool(context.Background(), &RPCPoolConfig{
		Endpoints: []string{"primary", "secondary"},
		Dial: func(ctx context.Context, url string) (RPCClient, error) {
			return primary, nil
		},
	})
	require.NoError(t, err)

	_, err = pool.BlockNumber(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, pool.CurrentIndex())
}

func TestRPCPoolAllEndpointsDown(t *testing.T) {
	down := &headBackend{fakeBackend: newFakeBackend(), err: fmt.Errorf("dial tcp: connection refused")}
	pool, err := NewRPCPool(context.Background(), &RPCPoolConfig{
		Endpoints: []string{"a", "b"},
		Dial: func(ctx context.Context, url string) (RPCClient, error) {
			return down, nil
		},
	})
	require.NoError(t, err)

	_, err = pool.BlockNumber(context.Background())
	assert.Error(t, err)
}

func TestShouldFailover(t *testing.T) {
	assert.True(t, ShouldFailover(fmt.Errorf("429 Too Many Requests")))
	assert.True(t, ShouldFailover(fmt.Errorf("context deadline exceeded (Client.Timeout exceeded)")))
	assert.False(t, ShouldFailover(fmt.Errorf("execution reverted: Not authorized")))
	assert.False(t, ShouldFailover(nil))
}

type recordingBudget struct {
	charged    []int
	priorities []ratelimit.Priority
	err        error
}

func (b *recordingBudget) Wait(ctx context.Context, cu int, priority ratelimit.Priority) error {
	b.charged = append(b.charged, cu)
	b.priorities = append(b.priorities, priority)
	return b.err
}

func TestRPCPoolChargesBudgetPerAttempt(t *testing.T) {
	primary := &headBackend{fakeBackend: newFakeBackend(), err: fmt.Errorf("429 Too Many Requests")}
	secondary := &headBackend{fakeBackend: newFakeBackend()}
	budget := &recordingBudget{}

	pool, err := NewRPCPool(context.Background(), &RPCPoolConfig{
		Endpoints: []string{"primary", "secondary"},
		Budget:    budget,
		Dial: func(ctx context.Context, url string) (RPCClient, error) {
			if url == "primary" {
				return primary, nil
			}
			return secondary, nil
		},
	})
	require.NoError(t, err)

	ctx := ratelimit.WithPriority(context.Background(), ratelimit.PriorityRefresh)
	_, err = pool.BlockNumber(ctx)
	require.NoError(t, err)

	assert.Equal(t, []int{10, 10}, budget.charged)
	assert.Equal(t, []ratelimit.Priority{ratelimit.PriorityRefresh, ratelimit.PriorityRefresh}, budget.priorities)
}

func TestRPCPoolStopsWhenBudgetExhausted(t *testing.T) {
	backend := &headBackend{fakeBackend: newFakeBackend()}
	budget := &recordingBudget{err: ratelimit.ErrBudgetExhausted}

	pool, err := NewRPCPool(context.Background(), &RPCPoolConfig{
		Endpoints: []string{"only"},
		Budget:    budget,
		Dial: func(ctx context.Context, url string) (RPCClient, error) {
			return backend, nil
		},
	})
	require.NoError(t, err)

	_, err = pool.BlockNumber(context.Background())
	assert.ErrorIs(t, err, ratelimit.ErrBudgetExhausted)
}

func TestRPCPoolProceedsWhenBudgetStoreFails(t *testing.T) {
	backend := &headBackend{fakeBackend: newFakeBackend()}
	backend.head = 7
	budget := &recordingBudget{err: fmt.Errorf("budget check failed: connection refused")}

	pool, err := NewRPCPool(context.Background(), &RPCPoolConfig{
		Endpoints: []string{"only"},
		Budget:    budget,
		Dial: func(ctx context.Context, url string) (RPCClient, error) {
			return backend, nil
		},
	})
	require.NoError(t, err)

	head, err := pool.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), head)
}
