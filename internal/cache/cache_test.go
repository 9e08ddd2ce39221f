package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cloneSlice(s []int) []int {
	out := make([]int, len(s))
	copy(out, s)
	return out
}

func TestGetOrComputeCachesValue(t *testing.T) {
	c := New[[]int](10, time.Minute, cloneSlice)
	ctx := context.Background()
	calls := 0
	compute := func(context.Context) ([]int, error) {
		calls++
		return []int{1, 2, 3}, nil
	}

	first, hit, err := c.GetOrCompute(ctx, "k", false, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []int{1, 2, 3}, first)

	second, hit, err := c.GetOrCompute(ctx, "k", false, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestGetOrComputeBypassRecomputes(t *testing.T) {
	c := New[[]int](10, time.Minute, cloneSlice)
	ctx := context.Background()
	calls := 0
	compute := func(context.Context) ([]int, error) {
		calls++
		return []int{calls}, nil
	}

	_, _, err := c.GetOrCompute(ctx, "k", false, compute)
	require.NoError(t, err)

	fresh, hit, err := c.GetOrCompute(ctx, "k", true, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []int{2}, fresh)

	// Bypass refreshed the cached entry
	cached, hit, err := c.GetOrCompute(ctx, "k", false, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []int{2}, cached)
}

func TestEntriesExpire(t *testing.T) {
	c := New[[]int](10, 50*time.Millisecond, cloneSlice)
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	c.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	ctx := context.Background()
	calls := 0
	compute := func(context.Context) ([]int, error) {
		calls++
		return []int{calls}, nil
	}

	_, _, err := c.GetOrCompute(ctx, "k", false, compute)
	require.NoError(t, err)

	mu.Lock()
	current = current.Add(time.Second)
	mu.Unlock()

	_, hit, err := c.GetOrCompute(ctx, "k", false, compute)
	require.NoError(t, err)
	assert.False(t, hit, "expired entry must be recomputed")
	assert.Equal(t, 2, calls)
}

func TestCachedValuesAreIsolated(t *testing.T) {
	c := New[[]int](10, time.Minute, cloneSlice)
	ctx := context.Background()

	first, _, err := c.GetOrCompute(ctx, "k", false, func(context.Context) ([]int, error) {
		return []int{7}, nil
	})
	require.NoError(t, err)
	first[0] = 99

	second, hit, err := c.GetOrCompute(ctx, "k", false, nil)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []int{7}, second, "caller mutation must not reach the cache")
}

func TestErrorsAreNotCached(t *testing.T) {
	c := New[[]int](10, time.Minute, cloneSlice)
	ctx := context.Background()
	calls := 0

	_, _, err := c.GetOrCompute(ctx, "k", false, func(context.Context) ([]int, error) {
		calls++
		return nil, errors.New("backend down")
	})
	require.Error(t, err)

	value, hit, err := c.GetOrCompute(ctx, "k", false, func(context.Context) ([]int, error) {
		calls++
		return []int{1}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []int{1}, value)
	assert.Equal(t, 2, calls)
}

func TestSingleflightCollapsesConcurrentMisses(t *testing.T) {
	c := New[[]int](10, time.Minute, cloneSlice)
	ctx := context.Background()

	var computes int32
	gate := make(chan struct{})
	compute := func(context.Context) ([]int, error) {
		atomic.AddInt32(&computes, 1)
		<-gate
		return []int{42}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, _, err := c.GetOrCompute(ctx, "k", false, compute)
			assert.NoError(t, err)
			assert.Equal(t, []int{42}, value)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&computes))
}

func TestKeyDeterminism(t *testing.T) {
	a := Key("query", "message", "10", "0.60")
	b := Key("query", "message", "10", "0.60")
	assert.Equal(t, a, b)

	c := Key("query", "message", "10", "0.65")
	assert.NotEqual(t, a, c)

	// Field boundaries matter
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
}

func TestPurge(t *testing.T) {
	c := New[[]int](10, time.Minute, cloneSlice)
	_, _, err := c.GetOrCompute(context.Background(), "k", false, func(context.Context) ([]int, error) {
		return []int{1}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	c.Purge()
	assert.Zero(t, c.Len())
}
