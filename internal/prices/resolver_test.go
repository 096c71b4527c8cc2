package prices_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-coupon/internal/prices"
)

type countingSource struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	errs   map[string]error
	calls  map[string]int
}

func newCountingSource(prices map[string]string) *countingSource {
	s := &countingSource{prices: map[string]decimal.Decimal{}, errs: map[string]error{}, calls: map[string]int{}}
	for id, p := range prices {
		s.prices[id] = decimal.RequireFromString(p)
	}
	return s
}

func (s *countingSource) FetchPrice(_ context.Context, id string) (decimal.Decimal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[id]++
	if err := s.errs[id]; err != nil {
		return decimal.Decimal{}, false, err
	}
	p, ok := s.prices[id]
	return p, ok, nil
}

func (s *countingSource) callsFor(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

type recordingCache struct {
	*prices.MemoryCache
	puts   atomic.Int32
	getErr error
	putErr error
}

func (c *recordingCache) Get(ctx context.Context, id string) (decimal.Decimal, bool, error) {
	if c.getErr != nil {
		return decimal.Decimal{}, false, c.getErr
	}
	return c.MemoryCache.Get(ctx, id)
}

func (c *recordingCache) Put(ctx context.Context, id string, price decimal.Decimal) error {
	c.puts.Add(1)
	if c.putErr != nil {
		return c.putErr
	}
	return c.MemoryCache.Put(ctx, id, price)
}

func newResolver(t *testing.T, cache prices.Cache, source prices.Source) *prices.Resolver {
	t.Helper()
	r, err := prices.NewResolver(prices.ResolverConfig{Cache: cache, Source: source, Concurrency: 4})
	require.NoError(t, err)
	return r
}

func TestResolveAllFromSource(t *testing.T) {
	source := newCountingSource(map[string]string{"MLA1": "100", "MLA2": "210"})
	cache := &recordingCache{MemoryCache: prices.NewMemoryCache()}
	r := newResolver(t, cache, source)

	catalog, err := r.Resolve(context.Background(), []string{"MLA1", "MLA2"})
	require.NoError(t, err)
	require.Len(t, catalog, 2)
	require.True(t, catalog["MLA1"].Equal(decimal.NewFromInt(100)))
	require.True(t, catalog["MLA2"].Equal(decimal.NewFromInt(210)))
	require.Equal(t, []string{"MLA1", "MLA2"}, catalog.IDs())
	require.EqualValues(t, 2, cache.puts.Load())
}

func TestResolveCacheEffect(t *testing.T) {
	source := newCountingSource(map[string]string{"A": "1.00"})
	cache := &recordingCache{MemoryCache: prices.NewMemoryCache()}
	r := newResolver(t, cache, source)

	_, err := r.Resolve(context.Background(), []string{"A"})
	require.NoError(t, err)
	require.Equal(t, 1, source.callsFor("A"))
	require.EqualValues(t, 1, cache.puts.Load())

	catalog, err := r.Resolve(context.Background(), []string{"A"})
	require.NoError(t, err)
	require.Equal(t, 1, source.callsFor("A"), "second resolve must be served from cache")
	require.EqualValues(t, 1, cache.puts.Load())
	require.True(t, catalog["A"].Equal(decimal.RequireFromString("1.00")))
}

func TestResolveCachedSkipsSource(t *testing.T) {
	source := newCountingSource(nil)
	cache := prices.NewMemoryCache()
	require.NoError(t, cache.Put(context.Background(), "MLA1", decimal.NewFromInt(100)))
	r := newResolver(t, cache, source)

	catalog, err := r.Resolve(context.Background(), []string{"MLA1"})
	require.NoError(t, err)
	require.True(t, catalog["MLA1"].Equal(decimal.NewFromInt(100)))
	require.Equal(t, 0, source.callsFor("MLA1"))
}

func TestResolveAggregatesEveryMissingID(t *testing.T) {
	source := newCountingSource(map[string]string{"A": "1.00"})
	source.errs["C"] = errors.New("connection refused")
	cache := &recordingCache{MemoryCache: prices.NewMemoryCache()}
	r := newResolver(t, cache, source)

	catalog, err := r.Resolve(context.Background(), []string{"A", "B", "C"})
	require.Nil(t, catalog)

	var resErr *prices.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Equal(t, []string{"B", "C"}, resErr.Missing)
	require.ErrorIs(t, resErr.Cause("B"), prices.ErrNoPrice)
	require.EqualError(t, resErr.Cause("C"), "connection refused")
	require.Nil(t, resErr.Cause("A"))

	// every identifier was attempted
	require.Equal(t, 1, source.callsFor("A"))
	require.Equal(t, 1, source.callsFor("B"))
	require.Equal(t, 1, source.callsFor("C"))
	// only the successful lookup was cached
	require.EqualValues(t, 1, cache.puts.Load())
	require.Equal(t, 1, cache.Len())
}

func TestResolveSingleMissing(t *testing.T) {
	r := newResolver(t, prices.NewMemoryCache(), newCountingSource(nil))
	_, err := r.Resolve(context.Background(), []string{"X"})
	var resErr *prices.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Equal(t, []string{"X"}, resErr.Missing)
	require.Equal(t, "prices: no price for X", err.Error())
}

func TestResolveCacheErrorsDoNotFailLookup(t *testing.T) {
	source := newCountingSource(map[string]string{"A": "2.70"})
	cache := &recordingCache{
		MemoryCache: prices.NewMemoryCache(),
		getErr:      errors.New("cache down"),
		putErr:      errors.New("cache down"),
	}
	r := newResolver(t, cache, source)

	catalog, err := r.Resolve(context.Background(), []string{"A"})
	require.NoError(t, err)
	require.True(t, catalog["A"].Equal(decimal.RequireFromString("2.70")))
	require.Equal(t, 1, source.callsFor("A"))
}

func TestResolveWithoutCache(t *testing.T) {
	source := newCountingSource(map[string]string{"A": "1"})
	r := newResolver(t, nil, source)
	for i := 0; i < 2; i++ {
		_, err := r.Resolve(context.Background(), []string{"A"})
		require.NoError(t, err)
	}
	require.Equal(t, 2, source.callsFor("A"))
}

func TestResolveDuplicatesAndBlankIDs(t *testing.T) {
	source := newCountingSource(map[string]string{"A": "1"})
	r := newResolver(t, prices.NewMemoryCache(), source)

	_, err := r.Resolve(context.Background(), []string{"A", "A", " "})
	var resErr *prices.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Equal(t, []string{" "}, resErr.Missing)
	require.Equal(t, 1, source.callsFor("A"))
	require.Equal(t, 0, source.callsFor(" "))
}

type slowSource struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowSource) FetchPrice(_ context.Context, _ string) (decimal.Decimal, bool, error) {
	n := s.inFlight.Add(1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	s.inFlight.Add(-1)
	return decimal.NewFromInt(1), true, nil
}

func TestResolveBoundsConcurrency(t *testing.T) {
	source := &slowSource{}
	r, err := prices.NewResolver(prices.ResolverConfig{Source: source, Concurrency: 3})
	require.NoError(t, err)

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("MLA%d", i)
	}
	catalog, err := r.Resolve(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, catalog, len(ids))
	require.LessOrEqual(t, source.peak.Load(), int32(3))
}

func TestNewResolverRequiresSource(t *testing.T) {
	_, err := prices.NewResolver(prices.ResolverConfig{})
	require.Error(t, err)
}
