package prices

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/backend-coupon/internal/obs"
)

// Catalog maps item identifiers to their resolved prices. It is built fresh
// for every call and never shared between requests.
type Catalog map[string]decimal.Decimal

// IDs returns the catalog identifiers in ascending order.
func (c Catalog) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Cache stores prices that were already looked up.
type Cache interface {
	Get(ctx context.Context, id string) (decimal.Decimal, bool, error)
	Put(ctx context.Context, id string, price decimal.Decimal) error
}

// Source fetches the price of a single item from the system of record. A
// false second return value means the item has no price.
type Source interface {
	FetchPrice(ctx context.Context, id string) (decimal.Decimal, bool, error)
}

// ErrNoPrice is recorded as the cause when a source reports no price without an error.
var ErrNoPrice = errors.New("prices: no price available")

// DefaultConcurrency bounds in-flight lookups when none is configured.
const DefaultConcurrency = 8

// Resolver resolves prices cache-first, falling back to the source.
type Resolver struct {
	cache       Cache
	source      Source
	concurrency int
}

// ResolverConfig groups Resolver dependencies.
type ResolverConfig struct {
	Cache       Cache
	Source      Source
	Concurrency int
}

// NewResolver constructs a Resolver. A nil cache disables caching.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Source == nil {
		return nil, errors.New("prices: source is required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Resolver{cache: cfg.Cache, source: cfg.Source, concurrency: concurrency}, nil
}

// Resolve prices every identifier. Lookups run concurrently and failures do
// not stop the batch; once all identifiers are settled a *ResolutionError
// listing every unpriced identifier is returned if any failed.
func (r *Resolver) Resolve(ctx context.Context, ids []string) (Catalog, error) {
	ctx, span := otel.Tracer("prices").Start(ctx, "prices.resolve")
	defer span.End()

	unique := dedupe(ids)
	span.SetAttributes(attribute.Int("prices.ids", len(unique)))

	var (
		mu      sync.Mutex
		catalog = make(Catalog, len(unique))
		causes  = map[string]error{}
	)

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, id := range unique {
		g.Go(func() error {
			price, err := r.lookup(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				causes[id] = err
				return nil
			}
			catalog[id] = price
			return nil
		})
	}
	_ = g.Wait()

	if len(causes) > 0 {
		resErr := newResolutionError(causes)
		span.SetAttributes(attribute.StringSlice("prices.missing", resErr.Missing))
		return nil, resErr
	}
	return catalog, nil
}

func (r *Resolver) lookup(ctx context.Context, id string) (decimal.Decimal, error) {
	if strings.TrimSpace(id) == "" {
		obs.RecordPriceLookup(obs.LookupMissing)
		return decimal.Decimal{}, ErrNoPrice
	}
	if r.cache != nil {
		price, ok, err := r.cache.Get(ctx, id)
		switch {
		case err != nil:
			obs.RecordPriceLookup(obs.LookupCacheError)
		case ok:
			obs.RecordPriceLookup(obs.LookupCacheHit)
			return price, nil
		}
	}

	price, ok, err := r.source.FetchPrice(ctx, id)
	if err != nil {
		obs.RecordPriceLookup(obs.LookupMissing)
		return decimal.Decimal{}, err
	}
	if !ok {
		obs.RecordPriceLookup(obs.LookupMissing)
		return decimal.Decimal{}, ErrNoPrice
	}
	obs.RecordPriceLookup(obs.LookupSourceHit)

	if r.cache != nil {
		if err := r.cache.Put(ctx, id, price); err != nil {
			obs.RecordPriceLookup(obs.LookupCacheError)
		}
	}
	return price, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
