package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limitermemory "github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-coupon/internal/common"
	"github.com/noah-isme/backend-coupon/internal/config"
	"github.com/noah-isme/backend-coupon/internal/coupon"
	"github.com/noah-isme/backend-coupon/internal/obs"
	"github.com/noah-isme/backend-coupon/internal/pricecache"
	"github.com/noah-isme/backend-coupon/internal/prices"
	"github.com/noah-isme/backend-coupon/internal/pricesource"
	"github.com/noah-isme/backend-coupon/internal/pricing"
	"github.com/noah-isme/backend-coupon/internal/resilience"
)

// Dependencies enumerates the services shared by the API server and the CLI.
type Dependencies struct {
	Config    *config.Config
	Redis     *redis.Client
	DB        *pgxpool.Pool
	Cache     prices.Cache
	Breaker   *resilience.Breaker
	Resolver  *prices.Resolver
	Optimizer *coupon.Optimizer
	Coupons   *coupon.Service
	Limiter   *limiter.Limiter

	closers []func() error
}

// Options tweak Build for callers that do not need every component.
type Options struct {
	// InstrumentRedisMetrics enables redisotel metrics on the Redis client.
	InstrumentRedisMetrics bool
	// Transport overrides the base transport used for item API calls.
	Transport http.RoundTripper
}

// Build wires every dependency from cfg. Close must be called to release
// connections.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	deps := &Dependencies{Config: cfg}
	if err := deps.build(ctx, logger, opts); err != nil {
		_ = deps.Close()
		return nil, err
	}
	return deps, nil
}

func (d *Dependencies) build(ctx context.Context, logger zerolog.Logger, opts Options) error {
	cfg := d.Config
	cache, err := d.buildCache(ctx, logger, opts)
	if err != nil {
		return err
	}
	d.Cache = cache

	d.Breaker = resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
		WithTarget(resilience.TargetItemAPI).
		WithLogger(logger)

	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	source, err := pricesource.NewHTTPSource(cfg.ItemAPIBaseURL, resilience.HTTPClient{
		Client:  &http.Client{Transport: otelhttp.NewTransport(base)},
		Breaker: d.Breaker,
		Timeout: cfg.ItemAPITimeout,
	})
	if err != nil {
		return err
	}

	d.Resolver, err = prices.NewResolver(prices.ResolverConfig{
		Cache:       cache,
		Source:      source,
		Concurrency: cfg.ResolveConcurrency,
	})
	if err != nil {
		return err
	}
	d.Optimizer, err = coupon.NewOptimizer(pricing.Scale(cfg.PriceScale), cfg.MaxTableCells)
	if err != nil {
		return err
	}
	d.Optimizer.WithMaxCapacity(cfg.MaxCapacity)
	d.Coupons = coupon.NewService(d.Resolver, d.Optimizer)

	if cfg.RateLimit != "" {
		d.Limiter, err = d.buildLimiter(cfg.RateLimit)
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Dependencies) buildCache(ctx context.Context, logger zerolog.Logger, opts Options) (prices.Cache, error) {
	cfg := d.Config
	switch cfg.CacheDriver {
	case config.CacheRedis:
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(redisOpts)
		d.Redis = client
		d.closers = append(d.closers, client.Close)
		if err := redisotel.InstrumentTracing(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis tracing")
		}
		if opts.InstrumentRedisMetrics {
			if err := redisotel.InstrumentMetrics(client); err != nil {
				logger.Error().Err(err).Msg("instrument redis metrics")
			}
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return pricecache.NewRedisCache(client, cfg.PriceCachePrefix, cfg.PriceCacheTTL), nil

	case config.CachePostgres:
		if cfg.DatabaseAutoMigrate {
			if err := pricecache.Migrate(cfg.DatabaseURL); err != nil {
				return nil, err
			}
			logger.Info().Msg("price cache migrations applied")
		}
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse database config: %w", err)
		}
		poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
		if poolConfig.ConnConfig.RuntimeParams == nil {
			poolConfig.ConnConfig.RuntimeParams = map[string]string{}
		}
		poolConfig.ConnConfig.RuntimeParams["application_name"] = "coupon-api"
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		d.DB = pool
		d.closers = append(d.closers, func() error { pool.Close(); return nil })
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		return pricecache.NewPostgresCache(pool, cfg.PriceCacheTTL), nil

	case config.CacheMemory:
		return prices.NewMemoryCache(), nil
	}
	return nil, fmt.Errorf("unsupported cache driver %q", cfg.CacheDriver)
}

func (d *Dependencies) buildLimiter(formatted string) (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("parse RATE_LIMIT: %w", err)
	}
	store, err := NewLimiterStore(d.Redis)
	if err != nil {
		return nil, err
	}
	return limiter.New(store, rate), nil
}

// NewLimiterStore wires a rate limiter store backed by Redis, or by process
// memory when no Redis client is available.
func NewLimiterStore(rdb *redis.Client) (limiter.Store, error) {
	if rdb == nil {
		return limitermemory.NewStore(), nil
	}
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "coupon:ratelimit"})
}

// RateLimit returns middleware enforcing the configured rate per client IP.
// It is a pass-through when no limit is configured.
func (d *Dependencies) RateLimit() func(http.Handler) http.Handler {
	if d.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	mw := stdlib.NewMiddleware(d.Limiter,
		stdlib.WithKeyGetter(common.ClientIP),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, _ *http.Request) {
			common.JSONError(w, http.StatusTooManyRequests, common.CodeRateLimited, "rate limit exceeded", nil)
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("rate_limiter_failed")
			common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "internal server error", nil)
		}),
	)
	return mw.Handler
}

// PingCache probes the configured price cache.
func (d *Dependencies) PingCache(ctx context.Context, timeout time.Duration) error {
	type pinger interface {
		Ping(ctx context.Context) error
	}
	p, ok := d.Cache.(pinger)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Ping(ctx)
}

// Close releases connections in reverse order of acquisition.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
