package pricecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DBTX is the subset of pgx used by PostgresCache. Both *pgxpool.Pool and
// pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	selectPriceSQL = `SELECT price::text FROM item_prices WHERE id = $1 AND ($2::timestamptz IS NULL OR cached_at >= $2)`
	upsertPriceSQL = `INSERT INTO item_prices (id, price, cached_at) VALUES ($1, $2::numeric, now())
ON CONFLICT (id) DO UPDATE SET price = EXCLUDED.price, cached_at = EXCLUDED.cached_at`
)

// PostgresCache keeps item prices in the item_prices table. Concurrent writers
// of the same id race and the last upsert wins.
type PostgresCache struct {
	db  DBTX
	ttl time.Duration
	now func() time.Time
}

// NewPostgresCache constructs a Postgres-backed price cache. Rows older than
// ttl are treated as misses; a non-positive ttl never expires rows.
func NewPostgresCache(db DBTX, ttl time.Duration) *PostgresCache {
	return &PostgresCache{db: db, ttl: ttl, now: time.Now}
}

// Get returns the cached price for id.
func (c *PostgresCache) Get(ctx context.Context, id string) (decimal.Decimal, bool, error) {
	if c == nil || c.db == nil || id == "" {
		return decimal.Decimal{}, false, nil
	}
	var cutoff *time.Time
	if c.ttl > 0 {
		t := c.now().Add(-c.ttl)
		cutoff = &t
	}
	var raw string
	if err := c.db.QueryRow(ctx, selectPriceSQL, id, cutoff).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Decimal{}, false, nil
		}
		return decimal.Decimal{}, false, fmt.Errorf("pricecache: select %s: %w", id, err)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("pricecache: parse %s: %w", id, err)
	}
	return price, true, nil
}

// Put upserts the price for id.
func (c *PostgresCache) Put(ctx context.Context, id string, price decimal.Decimal) error {
	if c == nil || c.db == nil || id == "" {
		return nil
	}
	if _, err := c.db.Exec(ctx, upsertPriceSQL, id, price.String()); err != nil {
		return fmt.Errorf("pricecache: upsert %s: %w", id, err)
	}
	return nil
}

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks database connectivity when the underlying handle supports it.
func (c *PostgresCache) Ping(ctx context.Context) error {
	if c == nil || c.db == nil {
		return errors.New("pricecache: database not configured")
	}
	if p, ok := c.db.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
