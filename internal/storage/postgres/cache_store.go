// Package postgres provides the Postgres-backed weekly cache store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/adsnap/internal/ads"
)

// DefaultTable is the cache table created by the embedded migrations.
const DefaultTable = "competitor_ads_cache"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for weekly records.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// pool is the subset of pgxpool.Pool used by the store; pgxmock satisfies it in tests.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// CacheStore persists one JSONB document per week.
type CacheStore struct {
	pool  pool
	table string
}

// NewCacheStore creates a Postgres-backed CacheStore using the provided config.
func NewCacheStore(ctx context.Context, cfg Config) (*CacheStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("cache.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CacheStore{pool: p, table: table}, nil
}

// NewCacheStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCacheStoreWithPool(p pool, table string) (*CacheStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &CacheStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *CacheStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Get loads the record for weekKey.
func (s *CacheStore) Get(ctx context.Context, weekKey string) (ads.WeeklyRecord, error) {
	query := fmt.Sprintf(`SELECT week_end, data, created_at, updated_at FROM %s WHERE week_end = $1`, s.table)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, weekKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ads.WeeklyRecord{}, ads.ErrNotFound
		}
		return ads.WeeklyRecord{}, fmt.Errorf("get week %s: %w", weekKey, err)
	}
	return rec, nil
}

// Put inserts the record if no row exists for weekKey.
func (s *CacheStore) Put(ctx context.Context, weekKey string, data ads.Response) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal week %s: %w", weekKey, err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (week_end, data, created_at, updated_at)
VALUES ($1, $2, now(), now())
ON CONFLICT (week_end) DO NOTHING`, s.table)
	tag, err := s.pool.Exec(ctx, query, weekKey, payload)
	if err != nil {
		return fmt.Errorf("insert week %s: %w", weekKey, err)
	}
	if tag.RowsAffected() == 0 {
		return ads.ErrAlreadyExists
	}
	return nil
}

// MergeScreenshots sets each screenshotUrl in place with jsonb_set. The row is locked for the
// batch and every update is guarded so it only lands on a slot with an archiveUrl and a null
// or empty screenshotUrl.
func (s *CacheStore) MergeScreenshots(ctx context.Context, weekKey string, updates []ads.ScreenshotUpdate) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin merge: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	lock := fmt.Sprintf(`SELECT 1 FROM %s WHERE week_end = $1 FOR UPDATE`, s.table)
	var one int
	if err = tx.QueryRow(ctx, lock, weekKey).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = ads.ErrNotFound
			return err
		}
		return fmt.Errorf("lock week %s: %w", weekKey, err)
	}

	update := fmt.Sprintf(`
UPDATE %s
SET data = jsonb_set(data, ARRAY['retailers', ($2::int)::text, $3::text, 'screenshotUrl'], to_jsonb($4::text)),
    updated_at = now()
WHERE week_end = $1
  AND coalesce(data #>> ARRAY['retailers', ($2::int)::text, $3::text, 'archiveUrl'], '') <> ''
  AND coalesce(data #>> ARRAY['retailers', ($2::int)::text, $3::text, 'screenshotUrl'], '') = ''`, s.table)
	for _, u := range updates {
		if u.URL == "" || u.RetailerIdx < 0 || !u.Slot.Valid() {
			continue
		}
		if _, err = tx.Exec(ctx, update, weekKey, u.RetailerIdx, string(u.Slot), u.URL); err != nil {
			return fmt.Errorf("merge screenshot %d/%s: %w", u.RetailerIdx, u.Slot, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}
	return nil
}

// Recent lists up to limit records, newest week first.
func (s *CacheStore) Recent(ctx context.Context, limit int) ([]ads.WeeklyRecord, error) {
	query := fmt.Sprintf(`
SELECT week_end, data, created_at, updated_at
FROM %s
ORDER BY week_end DESC
LIMIT $1`, s.table)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent weeks: %w", err)
	}
	defer rows.Close()

	var out []ads.WeeklyRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan week row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate week rows: %w", err)
	}
	return out, nil
}

// Ping checks database connectivity.
func (s *CacheStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanRecord(row pgx.Row) (ads.WeeklyRecord, error) {
	var (
		rec     ads.WeeklyRecord
		payload []byte
	)
	if err := row.Scan(&rec.WeekEnd, &payload, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return ads.WeeklyRecord{}, err
	}
	if err := json.Unmarshal(payload, &rec.Data); err != nil {
		return ads.WeeklyRecord{}, fmt.Errorf("decode week %s: %w", rec.WeekEnd, err)
	}
	return rec, nil
}
