package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

// CacheBackend keeps Ready cache entries in report_cache so they outlive
// the process and are shared between replicas. Expired rows are left for
// the caller to overwrite.
type CacheBackend struct {
	db *sql.DB
}

func NewCacheBackend(db *sql.DB) *CacheBackend { return &CacheBackend{db: db} }

func (b *CacheBackend) Get(ctx context.Context, key string) (*analysis.CacheEntry, error) {
	const q = `SELECT report_json, ready_at, ttl_ms FROM report_cache WHERE cache_key=? LIMIT 1;`
	var (
		body  []byte
		ready time.Time
		ttlMS int64
	)
	if err := b.db.QueryRowContext(ctx, q, key).Scan(&body, &ready, &ttlMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", analysis.ErrCacheUnavailable, err)
	}
	rep, err := decodeReport(body)
	if err != nil || rep == nil {
		// unreadable rows behave like a miss; the next Set replaces them
		return nil, nil
	}
	return &analysis.CacheEntry{
		Key:     key,
		Report:  rep,
		ReadyAt: ready,
		TTL:     time.Duration(ttlMS) * time.Millisecond,
	}, nil
}

func (b *CacheBackend) Set(ctx context.Context, e *analysis.CacheEntry) error {
	const q = `
INSERT INTO report_cache (cache_key, report_json, ready_at, ttl_ms)
VALUES (?,?,?,?)
ON DUPLICATE KEY UPDATE
 report_json=VALUES(report_json), ready_at=VALUES(ready_at), ttl_ms=VALUES(ttl_ms);
`
	body, err := encodeReport(e.Report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, q, e.Key, body, e.ReadyAt, e.TTL.Milliseconds()); err != nil {
		return fmt.Errorf("%w: %v", analysis.ErrCacheUnavailable, err)
	}
	return nil
}

func (b *CacheBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM report_cache WHERE cache_key=?;`, key); err != nil {
		return fmt.Errorf("%w: %v", analysis.ErrCacheUnavailable, err)
	}
	return nil
}

// Purge deletes rows that expired before now and returns how many went.
func (b *CacheBackend) Purge(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM report_cache WHERE TIMESTAMPADD(MICROSECOND, ttl_ms*1000, ready_at) <= ?;`
	res, err := b.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
