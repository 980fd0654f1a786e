package mysql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/bryanwahyu/domain-insight/internal/domain/failures"
)

type FailureRepository struct {
	db *sql.DB
}

func NewFailureRepository(db *sql.DB) *FailureRepository { return &FailureRepository{db: db} }

func (r *FailureRepository) Save(ctx context.Context, f *failures.CapabilityFailure) error {
	const q = `
INSERT INTO analysis_failures
  (request_id, cache_key, target, capability, status, reason, message, created_at)
VALUES (?,?,?,?,?,?,?,?)
`
	msg := f.Message
	if strings.TrimSpace(msg) == "" {
		msg = "-"
	}
	created := f.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := r.db.ExecContext(ctx, q,
		stringOrDash(f.RequestID), stringOrDash(f.CacheKey), stringOrDash(f.Target),
		stringOrDash(f.Capability), stringOrDash(f.Status), stringOrDash(f.Reason), msg, created)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		f.ID = id
	}
	return nil
}

func (r *FailureRepository) ListByRequest(ctx context.Context, requestID string, limit int) ([]*failures.CapabilityFailure, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, request_id, cache_key, target, capability, status, reason, message, created_at
FROM analysis_failures
WHERE request_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, requestID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*failures.CapabilityFailure
	for rows.Next() {
		var f failures.CapabilityFailure
		if err := rows.Scan(&f.ID, &f.RequestID, &f.CacheKey, &f.Target, &f.Capability, &f.Status, &f.Reason, &f.Message, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Reason = dashToEmpty(f.Reason)
		f.Message = dashToEmpty(f.Message)
		out = append(out, &f)
	}
	return out, rows.Err()
}
