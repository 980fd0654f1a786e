package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

type ReportRepository struct{ db *sql.DB }

func NewReportRepository(db *sql.DB) *ReportRepository { return &ReportRepository{db: db} }

// Save inserts or updates a report
func (r *ReportRepository) Save(ctx context.Context, rep *analysis.AggregatedReport) error {
	const q = `
INSERT INTO analysis_reports
  (id, cache_key, targets, overall_status, report_json, started_at, completed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  overall_status=EXCLUDED.overall_status,
  report_json=EXCLUDED.report_json,
  completed_at=EXCLUDED.completed_at;
`
	body, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	completed := rep.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	started := rep.StartedAt
	if started.IsZero() {
		started = completed
	}
	_, err = r.db.ExecContext(ctx, q,
		rep.ID, rep.Key, pq.Array(rep.Targets), string(rep.OverallStatus), body, started, completed)
	return err
}

// Get returns analysis.ErrNotFound for unknown ids
func (r *ReportRepository) Get(ctx context.Context, id string) (*analysis.AggregatedReport, error) {
	var body []byte
	err := r.db.QueryRowContext(ctx, `SELECT report_json FROM analysis_reports WHERE id=$1`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, analysis.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rep analysis.AggregatedReport
	if err := json.Unmarshal(body, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// LatestByTarget returns the newest reports mentioning target
func (r *ReportRepository) LatestByTarget(ctx context.Context, target string, limit int) ([]*analysis.AggregatedReport, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT report_json FROM analysis_reports
WHERE targets @> ARRAY[$1]::TEXT[]
ORDER BY completed_at DESC, id DESC
LIMIT $2;
`
	rows, err := r.db.QueryContext(ctx, q, target, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*analysis.AggregatedReport
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var rep analysis.AggregatedReport
		if err := json.Unmarshal(body, &rep); err != nil {
			return nil, err
		}
		out = append(out, &rep)
	}
	return out, rows.Err()
}
