package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

type ReportRepository struct {
	db *sql.DB
}

func NewReportRepository(db *sql.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Save insert/update report record
func (r *ReportRepository) Save(ctx context.Context, rep *analysis.AggregatedReport) error {
	const q = `
INSERT INTO analysis_reports
(id, cache_key, primary_target, competitor_target, overall_status,
 ok_count, result_count, report_json, started_at, completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 overall_status=VALUES(overall_status),
 ok_count=VALUES(ok_count), result_count=VALUES(result_count),
 report_json=VALUES(report_json), completed_at=VALUES(completed_at);
`
	body, err := encodeReport(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	competitor := ""
	if len(rep.Targets) > 1 {
		competitor = rep.Targets[1]
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
		rep.ID, rep.Key, rep.PrimaryTarget(), stringOrDash(competitor), string(rep.OverallStatus),
		rep.CountByStatus(analysis.StatusOk), len(rep.Results), body, started, completed,
	)
	return err
}

// Get by ID
func (r *ReportRepository) Get(ctx context.Context, id string) (*analysis.AggregatedReport, error) {
	const q = `SELECT report_json FROM analysis_reports WHERE id=? LIMIT 1;`
	var body []byte
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, analysis.ErrNotFound
		}
		return nil, err
	}
	return decodeReport(body)
}

// LatestByTarget returns the newest reports where target was either side.
func (r *ReportRepository) LatestByTarget(ctx context.Context, target string, limit int) ([]*analysis.AggregatedReport, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT report_json FROM analysis_reports
WHERE primary_target=? OR competitor_target=?
ORDER BY completed_at DESC LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, target, target, limit)
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
		rep, err := decodeReport(body)
		if err != nil {
			return nil, err
		}
		if rep != nil {
			out = append(out, rep)
		}
	}
	return out, rows.Err()
}
