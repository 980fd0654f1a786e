package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
	"github.com/bryanwahyu/domain-insight/internal/domain/conversation"
)

type ConversationRepository struct{ db *sql.DB }

func NewConversationRepository(db *sql.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) Save(ctx context.Context, c *conversation.Context) error {
	const q = `
INSERT INTO conversation_contexts (session_id, recent_targets, last_report_json, updated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (session_id) DO UPDATE SET
  recent_targets=EXCLUDED.recent_targets,
  last_report_json=EXCLUDED.last_report_json,
  updated_at=EXCLUDED.updated_at;
`
	recent := c.RecentTargets
	if recent == nil {
		recent = []string{}
	}
	var last any
	if c.LastReport != nil {
		b, err := json.Marshal(c.LastReport)
		if err != nil {
			return err
		}
		last = b
	}
	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q, c.SessionID, pq.Array(recent), last, updated)
	return err
}

func (r *ConversationRepository) Load(ctx context.Context, sessionID string) (*conversation.Context, error) {
	const q = `
SELECT recent_targets, last_report_json, updated_at
FROM conversation_contexts WHERE session_id=$1;
`
	c := &conversation.Context{SessionID: sessionID}
	var last []byte
	err := r.db.QueryRowContext(ctx, q, sessionID).Scan(pq.Array(&c.RecentTargets), &last, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(last) > 0 {
		var rep analysis.AggregatedReport
		if err := json.Unmarshal(last, &rep); err != nil {
			return nil, err
		}
		c.LastReport = &rep
	}
	return c, nil
}

func (r *ConversationRepository) Delete(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM conversation_contexts WHERE session_id=$1`, sessionID)
	return err
}
