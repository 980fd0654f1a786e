package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/bryanwahyu/domain-insight/internal/domain/conversation"
)

type ConversationRepository struct {
	db *sql.DB
}

func NewConversationRepository(db *sql.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) Save(ctx context.Context, c *conversation.Context) error {
	const q = `
INSERT INTO conversation_contexts (session_id, recent_targets_json, last_report_json, updated_at)
VALUES (?,?,?,?)
ON DUPLICATE KEY UPDATE
 recent_targets_json=VALUES(recent_targets_json),
 last_report_json=VALUES(last_report_json),
 updated_at=VALUES(updated_at);
`
	recent := c.RecentTargets
	if recent == nil {
		recent = []string{}
	}
	targets, err := json.Marshal(recent)
	if err != nil {
		return err
	}
	var last any
	if c.LastReport != nil {
		b, err := encodeReport(c.LastReport)
		if err != nil {
			return err
		}
		last = b
	}
	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = r.db.ExecContext(ctx, q, c.SessionID, targets, last, updated)
	return err
}

// Load returns (nil, nil) when the session has no stored context.
func (r *ConversationRepository) Load(ctx context.Context, sessionID string) (*conversation.Context, error) {
	const q = `
SELECT recent_targets_json, last_report_json, updated_at
FROM conversation_contexts WHERE session_id=? LIMIT 1;
`
	var (
		targets []byte
		last    []byte
		updated time.Time
	)
	if err := r.db.QueryRowContext(ctx, q, sessionID).Scan(&targets, &last, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c := &conversation.Context{SessionID: sessionID, UpdatedAt: updated}
	if err := json.Unmarshal(targets, &c.RecentTargets); err != nil {
		return nil, err
	}
	rep, err := decodeReport(last)
	if err != nil {
		return nil, err
	}
	c.LastReport = rep
	return c, nil
}

func (r *ConversationRepository) Delete(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM conversation_contexts WHERE session_id=?;`, sessionID)
	return err
}
