package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/basket/asis/internal/audit"
	"github.com/basket/asis/internal/shared"
)

type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
)

// AgentAction is one externally visible side effect (an email sent, a
// meeting scheduled). The row is written pending before the side effect and
// finished after it.
type AgentAction struct {
	ID         int64        `json:"id"`
	ActionType string       `json:"action_type"`
	Target     string       `json:"target,omitempty"`
	Content    string       `json:"content,omitempty"`
	Status     ActionStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	ExecutedAt *time.Time   `json:"executed_at,omitempty"`
}

// BeginAction records a pending action and returns its id.
func (x *Tx) BeginAction(ctx context.Context, actionType, target, content string) (int64, error) {
	res, err := x.tx.ExecContext(ctx, `
		INSERT INTO agent_actions (action_type, target, content, status, created_at)
		VALUES (?, ?, ?, 'pending', ?);
	`, actionType, nullString(target), nullString(content), dbTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("insert agent action: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("agent action id: %w", err)
	}
	x.store.audit.Record(audit.Record{
		TraceID:    shared.TraceID(ctx),
		ActionID:   id,
		ActionType: actionType,
		Target:     target,
		Status:     string(ActionPending),
	})
	return id, nil
}

// FinishAction moves a pending action to completed or failed and stamps
// executed_at. detail is mirrored to the audit log only.
func (x *Tx) FinishAction(ctx context.Context, id int64, status ActionStatus, detail string) error {
	if status != ActionCompleted && status != ActionFailed {
		return fmt.Errorf("finish agent action: invalid status %q", status)
	}
	var actionType, target string
	err := x.tx.QueryRowContext(ctx, `
		UPDATE agent_actions SET status = ?, executed_at = ?
		WHERE id = ? AND status = 'pending'
		RETURNING action_type, COALESCE(target, '');
	`, string(status), dbTime(time.Now()), id).Scan(&actionType, &target)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("finish agent action %d: %w", id, ErrNotFound)
		}
		return fmt.Errorf("finish agent action: %w", err)
	}
	x.store.audit.Record(audit.Record{
		TraceID:    shared.TraceID(ctx),
		ActionID:   id,
		ActionType: actionType,
		Target:     target,
		Status:     string(status),
		Detail:     detail,
	})
	return nil
}

// ListAgentActions returns the most recent actions, newest first.
func (s *Store) ListAgentActions(ctx context.Context, limit int) ([]AgentAction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action_type, COALESCE(target, ''), COALESCE(content, ''), status, created_at, executed_at
		FROM agent_actions
		ORDER BY id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query agent actions: %w", err)
	}
	defer rows.Close()

	var out []AgentAction
	for rows.Next() {
		var a AgentAction
		var status string
		var executed sql.NullTime
		if err := rows.Scan(&a.ID, &a.ActionType, &a.Target, &a.Content, &status, &a.CreatedAt, &executed); err != nil {
			return nil, fmt.Errorf("scan agent action: %w", err)
		}
		a.Status = ActionStatus(status)
		a.CreatedAt = a.CreatedAt.UTC()
		a.ExecutedAt = timePtr(executed)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agent action rows: %w", err)
	}
	return out, nil
}

// RecordAction writes a finished action in its own transaction. Used by
// background work that runs outside a dispatch call.
func (s *Store) RecordAction(ctx context.Context, actionType, target, content string, status ActionStatus, detail string) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		id, err := tx.BeginAction(ctx, actionType, target, content)
		if err != nil {
			return err
		}
		return tx.FinishAction(ctx, id, status, detail)
	})
}
