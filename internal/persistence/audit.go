package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditAction is one immutable row of the ledger. Every gate decision,
// allowed or blocked, produces exactly one.
type AuditAction struct {
	ID              string    `json:"id"`
	Actor           string    `json:"actor"`
	ActionType      string    `json:"action_type"`
	Scope           string    `json:"scope"`
	Allowed         bool      `json:"allowed"`
	CovenantVersion string    `json:"covenant_version"`
	Reason          string    `json:"reason,omitempty"`
	EventID         string    `json:"event_id,omitempty"`
	IntentID        string    `json:"intent_id,omitempty"`
	TraceID         string    `json:"trace_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// AuditFilter narrows QueryAudit. Zero-value fields do not filter.
type AuditFilter struct {
	Scope string
	Actor string
	Since time.Time
	Until time.Time
	Limit int
}

// AppendAudit inserts one ledger row and returns its id. The ledger is
// append-only: there is no update or delete path anywhere in the store.
func (s *Store) AppendAudit(ctx context.Context, a AuditAction) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO audit_log
				(id, actor, action_type, scope, allowed, covenant_version,
				 reason, event_id, intent_id, trace_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
		`, a.ID, a.Actor, a.ActionType, a.Scope, boolToInt(a.Allowed),
			a.CovenantVersion, a.Reason, a.EventID, a.IntentID, a.TraceID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("append audit: %w", err)
	}
	return a.ID, nil
}

// QueryAudit returns ledger rows newest first. Ordering is
// (created_at DESC, id DESC) so rows sharing a timestamp still come back
// in a stable order.
func (s *Store) QueryAudit(ctx context.Context, f AuditFilter) ([]AuditAction, error) {
	var conds []string
	var args []any
	if f.Scope != "" {
		conds = append(conds, "scope = ?")
		args = append(args, f.Scope)
	}
	if f.Actor != "" {
		conds = append(conds, "actor = ?")
		args = append(args, f.Actor)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.Until.UTC())
	}

	query := `
		SELECT id, actor, action_type, scope, allowed, covenant_version,
		       reason, event_id, intent_id, trace_id, created_at
		FROM audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	query += ";"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []AuditAction
	for rows.Next() {
		var a AuditAction
		var allowed int
		if err := rows.Scan(&a.ID, &a.Actor, &a.ActionType, &a.Scope, &allowed,
			&a.CovenantVersion, &a.Reason, &a.EventID, &a.IntentID, &a.TraceID,
			&a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		a.Allowed = allowed != 0
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit rows: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
