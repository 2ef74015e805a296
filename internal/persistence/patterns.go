package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Pattern is reusable diagnostic knowledge distilled from one resolved
// event. The compile sweep skips events that already have one, but an
// explicit recompile may add another row; the corpus only grows.
type Pattern struct {
	ID              string    `json:"id"`
	EventID         string    `json:"event_id"`
	Trigger         string    `json:"trigger"`
	Invariant       string    `json:"invariant"`
	Counterexample  string    `json:"counterexample,omitempty"`
	BestResponse    string    `json:"best_response"`
	DomainSignature string    `json:"domain_signature,omitempty"`
	EvidenceRefs    []string  `json:"evidence_refs,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// InsertPattern stores a compiled pattern. The source event must exist
// and be resolved; compiling an unresolved event is a caller bug surfaced
// as ErrEventNotResolved.
func (s *Store) InsertPattern(ctx context.Context, p Pattern) (Pattern, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	refsJSON, err := marshalRefs(p.EvidenceRefs)
	if err != nil {
		return Pattern{}, err
	}

	err = retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin pattern tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		e, err := getEventTx(ctx, tx, p.EventID)
		if err != nil {
			return err
		}
		if e.Status != StatusResolved {
			return fmt.Errorf("%w: event %s is %s", ErrEventNotResolved, p.EventID, e.Status)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO patterns
				(id, event_id, trigger, invariant, counterexample, best_response,
				 domain_signature, evidence_refs, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
		`, p.ID, p.EventID, p.Trigger, p.Invariant, p.Counterexample,
			p.BestResponse, p.DomainSignature, refsJSON); err != nil {
			return fmt.Errorf("insert pattern: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return Pattern{}, err
	}
	return s.GetPattern(ctx, p.ID)
}

// GetPattern returns one pattern by id.
func (s *Store) GetPattern(ctx context.Context, id string) (Pattern, error) {
	var p Pattern
	var refsJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, trigger, invariant, counterexample, best_response,
		       domain_signature, evidence_refs, created_at
		FROM patterns WHERE id = ?;
	`, id).Scan(&p.ID, &p.EventID, &p.Trigger, &p.Invariant, &p.Counterexample,
		&p.BestResponse, &p.DomainSignature, &refsJSON, &p.CreatedAt)
	if err != nil {
		return Pattern{}, fmt.Errorf("get pattern: %w", err)
	}
	refs, err := unmarshalRefs(refsJSON)
	if err != nil {
		return Pattern{}, err
	}
	p.EvidenceRefs = refs
	return p, nil
}

// ListPatterns returns every pattern, newest first with id ascending as
// the tie-break, which is the order the matcher scans them in.
func (s *Store) ListPatterns(ctx context.Context) ([]Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, trigger, invariant, counterexample, best_response,
		       domain_signature, evidence_refs, created_at
		FROM patterns ORDER BY created_at DESC, id ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var out []Pattern
	for rows.Next() {
		var p Pattern
		var refsJSON string
		if err := rows.Scan(&p.ID, &p.EventID, &p.Trigger, &p.Invariant, &p.Counterexample,
			&p.BestResponse, &p.DomainSignature, &refsJSON, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		refs, err := unmarshalRefs(refsJSON)
		if err != nil {
			return nil, err
		}
		p.EvidenceRefs = refs
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pattern rows: %w", err)
	}
	return out, nil
}

// HasPattern reports whether an event has already been compiled.
func (s *Store) HasPattern(ctx context.Context, eventID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM patterns WHERE event_id = ?;
	`, eventID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has pattern: %w", err)
	}
	return n > 0, nil
}

func marshalRefs(refs []string) (string, error) {
	if refs == nil {
		refs = []string{}
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return "", fmt.Errorf("marshal evidence refs: %w", err)
	}
	return string(b), nil
}

func unmarshalRefs(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var refs []string
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return nil, fmt.Errorf("decode evidence refs: %w", err)
	}
	if len(refs) == 0 {
		return nil, nil
	}
	return refs, nil
}
