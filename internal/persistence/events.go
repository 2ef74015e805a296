package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventStatus is the lifecycle state of a diagnostic event.
type EventStatus string

const (
	StatusOpen     EventStatus = "open"
	StatusTested   EventStatus = "tested"
	StatusResolved EventStatus = "resolved"
)

// statusTransitions defines the only legal moves. Resolved is terminal.
var statusTransitions = map[EventStatus][]EventStatus{
	StatusOpen:     {StatusTested, StatusResolved},
	StatusTested:   {StatusResolved},
	StatusResolved: {},
}

func canTransition(from, to EventStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return from == to
}

// Event is one diagnostic episode: a problem observed, hypothesized
// about, tested, and eventually resolved.
type Event struct {
	ID              string      `json:"id"`
	Description     string      `json:"description"`
	DomainSignature string      `json:"domain_signature"`
	Status          EventStatus `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// IntentToken records what the operator set out to achieve before any
// hypothesis was formed. At most one per event.
type IntentToken struct {
	ID            string    `json:"id"`
	EventID       string    `json:"event_id"`
	Goal          string    `json:"goal"`
	Constraints   string    `json:"constraints,omitempty"`
	SuccessSignal string    `json:"success_signal,omitempty"`
	Confidence    float64   `json:"confidence"`
	CreatedAt     time.Time `json:"created_at"`
}

// Hypothesis is one candidate failure model with a prior probability.
type Hypothesis struct {
	ID              string    `json:"id"`
	EventID         string    `json:"event_id"`
	ModelType       string    `json:"model_type"`
	Probability     float64   `json:"probability"`
	Falsifiers      string    `json:"falsifiers,omitempty"`
	DomainSignature string    `json:"domain_signature,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Test is one probe run against a hypothesis of the same event.
type Test struct {
	ID           string    `json:"id"`
	EventID      string    `json:"event_id"`
	HypothesisID string    `json:"hypothesis_id"`
	Description  string    `json:"description"`
	Result       string    `json:"result"`
	EvidenceRef  string    `json:"evidence_ref"`
	CreatedAt    time.Time `json:"created_at"`
}

// Outcome closes an event. Its evidence refs are ids of tests belonging
// to the same event.
type Outcome struct {
	ID           string    `json:"id"`
	EventID      string    `json:"event_id"`
	Summary      string    `json:"summary"`
	EvidenceRefs []string  `json:"evidence_refs"`
	CreatedAt    time.Time `json:"created_at"`
}

// OpenEvent creates a new event in the open state.
func (s *Store) OpenEvent(ctx context.Context, description, domainSignature string) (Event, error) {
	if strings.TrimSpace(description) == "" {
		return Event{}, fmt.Errorf("open event: empty description")
	}
	id := uuid.NewString()
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO events (id, description, domain_signature, status, created_at, updated_at)
			VALUES (?, ?, ?, 'open', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
		`, id, description, domainSignature)
		return err
	})
	if err != nil {
		return Event{}, fmt.Errorf("open event: %w", err)
	}
	return s.GetEvent(ctx, id)
}

// GetEvent returns the event or ErrEventNotFound.
func (s *Store) GetEvent(ctx context.Context, id string) (Event, error) {
	var e Event
	err := s.db.QueryRowContext(ctx, `
		SELECT id, description, domain_signature, status, created_at, updated_at
		FROM events WHERE id = ?;
	`, id).Scan(&e.ID, &e.Description, &e.DomainSignature, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	if err != nil {
		return Event{}, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func getEventTx(ctx context.Context, tx *sql.Tx, id string) (Event, error) {
	var e Event
	err := tx.QueryRowContext(ctx, `
		SELECT id, description, domain_signature, status, created_at, updated_at
		FROM events WHERE id = ?;
	`, id).Scan(&e.ID, &e.Description, &e.DomainSignature, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	if err != nil {
		return Event{}, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// RecordIntent attaches the single intent token to an event. A second
// intent on the same event fails with ErrIntentAlreadyRecorded, and a
// resolved event rejects new intent with ErrEventClosed.
func (s *Store) RecordIntent(ctx context.Context, t IntentToken) (IntentToken, error) {
	if strings.TrimSpace(t.Goal) == "" {
		return IntentToken{}, fmt.Errorf("record intent: empty goal")
	}
	if t.Confidence < 0 || t.Confidence > 1 {
		return IntentToken{}, fmt.Errorf("%w: confidence %v", ErrInvalidConfidence, t.Confidence)
	}
	t.ID = uuid.NewString()

	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin intent tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		e, err := getEventTx(ctx, tx, t.EventID)
		if err != nil {
			return err
		}
		if e.Status == StatusResolved {
			return fmt.Errorf("%w: %s", ErrEventClosed, t.EventID)
		}

		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM intents WHERE event_id = ?;`, t.EventID).Scan(&exists)
		if err == nil {
			return fmt.Errorf("%w: event %s", ErrIntentAlreadyRecorded, t.EventID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check intent: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO intents (id, event_id, goal, constraints, success_signal, confidence, created_at)
			VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
		`, t.ID, t.EventID, t.Goal, t.Constraints, t.SuccessSignal, t.Confidence); err != nil {
			return fmt.Errorf("insert intent: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return IntentToken{}, err
	}
	return s.GetIntent(ctx, t.EventID)
}

// GetIntent returns the intent token for an event, if any.
func (s *Store) GetIntent(ctx context.Context, eventID string) (IntentToken, error) {
	var t IntentToken
	err := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, goal, constraints, success_signal, confidence, created_at
		FROM intents WHERE event_id = ?;
	`, eventID).Scan(&t.ID, &t.EventID, &t.Goal, &t.Constraints, &t.SuccessSignal, &t.Confidence, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return IntentToken{}, fmt.Errorf("event %s: %w", eventID, ErrIntentNotFound)
	}
	if err != nil {
		return IntentToken{}, fmt.Errorf("get intent: %w", err)
	}
	return t, nil
}

// AddHypothesis attaches a candidate failure model to an open or tested
// event. Probability must lie in [0, 1]; probabilities across an event's
// hypotheses are independent priors and are never normalized.
func (s *Store) AddHypothesis(ctx context.Context, h Hypothesis) (Hypothesis, error) {
	if strings.TrimSpace(h.ModelType) == "" {
		return Hypothesis{}, fmt.Errorf("add hypothesis: empty model type")
	}
	if h.Probability < 0 || h.Probability > 1 {
		return Hypothesis{}, fmt.Errorf("%w: %v", ErrInvalidProbability, h.Probability)
	}
	h.ID = uuid.NewString()

	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin hypothesis tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		e, err := getEventTx(ctx, tx, h.EventID)
		if err != nil {
			return err
		}
		if e.Status == StatusResolved {
			return fmt.Errorf("%w: %s", ErrEventClosed, h.EventID)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO hypotheses (id, event_id, model_type, probability, falsifiers, domain_signature, created_at)
			VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
		`, h.ID, h.EventID, h.ModelType, h.Probability, h.Falsifiers, h.DomainSignature); err != nil {
			return fmt.Errorf("insert hypothesis: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return Hypothesis{}, err
	}
	return s.getHypothesis(ctx, h.ID)
}

func (s *Store) getHypothesis(ctx context.Context, id string) (Hypothesis, error) {
	var h Hypothesis
	err := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, model_type, probability, falsifiers, domain_signature, created_at
		FROM hypotheses WHERE id = ?;
	`, id).Scan(&h.ID, &h.EventID, &h.ModelType, &h.Probability, &h.Falsifiers, &h.DomainSignature, &h.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Hypothesis{}, fmt.Errorf("%w: %s", ErrHypothesisNotFound, id)
	}
	if err != nil {
		return Hypothesis{}, fmt.Errorf("get hypothesis: %w", err)
	}
	return h, nil
}

// RecordTest registers a probe against a hypothesis. The hypothesis must
// belong to the same event or the call fails with ErrCrossEventReference.
// The first test on an open event flips it to tested in the same
// transaction, so a crash cannot leave a tested event looking untouched.
func (s *Store) RecordTest(ctx context.Context, t Test) (Test, error) {
	if strings.TrimSpace(t.Description) == "" {
		return Test{}, fmt.Errorf("record test: empty description")
	}
	t.ID = uuid.NewString()

	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin test tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		e, err := getEventTx(ctx, tx, t.EventID)
		if err != nil {
			return err
		}
		if e.Status == StatusResolved {
			return fmt.Errorf("%w: %s", ErrEventClosed, t.EventID)
		}

		var hypEventID string
		err = tx.QueryRowContext(ctx, `SELECT event_id FROM hypotheses WHERE id = ?;`, t.HypothesisID).Scan(&hypEventID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrHypothesisNotFound, t.HypothesisID)
		}
		if err != nil {
			return fmt.Errorf("resolve hypothesis event: %w", err)
		}
		if hypEventID != t.EventID {
			return fmt.Errorf("%w: hypothesis %s belongs to event %s, not %s",
				ErrCrossEventReference, t.HypothesisID, hypEventID, t.EventID)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tests (id, event_id, hypothesis_id, description, result, evidence_ref, created_at)
			VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
		`, t.ID, t.EventID, t.HypothesisID, t.Description, t.Result, t.EvidenceRef); err != nil {
			return fmt.Errorf("insert test: %w", err)
		}

		if e.Status == StatusOpen {
			if !canTransition(StatusOpen, StatusTested) {
				return fmt.Errorf("illegal transition open -> tested")
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE events SET status = 'tested', updated_at = CURRENT_TIMESTAMP WHERE id = ?;
			`, t.EventID); err != nil {
				return fmt.Errorf("mark event tested: %w", err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return Test{}, err
	}
	return s.getTest(ctx, t.ID)
}

func (s *Store) getTest(ctx context.Context, id string) (Test, error) {
	var t Test
	err := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, hypothesis_id, description, result, evidence_ref, created_at
		FROM tests WHERE id = ?;
	`, id).Scan(&t.ID, &t.EventID, &t.HypothesisID, &t.Description, &t.Result, &t.EvidenceRef, &t.CreatedAt)
	if err != nil {
		return Test{}, fmt.Errorf("get test: %w", err)
	}
	return t, nil
}

// RecordOutcome resolves an event. Evidence refs must be non-empty
// (ErrEmptyEvidence) and every ref must be the id of a test belonging to
// this event (ErrDanglingEvidence). The dangling check and the resolved
// flip run in one transaction against the same snapshot, so no reader
// ever sees an outcome whose evidence does not check out.
func (s *Store) RecordOutcome(ctx context.Context, o Outcome) (Outcome, error) {
	if strings.TrimSpace(o.Summary) == "" {
		return Outcome{}, fmt.Errorf("record outcome: empty summary")
	}
	refs := dedupeRefs(o.EvidenceRefs)
	if len(refs) == 0 {
		return Outcome{}, fmt.Errorf("%w: event %s", ErrEmptyEvidence, o.EventID)
	}
	o.EvidenceRefs = refs
	o.ID = uuid.NewString()

	refsJSON, err := marshalRefs(refs)
	if err != nil {
		return Outcome{}, err
	}

	err = retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin outcome tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		e, err := getEventTx(ctx, tx, o.EventID)
		if err != nil {
			return err
		}
		if e.Status == StatusResolved {
			return fmt.Errorf("%w: %s", ErrEventClosed, o.EventID)
		}

		known := make(map[string]bool)
		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM tests WHERE event_id = ?;
		`, o.EventID)
		if err != nil {
			return fmt.Errorf("load event tests: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan test id: %w", err)
			}
			known[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("test rows: %w", err)
		}
		rows.Close()

		for _, ref := range refs {
			if !known[ref] {
				return fmt.Errorf("%w: %q is not a test of event %s",
					ErrDanglingEvidence, ref, o.EventID)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO outcomes (id, event_id, summary, evidence_refs, created_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP);
		`, o.ID, o.EventID, o.Summary, refsJSON); err != nil {
			return fmt.Errorf("insert outcome: %w", err)
		}

		if !canTransition(e.Status, StatusResolved) {
			return fmt.Errorf("illegal transition %s -> resolved", e.Status)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE events SET status = 'resolved', updated_at = CURRENT_TIMESTAMP WHERE id = ?;
		`, o.EventID); err != nil {
			return fmt.Errorf("mark event resolved: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return Outcome{}, err
	}
	return o, nil
}

// ListEvents returns events newest first, optionally filtered by status.
func (s *Store) ListEvents(ctx context.Context, status EventStatus) ([]Event, error) {
	query := `
		SELECT id, description, domain_signature, status, created_at, updated_at
		FROM events`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC, id ASC;"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Description, &e.DomainSignature, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event rows: %w", err)
	}
	return out, nil
}

// ListHypotheses returns an event's hypotheses in insertion order.
func (s *Store) ListHypotheses(ctx context.Context, eventID string) ([]Hypothesis, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, model_type, probability, falsifiers, domain_signature, created_at
		FROM hypotheses WHERE event_id = ? ORDER BY created_at ASC, id ASC;
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list hypotheses: %w", err)
	}
	defer rows.Close()

	var out []Hypothesis
	for rows.Next() {
		var h Hypothesis
		if err := rows.Scan(&h.ID, &h.EventID, &h.ModelType, &h.Probability, &h.Falsifiers, &h.DomainSignature, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan hypothesis: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("hypothesis rows: %w", err)
	}
	return out, nil
}

// ListTests returns an event's tests oldest first. The first element is
// the event's earliest test by (created_at, id).
func (s *Store) ListTests(ctx context.Context, eventID string) ([]Test, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, hypothesis_id, description, result, evidence_ref, created_at
		FROM tests WHERE event_id = ? ORDER BY created_at ASC, id ASC;
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	defer rows.Close()

	var out []Test
	for rows.Next() {
		var t Test
		if err := rows.Scan(&t.ID, &t.EventID, &t.HypothesisID, &t.Description, &t.Result, &t.EvidenceRef, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan test: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("test rows: %w", err)
	}
	return out, nil
}

// ListOutcomes returns an event's outcomes oldest first.
func (s *Store) ListOutcomes(ctx context.Context, eventID string) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, summary, evidence_refs, created_at
		FROM outcomes WHERE event_id = ? ORDER BY created_at ASC, id ASC;
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		var refsJSON string
		if err := rows.Scan(&o.ID, &o.EventID, &o.Summary, &refsJSON, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		refs, err := unmarshalRefs(refsJSON)
		if err != nil {
			return nil, err
		}
		o.EvidenceRefs = refs
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outcome rows: %w", err)
	}
	return out, nil
}

// ListUncompiledResolved returns resolved events that have no pattern
// yet, oldest first, so the compile sweep drains its backlog in order.
func (s *Store) ListUncompiledResolved(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.description, e.domain_signature, e.status, e.created_at, e.updated_at
		FROM events e
		LEFT JOIN patterns p ON p.event_id = e.id
		WHERE e.status = 'resolved' AND p.id IS NULL
		ORDER BY e.created_at ASC, e.id ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("list uncompiled resolved: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Description, &e.DomainSignature, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event rows: %w", err)
	}
	return out, nil
}

func dedupeRefs(refs []string) []string {
	seen := make(map[string]bool, len(refs))
	var out []string
	for _, r := range refs {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
