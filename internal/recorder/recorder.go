// Package recorder drives the diagnostic event lifecycle: open an
// event, record intent, attach hypotheses, probe them with tests, and
// close with an outcome. It layers session-level flows over the store's
// per-write invariants.
package recorder

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/basket/go-covenant/internal/persistence"
	"github.com/basket/go-covenant/internal/shared"
)

// Recorder wraps the store's event operations with logging and the
// batch capture flow.
type Recorder struct {
	store  *persistence.Store
	logger *slog.Logger
}

// New returns a recorder over the given store. logger may be nil.
func New(store *persistence.Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Recorder{store: store, logger: logger}
}

// Open starts a new diagnostic event.
func (r *Recorder) Open(ctx context.Context, description, domainSignature string) (persistence.Event, error) {
	e, err := r.store.OpenEvent(ctx, description, domainSignature)
	if err != nil {
		return persistence.Event{}, err
	}
	r.logger.InfoContext(ctx, "event opened", "event_id", e.ID, "domain", e.DomainSignature)
	return e, nil
}

// RecordIntent attaches the event's single intent token.
func (r *Recorder) RecordIntent(ctx context.Context, t persistence.IntentToken) (persistence.IntentToken, error) {
	return r.store.RecordIntent(ctx, t)
}

// AddHypothesis attaches a candidate failure model.
func (r *Recorder) AddHypothesis(ctx context.Context, h persistence.Hypothesis) (persistence.Hypothesis, error) {
	return r.store.AddHypothesis(ctx, h)
}

// RecordTest registers a probe against one of the event's hypotheses.
func (r *Recorder) RecordTest(ctx context.Context, t persistence.Test) (persistence.Test, error) {
	return r.store.RecordTest(ctx, t)
}

// RecordOutcome resolves the event.
func (r *Recorder) RecordOutcome(ctx context.Context, o persistence.Outcome) (persistence.Outcome, error) {
	out, err := r.store.RecordOutcome(ctx, o)
	if err != nil {
		return persistence.Outcome{}, err
	}
	r.logger.InfoContext(ctx, "event resolved", "event_id", o.EventID, "outcome_id", out.ID)
	return out, nil
}

// CaptureInput describes a full diagnostic session in one document, the
// shape produced by an interactive capture or a prepared JSON file.
// Tests reference hypotheses by position in Hypotheses; the outcome
// references tests by position in Tests, or all of them when
// TestIndexes is empty.
type CaptureInput struct {
	Description     string          `json:"description"`
	DomainSignature string          `json:"domain_signature,omitempty"`
	Intent          *CaptureIntent  `json:"intent,omitempty"`
	Hypotheses      []CaptureHyp    `json:"hypotheses"`
	Tests           []CaptureTest   `json:"tests"`
	Outcome         *CaptureOutcome `json:"outcome,omitempty"`
}

type CaptureIntent struct {
	Goal          string  `json:"goal"`
	Constraints   string  `json:"constraints,omitempty"`
	SuccessSignal string  `json:"success_signal,omitempty"`
	Confidence    float64 `json:"confidence"`
}

type CaptureHyp struct {
	ModelType       string  `json:"model_type"`
	Probability     float64 `json:"probability"`
	Falsifiers      string  `json:"falsifiers,omitempty"`
	DomainSignature string  `json:"domain_signature,omitempty"`
}

type CaptureTest struct {
	Hypothesis  int    `json:"hypothesis"`
	Description string `json:"description"`
	Result      string `json:"result,omitempty"`
	EvidenceRef string `json:"evidence_ref,omitempty"`
}

type CaptureOutcome struct {
	Summary     string `json:"summary"`
	TestIndexes []int  `json:"test_indexes,omitempty"`
}

// Capture replays a whole session through the normal lifecycle. Every
// store invariant still applies; the first rejected write aborts the
// capture and reports which step failed. Writes before the failure
// remain, leaving the event open or tested for manual repair.
func (r *Recorder) Capture(ctx context.Context, in CaptureInput) (persistence.Event, error) {
	event, err := r.Open(ctx, in.Description, in.DomainSignature)
	if err != nil {
		return persistence.Event{}, err
	}
	// Later steps, and anything gated during them, correlate to the
	// event just opened.
	ctx = shared.WithEventID(ctx, event.ID)

	if in.Intent != nil {
		if _, err := r.store.RecordIntent(ctx, persistence.IntentToken{
			EventID:       event.ID,
			Goal:          in.Intent.Goal,
			Constraints:   in.Intent.Constraints,
			SuccessSignal: in.Intent.SuccessSignal,
			Confidence:    in.Intent.Confidence,
		}); err != nil {
			return persistence.Event{}, fmt.Errorf("capture intent: %w", err)
		}
	}

	hypIDs := make([]string, 0, len(in.Hypotheses))
	for i, ch := range in.Hypotheses {
		h, err := r.store.AddHypothesis(ctx, persistence.Hypothesis{
			EventID:         event.ID,
			ModelType:       ch.ModelType,
			Probability:     ch.Probability,
			Falsifiers:      ch.Falsifiers,
			DomainSignature: ch.DomainSignature,
		})
		if err != nil {
			return persistence.Event{}, fmt.Errorf("capture hypothesis %d: %w", i, err)
		}
		hypIDs = append(hypIDs, h.ID)
	}

	testIDs := make([]string, 0, len(in.Tests))
	for i, ct := range in.Tests {
		if ct.Hypothesis < 0 || ct.Hypothesis >= len(hypIDs) {
			return persistence.Event{}, fmt.Errorf("capture test %d: hypothesis index %d out of range", i, ct.Hypothesis)
		}
		test, err := r.store.RecordTest(ctx, persistence.Test{
			EventID:      event.ID,
			HypothesisID: hypIDs[ct.Hypothesis],
			Description:  ct.Description,
			Result:       ct.Result,
			EvidenceRef:  ct.EvidenceRef,
		})
		if err != nil {
			return persistence.Event{}, fmt.Errorf("capture test %d: %w", i, err)
		}
		testIDs = append(testIDs, test.ID)
	}

	if in.Outcome != nil {
		refs := make([]string, 0, len(testIDs))
		if len(in.Outcome.TestIndexes) == 0 {
			refs = append(refs, testIDs...)
		} else {
			for _, idx := range in.Outcome.TestIndexes {
				if idx < 0 || idx >= len(testIDs) {
					return persistence.Event{}, fmt.Errorf("capture outcome: test index %d out of range", idx)
				}
				refs = append(refs, testIDs[idx])
			}
		}
		if _, err := r.store.RecordOutcome(ctx, persistence.Outcome{
			EventID:      event.ID,
			Summary:      in.Outcome.Summary,
			EvidenceRefs: refs,
		}); err != nil {
			return persistence.Event{}, fmt.Errorf("capture outcome: %w", err)
		}
	}

	return r.store.GetEvent(ctx, event.ID)
}
