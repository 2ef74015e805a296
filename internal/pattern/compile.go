package pattern

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/basket/go-covenant/internal/persistence"
)

// Compiler derives patterns from resolved events. Compilation is
// deterministic: the same resolved event always yields the same pattern
// fields, so a recompile produces a structurally identical corpus entry.
type Compiler struct {
	store  *persistence.Store
	logger *slog.Logger
}

// NewCompiler returns a compiler over the given store. logger may be nil.
func NewCompiler(store *persistence.Store, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Compiler{store: store, logger: logger}
}

// Compile derives a pattern from a resolved event without storing it.
// Fails with persistence.ErrEventNotResolved when the event is still
// open or tested.
//
// Derivation: the trigger joins the intent goal with the event
// description; the invariant is the intent's success signal; the
// counterexample names the highest-weighted hypothesis knocked down by a
// failing test; the best response is the outcome summary; evidence refs
// come from the outcome.
func (c *Compiler) Compile(ctx context.Context, eventID string) (persistence.Pattern, error) {
	event, err := c.store.GetEvent(ctx, eventID)
	if err != nil {
		return persistence.Pattern{}, err
	}
	if event.Status != persistence.StatusResolved {
		return persistence.Pattern{}, fmt.Errorf("%w: event %s is %s",
			persistence.ErrEventNotResolved, eventID, event.Status)
	}

	var goal, successSignal string
	intent, err := c.store.GetIntent(ctx, eventID)
	switch {
	case err == nil:
		goal = intent.Goal
		successSignal = intent.SuccessSignal
	case errors.Is(err, persistence.ErrIntentNotFound):
		// No intent was ever recorded; trigger falls back to the
		// description alone.
	default:
		return persistence.Pattern{}, err
	}

	outcomes, err := c.store.ListOutcomes(ctx, eventID)
	if err != nil {
		return persistence.Pattern{}, err
	}
	if len(outcomes) == 0 {
		return persistence.Pattern{}, fmt.Errorf("resolved event %s has no outcome", eventID)
	}
	outcome := outcomes[0]

	counterexample, err := c.selectCounterexample(ctx, eventID)
	if err != nil {
		return persistence.Pattern{}, err
	}

	return persistence.Pattern{
		EventID:         event.ID,
		Trigger:         joinNonEmpty(goal, event.Description),
		Invariant:       successSignal,
		Counterexample:  counterexample,
		BestResponse:    outcome.Summary,
		DomainSignature: event.DomainSignature,
		EvidenceRefs:    outcome.EvidenceRefs,
	}, nil
}

// CompileAndStore compiles the event and appends the result to the
// corpus. Each call adds a new entry; the corpus is never deduplicated.
func (c *Compiler) CompileAndStore(ctx context.Context, eventID string) (persistence.Pattern, error) {
	p, err := c.Compile(ctx, eventID)
	if err != nil {
		return persistence.Pattern{}, err
	}
	stored, err := c.store.InsertPattern(ctx, p)
	if err != nil {
		return persistence.Pattern{}, err
	}
	c.logger.InfoContext(ctx, "pattern compiled",
		"event_id", eventID,
		"pattern_id", stored.ID,
		"trigger", stored.Trigger,
	)
	return stored, nil
}

// selectCounterexample picks the hypothesis with the highest probability
// among those falsified by a failing test. Ties go to the hypothesis
// whose falsifying test came first by (created_at, id). Returns "" when
// no test failed.
func (c *Compiler) selectCounterexample(ctx context.Context, eventID string) (string, error) {
	hypotheses, err := c.store.ListHypotheses(ctx, eventID)
	if err != nil {
		return "", err
	}
	byID := make(map[string]persistence.Hypothesis, len(hypotheses))
	for _, h := range hypotheses {
		byID[h.ID] = h
	}

	tests, err := c.store.ListTests(ctx, eventID)
	if err != nil {
		return "", err
	}

	// Tests arrive ordered by (created_at, id), so the first failing test
	// seen for a hypothesis is its earliest falsifier.
	firstFalsifier := make(map[string]int)
	for i, t := range tests {
		if !resultIndicatesFailure(t.Result) {
			continue
		}
		if _, seen := firstFalsifier[t.HypothesisID]; !seen {
			firstFalsifier[t.HypothesisID] = i
		}
	}

	best := ""
	bestProb := -1.0
	bestOrder := -1
	for hypID, order := range firstFalsifier {
		h, ok := byID[hypID]
		if !ok {
			continue
		}
		if h.Probability > bestProb || (h.Probability == bestProb && order < bestOrder) {
			best = h.ModelType
			bestProb = h.Probability
			bestOrder = order
		}
	}
	return best, nil
}

// resultIndicatesFailure reports whether a test result falsifies its
// hypothesis. Matches the vocabulary capture sessions actually produce.
func resultIndicatesFailure(result string) bool {
	lowered := strings.ToLower(result)
	for _, marker := range []string{"fail", "falsif", "refut", "negative"} {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
