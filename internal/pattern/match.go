package pattern

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	cotel "github.com/basket/go-covenant/internal/otel"
	"github.com/basket/go-covenant/internal/persistence"
)

// Match is one ranked result. Score is the raw token overlap between
// query and trigger; Normalized divides it by the trigger's unique token
// count, always in [0,1]. Both come from the same intersection, so they
// can never disagree about which tokens matched.
type Match struct {
	Pattern    persistence.Pattern `json:"pattern"`
	Score      int                 `json:"score"`
	Normalized float64             `json:"normalized"`
	Rationale  string              `json:"rationale"`
}

// Matcher ranks the stored corpus against free-text queries. Every call
// recomputes from the current corpus; there is no cached state.
type Matcher struct {
	store   *persistence.Store
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *cotel.Metrics
}

// NewMatcher returns a matcher over the given store. logger, tracer, and
// metrics may be nil.
func NewMatcher(store *persistence.Store, logger *slog.Logger, tracer trace.Tracer, metrics *cotel.Metrics) *Matcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Matcher{store: store, logger: logger, tracer: tracer, metrics: metrics}
}

// Match tokenizes the query and returns at most topK patterns sharing at
// least one token with it, best first. Ties in score go to the most
// recently created pattern, then to the smaller pattern id. topK <= 0
// means no limit. An empty result is not an error.
func (m *Matcher) Match(ctx context.Context, query string, topK int) ([]Match, error) {
	start := time.Now()
	if m.tracer != nil {
		var span trace.Span
		ctx, span = cotel.StartSpan(ctx, m.tracer, "pattern.match")
		defer span.End()
	}

	queryTokens := tokenSet(query)
	if len(queryTokens) == 0 {
		m.observe(ctx, 0, time.Since(start))
		return nil, nil
	}

	patterns, err := m.store.ListPatterns(ctx)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, p := range patterns {
		trigger := uniqueTokens(p.Trigger)
		var matched []string
		for _, tok := range trigger {
			if queryTokens[tok] {
				matched = append(matched, tok)
			}
		}
		if len(matched) == 0 {
			continue
		}
		matches = append(matches, Match{
			Pattern:    p,
			Score:      len(matched),
			Normalized: float64(len(matched)) / float64(len(trigger)),
			Rationale:  strings.Join(matched, " "),
		})
	}

	// ListPatterns already orders by (created_at desc, id asc); a stable
	// sort on score keeps that as the tie-break.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}

	m.observe(ctx, len(matches), time.Since(start))
	m.logger.DebugContext(ctx, "pattern match",
		"query_tokens", len(queryTokens),
		"corpus", len(patterns),
		"matches", len(matches),
	)
	return matches, nil
}

func (m *Matcher) observe(ctx context.Context, count int, elapsed time.Duration) {
	if m.metrics == nil {
		return
	}
	m.metrics.MatchQueries.Add(ctx, 1)
	m.metrics.MatchDuration.Record(ctx, elapsed.Seconds())
}

// Render formats matches for terminal output, one line per match with
// the normalized score.
func Render(matches []Match) string {
	if len(matches) == 0 {
		return "no matching patterns"
	}
	var b strings.Builder
	for i, m := range matches {
		fmt.Fprintf(&b, "%d. %s (score: %.2f)\n", i+1, m.Pattern.Trigger, m.Normalized)
		if m.Pattern.BestResponse != "" {
			fmt.Fprintf(&b, "   response: %s\n", m.Pattern.BestResponse)
		}
		if m.Rationale != "" {
			fmt.Fprintf(&b, "   matched: %s\n", m.Rationale)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
