// Package gate makes covenant authorization decisions. Every decision,
// allowed or blocked, lands in the audit ledger before the caller sees
// it; an action whose audit row cannot be written is not authorized.
package gate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	cotel "github.com/basket/go-covenant/internal/otel"
	"github.com/basket/go-covenant/internal/persistence"
	"github.com/basket/go-covenant/internal/shared"
)

// Reason strings recorded on blocked decisions.
const (
	ReasonMalformed      = "malformed request"
	ReasonNoCovenant     = "no covenant activated"
	ReasonScopeNotListed = "scope not in covenant"
)

// ActionTypeInvalid replaces the caller's action type on malformed
// requests so garbage input cannot invent new action vocabulary in the
// ledger.
const ActionTypeInvalid = "invalid"

// Decision is the result of one authorization check.
type Decision struct {
	Allowed         bool   `json:"allowed"`
	CovenantVersion string `json:"covenant_version"`
	Reason          string `json:"reason,omitempty"`
	AuditID         string `json:"audit_id"`
}

// Gate answers "may this actor take this action in this scope" against
// the currently active covenant.
type Gate struct {
	store   *persistence.Store
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *cotel.Metrics
}

// New returns a gate over the given store. logger, tracer, and metrics
// may be nil; nil observability is replaced with no-ops.
func New(store *persistence.Store, logger *slog.Logger, tracer trace.Tracer, metrics *cotel.Metrics) *Gate {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Gate{store: store, logger: logger, tracer: tracer, metrics: metrics}
}

// Authorize decides one action and appends exactly one audit row. The
// returned decision always carries the id of that row. If the row cannot
// be written the action is not authorized and an error is returned
// instead of a decision.
func (g *Gate) Authorize(ctx context.Context, actor, actionType, scope string) (Decision, error) {
	start := time.Now()
	actor = strings.TrimSpace(actor)
	actionType = strings.TrimSpace(actionType)
	scope = strings.TrimSpace(scope)

	if g.tracer != nil {
		var span trace.Span
		ctx, span = cotel.StartSpan(ctx, g.tracer, "gate.authorize",
			cotel.AttrActor.String(actor),
			cotel.AttrScope.String(scope),
			cotel.AttrActionType.String(actionType),
		)
		defer span.End()
	}

	version, hasCovenant, err := g.store.CurrentCovenantVersion(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("resolve current covenant: %w", err)
	}
	if !hasCovenant {
		version = "none"
	}

	d := Decision{CovenantVersion: version}
	switch {
	case actor == "" || actionType == "" || scope == "":
		actionType = ActionTypeInvalid
		d.Reason = ReasonMalformed
	case !hasCovenant:
		d.Reason = ReasonNoCovenant
	default:
		allowed, err := g.store.IsScopeAllowed(ctx, version, scope)
		if err != nil {
			return Decision{}, fmt.Errorf("check scope %q: %w", scope, err)
		}
		if allowed {
			d.Allowed = true
		} else {
			d.Reason = ReasonScopeNotListed
		}
	}

	row := persistence.AuditAction{
		Actor:           actor,
		ActionType:      actionType,
		Scope:           scope,
		Allowed:         d.Allowed,
		CovenantVersion: d.CovenantVersion,
		Reason:          d.Reason,
		EventID:         shared.EventID(ctx),
		TraceID:         shared.TraceID(ctx),
	}
	if row.EventID != "" {
		intent, err := g.store.GetIntent(ctx, row.EventID)
		switch {
		case err == nil:
			row.IntentID = intent.ID
		case errors.Is(err, persistence.ErrIntentNotFound):
			// Event has no intent yet; the row still carries the event id.
		default:
			return Decision{}, fmt.Errorf("resolve intent for event %s: %w", row.EventID, err)
		}
	}

	auditID, err := g.store.AppendAudit(ctx, row)
	if err != nil {
		g.logger.ErrorContext(ctx, "audit append failed, action not authorized",
			"actor", actor, "scope", scope, "error", err)
		return Decision{}, fmt.Errorf("append audit row: %w", err)
	}
	d.AuditID = auditID

	g.observe(ctx, d, time.Since(start))
	g.logger.InfoContext(ctx, "gate decision",
		"actor", actor,
		"action_type", actionType,
		"scope", scope,
		"allowed", d.Allowed,
		"covenant_version", d.CovenantVersion,
		"reason", d.Reason,
		"audit_id", d.AuditID,
	)
	return d, nil
}

func (g *Gate) observe(ctx context.Context, d Decision, elapsed time.Duration) {
	if g.metrics == nil {
		return
	}
	g.metrics.GateDecisions.Add(ctx, 1)
	g.metrics.AuditAppends.Add(ctx, 1)
	if !d.Allowed {
		g.metrics.GateDenials.Add(ctx, 1)
	}
	g.metrics.GateDuration.Record(ctx, elapsed.Seconds())
}
