package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all covenant metric instruments.
type Metrics struct {
	GateDecisions   metric.Int64Counter
	GateDenials     metric.Int64Counter
	AuditAppends    metric.Int64Counter
	GateDuration    metric.Float64Histogram
	CompileRuns     metric.Int64Counter
	PatternsEmitted metric.Int64Counter
	MatchQueries    metric.Int64Counter
	MatchDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.GateDecisions, err = meter.Int64Counter("covenant.gate.decisions",
		metric.WithDescription("Gate authorization decisions, allowed and blocked"),
	)
	if err != nil {
		return nil, err
	}

	m.GateDenials, err = meter.Int64Counter("covenant.gate.denials",
		metric.WithDescription("Gate decisions that blocked the action"),
	)
	if err != nil {
		return nil, err
	}

	m.AuditAppends, err = meter.Int64Counter("covenant.audit.appends",
		metric.WithDescription("Rows appended to the audit ledger"),
	)
	if err != nil {
		return nil, err
	}

	m.GateDuration, err = meter.Float64Histogram("covenant.gate.duration",
		metric.WithDescription("Gate decision duration including the audit write, in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.CompileRuns, err = meter.Int64Counter("covenant.compile.runs",
		metric.WithDescription("Pattern compile sweeps executed"),
	)
	if err != nil {
		return nil, err
	}

	m.PatternsEmitted, err = meter.Int64Counter("covenant.compile.patterns",
		metric.WithDescription("Patterns compiled from resolved events"),
	)
	if err != nil {
		return nil, err
	}

	m.MatchQueries, err = meter.Int64Counter("covenant.match.queries",
		metric.WithDescription("Pattern match queries served"),
	)
	if err != nil {
		return nil, err
	}

	m.MatchDuration, err = meter.Float64Histogram("covenant.match.duration",
		metric.WithDescription("Pattern match duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
