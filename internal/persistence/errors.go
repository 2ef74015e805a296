package persistence

import "errors"

// Sentinel errors surfaced by the store. Callers match with errors.Is.
var (
	// Covenant ledger.
	ErrDuplicateVersion = errors.New("covenant version already registered")
	ErrUnknownVersion   = errors.New("unknown covenant version")

	// Event lifecycle.
	ErrEventNotFound         = errors.New("event not found")
	ErrHypothesisNotFound    = errors.New("hypothesis not found")
	ErrIntentNotFound        = errors.New("intent not recorded for event")
	ErrEventClosed           = errors.New("event is resolved")
	ErrIntentAlreadyRecorded = errors.New("intent already recorded for event")
	ErrInvalidProbability    = errors.New("probability must be in [0,1]")
	ErrInvalidConfidence     = errors.New("confidence must be in [0,1]")
	ErrCrossEventReference   = errors.New("hypothesis belongs to a different event")
	ErrEmptyEvidence         = errors.New("outcome requires at least one evidence reference")
	ErrDanglingEvidence      = errors.New("evidence reference does not identify a test of this event")

	// Pattern compilation.
	ErrEventNotResolved = errors.New("event is not resolved")
)

// Kind classifies a store error for callers that branch on recovery
// strategy rather than the specific failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation: rejected before any write; retry with corrected input.
	KindValidation
	// KindIntegrity: referential check failed; rejected atomically.
	KindIntegrity
	// KindNotFound: the named entity was never registered.
	KindNotFound
	// KindState: the write conflicts with the entity's lifecycle state.
	KindState
)

func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidProbability),
		errors.Is(err, ErrInvalidConfidence),
		errors.Is(err, ErrEmptyEvidence):
		return KindValidation
	case errors.Is(err, ErrCrossEventReference),
		errors.Is(err, ErrDanglingEvidence),
		errors.Is(err, ErrDuplicateVersion):
		return KindIntegrity
	case errors.Is(err, ErrUnknownVersion),
		errors.Is(err, ErrEventNotFound),
		errors.Is(err, ErrHypothesisNotFound),
		errors.Is(err, ErrIntentNotFound):
		return KindNotFound
	case errors.Is(err, ErrEventClosed),
		errors.Is(err, ErrIntentAlreadyRecorded),
		errors.Is(err, ErrEventNotResolved):
		return KindState
	default:
		return KindUnknown
	}
}
