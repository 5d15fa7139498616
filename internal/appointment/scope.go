package appointment

import (
	"errors"
	"fmt"
	"time"
)

// Scope selects which occurrences of a series an edit or cancellation reaches.
type Scope string

const (
	ScopeThisOnly           Scope = "THIS_ONLY"
	ScopeThisAndFuture      Scope = "THIS_AND_FUTURE"
	ScopeAllFutureUnstarted Scope = "ALL_FUTURE_UNSTARTED"
)

// ErrUnknownScope indicates an unsupported scope selector.
var ErrUnknownScope = errors.New("appointment: unknown scope")

// ErrTargetNotInSeries indicates the target occurrence is missing from the supplied series.
var ErrTargetNotInSeries = errors.New("appointment: target occurrence not in series")

// ParseScope converts user input into a Scope.
func ParseScope(value string) (Scope, error) {
	switch s := Scope(value); s {
	case ScopeThisOnly, ScopeThisAndFuture, ScopeAllFutureUnstarted:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScope, value)
	}
}

// ExclusionReason explains why an occurrence matched a scope but was left out.
type ExclusionReason string

const (
	ExclusionStarted      ExclusionReason = "STARTED"
	ExclusionCancelled    ExclusionReason = "CANCELLED"
	ExclusionDeleted      ExclusionReason = "DELETED"
	ExclusionNotCancelled ExclusionReason = "NOT_CANCELLED"
)

// Exclusion is one occurrence removed from a scope.
type Exclusion struct {
	OccurrenceID string
	Sequence     int
	Reason       ExclusionReason
}

// Selection is the resolved scope: included ids in chronological order plus
// the occurrences that matched the selector but failed a guard.
type Selection struct {
	Included []string
	Excluded []Exclusion
}

// Eligibility decides whether an unstarted occurrence can take part in an
// operation. It returns false with a reason to exclude it.
type Eligibility func(o Occurrence) (ExclusionReason, bool)

// EditEligibility admits scheduled occurrences only.
func EditEligibility(o Occurrence) (ExclusionReason, bool) {
	switch o.Status {
	case StatusCancelledAndDeleted:
		return ExclusionDeleted, false
	case StatusCancelled:
		return ExclusionCancelled, false
	default:
		return "", true
	}
}

// CancelEligibility admits scheduled occurrences, and soft-cancelled ones
// when the cancellation deletes.
func CancelEligibility(reason CancellationReason) Eligibility {
	return func(o Occurrence) (ExclusionReason, bool) {
		switch o.Status {
		case StatusCancelledAndDeleted:
			return ExclusionDeleted, false
		case StatusCancelled:
			if reason.IsDelete {
				return "", true
			}
			return ExclusionCancelled, false
		default:
			return "", true
		}
	}
}

// UncancelEligibility admits soft-cancelled occurrences only.
func UncancelEligibility(o Occurrence) (ExclusionReason, bool) {
	switch o.Status {
	case StatusCancelled:
		return "", true
	case StatusCancelledAndDeleted:
		return ExclusionDeleted, false
	default:
		return ExclusionNotCancelled, false
	}
}

// Resolver computes scopes in a facility time zone.
type Resolver struct {
	location *time.Location
}

// NewResolver constructs a Resolver. A nil location means UTC.
func NewResolver(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{location: loc}
}

// Location returns the facility time zone used for start instants.
func (r *Resolver) Location() *time.Location {
	if r == nil || r.location == nil {
		return time.UTC
	}
	return r.location
}

// Resolve selects the occurrences of series reached by scope from targetID.
// Occurrences that have started at now are never included.
func (r *Resolver) Resolve(series []Occurrence, targetID string, scope Scope, now time.Time, eligible Eligibility) (Selection, error) {
	ordered := make([]Occurrence, len(series))
	copy(ordered, series)
	SortChronologically(ordered)

	targetIdx := -1
	for i, o := range ordered {
		if o.ID == targetID {
			targetIdx = i
			break
		}
	}
	if targetIdx < 0 {
		return Selection{}, fmt.Errorf("%w: %s", ErrTargetNotInSeries, targetID)
	}
	target := ordered[targetIdx]
	loc := r.Location()

	var candidates []Occurrence
	switch scope {
	case ScopeThisOnly:
		candidates = []Occurrence{target}
	case ScopeThisAndFuture:
		targetStart := target.StartInstant(loc)
		candidates = append(candidates, target)
		for _, o := range ordered {
			if o.ID != target.ID && o.StartInstant(loc).After(targetStart) {
				candidates = append(candidates, o)
			}
		}
	case ScopeAllFutureUnstarted:
		candidates = ordered
	default:
		return Selection{}, fmt.Errorf("%w: %q", ErrUnknownScope, scope)
	}

	selection := Selection{Included: make([]string, 0, len(candidates))}
	for _, o := range candidates {
		if reason, ok := r.Admit(o, now, eligible); !ok {
			selection.Excluded = append(selection.Excluded, Exclusion{OccurrenceID: o.ID, Sequence: o.Sequence, Reason: reason})
			continue
		}
		selection.Included = append(selection.Included, o.ID)
	}
	return selection, nil
}

// Admit applies the start-time guard and the operation's eligibility to a
// single occurrence. Callers re-run it immediately before each write.
func (r *Resolver) Admit(o Occurrence, now time.Time, eligible Eligibility) (ExclusionReason, bool) {
	if o.HasStarted(now, r.Location()) {
		return ExclusionStarted, false
	}
	if eligible != nil {
		return eligible(o)
	}
	return "", true
}
