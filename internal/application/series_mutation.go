package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/activities-management/internal/appointment"
	"github.com/example/activities-management/internal/notify"
	"github.com/example/activities-management/internal/scheduler"
)

// seriesMutation is one scoped operation across a series. Each included
// occurrence is updated in its own atomic unit; a failure on one occurrence
// is reported and the rest of the batch continues.
type seriesMutation struct {
	operation string
	eligible  appointment.Eligibility
	apply     func(o *appointment.Occurrence) (bool, error)
	event     notify.EventType
}

// UpdateOccurrence applies a partial edit to the occurrences reached by the
// requested scope.
func (s *AppointmentService) UpdateOccurrence(ctx context.Context, params UpdateOccurrenceParams) (MutationReport, error) {
	if err := s.ready(); err != nil {
		return MutationReport{}, err
	}
	logger := serviceLogger(ctx, s.logger, appointmentServiceName, "UpdateOccurrence", "occurrence_id", params.OccurrenceID, "scope", params.Scope)

	scope, vErr := parseScope(params.Scope)
	if params.Patch.IsEmpty() {
		vErr.add("patch", "at least one field must be changed")
	}
	if vErr.HasErrors() {
		return MutationReport{}, vErr
	}

	target, err := s.occurrences.GetOccurrence(ctx, params.OccurrenceID)
	if err != nil {
		return MutationReport{}, mapRepoError(err)
	}
	now := s.now()
	if vErr := s.validateTarget(target, now, appointment.EditEligibility); vErr.HasErrors() {
		return MutationReport{}, vErr
	}
	if vErr := s.validatePatch(target, params.Patch, now); vErr.HasErrors() {
		logger.Warn("update rejected", "error_kind", ErrorKind(vErr))
		return MutationReport{}, vErr
	}

	change := s.change(params.Principal, now)
	dayShift := params.Patch.DayShift(target)
	mutation := seriesMutation{
		operation: "update",
		eligible:  appointment.EditEligibility,
		apply: func(o *appointment.Occurrence) (bool, error) {
			return appointment.ApplyPatch(o, params.Patch, dayShift, change)
		},
		event: notify.OccurrenceUpdated,
	}
	return s.mutateSeries(ctx, logger, target, scope, now, mutation)
}

// CancelOccurrence cancels the occurrences reached by the requested scope.
// The reason decides between a soft cancel and cancel-with-delete.
func (s *AppointmentService) CancelOccurrence(ctx context.Context, params CancelOccurrenceParams) (MutationReport, error) {
	if err := s.ready(); err != nil {
		return MutationReport{}, err
	}
	logger := serviceLogger(ctx, s.logger, appointmentServiceName, "CancelOccurrence", "occurrence_id", params.OccurrenceID, "scope", params.Scope)

	scope, vErr := parseScope(params.Scope)
	reason, ok := s.reasons.Default()
	if params.ReasonID != nil {
		reason, ok = s.reasons.Lookup(*params.ReasonID)
	}
	if !ok {
		vErr.add("reason_id", "cancellation reason is not recognised")
	}
	if vErr.HasErrors() {
		return MutationReport{}, vErr
	}

	target, err := s.occurrences.GetOccurrence(ctx, params.OccurrenceID)
	if err != nil {
		return MutationReport{}, mapRepoError(err)
	}
	now := s.now()
	if vErr := s.validateTarget(target, now, appointment.CancelEligibility(reason)); vErr.HasErrors() {
		return MutationReport{}, vErr
	}

	change := s.change(params.Principal, now)
	mutation := seriesMutation{
		operation: "cancel",
		eligible:  appointment.CancelEligibility(reason),
		apply: func(o *appointment.Occurrence) (bool, error) {
			return appointment.Cancel(o, reason, change), nil
		},
		event: notify.OccurrenceCancelled,
	}
	return s.mutateSeries(ctx, logger.With("reason_id", reason.ID), target, scope, now, mutation)
}

// UncancelOccurrence restores soft-cancelled occurrences reached by the
// requested scope.
func (s *AppointmentService) UncancelOccurrence(ctx context.Context, params UncancelOccurrenceParams) (MutationReport, error) {
	if err := s.ready(); err != nil {
		return MutationReport{}, err
	}
	logger := serviceLogger(ctx, s.logger, appointmentServiceName, "UncancelOccurrence", "occurrence_id", params.OccurrenceID, "scope", params.Scope)

	scope, vErr := parseScope(params.Scope)
	if vErr.HasErrors() {
		return MutationReport{}, vErr
	}

	target, err := s.occurrences.GetOccurrence(ctx, params.OccurrenceID)
	if err != nil {
		return MutationReport{}, mapRepoError(err)
	}
	now := s.now()
	if vErr := s.validateTarget(target, now, nil); vErr.HasErrors() {
		return MutationReport{}, vErr
	}

	change := s.change(params.Principal, now)
	mutation := seriesMutation{
		operation: "uncancel",
		eligible:  appointment.UncancelEligibility,
		apply: func(o *appointment.Occurrence) (bool, error) {
			return appointment.Uncancel(o, change)
		},
		event: notify.OccurrenceUncancelled,
	}
	return s.mutateSeries(ctx, logger, target, scope, now, mutation)
}

func (s *AppointmentService) mutateSeries(ctx context.Context, logger *slog.Logger, target appointment.Occurrence, scope appointment.Scope, now time.Time, mutation seriesMutation) (MutationReport, error) {
	series, err := s.scopeCandidates(ctx, target, scope, now)
	if err != nil {
		return MutationReport{}, mapRepoError(err)
	}
	selection, err := s.resolver.Resolve(series, target.ID, scope, now, mutation.eligible)
	if err != nil {
		return MutationReport{}, fmt.Errorf("resolve scope: %w", err)
	}

	sequences := make(map[string]int, len(series))
	for _, o := range series {
		sequences[o.ID] = o.Sequence
	}

	report := MutationReport{TargetID: target.ID, Scope: scope}
	for _, excluded := range selection.Excluded {
		report.Results = append(report.Results, OccurrenceResult{
			OccurrenceID: excluded.OccurrenceID,
			Sequence:     excluded.Sequence,
			Outcome:      OutcomeExcluded,
			Reason:       string(excluded.Reason),
		})
		s.metrics.ObserveOccurrenceMutation(mutation.operation, metricOutcome(OutcomeExcluded))
	}

	var events []notify.Event
	for _, id := range selection.Included {
		result := s.mutateOne(ctx, id, mutation)
		result.Sequence = sequences[id]
		if result.Outcome == OutcomeFailed {
			logger.Warn("occurrence not updated", "target_occurrence_id", id, "reason", result.Reason)
		}
		if result.Outcome == OutcomeApplied {
			events = append(events, notify.Event{Type: mutation.event, EntityID: id, OccurredAt: now})
		}
		s.metrics.ObserveOccurrenceMutation(mutation.operation, metricOutcome(result.Outcome))
		report.Results = append(report.Results, result)
	}

	sort.SliceStable(report.Results, func(i, j int) bool {
		return report.Results[i].Sequence < report.Results[j].Sequence
	})
	s.notifier.Notify(ctx, events...)
	logger.Info("series mutation finished",
		"applied", len(report.IDs(OutcomeApplied)),
		"unchanged", len(report.IDs(OutcomeUnchanged)),
		"excluded", len(report.IDs(OutcomeExcluded)),
		"failed", len(report.IDs(OutcomeFailed)),
	)
	return report, nil
}

// scopeCandidates loads the part of the series a scope can reach. Every
// occurrence that has not started is dated today or later.
func (s *AppointmentService) scopeCandidates(ctx context.Context, target appointment.Occurrence, scope appointment.Scope, now time.Time) ([]appointment.Occurrence, error) {
	from := scheduler.Today(now, s.resolver.Location())
	switch scope {
	case appointment.ScopeThisOnly:
		return []appointment.Occurrence{target}, nil
	case appointment.ScopeThisAndFuture:
		from = target.Date
	}
	if target.Date.Before(from) {
		from = target.Date
	}
	return s.occurrences.OccurrencesFrom(ctx, target.SeriesID, from)
}

func (s *AppointmentService) mutateOne(ctx context.Context, id string, mutation seriesMutation) OccurrenceResult {
	result := OccurrenceResult{OccurrenceID: id}
	var excluded appointment.ExclusionReason
	_, changed, err := s.occurrences.UpdateOccurrence(ctx, id, func(o *appointment.Occurrence) (bool, error) {
		if reason, ok := s.resolver.Admit(*o, s.now(), mutation.eligible); !ok {
			excluded = reason
			return false, nil
		}
		return mutation.apply(o)
	})
	switch {
	case err != nil:
		result.Outcome = OutcomeFailed
		result.Reason = err.Error()
	case excluded != "":
		result.Outcome = OutcomeExcluded
		result.Reason = string(excluded)
	case changed:
		result.Outcome = OutcomeApplied
	default:
		result.Outcome = OutcomeUnchanged
	}
	return result
}

func (s *AppointmentService) ready() error {
	if s == nil {
		return fmt.Errorf("AppointmentService is nil")
	}
	if s.occurrences == nil {
		return fmt.Errorf("occurrence repository not configured")
	}
	return nil
}

// validateTarget checks the occurrence a request names. A non-nil eligible
// must admit the target itself; other occurrences it rejects are skipped.
func (s *AppointmentService) validateTarget(target appointment.Occurrence, now time.Time, eligible appointment.Eligibility) *ValidationError {
	vErr := &ValidationError{}
	if target.IsDeleted() {
		vErr.add("occurrence", "occurrence has been deleted")
	} else if eligible != nil {
		if reason, ok := eligible(target); !ok {
			vErr.add("occurrence", fmt.Sprintf("occurrence cannot be changed (%s)", reason))
		}
	}
	if target.HasStarted(now, s.resolver.Location()) {
		vErr.add("occurrence", "occurrence has already started")
	}
	return vErr
}

func (s *AppointmentService) validatePatch(target appointment.Occurrence, patch appointment.Patch, now time.Time) *ValidationError {
	vErr := &ValidationError{}

	if patch.CategoryCode != nil && strings.TrimSpace(*patch.CategoryCode) == "" {
		vErr.add("category_code", "category code cannot be blank")
	}

	inCell := target.InCell
	if patch.InCell != nil {
		inCell = *patch.InCell
	}
	location := target.LocationID
	if patch.LocationID != nil {
		location = *patch.LocationID
	}
	if !inCell && strings.TrimSpace(location) == "" {
		vErr.add("location_id", "location is required unless the appointment is in cell")
	}

	if patch.ChangesTiming() {
		date := target.Date
		if patch.StartDate != nil {
			date = *patch.StartDate
		}
		start := target.StartTime
		if patch.StartTime != nil {
			start = *patch.StartTime
		}
		end := target.EndTime
		if patch.EndTime != nil {
			end = *patch.EndTime
		}
		if !start.Valid() || !end.Valid() || !start.Before(end) {
			vErr.add("end_time", "end time must be after start time")
		}
		if patch.StartDate != nil || patch.StartTime != nil {
			if !date.At(start, s.resolver.Location()).After(now) {
				vErr.add("start_date", "start must be in the future")
			}
		}
	}

	for _, personID := range patch.AddPersonIDs {
		for _, removed := range patch.RemovePersonIDs {
			if personID == removed {
				vErr.add("person_ids", fmt.Sprintf("person %s cannot be both added and removed", personID))
			}
		}
	}

	return vErr
}

func parseScope(value string) (appointment.Scope, *ValidationError) {
	vErr := &ValidationError{}
	scope, err := appointment.ParseScope(value)
	if err != nil {
		if errors.Is(err, appointment.ErrUnknownScope) {
			vErr.add("scope", "scope must be one of THIS_ONLY, THIS_AND_FUTURE, ALL_FUTURE_UNSTARTED")
		} else {
			vErr.add("scope", err.Error())
		}
	}
	return scope, vErr
}
