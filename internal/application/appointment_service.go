package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/activities-management/internal/appointment"
	"github.com/example/activities-management/internal/notify"
	"github.com/example/activities-management/internal/recurrence"
	"github.com/example/activities-management/internal/scheduler"
)

const appointmentServiceName = "AppointmentService"

// AppointmentService creates appointment series and applies scoped edits,
// cancellations and attendance to their occurrences.
type AppointmentService struct {
	series      SeriesRepository
	occurrences OccurrenceRepository
	planner     *recurrence.Planner
	resolver    *appointment.Resolver
	reasons     *appointment.ReasonCatalog
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
	notifier    Notifier
	metrics     Metrics
}

// NewAppointmentService wires dependencies for appointment operations.
func NewAppointmentService(series SeriesRepository, occurrences OccurrenceRepository, planner *recurrence.Planner, resolver *appointment.Resolver, reasons *appointment.ReasonCatalog, idGenerator func() string, now func() time.Time, opts ...ServiceOption) *AppointmentService {
	if planner == nil {
		planner = recurrence.NewPlanner(recurrence.DefaultMaxOccurrences)
	}
	if resolver == nil {
		resolver = appointment.NewResolver(time.UTC)
	}
	if reasons == nil {
		reasons = appointment.NewReasonCatalog()
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	o := buildOptions(opts)
	return &AppointmentService{
		series:      series,
		occurrences: occurrences,
		planner:     planner,
		resolver:    resolver,
		reasons:     reasons,
		idGenerator: idGenerator,
		now:         now,
		logger:      o.logger,
		notifier:    o.notifier,
		metrics:     o.metrics,
	}
}

// CreateSeries validates the request, expands the recurrence and stores the
// series with one occurrence per planned date.
func (s *AppointmentService) CreateSeries(ctx context.Context, params CreateSeriesParams) (SeriesDetails, error) {
	if s == nil {
		return SeriesDetails{}, fmt.Errorf("AppointmentService is nil")
	}
	if s.series == nil {
		return SeriesDetails{}, fmt.Errorf("series repository not configured")
	}
	input := params.Input
	logger := serviceLogger(ctx, s.logger, appointmentServiceName, "CreateSeries", "prison_code", input.PrisonCode)
	now := s.now()

	rule, vErr := s.validateSeriesInput(input, now)
	if vErr.HasErrors() {
		logger.Warn("series rejected", "error_kind", ErrorKind(vErr))
		return SeriesDetails{}, vErr
	}

	dates, err := s.planner.Plan(rule)
	if err != nil {
		return SeriesDetails{}, fmt.Errorf("plan series: %w", err)
	}

	series := appointment.Series{
		ID:            s.idGenerator(),
		PrisonCode:    strings.TrimSpace(input.PrisonCode),
		CategoryCode:  strings.TrimSpace(input.CategoryCode),
		OrganiserCode: strings.TrimSpace(input.OrganiserCode),
		InCell:        input.InCell,
		StartDate:     input.StartDate,
		StartTime:     input.StartTime,
		EndTime:       input.EndTime,
		Note:          input.Note,
		CreatedAt:     now,
		CreatedBy:     params.Principal.Actor(),
	}
	if !input.InCell {
		series.LocationID = strings.TrimSpace(input.LocationID)
	}
	if rule.Frequency != recurrence.FrequencyNone {
		series.Schedule = &appointment.Schedule{Frequency: rule.Frequency, Count: rule.Count}
	}

	personIDs := uniqueStrings(input.PersonIDs)
	occurrences := make([]appointment.Occurrence, 0, len(dates))
	for i, date := range dates {
		occurrence := appointment.Occurrence{
			ID:           s.idGenerator(),
			SeriesID:     series.ID,
			PrisonCode:   series.PrisonCode,
			Sequence:     i + 1,
			Date:         date,
			StartTime:    series.StartTime,
			EndTime:      series.EndTime,
			CategoryCode: series.CategoryCode,
			InCell:       series.InCell,
			LocationID:   series.LocationID,
			Note:         series.Note,
			Status:       appointment.StatusScheduled,
			Attendees:    make([]appointment.Attendee, 0, len(personIDs)),
		}
		for _, personID := range personIDs {
			occurrence.Attendees = append(occurrence.Attendees, appointment.Attendee{
				ID:         s.idGenerator(),
				PersonID:   personID,
				Attendance: appointment.AttendanceUnmarked,
			})
		}
		series.OccurrenceIDs = append(series.OccurrenceIDs, occurrence.ID)
		occurrences = append(occurrences, occurrence)
	}

	if err := s.series.CreateSeries(ctx, series, occurrences); err != nil {
		logger.Error("failed to store series", "error", err, "error_kind", ErrorKind(err))
		return SeriesDetails{}, mapRepoError(err)
	}

	events := make([]notify.Event, 0, len(occurrences))
	for _, occurrence := range occurrences {
		events = append(events, notify.Event{Type: notify.OccurrenceCreated, EntityID: occurrence.ID, OccurredAt: now})
	}
	s.notifier.Notify(ctx, events...)

	logger.Info("series created", "series_id", series.ID, "occurrences", len(occurrences))
	return SeriesDetails{Series: series, Occurrences: occurrences}, nil
}

// GetSeries returns a series and its occurrences.
func (s *AppointmentService) GetSeries(ctx context.Context, id string) (SeriesDetails, error) {
	if s == nil {
		return SeriesDetails{}, fmt.Errorf("AppointmentService is nil")
	}
	if s.series == nil || s.occurrences == nil {
		return SeriesDetails{}, fmt.Errorf("appointment repositories not configured")
	}
	series, err := s.series.GetSeries(ctx, id)
	if err != nil {
		return SeriesDetails{}, mapRepoError(err)
	}
	occurrences, err := s.occurrences.ListSeriesOccurrences(ctx, id)
	if err != nil {
		return SeriesDetails{}, mapRepoError(err)
	}
	appointment.SortChronologically(occurrences)
	return SeriesDetails{Series: series, Occurrences: occurrences}, nil
}

// ListSeriesOccurrences returns the occurrences of a series in chronological order.
func (s *AppointmentService) ListSeriesOccurrences(ctx context.Context, seriesID string) ([]appointment.Occurrence, error) {
	details, err := s.GetSeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	return details.Occurrences, nil
}

// GetOccurrence returns a single occurrence.
func (s *AppointmentService) GetOccurrence(ctx context.Context, id string) (appointment.Occurrence, error) {
	if s == nil {
		return appointment.Occurrence{}, fmt.Errorf("AppointmentService is nil")
	}
	if s.occurrences == nil {
		return appointment.Occurrence{}, fmt.Errorf("occurrence repository not configured")
	}
	occurrence, err := s.occurrences.GetOccurrence(ctx, id)
	if err != nil {
		return appointment.Occurrence{}, mapRepoError(err)
	}
	return occurrence, nil
}

// MarkAttendance records attendance outcomes on one occurrence.
func (s *AppointmentService) MarkAttendance(ctx context.Context, params MarkAttendanceParams) (appointment.Occurrence, error) {
	if s == nil {
		return appointment.Occurrence{}, fmt.Errorf("AppointmentService is nil")
	}
	if s.occurrences == nil {
		return appointment.Occurrence{}, fmt.Errorf("occurrence repository not configured")
	}
	logger := serviceLogger(ctx, s.logger, appointmentServiceName, "MarkAttendance", "occurrence_id", params.OccurrenceID)

	if len(params.Attended) == 0 && len(params.NotAttended) == 0 {
		return appointment.Occurrence{}, fieldError("attendance", "at least one attended or not attended person is required")
	}
	for _, personID := range params.Attended {
		for _, other := range params.NotAttended {
			if personID == other {
				return appointment.Occurrence{}, fieldError("attendance", fmt.Sprintf("person %s cannot be both attended and not attended", personID))
			}
		}
	}

	now := s.now()
	change := s.change(params.Principal, now)
	updated, changed, err := s.occurrences.UpdateOccurrence(ctx, params.OccurrenceID, func(o *appointment.Occurrence) (bool, error) {
		return appointment.MarkAttendance(o, params.Attended, params.NotAttended, change)
	})
	if err != nil {
		err = mapAttendanceError(err)
		logger.Warn("attendance not recorded", "error", err, "error_kind", ErrorKind(err))
		s.metrics.ObserveOccurrenceMutation("attendance", metricOutcome(OutcomeFailed))
		return appointment.Occurrence{}, err
	}
	if !changed {
		s.metrics.ObserveOccurrenceMutation("attendance", metricOutcome(OutcomeUnchanged))
		return updated, nil
	}

	s.metrics.ObserveOccurrenceMutation("attendance", metricOutcome(OutcomeApplied))
	s.notifier.Notify(ctx, notify.Event{Type: notify.OccurrenceUpdated, EntityID: updated.ID, OccurredAt: now})
	logger.Info("attendance recorded", "attended", len(params.Attended), "not_attended", len(params.NotAttended))
	return updated, nil
}

func (s *AppointmentService) validateSeriesInput(input SeriesInput, now time.Time) (recurrence.Rule, *ValidationError) {
	vErr := &ValidationError{}

	if strings.TrimSpace(input.PrisonCode) == "" {
		vErr.add("prison_code", "prison code is required")
	}
	if strings.TrimSpace(input.CategoryCode) == "" {
		vErr.add("category_code", "category code is required")
	}
	if !input.InCell && strings.TrimSpace(input.LocationID) == "" {
		vErr.add("location_id", "location is required unless the appointment is in cell")
	}
	if input.StartDate.IsZero() {
		vErr.add("start_date", "start date is required")
	}
	if len(uniqueStrings(input.PersonIDs)) == 0 {
		vErr.add("person_ids", "at least one person is required")
	}

	rule := recurrence.Rule{
		StartDate: input.StartDate,
		StartTime: input.StartTime,
		EndTime:   input.EndTime,
		Frequency: recurrence.FrequencyNone,
		Count:     1,
	}
	if strings.TrimSpace(input.Frequency) != "" {
		frequency, err := recurrence.ParseFrequency(input.Frequency)
		if err != nil {
			vErr.add("frequency", "frequency is not supported")
		} else {
			rule.Frequency = frequency
			rule.Count = input.Count
		}
	}
	if rule.Frequency == recurrence.FrequencyNone {
		rule.Count = 1
	}

	if !input.StartDate.IsZero() {
		if err := s.planner.Validate(rule); err != nil {
			vErr.merge(plannerValidation(err))
		}
		if scheduler.HasStarted(input.StartDate, input.StartTime, now, s.resolver.Location()) {
			vErr.add("start_date", "start must be in the future")
		}
	}

	return rule, vErr
}

func (s *AppointmentService) change(principal Principal, now time.Time) appointment.Change {
	return appointment.Change{
		At:       now,
		By:       principal.Actor(),
		Location: s.resolver.Location(),
		NewID:    s.idGenerator,
	}
}

func plannerValidation(err error) *ValidationError {
	switch {
	case errors.Is(err, recurrence.ErrInvalidCount):
		return fieldError("count", err.Error())
	case errors.Is(err, recurrence.ErrInvalidWindow):
		return fieldError("end_time", "end time must be after start time")
	case errors.Is(err, recurrence.ErrWeekendStart):
		return fieldError("start_date", "weekday appointments must start on a weekday")
	case errors.Is(err, recurrence.ErrInvalidFrequency):
		return fieldError("frequency", err.Error())
	}
	return fieldError("schedule", err.Error())
}

func mapAttendanceError(err error) error {
	switch {
	case errors.Is(err, appointment.ErrCancelled):
		return fieldError("occurrence", "attendance cannot be recorded for a cancelled occurrence")
	case errors.Is(err, appointment.ErrAttendanceNotOpen):
		return fieldError("occurrence", "attendance cannot be recorded before the occurrence date")
	case errors.Is(err, appointment.ErrUnknownAttendee):
		return fieldError("attendance", err.Error())
	}
	return mapRepoError(err)
}

func metricOutcome(outcome Outcome) string {
	return strings.ToLower(string(outcome))
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}
