package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/activities-management/internal/application"
	"github.com/example/activities-management/internal/appointment"
	"github.com/example/activities-management/internal/scheduler"
)

const appointmentHandlerName = "AppointmentHandler"

type appointmentService interface {
	CreateSeries(ctx context.Context, params application.CreateSeriesParams) (application.SeriesDetails, error)
	GetSeries(ctx context.Context, id string) (application.SeriesDetails, error)
	ListSeriesOccurrences(ctx context.Context, seriesID string) ([]appointment.Occurrence, error)
	GetOccurrence(ctx context.Context, id string) (appointment.Occurrence, error)
	UpdateOccurrence(ctx context.Context, params application.UpdateOccurrenceParams) (application.MutationReport, error)
	CancelOccurrence(ctx context.Context, params application.CancelOccurrenceParams) (application.MutationReport, error)
	UncancelOccurrence(ctx context.Context, params application.UncancelOccurrenceParams) (application.MutationReport, error)
	MarkAttendance(ctx context.Context, params application.MarkAttendanceParams) (appointment.Occurrence, error)
}

// AppointmentHandler serves appointment series and occurrence endpoints.
type AppointmentHandler struct {
	service   appointmentService
	responder responder
	logger    *slog.Logger
}

func NewAppointmentHandler(service appointmentService, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{service: service, responder: newResponder(logger), logger: defaultLogger(logger)}
}

func (h *AppointmentHandler) CreateSeries(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req seriesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	details, err := h.service.CreateSeries(r.Context(), application.CreateSeriesParams{
		Principal: principal,
		Input:     req.toInput(),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	handlerLogger(r.Context(), h.logger, appointmentHandlerName, "CreateSeries",
		"series_id", details.Series.ID).InfoContext(r.Context(), "appointment series created", "occurrences", len(details.Occurrences))
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, newSeriesResponse(details))
}

func (h *AppointmentHandler) GetSeries(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	details, err := h.service.GetSeries(r.Context(), id)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, newSeriesResponse(details))
}

func (h *AppointmentHandler) ListSeriesOccurrences(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	occurrences, err := h.service.ListSeriesOccurrences(r.Context(), id)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	if occurrences == nil {
		occurrences = []appointment.Occurrence{}
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, occurrencesResponse{Occurrences: occurrences})
}

func (h *AppointmentHandler) GetOccurrence(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	occurrence, err := h.service.GetOccurrence(r.Context(), id)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, occurrence)
}

func (h *AppointmentHandler) UpdateOccurrence(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req updateOccurrenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	report, err := h.service.UpdateOccurrence(r.Context(), application.UpdateOccurrenceParams{
		Principal:    principal,
		OccurrenceID: id,
		Scope:        req.Scope,
		Patch:        req.toPatch(),
	})
	h.renderReport(w, r, "UpdateOccurrence", report, err)
}

func (h *AppointmentHandler) CancelOccurrence(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req cancelOccurrenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	report, err := h.service.CancelOccurrence(r.Context(), application.CancelOccurrenceParams{
		Principal:    principal,
		OccurrenceID: id,
		Scope:        req.Scope,
		ReasonID:     req.ReasonID,
	})
	h.renderReport(w, r, "CancelOccurrence", report, err)
}

func (h *AppointmentHandler) UncancelOccurrence(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req scopeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	report, err := h.service.UncancelOccurrence(r.Context(), application.UncancelOccurrenceParams{
		Principal:    principal,
		OccurrenceID: id,
		Scope:        req.Scope,
	})
	h.renderReport(w, r, "UncancelOccurrence", report, err)
}

func (h *AppointmentHandler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req attendanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	occurrence, err := h.service.MarkAttendance(r.Context(), application.MarkAttendanceParams{
		Principal:    principal,
		OccurrenceID: id,
		Attended:     req.Attended,
		NotAttended:  req.NotAttended,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, occurrence)
}

func (h *AppointmentHandler) pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return "", false
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingID)
		return "", false
	}
	return id, true
}

func (h *AppointmentHandler) renderReport(w http.ResponseWriter, r *http.Request, operation string, report application.MutationReport, err error) {
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	response := newMutationReportResponse(report)
	if len(report.IDs(application.OutcomeFailed)) > 0 {
		handlerLogger(r.Context(), h.logger, appointmentHandlerName, operation, "occurrence_id", report.TargetID).
			WarnContext(r.Context(), "series mutation partially failed", "failed", report.IDs(application.OutcomeFailed))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, response)
}

type seriesRequest struct {
	PrisonCode    string              `json:"prisonCode"`
	CategoryCode  string              `json:"categoryCode"`
	OrganiserCode string              `json:"organiserCode"`
	InCell        bool                `json:"inCell"`
	LocationID    string              `json:"locationId"`
	Frequency     string              `json:"frequency"`
	Count         int                 `json:"count"`
	StartDate     scheduler.Date      `json:"startDate"`
	StartTime     scheduler.TimeOfDay `json:"startTime"`
	EndTime       scheduler.TimeOfDay `json:"endTime"`
	Note          string              `json:"note"`
	PersonIDs     []string            `json:"personIds"`
}

func (r seriesRequest) toInput() application.SeriesInput {
	return application.SeriesInput{
		PrisonCode:    strings.TrimSpace(r.PrisonCode),
		CategoryCode:  strings.TrimSpace(r.CategoryCode),
		OrganiserCode: strings.TrimSpace(r.OrganiserCode),
		InCell:        r.InCell,
		LocationID:    strings.TrimSpace(r.LocationID),
		Frequency:     strings.ToUpper(strings.TrimSpace(r.Frequency)),
		Count:         r.Count,
		StartDate:     r.StartDate,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		Note:          r.Note,
		PersonIDs:     r.PersonIDs,
	}
}

type scopeRequest struct {
	Scope string `json:"scope"`
}

type updateOccurrenceRequest struct {
	Scope           string               `json:"scope"`
	CategoryCode    *string              `json:"categoryCode"`
	InCell          *bool                `json:"inCell"`
	LocationID      *string              `json:"locationId"`
	StartDate       *scheduler.Date      `json:"startDate"`
	StartTime       *scheduler.TimeOfDay `json:"startTime"`
	EndTime         *scheduler.TimeOfDay `json:"endTime"`
	Note            *string              `json:"note"`
	AddPersonIDs    []string             `json:"addPersonIds"`
	RemovePersonIDs []string             `json:"removePersonIds"`
}

func (r updateOccurrenceRequest) toPatch() appointment.Patch {
	return appointment.Patch{
		CategoryCode:    r.CategoryCode,
		InCell:          r.InCell,
		LocationID:      r.LocationID,
		StartDate:       r.StartDate,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		Note:            r.Note,
		AddPersonIDs:    r.AddPersonIDs,
		RemovePersonIDs: r.RemovePersonIDs,
	}
}

type cancelOccurrenceRequest struct {
	Scope    string `json:"scope"`
	ReasonID *int64 `json:"reasonId"`
}

type attendanceRequest struct {
	Attended    []string `json:"attended"`
	NotAttended []string `json:"notAttended"`
}

type seriesResponse struct {
	Series      appointment.Series       `json:"series"`
	Occurrences []appointment.Occurrence `json:"occurrences"`
}

func newSeriesResponse(details application.SeriesDetails) seriesResponse {
	occurrences := details.Occurrences
	if occurrences == nil {
		occurrences = []appointment.Occurrence{}
	}
	return seriesResponse{Series: details.Series, Occurrences: occurrences}
}

type occurrencesResponse struct {
	Occurrences []appointment.Occurrence `json:"occurrences"`
}

type occurrenceResultDTO struct {
	OccurrenceID string `json:"occurrenceId"`
	Sequence     int    `json:"sequence"`
	Outcome      string `json:"outcome"`
	Reason       string `json:"reason,omitempty"`
}

type mutationReportResponse struct {
	TargetID string                `json:"targetId"`
	Scope    string                `json:"scope"`
	Results  []occurrenceResultDTO `json:"results"`
}

func newMutationReportResponse(report application.MutationReport) mutationReportResponse {
	results := make([]occurrenceResultDTO, 0, len(report.Results))
	for _, result := range report.Results {
		results = append(results, occurrenceResultDTO{
			OccurrenceID: result.OccurrenceID,
			Sequence:     result.Sequence,
			Outcome:      string(result.Outcome),
			Reason:       result.Reason,
		})
	}
	return mutationReportResponse{
		TargetID: report.TargetID,
		Scope:    string(report.Scope),
		Results:  results,
	}
}
