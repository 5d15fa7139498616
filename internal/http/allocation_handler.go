package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/activities-management/internal/allocation"
	"github.com/example/activities-management/internal/application"
	"github.com/example/activities-management/internal/scheduler"
)

const allocationHandlerName = "AllocationHandler"

type allocationService interface {
	CreateAllocation(ctx context.Context, params application.CreateAllocationParams) (allocation.Allocation, error)
	GetAllocation(ctx context.Context, id string) (allocation.Allocation, error)
	SuspendAllocation(ctx context.Context, params application.SuspendAllocationParams) (allocation.Allocation, error)
	ReactivateAllocation(ctx context.Context, params application.ReactivateAllocationParams) (allocation.Allocation, error)
	DeallocateAllocation(ctx context.Context, params application.DeallocateAllocationParams) (allocation.Allocation, error)
}

// AllocationHandler serves allocation lifecycle endpoints.
type AllocationHandler struct {
	service   allocationService
	responder responder
	logger    *slog.Logger
}

func NewAllocationHandler(service allocationService, logger *slog.Logger) *AllocationHandler {
	return &AllocationHandler{service: service, responder: newResponder(logger), logger: defaultLogger(logger)}
}

func (h *AllocationHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req allocationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	created, err := h.service.CreateAllocation(r.Context(), application.CreateAllocationParams{
		Principal: principal,
		Input:     req.toInput(),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	handlerLogger(r.Context(), h.logger, allocationHandlerName, "Create", "allocation_id", created.ID).
		InfoContext(r.Context(), "allocation created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, created)
}

func (h *AllocationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	found, err := h.service.GetAllocation(r.Context(), id)
	h.render(w, r, found, err)
}

func (h *AllocationHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req suspendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	updated, err := h.service.SuspendAllocation(r.Context(), application.SuspendAllocationParams{
		Principal:    principal,
		AllocationID: id,
		FromDate:     dateOrZero(req.FromDate),
		Reason:       strings.TrimSpace(req.Reason),
		WithPay:      req.WithPay,
	})
	h.render(w, r, updated, err)
}

func (h *AllocationHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	updated, err := h.service.ReactivateAllocation(r.Context(), application.ReactivateAllocationParams{
		Principal:    principal,
		AllocationID: id,
	})
	h.render(w, r, updated, err)
}

func (h *AllocationHandler) Deallocate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req deallocateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	updated, err := h.service.DeallocateAllocation(r.Context(), application.DeallocateAllocationParams{
		Principal:    principal,
		AllocationID: id,
		ToDate:       dateOrZero(req.ToDate),
		Reason:       strings.TrimSpace(req.Reason),
	})
	h.render(w, r, updated, err)
}

func (h *AllocationHandler) pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
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

func (h *AllocationHandler) render(w http.ResponseWriter, r *http.Request, a allocation.Allocation, err error) {
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, a)
}

func dateOrZero(d *scheduler.Date) scheduler.Date {
	if d == nil {
		return scheduler.Date{}
	}
	return *d
}

type allocationRequest struct {
	PrisonCode string          `json:"prisonCode"`
	PersonID   string          `json:"personId"`
	ScheduleID string          `json:"scheduleId"`
	StartDate  scheduler.Date  `json:"startDate"`
	EndDate    *scheduler.Date `json:"endDate"`
	PayBandID  string          `json:"payBandId"`
}

func (r allocationRequest) toInput() application.AllocationInput {
	return application.AllocationInput{
		PrisonCode: strings.TrimSpace(r.PrisonCode),
		PersonID:   strings.TrimSpace(r.PersonID),
		ScheduleID: strings.TrimSpace(r.ScheduleID),
		StartDate:  r.StartDate,
		EndDate:    r.EndDate,
		PayBandID:  strings.TrimSpace(r.PayBandID),
	}
}

type suspendRequest struct {
	FromDate *scheduler.Date `json:"fromDate"`
	Reason   string          `json:"reason"`
	WithPay  bool            `json:"withPay"`
}

type deallocateRequest struct {
	ToDate *scheduler.Date `json:"toDate"`
	Reason string          `json:"reason"`
}
