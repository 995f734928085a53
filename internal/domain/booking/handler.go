package booking

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes wires the authenticated appointment surface. Guest booking
// is registered separately on the public group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/appointments", h.Create)
	api.GET("/appointments", h.List)
	api.GET("/appointments/:id", h.Get)
	api.PUT("/appointments/:id", h.Amend, auth.RequireRole(auth.RoleReceptionist))

	staff := api.Group("", auth.RequireRole(auth.RoleReceptionist))
	staff.POST("/appointments/:id/confirm", h.Confirm)

	api.POST("/appointments/:id/cancel", h.Cancel)
	api.POST("/appointments/:id/complete", h.Complete, auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist))
}

// RegisterPublicRoutes wires the unauthenticated guest booking endpoint.
func (h *Handler) RegisterPublicRoutes(public *echo.Group) {
	public.POST("/appointments", h.CreateGuest)
}

type createRequest struct {
	PatientID *uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID  `json:"doctor_id"`
	Date      time.Time  `json:"date"`
	TimeSlot  string     `json:"time_slot"`
	Reason    *string    `json:"reason"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	actor := auth.ActorFromContext(ctx)

	// Patients book for themselves; staff name the patient explicitly.
	patientID := req.PatientID
	if actor.Role == auth.RolePatient {
		patientID = &actor.ID
	}
	if patientID == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}

	a := &Appointment{
		PatientID: patientID,
		DoctorID:  req.DoctorID,
		Date:      req.Date,
		TimeSlot:  req.TimeSlot,
		Reason:    req.Reason,
	}
	if err := h.svc.Create(ctx, a); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, a)
}

type guestCreateRequest struct {
	GuestName  string    `json:"guest_name"`
	GuestPhone string    `json:"guest_phone"`
	GuestEmail *string   `json:"guest_email"`
	DoctorID   uuid.UUID `json:"doctor_id"`
	Date       time.Time `json:"date"`
	TimeSlot   string    `json:"time_slot"`
	Reason     *string   `json:"reason"`
}

func (h *Handler) CreateGuest(c echo.Context) error {
	var req guestCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a := &Appointment{
		GuestName:  &req.GuestName,
		GuestPhone: &req.GuestPhone,
		GuestEmail: req.GuestEmail,
		DoctorID:   req.DoctorID,
		Date:       req.Date,
		TimeSlot:   req.TimeSlot,
		Reason:     req.Reason,
	}
	if err := h.svc.Create(c.Request().Context(), a); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	a, err := h.svc.Get(ctx, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if !canView(auth.ActorFromContext(ctx), a) {
		return apperr.ToHTTP(apperr.ErrForbidden)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	actor := auth.ActorFromContext(ctx)

	params := SearchParams{Page: pagination.FromContext(c)}
	if actor.Role == auth.RolePatient {
		params.PatientID = &actor.ID
	} else if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		params.PatientID = &id
	}
	if v := c.QueryParam("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		params.DoctorID = &id
	}
	if v := c.QueryParam("status"); v != "" {
		st := Status(v)
		if !st.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
		params.Status = &st
	}
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from date")
		}
		params.From = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to date")
		}
		params.To = &t
	}

	items, total, err := h.svc.Search(ctx, params)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, params.Page.Limit, params.Page.Offset))
}

func (h *Handler) Confirm(c echo.Context) error {
	return h.transition(c, StatusConfirmed)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	actor := auth.ActorFromContext(ctx)

	// Patients may only cancel their own bookings.
	if actor.Role == auth.RolePatient {
		a, err := h.svc.Get(ctx, id)
		if err != nil {
			return apperr.ToHTTP(err)
		}
		if a.PatientID == nil || *a.PatientID != actor.ID {
			return apperr.ToHTTP(apperr.ErrForbidden)
		}
	}

	a, err := h.svc.Transition(ctx, id, StatusCancelled, actor, req.Reason)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Complete(c echo.Context) error {
	return h.transition(c, StatusCompleted)
}

func (h *Handler) Amend(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		Date     *time.Time `json:"date"`
		TimeSlot *string    `json:"time_slot"`
		Notes    *string    `json:"notes"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Amend(c.Request().Context(), id, req.Date, req.TimeSlot, req.Notes)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) transition(c echo.Context, target Status) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	a, err := h.svc.Transition(ctx, id, target, auth.ActorFromContext(ctx), "")
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func canView(actor auth.Actor, a *Appointment) bool {
	if actor.Role != auth.RolePatient {
		return true
	}
	return a.PatientID != nil && *a.PatientID == actor.ID
}
