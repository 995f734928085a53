package labtest

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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/tests", h.ListTests)
	api.GET("/tests/:id", h.GetTest)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/tests", h.CreateTest)
	admin.PUT("/tests/:id", h.UpdateTest)

	api.POST("/test-bookings", h.CreateBooking)
	api.GET("/test-bookings", h.ListBookings)
	api.GET("/test-bookings/:id", h.GetBooking)
	api.POST("/test-bookings/:id/cancel", h.Cancel)

	staff := api.Group("", auth.RequireRole(auth.RoleReceptionist))
	staff.POST("/test-bookings/:id/confirm", h.Confirm)

	lab := api.Group("", auth.RequireRole(auth.RoleLabTechnician, auth.RoleReceptionist))
	lab.POST("/test-bookings/:id/collect-sample", h.CollectSample)
	lab.POST("/test-bookings/:id/start-processing", h.StartProcessing)
	lab.POST("/test-bookings/:id/complete", h.Complete)
}

// RegisterPublicRoutes wires the unauthenticated guest surface: browsing the
// catalog and booking as a guest.
func (h *Handler) RegisterPublicRoutes(public *echo.Group) {
	public.GET("/tests", h.ListTests)
	public.POST("/test-bookings", h.CreateGuestBooking)
}

// -- Catalog --

func (h *Handler) CreateTest(c echo.Context) error {
	var t LabTest
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateTest(c.Request().Context(), &t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.GetTest(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) UpdateTest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var t LabTest
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t.ID = id
	if err := h.svc.UpdateTest(c.Request().Context(), &t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTests(c echo.Context) error {
	pg := pagination.FromContext(c)
	activeOnly := c.QueryParam("include_inactive") != "true"
	items, total, err := h.svc.ListTests(c.Request().Context(), activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Bookings --

type createBookingRequest struct {
	PatientID         *uuid.UUID  `json:"patient_id"`
	TestIDs           []uuid.UUID `json:"test_ids"`
	CollectionType    string      `json:"collection_type"`
	CollectionAddress *string     `json:"collection_address"`
	ScheduledDate     time.Time   `json:"scheduled_date"`
	TimeSlot          string      `json:"time_slot"`
}

func (h *Handler) CreateBooking(c echo.Context) error {
	var req createBookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	actor := auth.ActorFromContext(ctx)

	patientID := req.PatientID
	if actor.Role == auth.RolePatient {
		patientID = &actor.ID
	}
	if patientID == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}

	b, err := h.svc.CreateBooking(ctx, BookingRequest{
		PatientID:         patientID,
		TestIDs:           req.TestIDs,
		CollectionType:    CollectionType(req.CollectionType),
		CollectionAddress: req.CollectionAddress,
		ScheduledDate:     req.ScheduledDate,
		TimeSlot:          req.TimeSlot,
	})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, b)
}

type guestBookingRequest struct {
	GuestName         string      `json:"guest_name"`
	GuestPhone        string      `json:"guest_phone"`
	GuestEmail        *string     `json:"guest_email"`
	TestIDs           []uuid.UUID `json:"test_ids"`
	CollectionType    string      `json:"collection_type"`
	CollectionAddress *string     `json:"collection_address"`
	ScheduledDate     time.Time   `json:"scheduled_date"`
	TimeSlot          string      `json:"time_slot"`
}

func (h *Handler) CreateGuestBooking(c echo.Context) error {
	var req guestBookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.CreateBooking(c.Request().Context(), BookingRequest{
		GuestName:         &req.GuestName,
		GuestPhone:        &req.GuestPhone,
		GuestEmail:        req.GuestEmail,
		TestIDs:           req.TestIDs,
		CollectionType:    CollectionType(req.CollectionType),
		CollectionAddress: req.CollectionAddress,
		ScheduledDate:     req.ScheduledDate,
		TimeSlot:          req.TimeSlot,
	})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBooking(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	b, err := h.svc.GetBooking(ctx, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if !canView(auth.ActorFromContext(ctx), b) {
		return apperr.ToHTTP(apperr.ErrForbidden)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBookings(c echo.Context) error {
	ctx := c.Request().Context()
	actor := auth.ActorFromContext(ctx)

	params := BookingSearchParams{Page: pagination.FromContext(c)}
	if actor.Role == auth.RolePatient {
		params.PatientID = &actor.ID
	} else if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		params.PatientID = &id
	}
	if v := c.QueryParam("status"); v != "" {
		st := Status(v)
		if !st.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
		params.Status = &st
	}

	items, total, err := h.svc.SearchBookings(ctx, params)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, params.Page.Limit, params.Page.Offset))
}

func (h *Handler) Confirm(c echo.Context) error {
	return h.transition(c, StatusConfirmed)
}

func (h *Handler) CollectSample(c echo.Context) error {
	return h.transition(c, StatusSampleCollected)
}

func (h *Handler) StartProcessing(c echo.Context) error {
	return h.transition(c, StatusInProgress)
}

// Complete closes a booking without a report, for results delivered outside
// the portal. The usual path is the report upload.
func (h *Handler) Complete(c echo.Context) error {
	return h.transition(c, StatusCompleted)
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

	if actor.Role == auth.RolePatient {
		b, err := h.svc.GetBooking(ctx, id)
		if err != nil {
			return apperr.ToHTTP(err)
		}
		if b.PatientID == nil || *b.PatientID != actor.ID {
			return apperr.ToHTTP(apperr.ErrForbidden)
		}
	}

	b, err := h.svc.Transition(ctx, id, StatusCancelled, actor, req.Reason)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) transition(c echo.Context, target Status) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	b, err := h.svc.Transition(ctx, id, target, auth.ActorFromContext(ctx), "")
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func canView(actor auth.Actor, b *TestBooking) bool {
	if actor.Role != auth.RolePatient {
		return true
	}
	return b.PatientID != nil && *b.PatientID == actor.ID
}
