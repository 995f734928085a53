package report

import (
	"net/http"

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
	lab := api.Group("", auth.RequireRole(auth.RoleLabTechnician))
	lab.POST("/reports", h.Upload)

	api.GET("/reports", h.List)
	api.GET("/reports/:id", h.Get)
	api.GET("/reports/:id/view", h.Get)
}

type uploadRequest struct {
	TestBookingID uuid.UUID `json:"test_booking_id"`
	FileURL       string    `json:"file_url"`
	FileKey       string    `json:"file_key"`
}

func (h *Handler) Upload(c echo.Context) error {
	var req uploadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	rep, err := h.svc.Upload(ctx, UploadRequest{
		TestBookingID: req.TestBookingID,
		FileURL:       req.FileURL,
		FileKey:       req.FileKey,
		UploadedBy:    auth.UserIDFromContext(ctx),
	})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, rep)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	rep, err := h.svc.Get(ctx, id, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	actor := auth.ActorFromContext(ctx)
	pg := pagination.FromContext(c)

	patientID := actor.ID
	if actor.Role != auth.RolePatient {
		v := c.QueryParam("patient_id")
		if v == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		patientID = id
	}

	items, total, err := h.svc.ListByPatient(ctx, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
