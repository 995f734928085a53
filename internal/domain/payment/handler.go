package payment

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
	api.POST("/payments/order", h.CreateOrder)
	api.POST("/payments/verify", h.Verify)
	api.GET("/payments", h.List)
	api.GET("/payments/:id", h.Get)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/payments/:id/refund", h.Refund)
}

// RegisterPublicRoutes wires the guest checkout surface. Guests prove
// ownership with the phone number the booking was made under.
func (h *Handler) RegisterPublicRoutes(public *echo.Group) {
	public.POST("/payments/order", h.CreateOrder)
	public.POST("/payments/verify", h.Verify)
}

type createOrderRequest struct {
	BookingKind string    `json:"booking_kind"`
	BookingID   uuid.UUID `json:"booking_id"`
	Amount      int64     `json:"amount"`
	GuestPhone  string    `json:"guest_phone"`
}

func (h *Handler) CreateOrder(c echo.Context) error {
	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	kind := BookingKind(req.BookingKind)
	if !kind.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "booking_kind must be appointment or test")
	}
	ctx := c.Request().Context()
	resp, err := h.svc.CreateOrder(ctx, kind, req.BookingID, req.Amount, auth.ActorFromContext(ctx), req.GuestPhone)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, resp)
}

type verifyRequest struct {
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

func (h *Handler) Verify(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.RazorpayOrderID == "" || req.RazorpayPaymentID == "" || req.RazorpaySignature == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "razorpay_order_id, razorpay_payment_id and razorpay_signature are required")
	}
	p, err := h.svc.VerifyPayment(c.Request().Context(), req.RazorpayOrderID, req.RazorpayPaymentID, req.RazorpaySignature)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

type refundRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Refund(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req refundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.RefundPayment(c.Request().Context(), id, req.Reason)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	p, err := h.svc.Get(ctx, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	actor := auth.ActorFromContext(ctx)
	if actor.Role == auth.RolePatient && (p.UserID == nil || *p.UserID != actor.ID) {
		return apperr.ToHTTP(apperr.ErrForbidden)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	actor := auth.ActorFromContext(ctx)

	params := SearchParams{Page: pagination.FromContext(c)}
	if actor.Role == auth.RolePatient {
		params.UserID = &actor.ID
	} else if v := c.QueryParam("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid user_id")
		}
		params.UserID = &id
	}
	if v := c.QueryParam("status"); v != "" {
		st := Status(v)
		params.Status = &st
	}
	if v := c.QueryParam("booking_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid booking_id")
		}
		params.BookingID = &id
	}

	items, total, err := h.svc.Search(ctx, params)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, params.Page.Limit, params.Page.Offset))
}
