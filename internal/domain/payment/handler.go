package payment

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medconnect/medconnect/internal/domain/booking"
	"github.com/medconnect/medconnect/pkg/apperror"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/bookings/:id/payment-intent", h.CreateIntent)
	api.POST("/bookings/:id/payment/confirm", h.Confirm)
	api.POST("/bookings/:id/payment/fail", h.Fail)
}

func (h *Handler) CreateIntent(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := booking.BookingID(c)
	if err != nil {
		return err
	}
	actor, err := booking.ActorFromContext(ctx)
	if err != nil {
		return err
	}
	res, err := h.svc.CreateIntent(ctx, id, actor)
	if err != nil {
		return err
	}
	return apperror.OK(c, http.StatusCreated, res)
}

type confirmRequest struct {
	Reference string `json:"reference"`
}

func (h *Handler) Confirm(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := booking.BookingID(c)
	if err != nil {
		return err
	}
	actor, err := booking.ActorFromContext(ctx)
	if err != nil {
		return err
	}
	var req confirmRequest
	if err := c.Bind(&req); err != nil {
		return apperror.Validation("invalid request body: %v", err)
	}
	b, err := h.svc.Confirm(ctx, id, req.Reference, actor)
	if err != nil {
		return err
	}
	return apperror.OK(c, http.StatusOK, b)
}

func (h *Handler) Fail(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := booking.BookingID(c)
	if err != nil {
		return err
	}
	actor, err := booking.ActorFromContext(ctx)
	if err != nil {
		return err
	}
	b, err := h.svc.MarkFailed(ctx, id, actor)
	if err != nil {
		return err
	}
	return apperror.OK(c, http.StatusOK, b)
}
