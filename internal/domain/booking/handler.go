package booking

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medconnect/medconnect/internal/domain/catalog"
	"github.com/medconnect/medconnect/internal/domain/scheduling"
	"github.com/medconnect/medconnect/internal/platform/auth"
	"github.com/medconnect/medconnect/pkg/apperror"
	"github.com/medconnect/medconnect/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/bookings")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/transitions", h.Transition)
	g.POST("/:id/cancel", h.Cancel)
}

// ActorFromContext maps the caller's token roles to a booking actor. Admins
// act as SYSTEM.
func ActorFromContext(ctx context.Context) (Actor, error) {
	if auth.IsAdmin(ctx) {
		return System, nil
	}
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return Actor{}, apperror.Unauthorized("caller identity is not a valid user id")
	}
	if auth.HasAnyRole(ctx, auth.ProviderRoles...) {
		return Actor{ID: id, Role: RoleProvider}, nil
	}
	if auth.HasAnyRole(ctx, auth.RolePatient) {
		return Actor{ID: id, Role: RolePatient}, nil
	}
	return Actor{}, apperror.Forbidden("caller has no booking role")
}

// BookingID parses the :id path parameter.
func BookingID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperror.Validation("invalid booking id")
	}
	return id, nil
}

type createRequest struct {
	Kind          string          `json:"kind"`
	PatientID     *uuid.UUID      `json:"patient_id"`
	ProviderID    uuid.UUID       `json:"provider_id"`
	ServiceRef    string          `json:"service_ref"`
	WindowID      *uuid.UUID      `json:"window_id"`
	ScheduledDate string          `json:"scheduled_date"`
	Items         []LineItemInput `json:"items"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Notes         string          `json:"notes"`
}

func (h *Handler) Create(c echo.Context) error {
	ctx := c.Request().Context()
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return err
	}
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return apperror.Validation("invalid request body: %v", err)
	}

	in := CreateInput{
		Kind:          catalog.Kind(req.Kind),
		ProviderID:    req.ProviderID,
		ServiceRef:    req.ServiceRef,
		WindowID:      req.WindowID,
		Items:         req.Items,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
	}
	if kind, err := h.svc.catalog.ParseKind(req.Kind); err == nil {
		in.Kind = kind
	}
	switch actor.Role {
	case RolePatient:
		if req.PatientID != nil && *req.PatientID != actor.ID {
			return apperror.Forbidden("patients can only book for themselves")
		}
		in.PatientID = actor.ID
	case RoleSystem:
		if req.PatientID != nil {
			in.PatientID = *req.PatientID
		}
	default:
		return apperror.Forbidden("only patients can create bookings")
	}
	if req.ScheduledDate != "" {
		d, err := scheduling.ParseDate(req.ScheduledDate)
		if err != nil {
			return apperror.Validation("%v", err)
		}
		in.Date = &d
	}

	b, err := h.svc.Create(ctx, in)
	if err != nil {
		return err
	}
	return apperror.OK(c, http.StatusCreated, b)
}

func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := BookingID(c)
	if err != nil {
		return err
	}
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return err
	}
	b, err := h.svc.Get(ctx, id, actor)
	if err != nil {
		return err
	}
	return apperror.OK(c, http.StatusOK, b)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)

	var (
		items []*Booking
		total int
		err   error
	)
	switch {
	case c.QueryParam("patient_id") != "":
		id, perr := uuid.Parse(c.QueryParam("patient_id"))
		if perr != nil {
			return apperror.Validation("invalid patient_id")
		}
		if !auth.IsSelfOrAdmin(ctx, id.String()) {
			return apperror.Forbidden("cannot list another patient's bookings")
		}
		items, total, err = h.svc.ListByPatient(ctx, id, pg.Limit, pg.Offset)
	case c.QueryParam("provider_id") != "":
		id, perr := uuid.Parse(c.QueryParam("provider_id"))
		if perr != nil {
			return apperror.Validation("invalid provider_id")
		}
		if !auth.IsSelfOrAdmin(ctx, id.String()) {
			return apperror.Forbidden("cannot list another provider's bookings")
		}
		items, total, err = h.svc.ListByProvider(ctx, id, pg.Limit, pg.Offset)
	default:
		return apperror.Validation("patient_id or provider_id is required")
	}
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Booking{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

type transitionRequest struct {
	Transition string `json:"transition"`
}

func (h *Handler) Transition(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := BookingID(c)
	if err != nil {
		return err
	}
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return apperror.Validation("invalid request body: %v", err)
	}
	t, err := ParseTransition(req.Transition)
	if err != nil {
		return err
	}
	b, err := h.svc.Transition(ctx, id, t, actor)
	if err != nil {
		return err
	}
	return apperror.OK(c, http.StatusOK, b)
}

func (h *Handler) Cancel(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := BookingID(c)
	if err != nil {
		return err
	}
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return err
	}
	b, err := h.svc.Cancel(ctx, id, actor)
	if err != nil {
		return err
	}
	return apperror.OK(c, http.StatusOK, b)
}
