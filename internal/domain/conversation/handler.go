package conversation

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medconnect/medconnect/internal/platform/auth"
	"github.com/medconnect/medconnect/internal/platform/middleware"
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
	g := api.Group("/conversations")
	g.POST("", h.Open)
	g.GET("/:id/messages", h.ListMessages)
	g.POST("/:id/messages", h.SendMessage)
	g.POST("/:id/read", h.MarkRead)
	g.POST("/:id/typing", h.Typing)
}

func callerFrom(c echo.Context) (Caller, error) {
	ctx := c.Request().Context()
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return Caller{}, apperror.Unauthorized("caller identity is not a valid user id")
	}
	return Caller{ID: id, Admin: auth.IsAdmin(ctx)}, nil
}

func conversationID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperror.Validation("invalid conversation id")
	}
	return id, nil
}

type openRequest struct {
	ProviderID uuid.UUID  `json:"provider_id"`
	PatientID  uuid.UUID  `json:"patient_id"`
	BookingID  *uuid.UUID `json:"booking_id"`
}

// Open resolves the conversation for a triple. Callers must be one of the
// two parties unless they are admins.
func (h *Handler) Open(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	var req openRequest
	if err := c.Bind(&req); err != nil {
		return apperror.Validation("invalid request body: %v", err)
	}
	if !caller.Admin && caller.ID != req.ProviderID && caller.ID != req.PatientID {
		return apperror.Forbidden("cannot open a conversation for other users")
	}
	conv, err := h.svc.GetOrCreate(c.Request().Context(), req.ProviderID, req.PatientID, req.BookingID)
	if err != nil {
		return err
	}
	return apperror.OK(c, http.StatusOK, conv)
}

func (h *Handler) ListMessages(c echo.Context) error {
	id, err := conversationID(c)
	if err != nil {
		return err
	}
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMessages(c.Request().Context(), id, caller, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

type sendRequest struct {
	Body string `json:"body"`
}

func (h *Handler) SendMessage(c echo.Context) error {
	id, err := conversationID(c)
	if err != nil {
		return err
	}
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return apperror.Validation("invalid request body: %v", err)
	}
	m, err := h.svc.SendMessage(c.Request().Context(), SendInput{ConversationID: &id, SenderID: caller.ID, Body: middleware.SanitizeString(req.Body)})
	if err != nil {
		return err
	}
	return apperror.OK(c, http.StatusCreated, m)
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, err := conversationID(c)
	if err != nil {
		return err
	}
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	receipt, err := h.svc.MarkRead(c.Request().Context(), id, caller)
	if err != nil {
		return err
	}
	return apperror.OK(c, http.StatusOK, receipt)
}

type typingRequest struct {
	Typing bool `json:"typing"`
}

func (h *Handler) Typing(c echo.Context) error {
	id, err := conversationID(c)
	if err != nil {
		return err
	}
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	var req typingRequest
	if err := c.Bind(&req); err != nil {
		return apperror.Validation("invalid request body: %v", err)
	}
	if err := h.svc.Typing(c.Request().Context(), id, caller, req.Typing); err != nil {
		return err
	}
	return apperror.OK(c, http.StatusAccepted, TypingIndicator{ConversationID: id, UserID: caller.ID, Typing: req.Typing})
}
