package scheduling

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medconnect/medconnect/internal/domain/catalog"
	"github.com/medconnect/medconnect/internal/platform/auth"
	"github.com/medconnect/medconnect/pkg/apperror"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	const schedule = "/providers/:providerId/availability/:category"

	api.GET(schedule, h.ListWindows)
	api.GET(schedule+"/slots", h.CandidateSlots)

	providerOnly := auth.RequireRole(auth.ProviderRoles...)
	api.PUT(schedule, h.PublishWindows, providerOnly)
	api.POST(schedule+"/windows", h.AddWindow, providerOnly)

	admin := api.Group("/slots", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/:windowId/:date", h.GetSlot)
	admin.POST("/claim", h.Claim)
	admin.POST("/release", h.Release)
}

func (h *Handler) scheduleParams(c echo.Context) (uuid.UUID, catalog.Kind, error) {
	providerID, err := uuid.Parse(c.Param("providerId"))
	if err != nil {
		return uuid.Nil, "", apperror.Validation("invalid provider id")
	}
	category, err := h.svc.ParseCategory(c.Param("category"))
	if err != nil {
		return uuid.Nil, "", err
	}
	return providerID, category, nil
}

// ownSchedule rejects writes to another provider's schedule.
func ownSchedule(c echo.Context, providerID uuid.UUID) error {
	if !auth.IsSelfOrAdmin(c.Request().Context(), providerID.String()) {
		return apperror.Forbidden("cannot change another provider's availability")
	}
	return nil
}

type publishRequest struct {
	Windows []WindowInput `json:"windows"`
}

func (h *Handler) PublishWindows(c echo.Context) error {
	providerID, category, err := h.scheduleParams(c)
	if err != nil {
		return err
	}
	if err := ownSchedule(c, providerID); err != nil {
		return err
	}
	var req publishRequest
	if err := c.Bind(&req); err != nil {
		return apperror.Validation("invalid request body: %v", err)
	}
	ws, err := h.svc.PublishWindows(c.Request().Context(), providerID, category, req.Windows)
	if err != nil {
		return err
	}
	return apperror.OK(c, http.StatusOK, ws)
}

func (h *Handler) AddWindow(c echo.Context) error {
	providerID, category, err := h.scheduleParams(c)
	if err != nil {
		return err
	}
	if err := ownSchedule(c, providerID); err != nil {
		return err
	}
	var in WindowInput
	if err := c.Bind(&in); err != nil {
		return apperror.Validation("invalid request body: %v", err)
	}
	w, err := h.svc.AddWindow(c.Request().Context(), providerID, category, in)
	if err != nil {
		return err
	}
	return apperror.OK(c, http.StatusCreated, w)
}

func (h *Handler) ListWindows(c echo.Context) error {
	providerID, category, err := h.scheduleParams(c)
	if err != nil {
		return err
	}
	var day *DayOfWeek
	if raw := c.QueryParam("day"); raw != "" {
		d, err := ParseDay(raw)
		if err != nil {
			return apperror.Validation("%v", err)
		}
		day = &d
	}
	ws, err := h.svc.ListWindows(c.Request().Context(), providerID, category, day)
	if err != nil {
		return err
	}
	if ws == nil {
		ws = []*AvailabilityWindow{}
	}
	return apperror.OK(c, http.StatusOK, ws)
}

func (h *Handler) CandidateSlots(c echo.Context) error {
	providerID, category, err := h.scheduleParams(c)
	if err != nil {
		return err
	}
	date, err := ParseDate(c.QueryParam("date"))
	if err != nil {
		return apperror.Validation("%v", err)
	}
	slots, err := h.svc.CandidateSlots(c.Request().Context(), providerID, category, date)
	if err != nil {
		return err
	}
	return apperror.OK(c, http.StatusOK, slots)
}

type slotRequest struct {
	WindowID uuid.UUID `json:"window_id"`
	Date     string    `json:"date"`
}

func (r slotRequest) parse() (time.Time, error) {
	d, err := ParseDate(r.Date)
	if err != nil {
		return time.Time{}, apperror.Validation("%v", err)
	}
	return d, nil
}

func (h *Handler) Claim(c echo.Context) error {
	var req slotRequest
	if err := c.Bind(&req); err != nil {
		return apperror.Validation("invalid request body: %v", err)
	}
	date, err := req.parse()
	if err != nil {
		return err
	}
	res, err := h.svc.TryClaim(c.Request().Context(), req.WindowID, date)
	if err != nil {
		return err
	}
	return apperror.OK(c, http.StatusOK, map[string]interface{}{"result": res})
}

func (h *Handler) Release(c echo.Context) error {
	var req slotRequest
	if err := c.Bind(&req); err != nil {
		return apperror.Validation("invalid request body: %v", err)
	}
	date, err := req.parse()
	if err != nil {
		return err
	}
	if err := h.svc.Release(c.Request().Context(), req.WindowID, date); err != nil {
		return err
	}
	return apperror.OK(c, http.StatusOK, nil)
}

func (h *Handler) GetSlot(c echo.Context) error {
	windowID, err := uuid.Parse(c.Param("windowId"))
	if err != nil {
		return apperror.Validation("invalid window id")
	}
	date, err := ParseDate(c.Param("date"))
	if err != nil {
		return apperror.Validation("%v", err)
	}
	slot, err := h.svc.GetSlot(c.Request().Context(), windowID, date)
	if err != nil {
		return err
	}
	return apperror.OK(c, http.StatusOK, slot)
}
