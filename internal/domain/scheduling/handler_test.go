package scheduling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medconnect/medconnect/internal/platform/auth"
	"github.com/medconnect/medconnect/pkg/apperror"
)

func newTestServer() (*echo.Echo, *Service) {
	svc, _ := newTestService()
	e := echo.New()
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(zerolog.Nop())
	api := e.Group("/api/v1", auth.DevAuthMiddleware())
	NewHandler(svc).RegisterRoutes(api)
	return e, svc
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apperror.Body  `json:"error"`
}

func do(t *testing.T, e *echo.Echo, method, path, body, user, roles string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set(auth.DevUserHeader, user)
	}
	if roles != "" {
		req.Header.Set(auth.DevRolesHeader, roles)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, env
}

func schedulePath(providerID uuid.UUID, category string) string {
	return "/api/v1/providers/" + providerID.String() + "/availability/" + category
}

func TestHandler_PublishAndList(t *testing.T) {
	e, _ := newTestServer()
	providerID := uuid.New()
	path := schedulePath(providerID, "home_service")

	body := `{"windows":[{"day_of_week":"MONDAY","start_time":"09:00","end_time":"10:00"}]}`
	rec, env := do(t, e, http.MethodPut, path, body, providerID.String(), auth.RoleDoctor)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !env.Success {
		t.Error("expected success envelope")
	}

	rec, env = do(t, e, http.MethodGet, path+"?day=monday", "", "", auth.RolePatient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var ws []AvailabilityWindow
	if err := json.Unmarshal(env.Data, &ws); err != nil {
		t.Fatalf("decode windows: %v", err)
	}
	if len(ws) != 1 || ws[0].Start != MustClock("09:00") || ws[0].End != MustClock("10:00") {
		t.Errorf("unexpected windows %+v", ws)
	}
}

func TestHandler_PublishOverlap(t *testing.T) {
	e, _ := newTestServer()
	providerID := uuid.New()
	body := `{"windows":[
		{"day_of_week":"MONDAY","start_time":"09:00","end_time":"10:00"},
		{"day_of_week":"MONDAY","start_time":"09:30","end_time":"10:30"}]}`

	rec, env := do(t, e, http.MethodPut, schedulePath(providerID, "LAB_TEST"), body, providerID.String(), auth.RoleProvider)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if env.Success || env.Error == nil || env.Error.Code != string(apperror.KindOverlap) {
		t.Errorf("expected OVERLAP error envelope, got %+v", env.Error)
	}
	if env.Error != nil && env.Error.Details == nil {
		t.Error("expected overlap details")
	}
}

func TestHandler_PublishOtherProviderForbidden(t *testing.T) {
	e, _ := newTestServer()
	body := `{"windows":[]}`
	rec, env := do(t, e, http.MethodPut, schedulePath(uuid.New(), "LAB_TEST"), body, uuid.NewString(), auth.RoleProvider)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if env.Error == nil || env.Error.Code != string(apperror.KindForbidden) {
		t.Errorf("expected FORBIDDEN, got %+v", env.Error)
	}
}

func TestHandler_PublishRequiresProviderRole(t *testing.T) {
	e, _ := newTestServer()
	providerID := uuid.New()
	rec, _ := do(t, e, http.MethodPut, schedulePath(providerID, "LAB_TEST"), `{"windows":[]}`, providerID.String(), auth.RolePatient)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_AddWindow(t *testing.T) {
	e, _ := newTestServer()
	providerID := uuid.New()
	path := schedulePath(providerID, "ONLINE_CONSULTATION") + "/windows"

	rec, _ := do(t, e, http.MethodPost, path, `{"day_of_week":"FRIDAY","start_time":"13:00","end_time":"14:00"}`, providerID.String(), auth.RoleDoctor)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec, _ = do(t, e, http.MethodPost, path, `{"day_of_week":"FRIDAY","start_time":"13:30","end_time":"14:30"}`, providerID.String(), auth.RoleDoctor)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for overlapping window, got %d", rec.Code)
	}
}

func TestHandler_BadParams(t *testing.T) {
	e, _ := newTestServer()
	tests := []struct {
		name string
		path string
	}{
		{"bad provider", "/api/v1/providers/nope/availability/LAB_TEST"},
		{"bad category", schedulePath(uuid.New(), "SURGERY")},
		{"bad day", schedulePath(uuid.New(), "LAB_TEST") + "?day=someday"},
		{"missing date", schedulePath(uuid.New(), "LAB_TEST") + "/slots"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, e, http.MethodGet, tt.path, "", "", "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
			if env.Error == nil || env.Error.Code != string(apperror.KindValidation) {
				t.Errorf("expected VALIDATION, got %+v", env.Error)
			}
		})
	}
}

func TestHandler_ClaimAndSlots(t *testing.T) {
	e, svc := newTestServer()
	providerID := uuid.New()
	w := publishMonday(t, svc, providerID)
	claim := `{"window_id":"` + w.ID.String() + `","date":"2024-06-03"}`

	rec, env := do(t, e, http.MethodPost, "/api/v1/slots/claim", claim, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(string(env.Data), `"CLAIMED"`) {
		t.Errorf("expected CLAIMED, got %s", env.Data)
	}
	_, env = do(t, e, http.MethodPost, "/api/v1/slots/claim", claim, "", "")
	if !strings.Contains(string(env.Data), `"ALREADY_RESERVED"`) {
		t.Errorf("expected ALREADY_RESERVED, got %s", env.Data)
	}

	rec, env = do(t, e, http.MethodGet, schedulePath(providerID, "ONLINE_CONSULTATION")+"/slots?date=2024-06-03", "", "", auth.RolePatient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var slots []struct {
		Date     string `json:"date"`
		Reserved bool   `json:"reserved"`
	}
	if err := json.Unmarshal(env.Data, &slots); err != nil {
		t.Fatalf("decode slots: %v", err)
	}
	if len(slots) != 1 || !slots[0].Reserved {
		t.Errorf("expected one reserved slot, got %+v", slots)
	}

	rec, _ = do(t, e, http.MethodPost, "/api/v1/slots/release", claim, "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 on release, got %d", rec.Code)
	}
	res, _ := svc.TryClaim(context.Background(), w.ID, nextMonday)
	if res != Claimed {
		t.Errorf("expected slot free after release, got %s", res)
	}
}

func TestHandler_SlotAdminOnly(t *testing.T) {
	e, _ := newTestServer()
	body := `{"window_id":"` + uuid.NewString() + `","date":"2024-06-03"}`
	rec, _ := do(t, e, http.MethodPost, "/api/v1/slots/claim", body, uuid.NewString(), auth.RolePatient)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}
