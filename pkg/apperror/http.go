package apperror

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Body is the error member of the result envelope.
type Body struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
	Details   interface{} `json:"details,omitempty"`
}

// Envelope is the JSON shape of every API response.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Body       `json:"error,omitempty"`
}

// OK writes a success envelope.
func OK(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, Envelope{Success: true, Data: data})
}

// detailer is implemented by errors that carry structured context for the
// client, such as the conflicting windows of an overlap.
type detailer interface {
	Details() interface{}
}

var statusByKind = map[Kind]int{
	KindValidation:        http.StatusBadRequest,
	KindOverlap:           http.StatusConflict,
	KindSlotConflict:      http.StatusConflict,
	KindUnauthorized:      http.StatusUnauthorized,
	KindForbidden:         http.StatusForbidden,
	KindExternalService:   http.StatusBadGateway,
	KindInvalidTransition: http.StatusConflict,
	KindNotFound:          http.StatusNotFound,
	KindInternal:          http.StatusInternalServerError,
}

var kindByStatus = map[int]Kind{
	http.StatusBadRequest:            KindValidation,
	http.StatusUnauthorized:          KindUnauthorized,
	http.StatusForbidden:             KindForbidden,
	http.StatusNotFound:              KindNotFound,
	http.StatusConflict:              KindInvalidTransition,
	http.StatusRequestEntityTooLarge: KindValidation,
	http.StatusUnsupportedMediaType:  KindValidation,
	http.StatusGatewayTimeout:        KindExternalService,
}

// Status returns the HTTP status for err.
func Status(err error) int {
	if s, ok := statusByKind[KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// HTTPErrorHandler renders every error returned from a handler or middleware
// as an error envelope. Internal errors are logged and their cause is hidden.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := render(err)
		if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Str("path", c.Request().URL.Path).Msg("request failed")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, Envelope{Success: false, Error: body})
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("write error response")
		}
	}
}

func render(err error) (int, *Body) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		kind, ok := kindByStatus[he.Code]
		if !ok {
			kind = KindInternal
		}
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		code := string(kind)
		if he.Code == http.StatusTooManyRequests {
			code = "RATE_LIMITED"
		}
		retryable := he.Code == http.StatusTooManyRequests || he.Code == http.StatusGatewayTimeout
		return he.Code, &Body{Code: code, Message: msg, Retryable: retryable}
	}

	kind := KindOf(err)
	body := &Body{Code: string(kind), Retryable: IsRetryable(err)}

	var ae *Error
	switch {
	case kind == KindInternal:
		body.Message = "internal server error"
	case errors.As(err, &ae) && ae.Kind == kind:
		body.Message = ae.Message
	default:
		body.Message = err.Error()
	}

	var d detailer
	if errors.As(err, &d) {
		body.Details = d.Details()
	}
	return Status(err), body
}
