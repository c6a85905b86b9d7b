package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseLimit(t *testing.T) {
	tests := map[string]int64{
		"":      1 << 20,
		"512":   512,
		"10K":   10 << 10,
		"10kb":  10 << 10,
		"1M":    1 << 20,
		"2MB":   2 << 20,
		"1G":    1 << 30,
		"lots":  1 << 20,
		"-5":    1 << 20,
		" 64K ": 64 << 10,
	}
	for in, want := range tests {
		if got := parseLimit(in); got != want {
			t.Errorf("parseLimit(%q) = %d, want %d", in, got, want)
		}
	}
}

func readAll(limit, body string, contentLength int64) error {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.ContentLength = contentLength
	c := e.NewContext(req, httptest.NewRecorder())
	return BodyLimit(limit)(func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	})(c)
}

func TestBodyLimit(t *testing.T) {
	if err := readAll("16", "small", 5); err != nil {
		t.Fatalf("small body: %v", err)
	}

	err := readAll("4", "too large", 9)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("declared length: expected 413, got %v", err)
	}

	// no Content-Length
	err = readAll("4", "too large", -1)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("streamed body: expected 413, got %v", err)
	}
}
