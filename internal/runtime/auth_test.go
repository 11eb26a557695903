package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestSignAndValidateJWT(t *testing.T) {
	secret := []byte("test-secret")
	signed, err := SignJWT("staff-1", secret, time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	h := EchoAuthMiddleware(secret)(func(c echo.Context) error {
		called = true
		if got := c.Get("user_id"); got != "staff-1" {
			t.Fatalf("expected subject staff-1, got %v", got)
		}
		sub, ok := SubjectFromContext(c.Request().Context())
		if !ok || sub != "staff-1" {
			t.Fatalf("expected subject in request context, got %q %v", sub, ok)
		}
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if !called {
		t.Fatal("handler not invoked")
	}
}

func TestAuthMiddleware_RejectsMissingAndBadTokens(t *testing.T) {
	secret := []byte("test-secret")
	e := echo.New()

	for name, header := range map[string]string{
		"missing": "",
		"garbage": "Bearer not-a-token",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		c := e.NewContext(req, httptest.NewRecorder())
		err := EchoAuthMiddleware(secret)(func(echo.Context) error { return nil })(c)
		he, ok := err.(*echo.HTTPError)
		if !ok || he.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %v", name, err)
		}
	}
}

func TestAuthMiddleware_ReadsAuthCookie(t *testing.T) {
	secret := []byte("test-secret")
	signed, err := SignJWT("staff-2", secret, time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "auth", Value: signed})
	c := e.NewContext(req, httptest.NewRecorder())
	err = EchoAuthMiddleware(secret)(func(c echo.Context) error {
		if c.Get("user_id") != "staff-2" {
			t.Fatalf("expected staff-2, got %v", c.Get("user_id"))
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("middleware: %v", err)
	}
}

func TestAuthMiddleware_RejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	signed, err := SignJWT("staff-3", secret, -time.Minute)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	c := e.NewContext(req, httptest.NewRecorder())
	err = EchoAuthMiddleware(secret)(func(echo.Context) error { return nil })(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %v", err)
	}
}
