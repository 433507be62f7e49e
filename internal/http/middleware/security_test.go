package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func secRouter(opt SecurityOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeaders(opt))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	r := secRouter(SecurityOptions{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	h := w.Header()
	if h.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing nosniff")
	}
	if h.Get("X-Frame-Options") != "DENY" {
		t.Fatalf("missing frame options")
	}
	if h.Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("missing referrer policy")
	}
	// Opt-in headers absent by default.
	if h.Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS must be opt-in")
	}
	if h.Get("Cache-Control") != "" {
		t.Fatalf("no-store must be opt-in")
	}
}

func TestSecurityHeaders_NoStoreAndPolicy(t *testing.T) {
	r := secRouter(SecurityOptions{NoStore: true, EnablePolicy: true})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	h := w.Header()
	if h.Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store cache control")
	}
	if !strings.Contains(h.Get("Permissions-Policy"), "geolocation=()") {
		t.Fatalf("expected permissions policy")
	}
}

func TestSecurityHeaders_HSTSOnlyOverHTTPS(t *testing.T) {
	r := secRouter(SecurityOptions{EnableHSTS: true})

	// Plain HTTP: no HSTS.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS must not be set for plain HTTP")
	}

	// Forwarded HTTPS: HSTS present with default max-age.
	w2 := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	r.ServeHTTP(w2, req)
	sts := w2.Header().Get("Strict-Transport-Security")
	if !strings.HasPrefix(sts, "max-age=") || !strings.Contains(sts, "includeSubDomains") {
		t.Fatalf("unexpected HSTS value %q", sts)
	}
}

func TestSecurityHeaders_ExposesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), SecurityHeaders(SecurityOptions{}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := w.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, "X-Request-ID") {
		t.Fatalf("expected X-Request-ID exposed, got %q", got)
	}
}
