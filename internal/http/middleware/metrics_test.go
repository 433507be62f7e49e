package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountsRequestsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/v1/notifications/tokens/:userId", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	before := testutil.ToFloat64(httpReqs.WithLabelValues(
		"GET", "/api/v1/notifications/tokens/:userId", "200"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/notifications/tokens/u1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}

	after := testutil.ToFloat64(httpReqs.WithLabelValues(
		"GET", "/api/v1/notifications/tokens/:userId", "200"))
	if after != before+1 {
		t.Fatalf("expected counter to advance by 1: before=%v after=%v", before, after)
	}
}

func TestMetrics_UnmatchedRouteUsesRawPath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())

	before := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nope", "404"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))

	after := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nope", "404"))
	if after != before+1 {
		t.Fatalf("expected 404 counter to advance: before=%v after=%v", before, after)
	}
}
