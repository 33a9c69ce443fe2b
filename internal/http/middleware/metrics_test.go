package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RouteLabelsAndUnmatched(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.POST("/api/send", func(c *gin.Context) { c.String(http.StatusOK, `{"success":true}`) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	sent := httpReqs.WithLabelValues("POST", "/api/send", "200")
	health := httpReqs.WithLabelValues("GET", "/health", "204")
	unmatched := httpReqs.WithLabelValues("GET", unmatchedPath, "404")
	baseSent, baseHealth, baseUnmatched := testutil.ToFloat64(sent), testutil.ToFloat64(health), testutil.ToFloat64(unmatched)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/api/send", nil),
		httptest.NewRequest(http.MethodGet, "/health", nil),
		httptest.NewRequest(http.MethodGet, "/wp-login.php", nil),
		httptest.NewRequest(http.MethodGet, "/.env", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	if got := testutil.ToFloat64(sent); got != baseSent+1 {
		t.Fatalf("POST /api/send 200 = %v; want %v", got, baseSent+1)
	}
	if got := testutil.ToFloat64(health); got != baseHealth+1 {
		t.Fatalf("GET /health 204 = %v; want %v", got, baseHealth+1)
	}
	// Both probes share one series.
	if got := testutil.ToFloat64(unmatched); got != baseUnmatched+2 {
		t.Fatalf("unmatched 404 = %v; want %v", got, baseUnmatched+2)
	}
	if got := testutil.ToFloat64(httpInflight); got != 0 {
		t.Fatalf("inflight = %v; want 0", got)
	}
}

func TestMetrics_DomainCounters(t *testing.T) {
	for _, outcome := range []string{"accepted", "invalid", "csrf_invalid", "replayed"} {
		c := formSubmissions.WithLabelValues(outcome)
		base := testutil.ToFloat64(c)
		ObserveSubmission(outcome)
		if got := testutil.ToFloat64(c); got != base+1 {
			t.Fatalf("form_submissions_total{%s} = %v; want %v", outcome, got, base+1)
		}
	}

	for _, limiter := range []string{"submit", "global"} {
		c := rateLimitRejections.WithLabelValues(limiter)
		base := testutil.ToFloat64(c)
		observeRateLimitRejection(limiter)
		if got := testutil.ToFloat64(c); got != base+1 {
			t.Fatalf("rate_limit_rejections_total{%s} = %v; want %v", limiter, got, base+1)
		}
	}
}
