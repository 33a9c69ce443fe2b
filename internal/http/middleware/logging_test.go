package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

func TestRequestID_ReuseOrReplace(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	var seen string
	r.GET("/rid", func(c *gin.Context) {
		seen = GetRequestID(c)
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		name, in string
		reused   bool
	}{
		{"absent", "", false},
		{"plain", "abc-123", true},
		{"upper with dots", "Z-REQ.123_x", true},
		{"too long", strings.Repeat("a", 65), false},
		{"html", "<script>", false},
		{"spaces", "a b", false},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/rid", nil)
		if tc.in != "" {
			req.Header.Set(strings.ToLower(HeaderRequestID), tc.in)
		}
		r.ServeHTTP(w, req)

		got := w.Header().Get(HeaderRequestID)
		if got == "" || got != seen {
			t.Fatalf("%s: header %q, context %q", tc.name, got, seen)
		}
		if (got == tc.in) != tc.reused {
			t.Fatalf("%s: got %q, reused want %v", tc.name, got, tc.reused)
		}
		if !validRequestID(got) {
			t.Fatalf("%s: emitted invalid id %q", tc.name, got)
		}
	}
}

func TestGetRequestID_FallsBackToResponseHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var got string
	r.GET("/rid", func(c *gin.Context) {
		c.Header(HeaderRequestID, "from-header")
		got = GetRequestID(c)
		c.Status(http.StatusNoContent)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/rid", nil))
	if got != "from-header" {
		t.Fatalf("GetRequestID = %q", got)
	}
}

func TestRecovery_PanicBecomesOrderedEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{}), Recovery())
	r.POST("/api/send", func(c *gin.Context) { panic("store exploded") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/send", nil)
	req.Header.Set(HeaderRequestID, "rid-panic")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	want := `{"success":false,"code":"internal_error","message":"internal server error","request_id":"rid-panic"}`
	if got := w.Body.String(); got != want {
		t.Fatalf("body = %s\nwant  %s", got, want)
	}
	out := buf.String()
	if !strings.Contains(out, "panic recovered") || !strings.Contains(out, `"request_id":"rid-panic"`) {
		t.Fatalf("panic log missing:\n%s", out)
	}
}

func TestRecovery_PanicAfterWriteKeepsBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/late", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("late")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/late", nil))

	if w.Body.String() != "partial" {
		t.Fatalf("body = %q", w.Body.String())
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("panic log missing:\n%s", buf.String())
	}
}

func TestLoggerFrom_FallbackAndRequestScoped(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, scoped := range []bool{false, true} {
		buf := captureLogger(t)
		r := gin.New()
		r.Use(RequestID())
		if scoped {
			r.Use(RedactingLogger(RedactOptions{}))
		}
		r.GET("/use", func(c *gin.Context) {
			LoggerFrom(c).Info().Msg("lead stored")
			c.Status(http.StatusOK)
		})
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/use", nil))

		out := buf.String()
		if !strings.Contains(out, `"message":"lead stored"`) {
			t.Fatalf("scoped=%v: log line missing:\n%s", scoped, out)
		}
		// Only the request-scoped logger carries request fields.
		hasRID := strings.Contains(out, `"request_id"`)
		if hasRID != scoped {
			t.Fatalf("scoped=%v: request_id present=%v:\n%s", scoped, hasRID, out)
		}
	}
}

func TestTruncate(t *testing.T) {
	for _, tc := range []struct {
		in   string
		max  int
		want string
	}{
		{"phone=1", 10, "phone=1"},
		{"abcdefgh", 5, "abcde…"},
		{"abc", 0, "abc"},
	} {
		if got := truncate(tc.in, tc.max); got != tc.want {
			t.Fatalf("truncate(%q, %d) = %q; want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
