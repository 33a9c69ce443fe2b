package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestClientIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")
	if got := ClientIdentity(req); got != "203.0.113.9" {
		t.Fatalf("remote host: got %q", got)
	}

	req.Header.Set("X-Forwarded-For", " 198.51.100.7 , 10.0.0.1")
	if got := ClientIdentity(req); got != "198.51.100.7" {
		t.Fatalf("forwarded: got %q", got)
	}
}

func TestKeyByIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = net.JoinHostPort("203.0.113.9", "1")

	if got := KeyByIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("KeyByIP = %q", got)
	}
}

func TestRateLimiter_BucketReuseAndSweep(t *testing.T) {
	rl := NewRateLimiter(2, 0, KeyByIP())
	if rl.burst != 1 {
		t.Fatalf("burst = %d; want 1", rl.burst)
	}

	t0 := time.Unix(1_700_000_000, 0)
	lim := rl.bucketFor("ip:a", t0)
	if rl.bucketFor("ip:a", t0.Add(time.Second)) != lim {
		t.Fatal("bucket not reused")
	}

	// Force a sweep on the next lookup, an hour later.
	rl.lookups = sweepEvery - 1
	rl.bucketFor("ip:b", t0.Add(time.Hour))

	if _, ok := rl.buckets["ip:a"]; ok {
		t.Fatal("idle bucket survived the sweep")
	}
	if _, ok := rl.buckets["ip:b"]; !ok {
		t.Fatal("fresh bucket missing")
	}
}

func TestRateLimiter_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Unix(1_700_000_000, 0)
	// One token every 4 s, burst 1.
	rl := NewRateLimiter(0.25, 1, KeyByIP()).Skip(func(c *gin.Context) bool {
		return c.Request.Method == http.MethodPost && c.Request.URL.Path == "/api/send"
	})
	rl.now = func() time.Time { return now }

	r := gin.New()
	r.Use(RequestID(), rl.Handler())
	r.GET("/api/csrf", func(c *gin.Context) { c.String(http.StatusOK, "token") })
	r.POST("/api/send", func(c *gin.Context) { c.String(http.StatusOK, "sent") })

	get := func(rid string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/csrf", nil)
		req.Header.Set(HeaderRequestID, rid)
		r.ServeHTTP(w, req)
		return w
	}

	if w := get("rid-1"); w.Code != http.StatusOK {
		t.Fatalf("first: %d", w.Code)
	}

	now = now.Add(time.Second)
	w := get("rid-429")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second: %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "3" {
		t.Fatalf("Retry-After = %q; want 3", got)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["success"] != false || body["code"] != CodeRateLimited || body["request_id"] != "rid-429" {
		t.Fatalf("body = %v", body)
	}

	// The rejected reservation was returned: the token is back on time.
	now = now.Add(3 * time.Second)
	if w := get("rid-3"); w.Code != http.StatusOK {
		t.Fatalf("after refill: %d", w.Code)
	}

	// The submission path is exempt.
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/send", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("send #%d: %d", i, w.Code)
		}
	}
}

func TestRateLimiter_ZeroRateRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(0, 1, KeyByIP())

	r := gin.New()
	r.Use(rl.Handler())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Burst allows the first request even with zero refill.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("first: %d", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "1" {
		t.Fatalf("second: %d Retry-After=%q", w.Code, w.Header().Get("Retry-After"))
	}
}
