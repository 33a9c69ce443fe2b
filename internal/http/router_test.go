package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-callback-backend/internal/config"
	"github.com/tbourn/go-callback-backend/internal/http/middleware"
	"github.com/tbourn/go-callback-backend/internal/ratelimit"
	"github.com/tbourn/go-callback-backend/internal/repo"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api",
		SubmitPath:     "/api/send",
		MaxBodyBytes:   1 << 20,
		RateRPS:        100,
		RateBurst:      100,
		IdempotencyTTL: 15 * time.Minute,
		Session:        config.SessionConfig{TTL: time.Hour, CookieName: "sid"},
		Security:       config.SecurityConfig{CSP: config.DefaultCSP, FrameOptions: "SAMEORIGIN"},
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
	}
}

// visitor is a browser with a session cookie and its CSRF token.
type visitor struct {
	r      http.Handler
	cookie *http.Cookie
	token  string
	ip     string
}

func newVisitor(t *testing.T, r http.Handler, ip string) *visitor {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/csrf", nil)
	req.RemoteAddr = ip + ":4000"
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/csrf = %d", w.Code)
	}
	var body struct {
		CSRFToken string `json:"csrf_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || len(body.CSRFToken) != 64 {
		t.Fatalf("csrf body %s err=%v", w.Body.String(), err)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "sid" {
		t.Fatalf("expected session cookie, got %+v", cookies)
	}
	return &visitor{r: r, cookie: cookies[0], token: body.CSRFToken, ip: ip}
}

func (v *visitor) post(form url.Values) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Accept", "application/json")
	req.RemoteAddr = v.ip + ":4000"
	req.AddCookie(v.cookie)
	v.r.ServeHTTP(w, req)
	return w
}

func (v *visitor) form(key string) url.Values {
	f := url.Values{}
	f.Set("name", "Иван")
	f.Set("phone", "+7 (912) 345-67-89")
	f.Set("email", "ivan@example.ru")
	f.Set("policy", "on")
	f.Set("csrf_token", v.token)
	if key != "" {
		f.Set("idempotency_key", key)
	}
	return f
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("json: %v (%s)", err, w.Body.String())
	}
	return m
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t, "router_basic"), nil, testConfig())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if w.Header().Get("Content-Security-Policy") != config.DefaultCSP || w.Header().Get("X-Frame-Options") != "SAMEORIGIN" {
		t.Fatalf("security headers missing: %v", w.Header())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Fatalf("GET /metrics bad: code=%d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	if m := decode(t, w); m["success"] != false || m["code"] != "not_found" || m["request_id"] == "" {
		t.Fatalf("404 body: %v", m)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	// Swagger is off unless enabled.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be disabled, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	RegisterRoutes(r, newTestDB(t, "router_cors"), nil, cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	// Preflight for the submission headers.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodOptions, "/api/send", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "X-CSRF-Token, Idempotency-Key, X-Requested-With")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight = %d", w.Code)
	}
}

func TestRegisterRoutes_Swagger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig()
	cfg.SwaggerEnabled = true
	RegisterRoutes(r, newTestDB(t, "router_swagger"), nil, cfg)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/send") {
		t.Fatalf("doc.json: %d %s", w.Code, w.Body.String())
	}
}

func TestSubmit_EndToEnd_AcceptReplayAndValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t, "router_e2e")
	r := gin.New()
	RegisterRoutes(r, db, nil, testConfig())

	v := newVisitor(t, r, "203.0.113.10")

	// Accepted.
	w := v.post(v.form("1718000000000-aaa"))
	if w.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", w.Code, w.Body.String())
	}
	first := append([]byte(nil), w.Body.Bytes()...)
	m := decode(t, w)
	if m["success"] != true || m["message"] != "Заявка успешно отправлена" || m["request_id"] == "" {
		t.Fatalf("accept body: %v", m)
	}
	if !bytes.HasPrefix(first, []byte(`{"success":true,"message":`)) {
		t.Fatalf("field order: %s", first)
	}

	// Same key: the stored answer is replayed byte for byte, no second lead.
	w = v.post(v.form("1718000000000-aaa"))
	if w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), first) {
		t.Fatalf("replay differs: %d %s", w.Code, w.Body.String())
	}
	var leads int64
	db.Table("leads").Count(&leads)
	if leads != 1 {
		t.Fatalf("expected one lead, got %d", leads)
	}

	// Invalid fields with a new key: 422 with the errors in rule order.
	f := v.form("1718000000001-bbb")
	f.Set("phone", "12")
	f.Set("email", "bad@")
	f.Del("policy")
	w = v.post(f)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid: %d %s", w.Code, w.Body.String())
	}
	invalid := append([]byte(nil), w.Body.Bytes()...)
	if !bytes.Contains(invalid, []byte(`"errors":{"phone":"Неверный телефон","policy":"Согласитесь с политикой","email":"Неверный E-mail"}`)) {
		t.Fatalf("errors map: %s", invalid)
	}
	if m := decode(t, w); m["code"] != "VALIDATION_ERROR" || m["message"] != "Проверьте поля формы" {
		t.Fatalf("invalid body: %v", m)
	}

	// The 422 is cached too: fixing the fields under the same key changes nothing.
	w = v.post(v.form("1718000000001-bbb"))
	if w.Code != http.StatusUnprocessableEntity || !bytes.Equal(w.Body.Bytes(), invalid) {
		t.Fatalf("cached 422 differs: %d %s", w.Code, w.Body.String())
	}
}

func TestSubmit_EndToEnd_CSRFNotCached(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t, "router_csrf"), nil, testConfig())

	v := newVisitor(t, r, "203.0.113.11")

	f := v.form("1718000000002-ccc")
	f.Set("csrf_token", "forged")
	w := v.post(f)
	if w.Code != 419 {
		t.Fatalf("csrf: %d %s", w.Code, w.Body.String())
	}
	if m := decode(t, w); m["success"] != false || m["code"] != "CSRF_INVALID" ||
		m["message"] != "Сессия истекла. Обновите страницу и попробуйте снова." {
		t.Fatalf("csrf body: %v", m)
	}

	// Same key with the right token goes through: the 419 was not stored.
	w = v.post(v.form("1718000000002-ccc"))
	if w.Code != http.StatusOK {
		t.Fatalf("after csrf failure: %d %s", w.Code, w.Body.String())
	}

	// The header is accepted in place of the field.
	f = v.form("1718000000003-ddd")
	f.Del("csrf_token")
	req := httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader(f.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-CSRF-Token", v.token)
	req.AddCookie(v.cookie)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("header token: %d %s", w.Code, w.Body.String())
	}

	// Without the session cookie a fresh session is created and the token fails.
	req = httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader(v.form("").Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 419 {
		t.Fatalf("no cookie: %d", w.Code)
	}
}

func TestSubmit_EndToEnd_OddKeyGoesThroughTheGate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t, "router_oddkey"), nil, testConfig())

	v := newVisitor(t, r, "203.0.113.13")
	odd := "повтор #1 " + strings.Repeat("x", 300)

	// CSRF runs first, whatever the key looks like.
	f := v.form(odd)
	f.Set("csrf_token", "forged")
	if w := v.post(f); w.Code != 419 {
		t.Fatalf("forged token with odd key: %d %s", w.Code, w.Body.String())
	}

	w := v.post(v.form(odd))
	if w.Code != http.StatusOK {
		t.Fatalf("odd key: %d %s", w.Code, w.Body.String())
	}
	first := append([]byte(nil), w.Body.Bytes()...)

	w = v.post(v.form(odd))
	if w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), first) {
		t.Fatalf("odd key replay differs: %d %s", w.Code, w.Body.String())
	}
}

func TestSubmit_EndToEnd_RateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t, "router_rl")
	lim, err := ratelimit.New(repo.NewRateWindowStore(db), 2, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	r := gin.New()
	RegisterRoutes(r, db, lim, testConfig())

	v := newVisitor(t, r, "203.0.113.12")
	for i, key := range []string{"k-1", "k-2"} {
		if w := v.post(v.form(key)); w.Code != http.StatusOK {
			t.Fatalf("hit %d: %d %s", i+1, w.Code, w.Body.String())
		}
	}

	w := v.post(v.form("k-3"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("3rd hit: %d", w.Code)
	}
	if ra := w.Header().Get("Retry-After"); ra == "" || ra == "0" {
		t.Fatalf("Retry-After = %q", ra)
	}
	if m := decode(t, w); m["code"] != middleware.CodeRateLimited || m["request_id"] == "" {
		t.Fatalf("429 body: %v", m)
	}

	// The CSRF endpoint is not counted against the submission window.
	other := newVisitor(t, r, "203.0.113.12")
	if other.token == v.token {
		t.Fatalf("distinct sessions expected")
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_joinPath(t *testing.T) {
	cases := map[[2]string]string{
		{"", "/csrf"}:     "/csrf",
		{"/", "/csrf"}:    "/csrf",
		{"/api", "/csrf"}: "/api/csrf",
	}
	for in, want := range cases {
		if got := joinPath(in[0], in[1]); got != want {
			t.Fatalf("joinPath(%q, %q) = %q; want %q", in[0], in[1], got, want)
		}
	}
}
