package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-callback-backend/internal/domain"
	"github.com/tbourn/go-callback-backend/internal/http/middleware"
	"github.com/tbourn/go-callback-backend/internal/services"
)

// ---- stubs ----

type stubSubmitSvc struct {
	fn   func(ctx context.Context, in services.Submission) (*services.Outcome, error)
	last services.Submission
}

func (s *stubSubmitSvc) Submit(ctx context.Context, in services.Submission) (*services.Outcome, error) {
	s.last = in
	return s.fn(ctx, in)
}

type staticResolver struct{ sess *domain.Session }

func (r staticResolver) Resolve(context.Context, string) (*domain.Session, bool, error) {
	return r.sess, false, nil
}

func newHandlerRouter(svc SubmissionService, withSession bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	if withSession {
		r.Use(middleware.Sessions(staticResolver{&domain.Session{ID: "s-1", CSRFToken: "secret"}}, middleware.SessionOptions{}))
	}
	r.Use(middleware.IdempotencyKeys(middleware.IdempotencyOptions{}))
	h := New(svc)
	r.POST("/api/send", h.Submit)
	r.GET("/api/csrf", h.CSRF)
	r.GET("/health", Health)
	return r
}

// ---- tests ----

func TestSubmit_URLEncoded_MapsFieldsAndWritesPayload(t *testing.T) {
	payload := []byte(`{"success":true,"message":"Заявка успешно отправлена","request_id":"rid-1"}`)
	svc := &stubSubmitSvc{fn: func(context.Context, services.Submission) (*services.Outcome, error) {
		return &services.Outcome{Status: http.StatusOK, Payload: payload, Kind: services.OutcomeAccepted}, nil
	}}
	r := newHandlerRouter(svc, true)

	form := url.Values{}
	form.Set("name", "Иван")
	form.Set("phone", "+7 (912) 345-67-89")
	form.Set("email", "ivan@example.ru")
	form.Set("square", "120")
	form.Set("policy", "on")
	form.Set("lang", "ru")
	form.Set("current_url", "https://example.ru/")
	form.Set("idempotency_key", "1718000000000-abc")
	form.Set("utm_source", "yandex")
	form.Set("utm_term", " ")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Request-ID", "rid-1")
	req.Header.Set(HeaderCSRFToken, "secret")
	req.RemoteAddr = "198.51.100.4:1234"
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if !bytes.Equal(w.Body.Bytes(), payload) {
		t.Fatalf("payload altered: %s", w.Body.String())
	}

	in := svc.last
	if in.SessionID != "s-1" || in.SessionToken != "secret" || in.CSRFToken != "secret" {
		t.Fatalf("session/csrf mapping: %+v", in)
	}
	if in.IdempotencyKey != "1718000000000-abc" || in.RequestID != "rid-1" || in.RemoteIP != "198.51.100.4" {
		t.Fatalf("key/request mapping: %+v", in)
	}
	if in.Name != "Иван" || in.Phone != "+7 (912) 345-67-89" || in.Policy != "on" || in.Square != "120" {
		t.Fatalf("field mapping: %+v", in)
	}
	if len(in.UTM) != 1 || in.UTM["utm_source"] != "yandex" {
		t.Fatalf("utm mapping: %v", in.UTM)
	}
}

func TestSubmit_Multipart_FormTokenWinsOverHeader(t *testing.T) {
	svc := &stubSubmitSvc{fn: func(_ context.Context, in services.Submission) (*services.Outcome, error) {
		return &services.Outcome{Status: services.StatusCSRFInvalid, Payload: []byte(`{}`), Kind: services.OutcomeCSRF}, nil
	}}
	r := newHandlerRouter(svc, true)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("phone", "79123456789")
	_ = mw.WriteField("csrf_token", "from-form")
	_ = mw.Close()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/send", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(HeaderCSRFToken, "from-header")
	req.Header.Set(middleware.HeaderIdempotencyKey, "hdr-key")
	r.ServeHTTP(w, req)

	if w.Code != services.StatusCSRFInvalid {
		t.Fatalf("status=%d", w.Code)
	}
	if svc.last.CSRFToken != "from-form" || svc.last.Phone != "79123456789" {
		t.Fatalf("multipart mapping: %+v", svc.last)
	}
	if svc.last.IdempotencyKey != "hdr-key" {
		t.Fatalf("header key not used: %q", svc.last.IdempotencyKey)
	}
}

func TestSubmit_ServiceError_And_NoSession(t *testing.T) {
	svc := &stubSubmitSvc{fn: func(context.Context, services.Submission) (*services.Outcome, error) {
		return nil, errors.New("db down")
	}}

	for _, withSession := range []bool{true, false} {
		r := newHandlerRouter(svc, withSession)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader("phone=1"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		r.ServeHTTP(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("session=%v: status=%d", withSession, w.Code)
		}
		var er ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
			t.Fatalf("json: %v", err)
		}
		want := ErrCodeSubmitFailed
		if !withSession {
			want = ErrCodeNoSession
		}
		if er.Success || er.Code != want || er.RequestID == "" {
			t.Fatalf("session=%v: body %+v", withSession, er)
		}
	}
}

func TestCSRF_And_Health(t *testing.T) {
	r := newHandlerRouter(&stubSubmitSvc{}, true)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("csrf status=%d", w.Code)
	}
	var cr CSRFResponse
	if err := json.Unmarshal(w.Body.Bytes(), &cr); err != nil || cr.CSRFToken != "secret" {
		t.Fatalf("csrf body=%s err=%v", w.Body.String(), err)
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("csrf must not be cached")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != `{"status":"ok"}` {
		t.Fatalf("health: %d %s", w.Code, w.Body.String())
	}

	r = newHandlerRouter(&stubSubmitSvc{}, false)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("csrf without session: %d", w.Code)
	}
}
