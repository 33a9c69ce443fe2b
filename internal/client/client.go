// Package client implements the request transport of the callback form: a
// cancellable, timeout-bound, idempotency-tagged HTTP client that posts a
// Submission to the gateway and normalizes the reply.
//
// Send never retries. Errors are one of *AbortError, *ServerError or
// *NetworkError; use errors.As (or IsAbort / IsParseError) to tell them apart.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-callback-backend/internal/cancel"
	"github.com/tbourn/go-callback-backend/internal/utils"
)

// DefaultTimeout bounds a single Send.
const DefaultTimeout = 15 * time.Second

// maxReplyBytes caps how much of a reply body is read.
const maxReplyBytes = 1 << 20

// Options configures a Transport.
type Options struct {
	// Endpoint is the submission URL, e.g. https://example.com/api/send.
	Endpoint string
	// CSRFEndpoint issues the session's CSRF token (GET).
	CSRFEndpoint string
	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
	// HTTPClient defaults to a client with a cookie jar, so the session
	// cookie set by the gateway is sent back.
	HTTPClient *http.Client
	// Session backs UTM persistence; nil disables the session source.
	Session SessionStore
	// Cookies is the last-resort UTM source.
	Cookies CookieSource
	// PageURL returns the URL of the page hosting the form.
	PageURL func() string
	Logger  *zerolog.Logger
}

// Transport posts submissions to the gateway.
type Transport struct {
	endpoint     string
	csrfEndpoint string
	timeout      time.Duration
	http         *http.Client
	session      SessionStore
	cookies      CookieSource
	pageURL      func() string
	log          zerolog.Logger
}

// New returns a Transport for opts.
func New(opts Options) *Transport {
	t := &Transport{
		endpoint:     opts.Endpoint,
		csrfEndpoint: opts.CSRFEndpoint,
		timeout:      opts.Timeout,
		http:         opts.HTTPClient,
		session:      opts.Session,
		cookies:      opts.Cookies,
		pageURL:      opts.PageURL,
		log:          zerolog.Nop(),
	}
	if t.timeout <= 0 {
		t.timeout = DefaultTimeout
	}
	if t.http == nil {
		t.http = &http.Client{Jar: newJar()}
	}
	if t.pageURL == nil {
		t.pageURL = func() string { return "" }
	}
	if t.cookies == nil && t.http.Jar != nil {
		if u, err := url.Parse(opts.Endpoint); err == nil {
			t.cookies = JarCookies{Jar: t.http.Jar, URL: u}
		}
	}
	if opts.Logger != nil {
		t.log = *opts.Logger
	}
	return t
}

// Send transmits sub. The idempotency key is generated on first use and
// stored back into sub, so resending the same *Submission is a retry of the
// same attempt. The request is aborted when ctx is done or the transport
// timeout elapses, whichever comes first.
func (t *Transport) Send(ctx context.Context, sub *Submission) (*Result, error) {
	if sub.IdempotencyKey == "" {
		sub.IdempotencyKey = NewIdempotencyKey()
	}

	form := sub.Values()
	pageURL := t.pageURL()
	if utm := resolveUTM(t.session, t.cookies, pageURL); utm != nil {
		for k, v := range utm {
			form.Set(k, v)
		}
		form.Set(FieldUTMSession, "1")
	}

	body, contentType, err := encodeMultipart(form)
	if err != nil {
		return nil, &NetworkError{Code: CodeNetworkError, Message: msgNetwork, Err: err}
	}

	ctx, release := cancel.WithTimeout(ctx, t.timeout)
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, buildSendURL(t.endpoint, pageURL), body)
	if err != nil {
		return nil, &NetworkError{Code: CodeNetworkError, Message: msgNetwork, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Accept", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, t.transportError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, t.transportError(ctx, err)
	}

	payload, fieldErrs := parsePayload(raw)
	res := normalize(payload, fieldErrs)

	if resp.StatusCode < 200 || resp.StatusCode > 299 || !res.Success {
		se := &ServerError{
			Code:      res.Code,
			Message:   res.Message,
			Errors:    res.Errors,
			Status:    resp.StatusCode,
			RequestID: res.RequestID,
		}
		if se.Code == "" {
			se.Code = CodeServerError
		}
		if se.Message == "" {
			se.Message = msgSendFailed
		}
		if secs := utils.AtoiDefault(resp.Header.Get("Retry-After"), 0); secs > 0 {
			se.RetryAfter = time.Duration(secs) * time.Second
		}
		t.log.Debug().
			Int("status", se.Status).
			Str("code", se.Code).
			Str("request_id", se.RequestID).
			Msg("submission rejected")
		return nil, se
	}

	t.log.Debug().
		Str("request_id", res.RequestID).
		Bool("processing", res.Processing).
		Msg("submission accepted")
	return res, nil
}

// transportError classifies a failure of the round trip itself.
func (t *Transport) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &AbortError{Timeout: cancel.IsTimeout(ctx), Err: err}
	}
	t.log.Warn().Err(err).Msg("submission transport failure")
	return &NetworkError{Code: CodeNetworkError, Message: msgNetwork, Err: err}
}

// FetchCSRF asks the gateway for the session's CSRF token.
func (t *Transport) FetchCSRF(ctx context.Context) (string, error) {
	if t.csrfEndpoint == "" {
		return "", errors.New("client: csrf endpoint not configured")
	}
	ctx, release := cancel.WithTimeout(ctx, t.timeout)
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.csrfEndpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := t.http.Do(req)
	if err != nil {
		return "", t.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("client: csrf endpoint returned %d", resp.StatusCode)
	}
	var body struct {
		Token string `json:"csrf_token"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReplyBytes)).Decode(&body); err != nil {
		return "", fmt.Errorf("client: decode csrf token: %w", err)
	}
	if body.Token == "" {
		return "", errors.New("client: empty csrf token")
	}
	return body.Token, nil
}

func encodeMultipart(form url.Values) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range form[k] {
			if err := mw.WriteField(k, v); err != nil {
				return nil, "", err
			}
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
