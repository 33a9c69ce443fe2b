// Package handlers provides the HTTP endpoints of the callback gateway.
//
// Every JSON body carries success and request_id so the form script can
// branch on one shape whatever the route. Bodies are written without HTML
// escaping; the Russian messages and any "<", ">" or "&" in them reach the
// client verbatim, the same way the submission gate encodes its replies.
//
//	HTTP/1.1 404 Not Found
//	{"success":false,"code":"not_found","message":"route not found","request_id":"123e4567-e89b-12d3-a456-426614174000"}
package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-callback-backend/internal/http/middleware"
)

const jsonContentType = "application/json; charset=utf-8"

// ErrorResponse is the error envelope of non-gate failures.
type ErrorResponse struct {
	Success bool `json:"success" example:"false"`
	// Stable, machine-readable code (see errors.go)
	Code string `json:"code" example:"not_found"`
	// Safe to show to users
	Message string `json:"message" example:"route not found"`
	// Echo of X-Request-ID
	RequestID string `json:"request_id" example:"123e4567-e89b-12d3-a456-426614174000"`
}

// fail aborts with an ErrorResponse. 5xx are logged on the request logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	writeJSON(c, status, ErrorResponse{Code: code, Message: msg, RequestID: middleware.GetRequestID(c)})
	c.Abort()
}

// Fail is fail for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	writeJSON(c, status, body)
}

// writeJSON encodes v without HTML escaping. An encoding failure becomes a
// bare 500.
func writeJSON(c *gin.Context, status int, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("encode response")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	writePayload(c, status, bytes.TrimRight(buf.Bytes(), "\n"))
}

// writePayload writes already encoded JSON verbatim.
func writePayload(c *gin.Context, status int, payload []byte) {
	c.Data(status, jsonContentType, payload)
}
