package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-callback-backend/internal/http/middleware"
)

// CSRFResponse carries the token the form echoes back on submission.
type CSRFResponse struct {
	CSRFToken string `json:"csrf_token" example:"9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"`
}

// CSRF godoc
// @ID          getCSRFToken
// @Summary     Get the CSRF token
// @Description Returns the CSRF token bound to the visitor session, creating the session cookie when needed.
// @Tags        Callback
// @Produce     json
// @Success     200  {object} handlers.CSRFResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal server error"
// @Router      /csrf [get]
func (h *Handlers) CSRF(c *gin.Context) {
	sess := middleware.SessionFrom(c)
	if sess == nil {
		fail(c, http.StatusInternalServerError, ErrCodeNoSession, "session required")
		return
	}
	c.Header("Cache-Control", "no-store")
	ok(c, http.StatusOK, CSRFResponse{CSRFToken: sess.CSRFToken})
}

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

// Health godoc
// @ID          health
// @Summary     Liveness probe
// @Tags        Ops
// @Produce     json
// @Success     200  {object} handlers.HealthResponse
// @Router      /health [get]
func Health(c *gin.Context) {
	ok(c, http.StatusOK, HealthResponse{Status: "ok"})
}
