// Submission HTTP handler.
//
// The gate's answer is written verbatim: the service returns the encoded body
// so a replayed answer is byte-identical to the first one.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-callback-backend/internal/http/middleware"
	"github.com/tbourn/go-callback-backend/internal/services"
	"github.com/tbourn/go-callback-backend/internal/sysutil"
)

// HeaderCSRFToken may carry the CSRF token instead of the form field.
const HeaderCSRFToken = "X-CSRF-Token"

// SubmitRequest is the form posted by the callback widget, multipart or
// urlencoded.
type SubmitRequest struct {
	Name           string `form:"name" example:"Иван"`
	Phone          string `form:"phone" example:"+7 (912) 345-67-89"`
	Email          string `form:"email" example:"ivan@example.ru"`
	Square         string `form:"square" example:"120"`
	Policy         string `form:"policy" example:"on"`
	Lang           string `form:"lang" example:"ru"`
	CurrentURL     string `form:"current_url" example:"https://example.ru/landing"`
	IdempotencyKey string `form:"idempotency_key" example:"1718000000000-k3j5h2g1f"`
	CSRFToken      string `form:"csrf_token"`

	UTMSource   string `form:"utm_source"`
	UTMMedium   string `form:"utm_medium"`
	UTMCampaign string `form:"utm_campaign"`
	UTMTerm     string `form:"utm_term"`
	UTMContent  string `form:"utm_content"`
}

func (r SubmitRequest) utm() map[string]string {
	out := make(map[string]string, 5)
	for k, v := range map[string]string{
		"utm_source":   r.UTMSource,
		"utm_medium":   r.UTMMedium,
		"utm_campaign": r.UTMCampaign,
		"utm_term":     r.UTMTerm,
		"utm_content":  r.UTMContent,
	} {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	return out
}

// Submit godoc
// @ID          submitForm
// @Summary     Submit a callback request
// @Description Verifies the CSRF token, replays a stored answer for a known idempotency key, validates the fields and stores the lead.
// @Tags        Callback
// @Accept      multipart/form-data,application/x-www-form-urlencoded
// @Produce     json
//
// @Param       Idempotency-Key  header    string  false "Idempotency key (alternative to the form field)"
// @Param       X-CSRF-Token     header    string  false "CSRF token (alternative to the form field)"
// @Param       phone            formData  string  true  "Phone number"
// @Param       policy           formData  string  true  "Policy consent, must be on"
// @Param       name             formData  string  false "Name"
// @Param       email            formData  string  false "E-mail"
// @Param       square           formData  string  false "Area"
// @Param       csrf_token       formData  string  false "CSRF token"
// @Param       idempotency_key  formData  string  false "Idempotency key"
//
// @Success     200  {object} services.Reply "Accepted"
// @Failure     419  {object} services.Reply "CSRF token invalid"
// @Failure     422  {object} services.Reply "Validation failed"
// @Failure     429  {object} services.Reply "Rate limit exceeded"
// @Failure     500  {object} handlers.ErrorResponse "Internal server error"
// @Router      /send [post]
func (h *Handlers) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "malformed form")
		return
	}

	sess := middleware.SessionFrom(c)
	if sess == nil {
		fail(c, http.StatusInternalServerError, ErrCodeNoSession, "session required")
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	if key == "" {
		key = req.IdempotencyKey
	}

	in := services.Submission{
		SessionID:      sess.ID,
		SessionToken:   sess.CSRFToken,
		CSRFToken:      sysutil.FirstNonEmpty(req.CSRFToken, c.GetHeader(HeaderCSRFToken)),
		IdempotencyKey: key,
		RequestID:      middleware.GetRequestID(c),
		RemoteIP:       middleware.ClientIdentity(c.Request),
		Name:           req.Name,
		Phone:          req.Phone,
		Email:          req.Email,
		Square:         req.Square,
		Policy:         req.Policy,
		Lang:           req.Lang,
		CurrentURL:     req.CurrentURL,
		UTM:            req.utm(),
	}

	out, err := h.subSvc.Submit(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeSubmitFailed, "submission failed")
		return
	}

	middleware.ObserveSubmission(out.Kind)
	lg := middleware.LoggerFrom(c)
	lg.Info().
		Str("outcome", out.Kind).
		Int("status", out.Status).
		Bool("replayed", out.Replayed).
		Str("lead_id", out.LeadID).
		Msg("form submission")

	writePayload(c, out.Status, out.Payload)
}
