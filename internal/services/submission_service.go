// Package services – SubmissionService
//
// SubmissionService is the server-side gate for callback requests. For every
// submission it prunes expired idempotency records, verifies the CSRF token
// against the session secret, replays a stored outcome for a known
// idempotency key, validates the fields, and on success persists the lead.
//
// Outcomes are returned as ready-to-write JSON so that a replay is
// byte-identical to the original answer.
package services

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-callback-backend/internal/domain"
	"github.com/tbourn/go-callback-backend/internal/repo"
	"github.com/tbourn/go-callback-backend/internal/validation"
)

// DefaultIdempotencyTTL is how long an outcome can be replayed.
const DefaultIdempotencyTTL = 15 * time.Minute

// Phone length bounds, in digits.
const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

// Gate codes and messages.
const (
	CodeCSRFInvalid     = "CSRF_INVALID"
	CodeValidationError = "VALIDATION_ERROR"

	MsgCSRFInvalid     = "Сессия истекла. Обновите страницу и попробуйте снова."
	MsgValidationError = "Проверьте поля формы"
	MsgAccepted        = "Заявка успешно отправлена"

	MsgPhoneInvalid  = "Неверный телефон"
	MsgPolicyMissing = "Согласитесь с политикой"
	MsgEmailInvalid  = "Неверный E-mail"
)

// StatusCSRFInvalid is the non-standard "page expired" status.
const StatusCSRFInvalid = 419

// Outcome labels for metrics and logs.
const (
	OutcomeAccepted = "accepted"
	OutcomeInvalid  = "invalid"
	OutcomeCSRF     = "csrf_invalid"
	OutcomeReplayed = "replayed"
)

// Submission is one incoming request to the gate.
type Submission struct {
	SessionID string
	// SessionToken is the CSRF secret held by the session.
	SessionToken string
	// CSRFToken is the token echoed by the client.
	CSRFToken      string
	IdempotencyKey string
	RequestID      string
	RemoteIP       string

	Name       string
	Phone      string
	Email      string
	Square     string
	Policy     string
	Lang       string
	CurrentURL string
	UTM        map[string]string
}

// Reply is the JSON body of a gate answer.
type Reply struct {
	Success   bool                   `json:"success"`
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message"`
	Errors    validation.FieldErrors `json:"errors,omitempty"`
	RequestID string                 `json:"request_id"`
}

// Outcome is what the handler writes back.
type Outcome struct {
	Status  int
	Payload []byte
	// Kind is one of the Outcome* labels.
	Kind     string
	Replayed bool
	// LeadID is set when this request created a lead.
	LeadID string
}

// SubmissionService implements the gate.
type SubmissionService struct {
	DB  *gorm.DB
	TTL time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

func (s *SubmissionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *SubmissionService) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultIdempotencyTTL
}

// Submit runs the gate for in.
func (s *SubmissionService) Submit(ctx context.Context, in Submission) (*Outcome, error) {
	tr := otel.Tracer("services/SubmissionService")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(
			attribute.String("session.id", in.SessionID),
			attribute.String("request.id", in.RequestID),
			attribute.Bool("idempotency.key_present", in.IdempotencyKey != ""),
		),
	)
	defer span.End()

	if in.SessionID == "" {
		return nil, ErrSessionRequired
	}
	now := s.now()

	// 1. Expired outcomes are evicted before anything is looked up.
	if _, err := repo.PruneIdempotency(ctx, s.DB, now); err != nil {
		span.RecordError(err)
	}

	// 2. CSRF. Failures are never cached.
	if !csrfMatches(in.SessionToken, in.CSRFToken) {
		span.SetAttributes(attribute.String("outcome", OutcomeCSRF))
		return s.answer(StatusCSRFInvalid, OutcomeCSRF, Reply{
			Code:      CodeCSRFInvalid,
			Message:   MsgCSRFInvalid,
			RequestID: in.RequestID,
		})
	}

	// 3. Replay.
	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		rec, err := repo.GetIdempotency(ctx, s.DB, in.SessionID, key, now)
		switch {
		case err == nil:
			span.SetAttributes(attribute.String("outcome", OutcomeReplayed))
			return replay(rec), nil
		case !errors.Is(err, repo.ErrNotFound):
			span.RecordError(err)
			span.SetStatus(codes.Error, "idempotency lookup failed")
			return nil, err
		}
	}

	// 4. Validation.
	if errs := ValidateSubmission(in); len(errs) > 0 {
		out, err := s.answer(http.StatusUnprocessableEntity, OutcomeInvalid, Reply{
			Code:      CodeValidationError,
			Message:   MsgValidationError,
			Errors:    errs,
			RequestID: in.RequestID,
		})
		if err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.String("outcome", OutcomeInvalid))
		if key == "" {
			return out, nil
		}
		if _, err := repo.CreateIdempotency(ctx, s.DB, in.SessionID, key, out.Status, out.Payload, now, s.ttl()); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return s.existing(ctx, in.SessionID, key, now)
			}
			span.RecordError(err)
			return nil, err
		}
		return out, nil
	}

	// 5. Accept: the lead and its outcome are stored together.
	out, err := s.answer(http.StatusOK, OutcomeAccepted, Reply{
		Success:   true,
		Message:   MsgAccepted,
		RequestID: in.RequestID,
	})
	if err != nil {
		return nil, err
	}
	lead := newLead(in, key, now)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if key != "" {
			if _, err := repo.CreateIdempotency(ctx, tx, in.SessionID, key, out.Status, out.Payload, now, s.ttl()); err != nil {
				return err
			}
		}
		return repo.CreateLead(ctx, tx, lead)
	})
	if errors.Is(err, repo.ErrDuplicate) {
		// A concurrent request with the same key won the race.
		return s.existing(ctx, in.SessionID, key, now)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist lead failed")
		return nil, err
	}
	out.LeadID = lead.ID
	span.SetAttributes(
		attribute.String("outcome", OutcomeAccepted),
		attribute.String("lead.id", lead.ID),
	)
	return out, nil
}

func (s *SubmissionService) existing(ctx context.Context, sessionID, key string, now time.Time) (*Outcome, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, sessionID, key, now)
	if err != nil {
		return nil, err
	}
	return replay(rec), nil
}

func (s *SubmissionService) answer(status int, kind string, r Reply) (*Outcome, error) {
	payload, err := EncodeReply(r)
	if err != nil {
		return nil, err
	}
	return &Outcome{Status: status, Payload: payload, Kind: kind}, nil
}

func replay(rec *domain.IdempotencyRecord) *Outcome {
	return &Outcome{Status: rec.Status, Payload: rec.Payload, Kind: OutcomeReplayed, Replayed: true}
}

// EncodeReply renders r as compact JSON keeping non-ASCII text and HTML
// characters verbatim.
func EncodeReply(r Reply) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ValidateSubmission applies the server rules in the order phone, policy,
// email and returns the violated fields.
func ValidateSubmission(in Submission) validation.FieldErrors {
	var errs validation.FieldErrors

	digits := validation.NormalizePhone(in.Phone)
	if n := len(digits); n < minPhoneDigits || n > maxPhoneDigits {
		errs.Set(validation.FieldPhone, MsgPhoneInvalid)
	}
	if in.Policy != "on" {
		errs.Set(validation.FieldPolicy, MsgPolicyMissing)
	}
	if email := strings.TrimSpace(in.Email); email != "" && !validEmail(email) {
		errs.Set(validation.FieldEmail, MsgEmailInvalid)
	}
	return errs
}

// validEmail accepts a bare RFC 5322 address with a dotted domain.
func validEmail(v string) bool {
	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Address != v || addr.Name != "" {
		return false
	}
	return validation.IsValidEmail(v)
}

// csrfMatches compares in constant time; empty values never match.
func csrfMatches(secret, token string) bool {
	token = strings.TrimSpace(token)
	if secret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(token)) == 1
}

func newLead(in Submission, key string, now time.Time) *domain.Lead {
	return &domain.Lead{
		ID:             uuid.NewString(),
		RequestID:      in.RequestID,
		SessionID:      in.SessionID,
		IdempotencyKey: key,
		Name:           strings.TrimSpace(in.Name),
		Phone:          validation.NormalizePhone(in.Phone),
		Email:          strings.TrimSpace(in.Email),
		Square:         strings.TrimSpace(in.Square),
		Lang:           in.Lang,
		CurrentURL:     in.CurrentURL,
		UTMSource:      in.UTM["utm_source"],
		UTMMedium:      in.UTM["utm_medium"],
		UTMCampaign:    in.UTM["utm_campaign"],
		UTMTerm:        in.UTM["utm_term"],
		UTMContent:     in.UTM["utm_content"],
		RemoteIP:       in.RemoteIP,
		CreatedAt:      now,
	}
}
