package client

import (
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Form field names.
const (
	FieldName           = "name"
	FieldPhone          = "phone"
	FieldEmail          = "email"
	FieldSquare         = "square"
	FieldPolicy         = "policy"
	FieldLang           = "lang"
	FieldCurrentURL     = "current_url"
	FieldIdempotencyKey = "idempotency_key"
	FieldCSRFToken      = "csrf_token"
	FieldUTMSession     = "utm_session"
)

// Submission is one logical submission attempt. IdempotencyKey is filled in
// by Send when empty and then reused for any retry of the same value.
type Submission struct {
	Name       string
	Phone      string
	Email      string
	Square     string
	Policy     bool
	Lang       string
	CurrentURL string

	IdempotencyKey string
	CSRFToken      string

	// UTM holds attribution parameters already known to the caller.
	UTM map[string]string
}

// Values serializes the submission as form fields.
func (s *Submission) Values() url.Values {
	v := url.Values{}
	v.Set(FieldName, s.Name)
	v.Set(FieldPhone, s.Phone)
	v.Set(FieldEmail, s.Email)
	v.Set(FieldSquare, s.Square)
	if s.Policy {
		v.Set(FieldPolicy, "on")
	} else {
		v.Set(FieldPolicy, "off")
	}
	v.Set(FieldLang, s.Lang)
	v.Set(FieldCurrentURL, s.CurrentURL)
	if s.IdempotencyKey != "" {
		v.Set(FieldIdempotencyKey, s.IdempotencyKey)
	}
	if s.CSRFToken != "" {
		v.Set(FieldCSRFToken, s.CSRFToken)
	}
	for k, val := range s.UTM {
		if val != "" {
			v.Set(k, val)
		}
	}
	return v
}

// newRandomUUID is a seam for tests.
var newRandomUUID = uuid.NewRandom

// NewIdempotencyKey returns a random UUID, or a time-based pseudo-random key
// when the secure source is unavailable.
func NewIdempotencyKey() string {
	if id, err := newRandomUUID(); err == nil {
		return id.String()
	}
	return fallbackKey(time.Now())
}

func fallbackKey(now time.Time) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffix := make([]byte, 8)
	for i := range suffix {
		suffix[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return fmt.Sprintf("idem-%s-%s", strconv.FormatInt(now.UnixMilli(), 36), suffix)
}
