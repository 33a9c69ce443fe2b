// Package validation implements the callback form rules. Validate is a pure
// function over a form snapshot: no I/O, no rendering surface. The small
// predicates (NormalizePhone, IsValidEmail, ...) are shared with the server.
package validation

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tbourn/go-callback-backend/internal/i18n"
)

// MinPhoneDigitsAfterCode is the minimum number of significant digits that
// must follow the detected country code.
const MinPhoneDigitsAfterCode = 5

// minPhoneDigitsNoCode applies when no country code is known.
const minPhoneDigitsNoCode = 7

// Field names, in evaluation order.
const (
	FieldPhone  = "phone"
	FieldName   = "name"
	FieldSquare = "square"
	FieldEmail  = "email"
	FieldPolicy = "policy"
)

var (
	nonDigitRE = regexp.MustCompile(`\D+`)
	emailRE    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// Style is the computed style of a field's container.
type Style struct {
	Display    string
	Visibility string
	Opacity    string
}

// Field is the snapshot of one input.
type Field struct {
	// Present is false when the form has no such input.
	Present bool
	Value   string
	Checked bool
	// Container is the field's wrapping item; nil means the field is not
	// wrapped and is treated as visible.
	Container *Style
	// CountryCode is the mask's detected country code (e.g. "+7"), phone only.
	CountryCode string
}

// Snapshot is the state of the form at submit time.
type Snapshot struct {
	Phone  Field
	Name   Field
	Square Field
	Email  Field
	Policy Field
}

// Result is the validation verdict.
type Result struct {
	Valid      bool
	Errors     FieldErrors
	FirstError string
}

// Texts supplies localized messages by key.
type Texts interface {
	Text(key string) string
}

// Validate checks s in the fixed order phone, name, square, email, policy.
// FirstError is the message of the first rule violated in that order.
func Validate(s Snapshot, t Texts) Result {
	var errs FieldErrors

	if f := s.Phone; f.Present {
		value := strings.TrimSpace(f.Value)
		switch {
		case !IsRequired(value):
			errs.Set(FieldPhone, t.Text(i18n.PhoneRequired))
		case !IsValidPhone(NormalizePhone(value), NormalizePhone(f.CountryCode)):
			errs.Set(FieldPhone, t.Text(i18n.PhoneInvalid))
		}
	}

	if f := s.Name; f.Present && IsVisible(f) {
		name := strings.TrimSpace(f.Value)
		switch {
		case !IsRequired(name):
			errs.Set(FieldName, t.Text(i18n.NameRequired))
		case !IsMinLength(name, 2):
			errs.Set(FieldName, t.Text(i18n.NameMinLength))
		}
	}

	if f := s.Square; f.Present && IsVisible(f) && !IsRequired(f.Value) {
		errs.Set(FieldSquare, t.Text(i18n.SquareRequired))
	}

	if f := s.Email; f.Present && !IsValidEmail(strings.TrimSpace(f.Value)) {
		errs.Set(FieldEmail, t.Text(i18n.EmailInvalid))
	}

	if f := s.Policy; f.Present && IsVisible(f) && !f.Checked {
		errs.Set(FieldPolicy, t.Text(i18n.PolicyRequired))
	}

	return Result{
		Valid:      len(errs) == 0,
		Errors:     errs,
		FirstError: errs.First(),
	}
}

// NormalizePhone strips everything but digits.
func NormalizePhone(v string) string {
	return nonDigitRE.ReplaceAllString(v, "")
}

// IsRequired reports whether v is non-blank.
func IsRequired(v string) bool {
	return strings.TrimSpace(v) != ""
}

// IsMinLength reports whether trimmed v has at least n characters.
func IsMinLength(v string, n int) bool {
	return utf8.RuneCountInString(strings.TrimSpace(v)) >= n
}

// IsValidEmail accepts blank input (the field is optional) or a basic
// local@domain.tld shape.
func IsValidEmail(v string) bool {
	if !IsRequired(v) {
		return true
	}
	return emailRE.MatchString(v)
}

// IsValidPhone checks the digit count. With a known country code, at least
// MinPhoneDigitsAfterCode digits must follow it; otherwise 7 digits total.
func IsValidPhone(digits, countryCodeDigits string) bool {
	if len(digits) <= 1 {
		return false
	}
	if countryCodeDigits != "" {
		return len(digits) >= len(countryCodeDigits)+MinPhoneDigitsAfterCode
	}
	return len(digits) >= minPhoneDigitsNoCode
}

// IsVisible reports whether f is shown to the user: its container is not
// display:none, not visibility:hidden, and not fully transparent.
func IsVisible(f Field) bool {
	if !f.Present {
		return false
	}
	st := f.Container
	if st == nil {
		return true
	}
	if st.Display == "none" || st.Visibility == "hidden" {
		return false
	}
	if op, err := strconv.ParseFloat(strings.TrimSpace(st.Opacity), 64); err == nil && op == 0 {
		return false
	}
	return true
}
