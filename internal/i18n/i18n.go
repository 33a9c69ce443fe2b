// Package i18n holds the localized message catalog used by the callback form:
// validation messages, button labels, and generic error texts. Site-supplied
// overrides (the "form-callback" section of the global content JSON) take
// precedence over the built-in defaults.
package i18n

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/language"
)

// DefaultLang is used when the requested language is empty or malformed.
const DefaultLang = "ru"

// CategoryError is the catalog category holding form messages.
const CategoryError = "error"

// Message keys.
const (
	PhoneRequired   = "phone_required"
	PhoneInvalid    = "phone_invalid"
	NameRequired    = "name_required"
	NameMinLength   = "name_min_length"
	SquareRequired  = "square_required"
	PolicyRequired  = "policy_required"
	EmailInvalid    = "email_invalid"
	FormErrors      = "form_errors"
	ServerError     = "server_error"
	ResponseError   = "response_error"
	ConnectionError = "connection_error"
	Sending         = "sending"
	Success         = "success"
)

// Defaults are the built-in texts per language.
var Defaults = map[string]map[string]string{
	"ru": {
		PhoneRequired:   "Укажите телефон",
		PhoneInvalid:    "Неверный телефон",
		NameRequired:    "Укажите имя",
		NameMinLength:   "Имя от 2 символов",
		SquareRequired:  "Укажите площадь",
		PolicyRequired:  "Согласитесь с политикой",
		EmailInvalid:    "Неверный E-mail",
		FormErrors:      "Пожалуйста, исправьте ошибки в форме",
		ServerError:     "Произошла ошибка при отправке формы",
		ResponseError:   "Произошла ошибка при обработке ответа сервера",
		ConnectionError: "Ошибка соединения с сервером",
		Sending:         "Отправляем заявку",
		Success:         "Успешно отправлена",
	},
	"en": {
		PhoneRequired:   "Please enter your phone number",
		PhoneInvalid:    "Invalid phone number format",
		NameRequired:    "Please enter your name",
		NameMinLength:   "Name should be at least 2 characters",
		SquareRequired:  "Please enter area",
		PolicyRequired:  "You must agree to the privacy policy",
		EmailInvalid:    "Invalid E-mail",
		FormErrors:      "Please correct the errors in the form",
		ServerError:     "An error occurred while submitting the form",
		ResponseError:   "An error occurred while processing the response",
		ConnectionError: "Server connection error",
		Sending:         "Sending request",
		Success:         "Successfully sent",
	},
}

// Overrides is the site-supplied catalog: category → lang → key → text.
type Overrides map[string]map[string]map[string]string

// Catalog resolves messages for a single language.
type Catalog struct {
	lang      string
	overrides Overrides
}

// New returns a Catalog for lang (normalized with ResolveLang).
func New(overrides Overrides, lang string) *Catalog {
	if overrides == nil {
		overrides = Overrides{}
	}
	return &Catalog{lang: ResolveLang(lang), overrides: overrides}
}

// Load decodes overrides from r (JSON object keyed by category, then
// language) and returns a Catalog for lang.
func Load(r io.Reader, lang string) (*Catalog, error) {
	var ov Overrides
	if err := json.NewDecoder(r).Decode(&ov); err != nil {
		return nil, fmt.Errorf("i18n: decode catalog: %w", err)
	}
	return New(ov, lang), nil
}

// Lang returns the resolved language code.
func (c *Catalog) Lang() string { return c.lang }

// Get looks up key in category. Site overrides win, then the built-in
// defaults for the catalog language (or DefaultLang), then def.
func (c *Catalog) Get(category, key, def string) string {
	if byLang, ok := c.overrides[category]; ok {
		if msgs, ok := byLang[c.lang]; ok {
			if v, ok := msgs[key]; ok {
				return v
			}
		}
	}
	defaults, ok := Defaults[c.lang]
	if !ok {
		defaults = Defaults[DefaultLang]
	}
	if v, ok := defaults[key]; ok {
		return v
	}
	return def
}

// Text returns the form message for key, or "" when unknown.
func (c *Catalog) Text(key string) string { return c.Get(CategoryError, key, "") }

// ResolveLang reduces a language tag such as "en-US" to its base code.
// Empty or malformed input yields DefaultLang.
func ResolveLang(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultLang
	}
	tag, err := language.Parse(v)
	if err != nil {
		return DefaultLang
	}
	base, conf := tag.Base()
	if conf == language.No {
		return DefaultLang
	}
	return base.String()
}
