// Package phonemask formats the phone input of the callback form. A Formatter
// binds to an Input, keeps the displayed value in sync with the raw digits
// under the active country mask, and renormalizes local numbering patterns on
// change or autofill.
//
// Events are expected to be delivered from a single goroutine, the way a
// browser event loop would deliver them.
package phonemask

import (
	"strings"

	"github.com/tbourn/go-callback-backend/internal/validation"
)

// Input attribute names written by the formatter.
const (
	AttrCountryCode    = "data-country-code"
	AttrDetectedFormat = "data-detected-format"
)

// Input event types the formatter listens to.
const (
	EventFocus          = "focus"
	EventInput          = "input"
	EventBlur           = "blur"
	EventChange         = "change"
	EventAnimationStart = "animationstart"
)

// Event is delivered to listeners.
type Event struct {
	Type          string
	AnimationName string
}

// Input is the text field the formatter drives.
type Input interface {
	Value() string
	SetValue(v string)
	Attr(name string) string
	SetAttr(name, value string)
	RemoveAttr(name string)
	// AddListener registers fn for event and returns a function removing it.
	AddListener(event string, fn func(Event)) (remove func())
}

// Phase is the formatter's position in Empty → CountryCodeOnly →
// PartialNumber → CompleteNumber.
type Phase int

const (
	Empty Phase = iota
	CountryCodeOnly
	PartialNumber
	CompleteNumber
)

func (p Phase) String() string {
	switch p {
	case Empty:
		return "empty"
	case CountryCodeOnly:
		return "country_code_only"
	case PartialNumber:
		return "partial_number"
	case CompleteNumber:
		return "complete_number"
	}
	return "unknown"
}

// State is a snapshot of the field.
type State struct {
	RawDigits    string
	CountryCode  string
	MaskPattern  string
	DisplayValue string
}

// Apply renders digits into mask. Literals are emitted only up to the last
// filled slot; surplus digits are dropped.
func Apply(mask, digits string) string {
	if digits == "" {
		return ""
	}
	var b strings.Builder
	pending := strings.Builder{}
	di := 0
	for _, r := range mask {
		if di >= len(digits) {
			break
		}
		if r == '9' {
			b.WriteString(pending.String())
			pending.Reset()
			b.WriteByte(digits[di])
			di++
			continue
		}
		pending.WriteRune(r)
	}
	return b.String()
}

// Slots returns the number of digit slots in mask.
func Slots(mask string) int {
	return strings.Count(mask, "9")
}

// Renormalize maps recognized local patterns onto the international form:
// an 11-digit number with trunk prefix 8 becomes 7…, a 10-digit mobile
// number starting with 9 gets the 7 country code. Anything else is
// returned unchanged.
func Renormalize(digits string) string {
	switch {
	case len(digits) == 11 && strings.HasPrefix(digits, "8"):
		return "7" + digits[1:]
	case len(digits) == 10 && strings.HasPrefix(digits, "9"):
		return "7" + digits
	}
	return digits
}

// engine is one installed mask. At most one is live per Formatter.
type engine struct {
	pattern string
}

func (e *engine) render(digits string) string { return Apply(e.pattern, digits) }

// Formatter is the phone-mask state machine bound to one input.
type Formatter struct {
	input   Input
	country Country

	engine      *engine
	liveEngines int
	removers    []func()
}

// New returns a Formatter for input using the default country profile.
// A nil input yields a Formatter whose methods are no-ops.
func New(input Input) *Formatter {
	return &Formatter{input: input, country: DefaultCountry}
}

// Init installs the mask and listeners. Calling Init again without Destroy
// is a no-op, so listeners are never duplicated. A prefilled value (browser
// autofill before init) is renormalized immediately.
func (f *Formatter) Init() {
	if f.input == nil || len(f.removers) > 0 {
		return
	}
	f.applyMask(false, "")

	f.removers = append(f.removers,
		f.input.AddListener(EventFocus, func(Event) { f.OnFocus() }),
		f.input.AddListener(EventInput, func(Event) { f.OnInput() }),
		f.input.AddListener(EventBlur, func(Event) { f.OnBlur() }),
		f.input.AddListener(EventChange, func(Event) { f.OnChange() }),
		f.input.AddListener(EventAnimationStart, f.onAnimationStart),
	)

	if strings.TrimSpace(f.input.Value()) != "" {
		f.OnChange()
	}
}

// Destroy removes listeners and the mask engine and clears the detection
// attributes. The value is left untouched.
func (f *Formatter) Destroy() {
	if f.input == nil {
		return
	}
	for _, rm := range f.removers {
		rm()
	}
	f.removers = nil
	f.removeEngine()
	f.country = DefaultCountry
	f.clearAttrs()
}

// Reset empties the field and reinstalls the mask.
func (f *Formatter) Reset() {
	if f.input == nil {
		return
	}
	f.removeEngine()
	f.input.SetValue("")
	f.clearAttrs()
	f.applyMask(false, "")
}

// OnFocus inserts the country code prefix into an empty field.
func (f *Formatter) OnFocus() {
	if f.input == nil {
		return
	}
	if strings.TrimSpace(f.input.Value()) == "" {
		f.input.SetValue(f.country.Code)
	}
}

// OnInput reformats the current digits under the mask. Keystrokes are never
// rejected and the digits are not renormalized until OnChange, so a number
// typed with a trunk 8 keeps it while editing. An emptied field drops the
// detection attributes.
func (f *Formatter) OnInput() {
	if f.input == nil {
		return
	}
	digits := validation.NormalizePhone(f.input.Value())
	if digits == "" {
		f.clearAttrs()
		return
	}
	if f.engine == nil {
		f.applyMask(false, "")
	}
	f.setAttrs()
	f.input.SetValue(f.engine.render(digits))
}

// OnBlur clears a field holding nothing beyond the country code.
func (f *Formatter) OnBlur() {
	if f.input == nil {
		return
	}
	digits := validation.NormalizePhone(f.input.Value())
	codeDigits := validation.NormalizePhone(f.input.Attr(AttrCountryCode))
	limit := len(codeDigits)
	if limit == 0 {
		limit = 1
	}
	if digits == codeDigits || len(digits) <= limit {
		f.input.SetValue("")
		f.clearAttrs()
	}
}

// OnChange renormalizes local numbering patterns (manual edit or autofill).
func (f *Formatter) OnChange() {
	if f.input == nil {
		return
	}
	normalized := Renormalize(validation.NormalizePhone(f.input.Value()))
	if normalized == "" {
		return
	}
	f.applyMask(true, normalized)
}

func (f *Formatter) onAnimationStart(e Event) {
	if strings.Contains(e.AnimationName, "autofill") {
		f.OnChange()
	}
}

// State returns the current snapshot.
func (f *Formatter) State() State {
	if f.input == nil {
		return State{}
	}
	st := State{
		RawDigits:    validation.NormalizePhone(f.input.Value()),
		DisplayValue: f.input.Value(),
	}
	if f.engine != nil {
		st.MaskPattern = f.engine.pattern
	}
	st.CountryCode = f.input.Attr(AttrCountryCode)
	return st
}

// Phase classifies the current value.
func (f *Formatter) Phase() Phase {
	st := f.State()
	code := validation.NormalizePhone(f.country.Code)
	switch {
	case st.RawDigits == "":
		return Empty
	case len(st.RawDigits) <= len(code):
		return CountryCodeOnly
	case st.MaskPattern != "" && len(st.RawDigits) >= Slots(st.MaskPattern):
		return CompleteNumber
	default:
		return PartialNumber
	}
}

// LiveEngines reports how many mask engines are installed (0 or 1).
func (f *Formatter) LiveEngines() int { return f.liveEngines }

// Listeners reports how many listeners the formatter holds.
func (f *Formatter) Listeners() int { return len(f.removers) }

// applyMask replaces the engine and, when preserve is set, re-renders the
// given digits.
func (f *Formatter) applyMask(preserve bool, normalized string) {
	f.removeEngine()
	f.engine = &engine{pattern: Masks[f.country.Format]}
	f.liveEngines++
	f.setAttrs()

	if preserve && normalized != "" {
		f.input.SetValue(f.engine.render(normalized))
	}
}

func (f *Formatter) removeEngine() {
	if f.engine != nil {
		f.engine = nil
		f.liveEngines--
	}
}

func (f *Formatter) setAttrs() {
	f.input.SetAttr(AttrCountryCode, f.country.Code)
	f.input.SetAttr(AttrDetectedFormat, string(f.country.Format))
}

func (f *Formatter) clearAttrs() {
	f.input.RemoveAttr(AttrCountryCode)
	f.input.RemoveAttr(AttrDetectedFormat)
}
