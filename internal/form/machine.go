// Package form drives the callback form through a submission: local
// validation, a single network send, and the UI feedback that follows.
//
// The transition table is a pure function so the lifecycle can be tested
// without a UI; Controller applies the resulting effects.
package form

import (
	"errors"

	"github.com/tbourn/go-callback-backend/internal/client"
	"github.com/tbourn/go-callback-backend/internal/i18n"
	"github.com/tbourn/go-callback-backend/internal/validation"
)

// State is the controller lifecycle state.
type State int

const (
	Idle State = iota
	Validating
	Submitting
	Success
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case Submitting:
		return "submitting"
	case Success:
		return "success"
	case Error:
		return "error"
	}
	return "unknown"
}

// EventKind enumerates lifecycle inputs.
type EventKind int

const (
	// Submit is a user submit gesture.
	Submit EventKind = iota
	// Validated carries the local validation result.
	Validated
	// Sent carries the transport outcome.
	Sent
	// Settle fires when the success label should be restored.
	Settle
)

// Event is one input to Transition.
type Event struct {
	Kind       EventKind
	Validation validation.Result
	Result     *client.Result
	Err        error
}

// EffectKind enumerates what Controller must do.
type EffectKind int

const (
	PreventDefault EffectKind = iota
	ClearErrors
	RunValidation
	MarkFieldError
	ShowFormError
	SetLoading
	SendRequest
	EmitSuccess
	ResetForm
	ResetMask
	SetSuccess
	ScheduleRestore
	RestoreButton
)

// Effect is one side effect produced by Transition.
type Effect struct {
	Kind    EffectKind
	Field   string
	Message string
	Result  *client.Result
}

// Texts supplies localized strings.
type Texts = validation.Texts

// processingMessage is shown when the server accepted the request for
// asynchronous processing without a message of its own.
const processingMessage = "Заявка принята"

// Transition computes the next state and effects. Events that do not apply
// to the current state leave it unchanged with no effects.
func Transition(s State, ev Event, t Texts) (State, []Effect) {
	switch ev.Kind {
	case Submit:
		if s == Submitting || s == Validating {
			return s, []Effect{{Kind: PreventDefault}}
		}
		return Validating, []Effect{{Kind: PreventDefault}, {Kind: ClearErrors}, {Kind: RunValidation}}

	case Validated:
		if s != Validating {
			return s, nil
		}
		if !ev.Validation.Valid {
			effects := make([]Effect, 0, len(ev.Validation.Errors)+1)
			for _, fe := range ev.Validation.Errors {
				effects = append(effects, Effect{Kind: MarkFieldError, Field: fe.Field, Message: fe.Message})
			}
			msg := ev.Validation.FirstError
			if msg == "" {
				msg = t.Text(i18n.FormErrors)
			}
			effects = append(effects, Effect{Kind: ShowFormError, Message: msg})
			return Idle, effects
		}
		return Submitting, []Effect{{Kind: SetLoading, Message: t.Text(i18n.Sending)}, {Kind: SendRequest}}

	case Sent:
		if s != Submitting {
			return s, nil
		}
		if ev.Err == nil {
			res := accepted(ev.Result)
			return Success, []Effect{
				{Kind: EmitSuccess, Result: res},
				{Kind: ResetForm},
				{Kind: ResetMask},
				{Kind: SetSuccess, Message: t.Text(i18n.Success)},
				{Kind: ScheduleRestore},
			}
		}
		if client.IsAbort(ev.Err) {
			return Idle, []Effect{{Kind: RestoreButton}}
		}
		return Error, failure(ev.Err, t)

	case Settle:
		if s != Success {
			return s, nil
		}
		return Idle, []Effect{{Kind: RestoreButton}}
	}
	return s, nil
}

// accepted normalizes a successful reply, synthesizing one for a
// processing acknowledgement.
func accepted(r *client.Result) *client.Result {
	if r == nil {
		return &client.Result{Success: true}
	}
	if !r.Processing {
		return r
	}
	msg := r.Message
	if msg == "" {
		msg = processingMessage
	}
	return &client.Result{
		Success:    true,
		Message:    msg,
		RequestID:  r.RequestID,
		Processing: true,
		Errors:     r.Errors,
		Raw:        r.Raw,
	}
}

func failure(err error, t Texts) []Effect {
	var effects []Effect
	msg := ""

	var se *client.ServerError
	if errors.As(err, &se) {
		for _, fe := range se.Errors {
			effects = append(effects, Effect{Kind: MarkFieldError, Field: fe.Field, Message: fe.Message})
		}
		msg = se.Errors.First()
	}
	if msg == "" {
		msg = errMessage(err)
	}
	if msg == "" {
		msg = t.Text(i18n.ServerError)
	}
	effects = append(effects, Effect{Kind: ShowFormError, Message: msg}, Effect{Kind: RestoreButton})
	return effects
}

func errMessage(err error) string {
	var se *client.ServerError
	if errors.As(err, &se) {
		return se.Message
	}
	var ne *client.NetworkError
	if errors.As(err, &ne) {
		return ne.Message
	}
	return ""
}
