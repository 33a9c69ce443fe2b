package form

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-callback-backend/internal/cancel"
	"github.com/tbourn/go-callback-backend/internal/client"
	"github.com/tbourn/go-callback-backend/internal/validation"
)

// DefaultRestoreDelay is how long the success label stays on the button.
const DefaultRestoreDelay = 4000 * time.Millisecond

// SuccessEventName is the name of the event emitted after a successful send.
const SuccessEventName = "formSubmissionSuccess"

// UI is the visual surface of one form.
type UI interface {
	ClearErrors()
	MarkFieldError(field, message string)
	ClearFieldError(field string)
	ShowFormError(message string)
	SetLoading(label string)
	SetSuccess(label string)
	RestoreButton()
}

// Form reads and resets the form's inputs. HasField reports whether the
// form renders an input for a server-side field name; errors for other
// fields are shown in the form's error container.
type Form interface {
	Snapshot() validation.Snapshot
	Submission() *client.Submission
	HasField(name string) bool
	Reset()
}

// Sender transmits a submission.
type Sender interface {
	Send(ctx context.Context, sub *client.Submission) (*client.Result, error)
}

// Mask is the phone input formatter attached to the form.
type Mask interface {
	Reset()
}

// SuccessEvent is dispatched after the server accepts a submission.
type SuccessEvent struct {
	Name           string
	Bubbles        bool
	Cancelable     bool
	Form           Form
	FormData       url.Values
	ServerResponse *client.Result
}

// EventSink receives success events.
type EventSink interface {
	Dispatch(ev SuccessEvent)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(SuccessEvent)

func (f EventSinkFunc) Dispatch(ev SuccessEvent) { f(ev) }

type stopper interface{ Stop() bool }

// Options configures a Controller. UI, Form, Sender and Texts are required.
type Options struct {
	UI           UI
	Form         Form
	Sender       Sender
	Texts        Texts
	Mask         Mask
	Events       EventSink
	RestoreDelay time.Duration
	Logger       *zerolog.Logger
}

// Controller serializes submissions of one form. At most one submission is
// in flight; submit gestures arriving meanwhile are dropped.
type Controller struct {
	ui     UI
	form   Form
	sender Sender
	texts  Texts
	mask   Mask
	events EventSink
	delay  time.Duration
	log    zerolog.Logger

	afterFunc func(time.Duration, func()) stopper

	mu        sync.Mutex
	state     State
	key       string
	keyFor    string // payload the key was issued for
	restore   stopper
	destroyed bool

	lifetime context.Context
	stop     context.CancelFunc
}

// NewController binds a controller to a form.
func NewController(opts Options) *Controller {
	lifetime, stop := context.WithCancel(context.Background())
	c := &Controller{
		ui:       opts.UI,
		form:     opts.Form,
		sender:   opts.Sender,
		texts:    opts.Texts,
		mask:     opts.Mask,
		events:   opts.Events,
		delay:    opts.RestoreDelay,
		log:      zerolog.Nop(),
		lifetime: lifetime,
		stop:     stop,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
	if c.delay <= 0 {
		c.delay = DefaultRestoreDelay
	}
	if opts.Logger != nil {
		c.log = *opts.Logger
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// step feeds ev through Transition under the lock.
func (c *Controller) step(ev Event) (State, []Effect) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return c.state, nil
	}
	next, effects := Transition(c.state, ev, c.texts)
	c.state = next
	return next, effects
}

// Submit handles a submit gesture and blocks until the outcome is applied.
// It returns the state reached; a dropped gesture returns the current state.
func (c *Controller) Submit(ctx context.Context) State {
	next, effects := c.step(Event{Kind: Submit})
	if next != Validating || !has(effects, RunValidation) {
		return next
	}
	c.cancelRestore()
	c.apply(effects, nil)

	res := validation.Validate(c.form.Snapshot(), c.texts)
	next, effects = c.step(Event{Kind: Validated, Validation: res})
	c.apply(effects, nil)
	if !has(effects, SendRequest) {
		c.log.Debug().Int("errors", len(res.Errors)).Msg("form rejected locally")
		return next
	}

	sub := c.form.Submission()
	payload := fingerprint(sub)
	c.mu.Lock()
	if sub.IdempotencyKey == "" && c.keyFor == payload {
		sub.IdempotencyKey = c.key
	}
	c.mu.Unlock()

	sendCtx, release := cancel.Any(ctx, c.lifetime)
	result, err := c.sender.Send(sendCtx, sub)
	release()

	next, effects = c.step(Event{Kind: Sent, Result: result, Err: err})
	c.mu.Lock()
	c.key, c.keyFor = sub.IdempotencyKey, payload
	if next == Success {
		c.key, c.keyFor = "", ""
	}
	c.mu.Unlock()
	if err != nil && !client.IsAbort(err) {
		c.log.Warn().Err(err).Msg("form submission failed")
	}
	c.apply(effects, sub)
	return next
}

// OnInput clears the error highlight of an edited field.
func (c *Controller) OnInput(field string) {
	c.ui.ClearFieldError(field)
}

// Destroy aborts any in-flight submission and cancels the pending restore.
// It is safe to call more than once.
func (c *Controller) Destroy() {
	c.stop()
	c.cancelRestore()
	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()
}

func (c *Controller) settle() {
	_, effects := c.step(Event{Kind: Settle})
	c.apply(effects, nil)
}

func (c *Controller) cancelRestore() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restore != nil {
		c.restore.Stop()
		c.restore = nil
	}
}

func (c *Controller) apply(effects []Effect, sub *client.Submission) {
	for _, e := range effects {
		switch e.Kind {
		case ClearErrors:
			c.ui.ClearErrors()
		case MarkFieldError:
			if c.form.HasField(e.Field) {
				c.ui.MarkFieldError(e.Field, e.Message)
			} else {
				c.ui.ShowFormError(e.Message)
			}
		case ShowFormError:
			c.ui.ShowFormError(e.Message)
		case SetLoading:
			c.ui.SetLoading(e.Message)
		case EmitSuccess:
			if c.events == nil {
				continue
			}
			ev := SuccessEvent{
				Name:           SuccessEventName,
				Bubbles:        true,
				Cancelable:     true,
				Form:           c.form,
				ServerResponse: e.Result,
			}
			if sub != nil {
				ev.FormData = sub.Values()
			}
			c.events.Dispatch(ev)
		case ResetForm:
			c.form.Reset()
		case ResetMask:
			if c.mask != nil {
				c.mask.Reset()
			}
		case SetSuccess:
			c.ui.SetSuccess(e.Message)
		case ScheduleRestore:
			t := c.afterFunc(c.delay, c.settle)
			c.mu.Lock()
			c.restore = t
			c.mu.Unlock()
		case RestoreButton:
			c.ui.RestoreButton()
		}
	}
}

// fingerprint identifies the user-entered payload of sub. A retry reuses the
// previous idempotency key only while the fingerprint is unchanged, so an
// edited form is never answered with the outcome cached for the old values.
func fingerprint(sub *client.Submission) string {
	v := sub.Values()
	v.Del(client.FieldIdempotencyKey)
	v.Del(client.FieldCSRFToken)
	return v.Encode()
}

func has(effects []Effect, k EffectKind) bool {
	for _, e := range effects {
		if e.Kind == k {
			return true
		}
	}
	return false
}
