package client

import (
	"errors"
	"time"

	"github.com/tbourn/go-callback-backend/internal/validation"
)

// Error codes produced on the client side.
const (
	CodeServerError  = "SERVER_ERROR"
	CodeParseError   = "PARSE_ERROR"
	CodeNetworkError = "NETWORK_ERROR"
)

const (
	msgSendFailed = "Ошибка при отправке"
	msgBadReply   = "Некорректный ответ сервера"
	msgNetwork    = "Ошибка соединения"
)

// AbortError reports that the request was cancelled by the caller or by the
// transport timeout. It is not an application failure.
type AbortError struct {
	Timeout bool
	Err     error
}

func (e *AbortError) Error() string {
	if e.Timeout {
		return "request aborted: timeout"
	}
	return "request aborted"
}

func (e *AbortError) Unwrap() error { return e.Err }

// ServerError is a non-2xx reply or an explicit success:false. A reply body
// that is not valid JSON is reported as a ServerError with Code PARSE_ERROR.
type ServerError struct {
	Code       string
	Message    string
	Errors     validation.FieldErrors
	Status     int
	RequestID  string
	RetryAfter time.Duration
}

func (e *ServerError) Error() string { return e.Message }

// NetworkError is a transport failure with no server code.
type NetworkError struct {
	Code    string
	Message string
	Err     error
}

func (e *NetworkError) Error() string { return e.Message }

func (e *NetworkError) Unwrap() error { return e.Err }

// IsAbort reports whether err is an AbortError.
func IsAbort(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}

// IsParseError reports whether err is a ServerError caused by an
// unparseable reply.
func IsParseError(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Code == CodeParseError
}
