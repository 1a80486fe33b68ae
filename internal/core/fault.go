package core

import (
	"errors"
	"net/http"
)

// Reason tags a fault for logs. It is never rendered to clients.
type Reason string

const (
	ReasonBadRequest Reason = "BAD_REQUEST"
	ReasonNotFound   Reason = "NOT_FOUND"
	ReasonUnknown    Reason = "UNKNOWN"
)

// Client-facing fault messages.
const (
	MsgValueMustBePositive = "VALUE_MUST_BE_POSITIVE"
	MsgNoValueFound        = "NO_VALUE_FOUND_FOR_THESE_PARAMETERS"
	MsgTransactionCreated  = "TRANSACTION_CREATED"
	MsgValueOutOfRange     = "VALUE_OUT_OF_RANGE"
)

// Fault is a typed service failure carrying the HTTP status it maps to.
type Fault struct {
	Reason  Reason
	Message string
	Status  int
	Cause   error
}

func (f *Fault) Error() string {
	return string(f.Reason) + ": " + f.Message
}

func (f *Fault) Unwrap() error {
	return f.Cause
}

// ValidationFault reports a business-rule violation on caller input.
func ValidationFault(message string) *Fault {
	return &Fault{Reason: ReasonBadRequest, Message: message, Status: http.StatusBadRequest}
}

// NotFoundFault reports a read that matched nothing.
func NotFoundFault(message string) *Fault {
	return &Fault{Reason: ReasonNotFound, Message: message, Status: http.StatusNotFound}
}

// UnknownFault wraps any other failure; the message is the cause's text.
func UnknownFault(cause error) *Fault {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return &Fault{Reason: ReasonUnknown, Message: msg, Status: http.StatusInternalServerError, Cause: cause}
}

// AsFault returns err as a *Fault, converting foreign errors to UnknownFault.
func AsFault(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return UnknownFault(err)
}

// Result holds either a success value or a fault, never both.
type Result[T any] struct {
	value T
	fault *Fault
}

// Ok wraps a success value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Fail wraps a fault. A nil fault is replaced by an UnknownFault so that a
// Result built with Fail is never mistaken for success.
func Fail[T any](f *Fault) Result[T] {
	if f == nil {
		f = UnknownFault(nil)
	}
	return Result[T]{fault: f}
}

// Unwrap returns the value and the fault; exactly one is meaningful.
func (r Result[T]) Unwrap() (T, *Fault) {
	return r.value, r.fault
}
