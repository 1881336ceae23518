package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a failure by what the caller should do about it.
type Kind string

const (
	KindNetwork    Kind = "network"
	KindAuth       Kind = "auth"
	KindServer     Kind = "server"
	KindValidation Kind = "validation"
	KindUnknown    Kind = "unknown"
)

// AppError represents an application error
type AppError struct {
	Kind    Kind   `json:"kind"`
	Status  int    `json:"status,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode lets the gin error middleware pick the response status.
func (e *AppError) StatusCode() int {
	switch e.Kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindValidation:
		if stderrors.Is(e.Err, ErrIllegalTransition) || stderrors.Is(e.Err, ErrPhysicianBusy) {
			return http.StatusConflict
		}
		return http.StatusUnprocessableEntity
	case KindNetwork, KindServer:
		return http.StatusBadGateway
	}
	if stderrors.Is(e.Err, ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

var (
	ErrIllegalTransition = stderrors.New("illegal status transition")
	ErrPhysicianBusy     = stderrors.New("physician already has a patient in consultation")
	ErrNotFound          = stderrors.New("not found")
)

// Error constructors
func Network(err error) *AppError {
	return &AppError{Kind: KindNetwork, Message: "no response from server", Err: err}
}

func Auth(status int, err error) *AppError {
	return &AppError{Kind: KindAuth, Status: status, Message: "session is not valid", Err: err}
}

func Server(status int, err error) *AppError {
	return &AppError{Kind: KindServer, Status: status, Message: "server error", Err: err}
}

func Validation(message string, err error) *AppError {
	return &AppError{Kind: KindValidation, Message: message, Err: err}
}

func Unknown(err error) *AppError {
	return &AppError{Kind: KindUnknown, Message: "unexpected error", Err: err}
}

func NotFound(resource string) *AppError {
	return &AppError{Kind: KindUnknown, Message: fmt.Sprintf("%s not found", resource), Err: ErrNotFound}
}

func IllegalTransition(from, to string) *AppError {
	return &AppError{
		Kind:    KindValidation,
		Message: fmt.Sprintf("cannot move from %s to %s", from, to),
		Err:     ErrIllegalTransition,
	}
}

// FromStatus maps a non-2xx HTTP response to an AppError.
func FromStatus(status int, body string) *AppError {
	var cause error
	if body != "" {
		cause = stderrors.New(body)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Auth(status, cause)
	case status >= 500:
		return Server(status, cause)
	case status == http.StatusUnprocessableEntity || status == http.StatusBadRequest:
		e := Validation("request rejected by server", cause)
		e.Status = status
		return e
	case status == http.StatusNotFound:
		return &AppError{Kind: KindUnknown, Status: status, Message: "resource not found", Err: ErrNotFound}
	default:
		return &AppError{Kind: KindUnknown, Status: status, Message: fmt.Sprintf("unexpected status %d", status), Err: cause}
	}
}

// KindOf classifies any error. Transport failures without a response are
// network errors; anything unrecognised is unknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return KindNetwork
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	return KindUnknown
}

// Retryable reports whether repeating the request can help.
func Retryable(kind Kind) bool {
	return kind == KindNetwork || kind == KindServer
}

// IsCanceled reports whether err comes from a cancelled request. Cancellation
// is never surfaced as a failure.
func IsCanceled(err error) bool {
	return stderrors.Is(err, context.Canceled)
}

// MessageFor returns the user-facing text for a failure kind.
func MessageFor(kind Kind) string {
	switch kind {
	case KindNetwork:
		return "Connection problem. Check your network."
	case KindServer:
		return "Server unavailable. Try again later."
	case KindAuth:
		return "Session expired. Please log in again."
	case KindValidation:
		return "Request rejected. Check the submitted data."
	default:
		return "Could not load the patient list."
	}
}

// New, Is and As re-export the standard helpers so callers need one import.
func New(text string) error { return stderrors.New(text) }

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
