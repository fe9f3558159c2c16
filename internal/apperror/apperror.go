package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error so the HTTP layer can map it to a status code
// without inspecting message strings.
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindConflict
	KindInvalidState
	KindConsistency
	KindAuthentication
	KindGateway
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the operation unchanged.
// Only gateway failures qualify; everything else is a caller or state problem.
func (e *Error) Retryable() bool {
	return e.Kind == KindGateway
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return newf(KindConflict, format, args...)
}

func InvalidState(format string, args ...interface{}) *Error {
	return newf(KindInvalidState, format, args...)
}

func Consistency(format string, args ...interface{}) *Error {
	return newf(KindConsistency, format, args...)
}

func Authentication(format string, args ...interface{}) *Error {
	return newf(KindAuthentication, format, args...)
}

func Gateway(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindGateway, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}
