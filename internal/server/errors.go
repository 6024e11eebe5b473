package server

import (
	"errors"
	"fmt"
	"time"
)

type ErrorKind string

const (
	KindAuthentication ErrorKind = "AUTHENTICATION"
	KindAccessDenied   ErrorKind = "ACCESS_DENIED"
	KindValidation     ErrorKind = "VALIDATION"
	KindNotFound       ErrorKind = "NOT_FOUND"
	KindForbidden      ErrorKind = "FORBIDDEN"
	KindInternal       ErrorKind = "INTERNAL"
)

// Error is reported privately to the connection that caused it. The session
// stays open.
type Error struct {
	Kind      ErrorKind
	Message   string
	ExpiresAt *time.Time
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func accessDenied(msg string) *Error {
	return &Error{Kind: KindAccessDenied, Message: msg}
}

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func notFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func forbidden(msg string, expiresAt *time.Time) *Error {
	return &Error{Kind: KindForbidden, Message: msg, ExpiresAt: expiresAt}
}

func internalError(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// asError folds any error into the protocol taxonomy.
func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return internalError("Internal server error", err)
}
