package relay

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a request failure. The kind decides how far a failure
// propagates: none of them ever close the connection or reach the process
// boundary.
type ErrorKind int

const (
	// ErrorMalformed means the inbound frame could not be parsed.
	ErrorMalformed ErrorKind = iota
	// ErrorMissingToken means the frame carried no auth token.
	ErrorMissingToken
	// ErrorInvalidToken means the identity collaborator rejected the token.
	ErrorInvalidToken
	// ErrorValidation means required fields were missing or invalid; the
	// messaging service is never called for these.
	ErrorValidation
	// ErrorCollaborator means a messaging-service call was rejected.
	ErrorCollaborator
)

// Error is the uniform failure value produced by the validator, auth gate
// and dispatcher.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

// NewError builds a relay error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err, defaulting to ErrorCollaborator
// for plain errors surfaced by collaborator clients.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ErrorCollaborator
}

// ErrTokenNotFound is returned by DeviceTokenCache implementations when no
// token is cached for a user.
var ErrTokenNotFound = errors.New("device token not found")
