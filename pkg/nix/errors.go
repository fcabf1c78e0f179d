package nix

import (
	"errors"
	"fmt"
)

// ErrorClass classifies encoding failures. Every class is terminal for the
// call that produced it.
type ErrorClass string

const (
	// ErrorClassContractViolation means the value stream broke the visitor
	// contract, e.g. a map value was reported before its key.
	ErrorClassContractViolation ErrorClass = "contract_violation"

	// ErrorClassPayload means a value could not be represented, e.g. a path
	// that is not valid UTF-8 or a failing Marshaler.
	ErrorClassPayload ErrorClass = "payload"
)

var (
	// ErrValueWithoutKey is reported when a map value arrives with no pending key.
	ErrValueWithoutKey = &EncodeError{Class: ErrorClassContractViolation, Message: "value without key"}

	// ErrKeyWithoutValue is reported when a map key is never followed by its value.
	ErrKeyWithoutValue = &EncodeError{Class: ErrorClassContractViolation, Message: "key without value"}

	// ErrExpectedString is reported when raw text is requested from a non-string value.
	ErrExpectedString = &EncodeError{Class: ErrorClassPayload, Message: "expected string"}

	// ErrInvalidUTF8Path is reported for paths that cannot be represented as text.
	ErrInvalidUTF8Path = &EncodeError{Class: ErrorClassPayload, Message: "path contains invalid UTF-8 characters"}
)

// EncodeError is the error type returned by Encode and Marshal.
type EncodeError struct {
	// Class is the failure classification.
	Class ErrorClass

	// Message is the human-readable message.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *EncodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nix: %s: %v", e.Message, e.Err)
	}
	return "nix: " + e.Message
}

// Unwrap returns the underlying error.
func (e *EncodeError) Unwrap() error {
	return e.Err
}

// Is matches another EncodeError with the same class and message.
func (e *EncodeError) Is(target error) bool {
	t, ok := target.(*EncodeError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Message == t.Message
}

// Custom returns a payload error carrying msg verbatim, for Marshaler
// implementations that need to reject a value.
func Custom(msg string) error {
	return &EncodeError{Class: ErrorClassPayload, Message: msg}
}

// Customf is Custom with formatting.
func Customf(format string, args ...any) error {
	return Custom(fmt.Sprintf(format, args...))
}

func payloadError(message string, err error) *EncodeError {
	return &EncodeError{Class: ErrorClassPayload, Message: message, Err: err}
}

// wrapMarshalerError keeps EncodeErrors as they are and classifies anything
// else as a payload error.
func wrapMarshalerError(typeName string, err error) error {
	var ee *EncodeError
	if errors.As(err, &ee) {
		return err
	}
	return payloadError("marshaling "+typeName, err)
}

// IsContractViolation reports whether err is a contract violation.
func IsContractViolation(err error) bool {
	return classOf(err) == ErrorClassContractViolation
}

// IsPayload reports whether err is a payload error.
func IsPayload(err error) bool {
	return classOf(err) == ErrorClassPayload
}

func classOf(err error) ErrorClass {
	var ee *EncodeError
	if errors.As(err, &ee) {
		return ee.Class
	}
	return ""
}
