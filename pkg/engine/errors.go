package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies why a render failed.
type ErrorClass string

const (
	// ErrorClassInvalidInput covers unreadable or undecodable sources, schema
	// failures and invalid requests.
	ErrorClassInvalidInput ErrorClass = "invalid_input"

	// ErrorClassPolicyDenied indicates a blocking policy violation, or a
	// policy that could not be evaluated.
	ErrorClassPolicyDenied ErrorClass = "policy_denied"

	// ErrorClassEncode indicates the document could not be encoded as Nix.
	ErrorClassEncode ErrorClass = "encode"

	// ErrorClassIO indicates the output could not be written.
	ErrorClassIO ErrorClass = "io"
)

// Stage names a step of the render pipeline.
type Stage string

const (
	StageValidate Stage = "validate"
	StageLoad     Stage = "load"
	StagePolicy   Stage = "policy"
	StageEncode   Stage = "encode"
	StageWrite    Stage = "write"
	StageRecord   Stage = "record"
)

// PipelineError is a classified render failure.
type PipelineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Stage is the pipeline step that failed.
	Stage Stage `json:"stage"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Source is the input document, if known.
	Source string `json:"source,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context, such as policy violations.
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Source != "" {
		return fmt.Sprintf("[%s] %s (source=%s, stage=%s)", e.Class, msg, e.Source, e.Stage)
	}
	return fmt.Sprintf("[%s] %s (stage=%s)", e.Class, msg, e.Stage)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is matches another *PipelineError of the same class. A target with an
// empty Stage matches any stage.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Stage == "" || e.Stage == t.Stage)
}

func newPipelineError(class ErrorClass, stage Stage, source, message string, err error) *PipelineError {
	return &PipelineError{
		Class:   class,
		Stage:   stage,
		Message: message,
		Source:  source,
		Err:     err,
	}
}

// WithDetail adds a detail field to the error context.
func (e *PipelineError) WithDetail(key string, value any) *PipelineError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of a pipeline error, or "" for any other error.
func ClassOf(err error) ErrorClass {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsInvalidInput returns true if the error is classified as invalid input.
func IsInvalidInput(err error) bool {
	return ClassOf(err) == ErrorClassInvalidInput
}

// IsPolicyDenied returns true if the render was blocked by policy.
func IsPolicyDenied(err error) bool {
	return ClassOf(err) == ErrorClassPolicyDenied
}

// IsEncode returns true if the error is an encoding failure.
func IsEncode(err error) bool {
	return ClassOf(err) == ErrorClassEncode
}

// IsIO returns true if the error is an output failure.
func IsIO(err error) bool {
	return ClassOf(err) == ErrorClassIO
}
