// Package errors defines the coded errors veil returns.
//
// Every VeilError carries a stable code (see codes.go) and a category that
// tells callers which layer failed. Codes registered in suggestions.go get
// remediation hints attached when the error is built.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Category is the layer an error comes from.
type Category string

const (
	CategoryConfig     Category = "config"
	CategoryValidation Category = "validation" // bad argument at an API boundary
	CategoryTracking   Category = "tracking"   // tracking client or store
	CategoryRepo       Category = "repo"       // git metadata, never surfaced
	CategoryCommand    Category = "command"
	CategoryInternal   Category = "internal"
)

// VeilError is a coded error. Two VeilErrors match under errors.Is when
// their codes are equal.
type VeilError struct {
	Code        string
	Category    Category
	Message     string
	Context     map[string]string
	Cause       error
	Suggestions []string
}

func (e *VeilError) Error() string {
	if e.Cause == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *VeilError) Unwrap() error { return e.Cause }

func (e *VeilError) Is(target error) bool {
	t, ok := target.(*VeilError)
	return ok && t.Code == e.Code
}

// New returns a VeilError with an empty context.
func New(code string, category Category, message string) *VeilError {
	return &VeilError{
		Code:     code,
		Category: category,
		Message:  message,
		Context:  map[string]string{},
	}
}

// Wrap returns a VeilError caused by err.
func Wrap(err error, code string, category Category, message string) *VeilError {
	return New(code, category, message).WithCause(err)
}

// WithContext records key=value on e and returns e.
func (e *VeilError) WithContext(key, value string) *VeilError {
	if e.Context == nil {
		e.Context = map[string]string{}
	}
	e.Context[key] = value
	return e
}

// WithCause sets the underlying error and returns e.
func (e *VeilError) WithCause(cause error) *VeilError {
	e.Cause = cause
	return e
}

// WithSuggestion appends a hint and returns e.
func (e *VeilError) WithSuggestion(suggestion string) *VeilError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

func (e *VeilError) HasContext() bool { return len(e.Context) > 0 }
func (e *VeilError) HasSuggestions() bool { return len(e.Suggestions) > 0 }

// AsVeilError finds the first VeilError in err's chain.
func AsVeilError(err error) (*VeilError, bool) {
	var ve *VeilError
	if stderrors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// IsCategory reports whether err's chain holds a VeilError of category.
func IsCategory(err error, category Category) bool {
	ve, ok := AsVeilError(err)
	return ok && ve.Category == category
}

// IsCode reports whether err's chain holds a VeilError with code.
func IsCode(err error, code string) bool {
	ve, ok := AsVeilError(err)
	return ok && ve.Code == code
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return IsCategory(err, CategoryValidation)
}

// ConfigWrap reports a config file that could not be read, parsed or
// written.
func ConfigWrap(cause error, code, message string) *VeilError {
	return AttachSuggestions(Wrap(cause, code, CategoryConfig, message))
}

// Validation rejects a value given for field. An empty field adds no
// context.
func Validation(code, field, message string) *VeilError {
	err := New(code, CategoryValidation, message)
	if field != "" {
		err.WithContext("field", field)
	}
	return AttachSuggestions(err)
}

func Validationf(code, field, format string, args ...any) *VeilError {
	return Validation(code, field, fmt.Sprintf(format, args...))
}

// Tracking reports a tracking client failure. autolog passes these through
// unchanged.
func Tracking(code, message string) *VeilError {
	return AttachSuggestions(New(code, CategoryTracking, message))
}

func Trackingf(code, format string, args ...any) *VeilError {
	return Tracking(code, fmt.Sprintf(format, args...))
}

// TrackingWrap reports a transport or decoding failure talking to a store.
func TrackingWrap(cause error, code, message string) *VeilError {
	return AttachSuggestions(Wrap(cause, code, CategoryTracking, message))
}

// Repo wraps a git lookup failure for logging.
func Repo(cause error, code, message string) *VeilError {
	return Wrap(cause, code, CategoryRepo, message)
}

// Commandf reports bad command line usage.
func Commandf(code, format string, args ...any) *VeilError {
	return AttachSuggestions(New(code, CategoryCommand, fmt.Sprintf(format, args...)))
}

// Internal wraps a failure that should not happen.
func Internal(cause error, code, message string) *VeilError {
	return Wrap(cause, code, CategoryInternal, message)
}
