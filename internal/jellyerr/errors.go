// Package jellyerr implements the daemon's error-kind taxonomy.
package jellyerr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is one of the closed set of error kinds the daemon distinguishes.
// Only Fatal ever propagates to the scheduler's shutdown path.
type Kind string

const (
	Protocol    Kind = "protocol"
	Permission  Kind = "permission"
	StaleResume Kind = "stale_resume"
	Timeout     Kind = "timeout"
	IO          Kind = "io"
	Fatal       Kind = "fatal"
)

// Error carries a Kind alongside a message and optional structured details,
// wrapping an underlying cause when one exists.
type Error struct {
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key/value pair to the error for logging or the
// error frame's optional context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ToJSON renders the error for trace logging.
func (e *Error) ToJSON() string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}

// New creates a bare Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a bare Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Is reports whether err is a jellyerr.Error of the given kind, unwrapping
// as needed.
func Is(err error, kind Kind) bool {
	var je *Error
	if errors.As(err, &je) {
		return je.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err carries none.
func KindOf(err error) Kind {
	var je *Error
	if errors.As(err, &je) {
		return je.Kind
	}
	return ""
}
