// Package errors provides structured error handling for tablesync.
//
// Every fault raised by a connector is classified into one of the sync
// categories (connection, transient, fatal) so that the retry controller can
// decide between re-attempting a batch and aborting its table. The remaining
// categories describe job-level failures and never reach the retry decision.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType is the category of a fault
type ErrorType string

// Sync categories, produced by connector classification.
const (
	// ErrorTypeConnection: the connection could not be opened or was lost
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeTransient: deadlocks, lock waits, serialization failures
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypeTimeout: a statement or dial deadline expired on the server side
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeRateLimit: the server refused work for now (too many connections)
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeFatal: constraint, type, permission and missing-object errors
	ErrorTypeFatal ErrorType = "fatal"
)

// Job categories.
const (
	ErrorTypeConfig       ErrorType = "config"
	ErrorTypeVerification ErrorType = "verification_mismatch"
	ErrorTypeCapability   ErrorType = "capability"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeFile         ErrorType = "file"
	ErrorTypeData         ErrorType = "data"
	// ErrorTypeInternal is reported by TypeOf for errors that were never classified
	ErrorTypeInternal ErrorType = "internal"
)

// Retryable reports whether a batch failing with this category may be
// attempted again.
func (t ErrorType) Retryable() bool {
	switch t {
	case ErrorTypeConnection, ErrorTypeTransient, ErrorTypeTimeout, ErrorTypeRateLimit:
		return true
	}
	return false
}

// Error is a classified fault. Details carry the context a log line or the
// job report needs (table, partition, engine error code).
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}

	// program counters of the place the chain was first classified
	callers []uintptr
}

// StackFrame is one resolved frame of StackTrace
type StackFrame struct {
	Function string
	File     string
	Line     int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail sets a detail and returns e for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{}, 2)
	}
	e.Details[key] = value
	return e
}

// InTable records the target table the fault belongs to.
func (e *Error) InTable(table string) *Error {
	return e.WithDetail("table", table)
}

// Detail returns a detail value, searching wrapped errors as well.
func (e *Error) Detail(key string) (interface{}, bool) {
	for cur := e; cur != nil; {
		if v, ok := cur.Details[key]; ok {
			return v, true
		}
		var next *Error
		if cur.Cause == nil || !errors.As(cur.Cause, &next) {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

// StackTrace resolves the frames recorded when the fault was classified.
func (e *Error) StackTrace() []StackFrame {
	if len(e.callers) == 0 {
		return nil
	}
	frames := runtime.CallersFrames(e.callers)
	out := make([]StackFrame, 0, len(e.callers))
	for {
		f, more := frames.Next()
		out = append(out, StackFrame{Function: f.Function, File: f.File, Line: f.Line})
		if !more {
			return out
		}
	}
}

// New creates a classified error.
func New(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message, callers: callers()}
}

// Newf creates a classified error with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: errType, Message: fmt.Sprintf(format, args...), callers: callers()}
}

// Wrap classifies err. The outer category wins; a trace already recorded
// further down the chain is reused. Wrap(nil, ...) is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}
	e := &Error{Type: errType, Message: message, Cause: err}
	var inner *Error
	if errors.As(err, &inner) && len(inner.callers) > 0 {
		e.callers = inner.callers
	} else {
		e.callers = callers()
	}
	return e
}

// TypeOf returns the outermost category of err, ErrorTypeInternal when the
// chain holds no *Error.
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}

// IsRetryable reports whether err's category allows another attempt.
func IsRetryable(err error) bool {
	return err != nil && TypeOf(err).Retryable()
}

// IsFatal reports whether err must not be retried. Unclassified errors are fatal.
func IsFatal(err error) bool {
	return err != nil && !IsRetryable(err)
}

// IsType reports whether the outermost *Error in err's chain has errType.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errType
}

// Is, As and Join re-export the standard library helpers so callers need a
// single errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }

func Join(errs ...error) error { return errors.Join(errs...) }

func callers() []uintptr {
	pcs := make([]uintptr, 32)
	// skip runtime.Callers, callers and the constructor
	n := runtime.Callers(3, pcs)
	return pcs[:n]
}
