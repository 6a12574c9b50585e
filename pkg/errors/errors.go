package errors

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// Sentinel values used throughout the application
var (
	ErrNotFound         = errors.New("resource not found")
	ErrInternalError    = errors.New("internal error")
	ErrOffline          = errors.New("network offline")
	ErrTransient        = errors.New("transient backend failure")
	ErrRateLimited      = errors.New("rate limited by backend")
	ErrDataFormat       = errors.New("malformed identifier or value")
	ErrAuth             = errors.New("authentication rejected")
	ErrSchemaMismatch   = errors.New("schema mismatch")
	ErrConnectionFailed = errors.New("persistent connection failure")
)

// Class categorizes a failure for retry and reporting decisions.
type Class string

const (
	ClassNotFound         Class = "NOT_FOUND"
	ClassOffline          Class = "NETWORK_OFFLINE"
	ClassTransient        Class = "TRANSIENT_FAILURE"
	ClassRateLimited      Class = "RATE_LIMITED"
	ClassDataFormat       Class = "DATA_FORMAT_ERROR"
	ClassAuth             Class = "AUTH_ERROR"
	ClassSchemaMismatch   Class = "SCHEMA_MISMATCH"
	ClassConnectionFailed Class = "PERSISTENT_CONNECTION_FAILURE"
	ClassNonCriticalWrite Class = "NON_CRITICAL_WRITE_FAILURE"
)

// Retryable reports whether a failure of this class may be retried.
// Data-shape and auth failures are not transient and never retried.
func (c Class) Retryable() bool {
	return c == ClassTransient || c == ClassRateLimited
}

// Error is a structured error carrying a class, context fields and the
// location where it was created.
type Error struct {
	original error
	message  string
	fields   map[string]interface{}
	file     string
	line     int

	// Code is the failure classification for this error.
	Code Class
}

// New creates a new structured error with the given message.
func New(message string) *Error {
	_, file, line, _ := runtime.Caller(1)
	return &Error{
		original: errors.New(message),
		message:  message,
		fields:   make(map[string]interface{}),
		file:     file,
		line:     line,
	}
}

// Wrap wraps an existing error with additional context. Returns nil when
// err is nil so call sites can wrap unconditionally.
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	_, file, line, _ := runtime.Caller(1)
	return &Error{
		original: err,
		message:  message,
		fields:   make(map[string]interface{}),
		file:     file,
		line:     line,
		Code:     Classify(err),
	}
}

// WithField returns a copy of the error with one more context field.
func (e *Error) WithField(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}
	result := e.clone()
	result.fields[key] = value
	return result
}

// WithFields returns a copy of the error with the given context fields added.
func (e *Error) WithFields(fields map[string]interface{}) *Error {
	if e == nil {
		return nil
	}
	result := e.clone()
	for k, v := range fields {
		result.fields[k] = v
	}
	return result
}

// WithClass returns a copy of the error with the classification set.
func (e *Error) WithClass(class Class) *Error {
	if e == nil {
		return nil
	}
	result := e.clone()
	result.Code = class
	return result
}

func (e *Error) clone() *Error {
	result := &Error{
		original: e.original,
		message:  e.message,
		fields:   make(map[string]interface{}, len(e.fields)+1),
		file:     e.file,
		line:     e.line,
		Code:     e.Code,
	}
	for k, v := range e.fields {
		result.fields[k] = v
	}
	return result
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil || e.original == nil {
		return ""
	}
	if e.message == "" || e.message == e.original.Error() {
		return e.original.Error()
	}
	return fmt.Sprintf("%s: %v", e.message, e.original)
}

// Unwrap implements the errors.Unwrap interface.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.original
}

// Is reports whether any error in the tree matches target.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	if errors.Is(e.original, target) {
		return true
	}
	return e == target
}

// Location returns the file:line where the error was created.
func (e *Error) Location() string {
	if e == nil {
		return ""
	}
	parts := strings.Split(e.file, "/")
	return fmt.Sprintf("%s:%d", parts[len(parts)-1], e.line)
}

// GetFields returns the error's context fields.
func (e *Error) GetFields() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.fields
}

// NewClassified creates a structured error for the given class, backed by
// the class's sentinel value.
func NewClassified(class Class, message string) *Error {
	_, file, line, _ := runtime.Caller(1)
	return &Error{
		original: sentinelFor(class),
		message:  message,
		fields:   make(map[string]interface{}),
		file:     file,
		line:     line,
		Code:     class,
	}
}

func sentinelFor(class Class) error {
	switch class {
	case ClassNotFound:
		return ErrNotFound
	case ClassOffline:
		return ErrOffline
	case ClassRateLimited:
		return ErrRateLimited
	case ClassDataFormat:
		return ErrDataFormat
	case ClassAuth:
		return ErrAuth
	case ClassSchemaMismatch:
		return ErrSchemaMismatch
	case ClassConnectionFailed:
		return ErrConnectionFailed
	default:
		return ErrTransient
	}
}

// MySQL server error numbers that map onto the failure taxonomy.
const (
	mysqlTooManyConnections     = 1040
	mysqlAccessDenied           = 1044
	mysqlAccessDeniedUser       = 1045
	mysqlUnknownColumn          = 1054
	mysqlCommandDenied          = 1142
	mysqlTableMissing           = 1146
	mysqlTooManyUserConnections = 1203
	mysqlLockWaitTimeout        = 1205
	mysqlDeadlock               = 1213
	mysqlTruncatedWrongValue    = 1292
	mysqlIncorrectValue         = 1366
	mysqlDataTooLong            = 1406
)

// IsNotFound reports whether the error tree contains ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Classify maps an arbitrary error onto the failure taxonomy. Unknown
// failures classify as transient so the caller's retry budget applies.
func Classify(err error) Class {
	if err == nil {
		return ""
	}

	var serr *Error
	if errors.As(err, &serr) && serr.Code != "" {
		return serr.Code
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrOffline):
		return ClassOffline
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, ErrDataFormat):
		return ClassDataFormat
	case errors.Is(err, ErrAuth):
		return ClassAuth
	case errors.Is(err, ErrSchemaMismatch):
		return ClassSchemaMismatch
	case errors.Is(err, ErrConnectionFailed):
		return ClassConnectionFailed
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlTooManyConnections, mysqlTooManyUserConnections:
			return ClassRateLimited
		case mysqlUnknownColumn, mysqlTableMissing:
			return ClassSchemaMismatch
		case mysqlTruncatedWrongValue, mysqlIncorrectValue, mysqlDataTooLong:
			return ClassDataFormat
		case mysqlAccessDenied, mysqlAccessDeniedUser, mysqlCommandDenied:
			return ClassAuth
		case mysqlLockWaitTimeout, mysqlDeadlock:
			return ClassTransient
		}
		return ClassTransient
	}

	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	return ClassTransient
}
