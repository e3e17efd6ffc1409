package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
)

// Kind is the position of an error in the run's failure taxonomy
type Kind string

const (
	// Fatal kinds abort the run before any category is processed
	KindSourceUnavailable Kind = "SourceUnavailable"
	KindEmptySource       Kind = "EmptySource"
	KindConfig            Kind = "ConfigError"

	// Per-category kinds are recorded in the report and the batch continues
	KindDirectory Kind = "DirectoryError"
	KindBackend   Kind = "BackendError"

	KindAuth Kind = "AuthError"
)

// ErrorType represents the cause of a backend failure
type ErrorType string

const (
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeAuth           ErrorType = "auth"
	ErrorTypeForbidden      ErrorType = "forbidden"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeServerError    ErrorType = "server_error"
	ErrorTypeParsing        ErrorType = "parsing"
	ErrorTypeInvalidContent ErrorType = "invalid_content"
	ErrorTypeUnknown        ErrorType = "unknown"
)

// Error is the typed error used across the module
type Error struct {
	Kind    Kind
	Type    ErrorType
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Kind != "" {
		b.WriteString(string(e.Kind))
	}
	if e.Type != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "(%s", e.Type)
		if e.Code != 0 {
			fmt.Fprintf(&b, ", code %d", e.Code)
		}
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Detail is the short description stored in a category result
func (e *Error) Detail() string {
	msg := e.Message
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	if e.Type == "" {
		return msg
	}
	if msg == "" {
		return string(e.Type)
	}
	return string(e.Type) + ": " + msg
}

// New creates an error of the given kind
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Backend creates a BackendError with a failure type
func Backend(errType ErrorType, code int, message string, err error) *Error {
	return &Error{Kind: KindBackend, Type: errType, Code: code, Message: message, Err: err}
}

// Directory wraps a directory creation failure
func Directory(path string, err error) *Error {
	return &Error{Kind: KindDirectory, Message: path, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// TypeOf returns the failure type of err, classifying untyped errors.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) && e.Type != "" {
		return e.Type
	}
	return Classify(err)
}

// IsFatal reports whether an error of this kind must abort the whole run
func IsFatal(kind Kind) bool {
	switch kind {
	case KindSourceUnavailable, KindEmptySource, KindConfig:
		return true
	default:
		return false
	}
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 408, 429:
		return true
	case 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}

// FromStatus maps an HTTP status code to a failure type
func FromStatus(statusCode int) ErrorType {
	switch {
	case statusCode == 401:
		return ErrorTypeAuth
	case statusCode == 403:
		return ErrorTypeForbidden
	case statusCode == 404:
		return ErrorTypeNotFound
	case statusCode == 408:
		return ErrorTypeTimeout
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnknown
	}
}

// Classify guesses the failure type of an untyped error
func Classify(err error) ErrorType {
	if err == nil {
		return ""
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return ErrorTypeTimeout
	case strings.Contains(msg, "too many requests"):
		return ErrorTypeRateLimit
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "eof"):
		return ErrorTypeNetwork
	case strings.Contains(msg, "forbidden"):
		return ErrorTypeForbidden
	case strings.Contains(msg, "not found"):
		return ErrorTypeNotFound
	}
	return ErrorTypeUnknown
}

// IsCanceled reports whether err comes from a cancelled context
func IsCanceled(err error) bool {
	return stderrors.Is(err, context.Canceled)
}
