// Package qerr defines the error taxonomy shared by the compiler and the
// execution engine. Every error that crosses a package boundary is classified
// with a Kind so that callers can map it to an exit code or a GraphQL error
// entry without string matching.
package qerr

import (
	"errors"
	"fmt"
	"regexp"
)

// Kind classifies an error for transport mapping.
type Kind string

const (
	KindParse            Kind = "PARSE_ERROR"
	KindValidation       Kind = "VALIDATION_ERROR"
	KindCompilation      Kind = "COMPILATION_ERROR"
	KindAuthentication   Kind = "AUTHENTICATION_ERROR"
	KindAuthorization    Kind = "AUTHORIZATION_ERROR"
	KindNotFound         Kind = "NOT_FOUND"
	KindDatabase         Kind = "DATABASE_ERROR"
	KindTimeout          Kind = "TIMEOUT"
	KindRateLimit        Kind = "RATE_LIMITED"
	KindObserverDelivery Kind = "OBSERVER_DELIVERY"
	KindInternal         Kind = "INTERNAL"
)

// Error is a classified error. Wrapped causes are preserved for errors.Is/As
// but never serialized to clients.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind, keeping it on the unwrap chain.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the Kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// connection details that must never leave the engine boundary
var scrubPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password|passwd|pwd)=\S+`),
	regexp.MustCompile(`(?i)(host|server)=\S+`),
	regexp.MustCompile(`(?i)(user|uid)=\S+`),
	regexp.MustCompile(`[a-z0-9+.-]+://\S+`),
	regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d+)?\b`),
}

// Database classifies a driver error with the message scrubbed of DSN
// fragments, hosts, and addresses.
func Database(cause error) *Error {
	msg := cause.Error()
	for _, re := range scrubPatterns {
		msg = re.ReplaceAllString(msg, "[redacted]")
	}
	return &Error{Kind: KindDatabase, Message: "database error: " + msg, Cause: cause}
}
