package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a provider failure for display and retry hints.
type ErrorKind string

const (
	KindAuth      ErrorKind = "auth"
	KindRateLimit ErrorKind = "rate_limit"
	KindNotFound  ErrorKind = "not_found"
	KindUnknown   ErrorKind = "unknown"
)

// Error is a failed provider call, surfaced onto the affected node as
// status=error plus the message. It never aborts sibling tasks.
type Error struct {
	Provider string
	Kind     ErrorKind
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Kind)
}

// NewError builds a classified provider error.
func NewError(providerName string, kind ErrorKind, message string) *Error {
	return &Error{Provider: providerName, Kind: kind, Message: message}
}

// ErrorFromStatus maps an HTTP status onto the error taxonomy.
func ErrorFromStatus(providerName string, status int, body string) *Error {
	kind := KindUnknown
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusTooManyRequests:
		kind = KindRateLimit
	case status == http.StatusNotFound:
		kind = KindNotFound
	}
	msg := fmt.Sprintf("http %d", status)
	if body != "" {
		msg = fmt.Sprintf("http %d: %s", status, body)
	}
	return &Error{Provider: providerName, Kind: kind, Message: msg}
}

// TimeoutError reports that a long-running job exceeded its poll
// attempt cap before reaching a terminal state.
type TimeoutError struct {
	Provider string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: polling gave up after %d attempts", e.Provider, e.Attempts)
}

// IsTimeout reports whether err is a poll-cap timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// KindOf extracts the error kind, KindUnknown for untyped errors.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}
