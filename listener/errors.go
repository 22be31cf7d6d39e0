package listener

import (
	"errors"

	"golang.org/x/xerrors"
)

// ErrorKind classifies why a report was rejected.
type ErrorKind string

const (
	KindMissingUserAgent     ErrorKind = "missing_user_agent"
	KindMalformedBody        ErrorKind = "malformed_body"
	KindMissingRequiredField ErrorKind = "missing_required_field"
	KindOriginNotAllowed     ErrorKind = "origin_not_allowed"
	// KindMultipleReportsIgnored is advisory only; it never blocks a report.
	KindMultipleReportsIgnored ErrorKind = "multiple_reports_ignored"
)

// ErrMissingUserAgent is returned when the request carries no User-Agent
// header. Browsers always send one.
var ErrMissingUserAgent = xerrors.New("No user-agent given")

// MalformedBodyError means the body is not a report the listener
// understands. Diagnostic is safe to log: it is the base64 encoded body or
// a short description, never raw bytes.
type MalformedBodyError struct {
	Diagnostic string
	// Err is the underlying decode error, if any. It is not part of the
	// message.
	Err error
}

func (e *MalformedBodyError) Error() string {
	return "Doesn't look like a valid report: " + e.Diagnostic
}

func (e *MalformedBodyError) Unwrap() error {
	return e.Err
}

// MissingFieldError means a recognized report lacks a required field.
type MissingFieldError struct {
	Field     string
	Container string
}

func (e *MissingFieldError) Error() string {
	return "No " + e.Field + " in " + e.Container
}

// OriginNotAllowedError means the report's document is not allow-listed.
type OriginNotAllowedError struct {
	DocumentURL string
}

func (e *OriginNotAllowedError) Error() string {
	return "documentURL not allowed: " + e.DocumentURL
}

// Kind returns the ErrorKind of an error produced while handling a report.
func Kind(err error) ErrorKind {
	var (
		malformed *MalformedBodyError
		missing   *MissingFieldError
		origin    *OriginNotAllowedError
	)
	switch {
	case errors.Is(err, ErrMissingUserAgent):
		return KindMissingUserAgent
	case errors.As(err, &malformed):
		return KindMalformedBody
	case errors.As(err, &missing):
		return KindMissingRequiredField
	case errors.As(err, &origin):
		return KindOriginNotAllowed
	default:
		return KindMalformedBody
	}
}
