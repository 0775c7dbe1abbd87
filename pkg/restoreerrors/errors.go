// Package restoreerrors provides the error taxonomy used across the restore
// driver. This is a leaf package with no internal dependencies, designed to
// be imported by every component without causing circular imports.
package restoreerrors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the category of failure that occurred during a
// restore session.
type ErrorCode int

const (
	// TransportError indicates a failure in the underlying device
	// connection (USB/TCP port open, read, or write failure).
	TransportError ErrorCode = iota + 1

	// ProtocolError indicates a malformed or unexpected message on the
	// restore protocol (bad plist, unknown message type, missing key).
	ProtocolError

	// RemoteFailure indicates the device itself reported a failure via
	// a StatusMsg with a non-zero status code.
	RemoteFailure

	// TicketFailure indicates the ticket client could not obtain or
	// validate a signing ticket for the requested build identity.
	TicketFailure

	// ArchiveFailure indicates a failure reading the firmware archive
	// (missing entry, corrupt zip central directory, I/O error).
	ArchiveFailure

	// PersonalizationFailure indicates image4 personalization of a
	// component failed (missing ticket data, signature mismatch).
	PersonalizationFailure

	// LocalIOFailure indicates a failure touching local disk state
	// (cache directory, temp files, config file).
	LocalIOFailure

	// ConfigurationError indicates the supplied restore options were
	// invalid or incomplete (bad ECID, missing archive path).
	ConfigurationError
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case TransportError:
		return "TransportError"
	case ProtocolError:
		return "ProtocolError"
	case RemoteFailure:
		return "RemoteFailure"
	case TicketFailure:
		return "TicketFailure"
	case ArchiveFailure:
		return "ArchiveFailure"
	case PersonalizationFailure:
		return "PersonalizationFailure"
	case LocalIOFailure:
		return "LocalIOFailure"
	case ConfigurationError:
		return "ConfigurationError"
	default:
		return fmt.Sprintf("Unknown(%d)", e)
	}
}

// Error is the typed error carried through the restore driver. Every
// returned error from a session-facing operation is (or wraps) an *Error so
// the driver's IGNORE_ERRORS / QUIT_ON_ERROR policy can classify it by code
// without string matching.
type Error struct {
	Code      ErrorCode
	Operation string // component/operation label, e.g. "cpio.stream", "ticket.request"
	Cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Operation, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Operation)
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error with no wrapped cause.
func New(code ErrorCode, operation string) *Error {
	return &Error{Code: code, Operation: operation}
}

// Wrap builds an *Error wrapping cause. Returns nil if cause is nil.
func Wrap(code ErrorCode, operation string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Operation: operation, Cause: cause}
}

// CodeOf returns the ErrorCode carried by err, and whether err (or something
// in its chain) is a *Error at all.
func CodeOf(err error) (ErrorCode, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Code, true
	}
	return 0, false
}

// Is reports whether err's chain contains an *Error with the given code.
func Is(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

func NewTransportError(operation string, cause error) *Error {
	return Wrap(TransportError, operation, cause)
}

func NewProtocolError(operation string, cause error) *Error {
	return Wrap(ProtocolError, operation, cause)
}

func NewRemoteFailure(operation string, statusCode int64) *Error {
	return &Error{Code: RemoteFailure, Operation: operation, Cause: fmt.Errorf("device reported status %d", statusCode)}
}

func NewTicketFailure(operation string, cause error) *Error {
	return Wrap(TicketFailure, operation, cause)
}

func NewArchiveFailure(operation string, cause error) *Error {
	return Wrap(ArchiveFailure, operation, cause)
}

func NewPersonalizationFailure(operation string, cause error) *Error {
	return Wrap(PersonalizationFailure, operation, cause)
}

func NewLocalIOFailure(operation string, cause error) *Error {
	return Wrap(LocalIOFailure, operation, cause)
}

func NewConfigurationError(operation, message string) *Error {
	return &Error{Code: ConfigurationError, Operation: operation, Cause: errors.New(message)}
}

// IsFatal reports whether the driver should abort the whole session on this
// error rather than continue to the next message, independent of the
// operator's IGNORE_ERRORS setting. TransportError always aborts: once the
// device connection is gone there is nothing left to drive.
func IsFatal(err error) bool {
	return Is(err, TransportError)
}
