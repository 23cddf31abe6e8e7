package flick

import (
	"errors"
	"fmt"
)

// ConnectFailure classifies why a Connect call failed after both transport
// modes were exhausted.
type ConnectFailure int

const (
	// FailureAllAuthExhausted means every method in the auth chain was
	// rejected by the server in both modes.
	FailureAllAuthExhausted ConnectFailure = iota
	// FailureTransportUnavailable means neither the protocol library nor
	// the native tools could establish a transport at all.
	FailureTransportUnavailable
	// FailureNetworkUnreachable means the host could not be reached.
	FailureNetworkUnreachable
	// FailureTimeout means the connection attempt timed out.
	FailureTimeout
)

func (f ConnectFailure) String() string {
	switch f {
	case FailureAllAuthExhausted:
		return "all authentication methods failed"
	case FailureTransportUnavailable:
		return "no usable transport"
	case FailureNetworkUnreachable:
		return "network unreachable"
	case FailureTimeout:
		return "connection timed out"
	default:
		return "connect failed"
	}
}

// ConnectError aggregates the last error from each transport mode.
// Individual authentication-step failures are never surfaced; callers see
// only this final aggregate.
type ConnectError struct {
	Failure    ConnectFailure
	LibraryErr error
	NativeErr  error
}

func (e *ConnectError) Error() string {
	switch {
	case e.LibraryErr != nil && e.NativeErr != nil:
		return fmt.Sprintf("%s (library: %v; native fallback: %v)", e.Failure, e.LibraryErr, e.NativeErr)
	case e.LibraryErr != nil:
		return fmt.Sprintf("%s: %v", e.Failure, e.LibraryErr)
	case e.NativeErr != nil:
		return fmt.Sprintf("%s (native fallback: %v)", e.Failure, e.NativeErr)
	default:
		return e.Failure.String()
	}
}

func (e *ConnectError) Unwrap() []error {
	var errs []error
	if e.LibraryErr != nil {
		errs = append(errs, e.LibraryErr)
	}
	if e.NativeErr != nil {
		errs = append(errs, e.NativeErr)
	}
	return errs
}

// Listing errors.
var (
	// ErrPathNotFound indicates the remote path does not exist.
	ErrPathNotFound = errors.New("remote path not found")
	// ErrPermissionDenied indicates the remote side refused access.
	ErrPermissionDenied = errors.New("permission denied")
)

// ListWarning reports lines the native listing parser could not understand.
// A listing that returns entries together with a ListWarning is a partial
// success, not an error.
type ListWarning struct {
	// SkippedLines is the number of unparsable lines dropped from the output.
	SkippedLines int
}

func (w *ListWarning) String() string {
	return fmt.Sprintf("skipped %d unparsable listing lines", w.SkippedLines)
}

// Transfer errors. Backends wrap the underlying cause with one of these
// sentinels so callers can classify failures with errors.Is.
var (
	// ErrSourceNotFound indicates the transfer source does not exist.
	ErrSourceNotFound = errors.New("source not found")
	// ErrDestinationConflict indicates the destination path exists with an
	// incompatible type (e.g. transferring a file onto a directory).
	ErrDestinationConflict = errors.New("destination conflict")
	// ErrDiskFull indicates the destination filesystem is out of space.
	ErrDiskFull = errors.New("no space left on destination")
	// ErrConnectionLost indicates the session dropped mid-transfer.
	ErrConnectionLost = errors.New("connection lost")
	// ErrCancelled indicates the transfer was cancelled by the caller.
	ErrCancelled = errors.New("transfer cancelled")
	// ErrRemoteQuotaExceeded indicates the remote side rejected writes due
	// to a quota.
	ErrRemoteQuotaExceeded = errors.New("remote quota exceeded")
)
