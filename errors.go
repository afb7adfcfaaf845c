// Package nodetxn implements the node transaction layer of a transactional,
// versioned storage engine for semistructured data: a read-only cursor with
// a zero-allocation singleton-rebind hot path, structural hash maintenance,
// index-change notification, and the write-transaction/session lifecycle
// that ties them together.
package nodetxn

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// Error taxonomy (§7). Sentinels are matched with errors.Is; IllegalState is
// wrapped with a captured stack trace since it denotes a bug-class internal
// invariant violation rather than an expected runtime condition.
var (
	// ErrIO indicates an underlying storage failure. Fatal for the affected txn.
	ErrIO = stderrors.New("nodetxn: io error")

	// ErrUsage indicates a precondition violation: closed txn, unsupported
	// custom timestamp, negative max-node-count, commit conflict, write-lock
	// timeout.
	ErrUsage = stderrors.New("nodetxn: usage error")

	// ErrIllegalState indicates an internal invariant violation: unexpected
	// singleton kind, duplicate transaction ID. Bug-class.
	ErrIllegalState = stderrors.New("nodetxn: illegal state")

	// ErrPath indicates a path expression parse failure in filter construction.
	ErrPath = stderrors.New("nodetxn: path expression error")

	// ErrInterrupted indicates a thread interruption while waiting on a
	// semaphore. Propagates to the caller as a usage error.
	ErrInterrupted = stderrors.New("nodetxn: interrupted")

	// ErrClosed is returned by WriteTxn.Rollback on a transaction that has
	// already been closed. Other calls on a closed transaction return a
	// usage error instead.
	ErrClosed = stderrors.New("nodetxn: already closed")
)

// WrapIO wraps a lower-level I/O failure so callers can errors.Is(err, ErrIO).
func WrapIO(cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return errors.Wrap(&sentinelError{sentinel: ErrIO, cause: cause}, msg)
}

// WrapUsage builds a UsageError with the given message.
func WrapUsage(msg string) error {
	return errors.Wrap(ErrUsage, msg)
}

// WrapUsagef builds a UsageError with a formatted message.
func WrapUsagef(format string, args ...interface{}) error {
	return errors.Wrapf(ErrUsage, format, args...)
}

// WrapIllegalState builds an IllegalState error with a captured stack trace.
func WrapIllegalState(msg string) error {
	return errors.WithStack(errors.Wrap(ErrIllegalState, msg))
}

// WrapPath wraps a parser failure as a PathException.
func WrapPath(cause error) error {
	if cause == nil {
		return nil
	}
	return errors.Wrap(&sentinelError{sentinel: ErrPath, cause: cause}, "path expression")
}

// sentinelError lets errors.Is match both the taxonomy sentinel and the
// underlying cause, without flattening the message into the sentinel text.
type sentinelError struct {
	sentinel error
	cause    error
}

func (e *sentinelError) Error() string { return e.cause.Error() }
func (e *sentinelError) Unwrap() []error {
	return []error{e.sentinel, e.cause}
}
