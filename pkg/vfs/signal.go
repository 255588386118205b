package vfs

import (
	"errors"
	"fmt"

	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SignalKind enumerates the control flow signals that may be exchanged
// between the controllers of a chain. Code that handles signals should
// switch over all kinds, so that new kinds cannot go unnoticed.
type SignalKind int

const (
	// NeedsWriteLockSignal is returned by an operation that was
	// invoked while holding the shared lock, but turns out to
	// require the exclusive lock.
	NeedsWriteLockSignal SignalKind = iota
	// NeedsLockRetrySignal is returned when a nested lock
	// acquisition timed out. The outermost lock controller releases
	// all locks, backs off and retries the operation.
	NeedsLockRetrySignal
	// NeedsSyncSignal is returned by an operation that can only
	// proceed after pending changes are written to the backing
	// store.
	NeedsSyncSignal
	// FalsePositiveSignal is returned when the entry backing a file
	// system turns out not to be a valid archive.
	FalsePositiveSignal
)

func (k SignalKind) String() string {
	switch k {
	case NeedsWriteLockSignal:
		return "NeedsWriteLock"
	case NeedsLockRetrySignal:
		return "NeedsLockRetry"
	case NeedsSyncSignal:
		return "NeedsSync"
	case FalsePositiveSignal:
		return "FalsePositive"
	default:
		return "Unknown"
	}
}

// Signal is an error value that does not describe a failure, but
// requests a specific recovery action from one of the outer
// controllers of the chain. Signals must never be wrapped, as that
// would prevent them from being recognized.
type Signal struct {
	kind       SignalKind
	cause      error
	persistent bool
}

var (
	needsWriteLock = &Signal{kind: NeedsWriteLockSignal}
	needsLockRetry = &Signal{kind: NeedsLockRetrySignal}
	needsSync      = &Signal{kind: NeedsSyncSignal}
)

// NeedsWriteLock returns the signal requesting the exclusive lock.
func NeedsWriteLock() error {
	return needsWriteLock
}

// NeedsLockRetry returns the signal requesting that all locks are
// released and the operation is retried.
func NeedsLockRetry() error {
	return needsLockRetry
}

// NeedsSync returns the signal requesting a synchronization.
func NeedsSync() error {
	return needsSync
}

// FalsePositive returns a signal indicating that an entry is not a
// valid archive. Persistent false positives are remembered until the
// next synchronization. Transient ones, caused for example by I/O
// errors, are not.
func FalsePositive(cause error, persistent bool) error {
	return &Signal{
		kind:       FalsePositiveSignal,
		cause:      cause,
		persistent: persistent,
	}
}

// AsSignal returns the signal contained in an error, if any.
func AsSignal(err error) (*Signal, bool) {
	var s *Signal
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}

// IsSignal returns whether an error is a signal of a given kind.
func IsSignal(err error, kind SignalKind) bool {
	s, ok := AsSignal(err)
	return ok && s.kind == kind
}

// Kind of the signal.
func (s *Signal) Kind() SignalKind {
	return s.kind
}

// Cause returns the error that caused a false positive.
func (s *Signal) Cause() error {
	return s.cause
}

// Persistent returns whether a false positive should be remembered.
func (s *Signal) Persistent() bool {
	return s.persistent
}

func (s *Signal) Error() string {
	if s.cause != nil {
		return fmt.Sprintf("%s: %s", s.kind, s.cause)
	}
	return s.kind.String()
}

// Unwrap returns the cause of a false positive.
func (s *Signal) Unwrap() error {
	return s.cause
}

// GRPCStatus converts a signal to a status. Signals should never be
// observed outside of a controller chain, so doing this indicates a
// bug.
func (s *Signal) GRPCStatus() *status.Status {
	return status.Newf(codes.Internal, "Unhandled control flow signal: %s", s.Error())
}

// WrapError is identical to util.StatusWrapf(), except that signals
// are passed through unmodified.
func WrapError(err error, format string, args ...any) error {
	if _, ok := AsSignal(err); ok {
		return err
	}
	return util.StatusWrapf(err, format, args...)
}
