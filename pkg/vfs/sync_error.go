package vfs

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SyncError is returned by Controller.Sync(). Warnings indicate that
// the synchronization completed, but that a problem was survived, such
// as a stream that had to be closed forcefully. Failures indicate that
// the synchronization did not complete.
type SyncError struct {
	mountPoint *MountPoint
	warning    bool
	cause      error
	suppressed []error
}

// NewSyncWarning creates a SyncError of the warning kind.
func NewSyncWarning(mountPoint *MountPoint, cause error) *SyncError {
	return &SyncError{mountPoint: mountPoint, warning: true, cause: cause}
}

// NewSyncFailure creates a SyncError of the failure kind.
func NewSyncFailure(mountPoint *MountPoint, cause error) *SyncError {
	return &SyncError{mountPoint: mountPoint, cause: cause}
}

// AsSyncError converts an error returned by a synchronization to a
// SyncError. Errors of other types are considered failures.
func AsSyncError(mountPoint *MountPoint, err error) *SyncError {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr
	}
	return NewSyncFailure(mountPoint, err)
}

// MountPoint of the file system that failed to synchronize.
func (e *SyncError) MountPoint() *MountPoint {
	return e.mountPoint
}

// IsWarning returns whether the synchronization completed.
func (e *SyncError) IsWarning() bool {
	return e.warning
}

// Cause returns the most significant error.
func (e *SyncError) Cause() error {
	return e.cause
}

// Suppressed returns errors that occurred besides the cause.
func (e *SyncError) Suppressed() []error {
	return e.suppressed
}

func (e *SyncError) Error() string {
	var message string
	if e.warning {
		message = fmt.Sprintf("Synchronized %s with warnings: %s", e.mountPoint, status.Convert(e.cause).Message())
	} else {
		message = fmt.Sprintf("Failed to synchronize %s: %s", e.mountPoint, status.Convert(e.cause).Message())
	}
	if len(e.suppressed) > 0 {
		message += fmt.Sprintf(" (and %d more error(s))", len(e.suppressed))
	}
	return message
}

// Unwrap returns the cause, followed by the suppressed errors.
func (e *SyncError) Unwrap() []error {
	return append([]error{e.cause}, e.suppressed...)
}

// GRPCStatus converts the error to a status, retaining the code of the
// cause.
func (e *SyncError) GRPCStatus() *status.Status {
	code := status.Code(e.cause)
	if code == codes.OK {
		code = codes.Unknown
	}
	return status.New(code, e.Error())
}

// SyncErrorHandler decides how errors are processed that occur while
// synchronizing one or more file systems.
type SyncErrorHandler interface {
	// Warn records an error, after which processing continues.
	Warn(err *SyncError)
	// Fail records an error, returning the error with which
	// processing must be aborted.
	Fail(err *SyncError) error
	// Check returns an error if any errors were recorded.
	Check() error
}

// SyncErrorBuilder is a SyncErrorHandler that assembles all recorded
// errors into a single SyncError. The most significant one, being the
// first failure or the first warning if no failures were recorded,
// becomes the cause. All others are attached as suppressed errors.
type SyncErrorBuilder struct {
	errs []*SyncError
}

var _ SyncErrorHandler = (*SyncErrorBuilder)(nil)

// NewSyncErrorBuilder creates a SyncErrorBuilder without any errors.
func NewSyncErrorBuilder() *SyncErrorBuilder {
	return &SyncErrorBuilder{}
}

// Warn records an error.
func (b *SyncErrorBuilder) Warn(err *SyncError) {
	if err != nil {
		b.errs = append(b.errs, err)
	}
}

// Fail records an error, returning all errors recorded so far.
func (b *SyncErrorBuilder) Fail(err *SyncError) error {
	b.Warn(err)
	return b.Check()
}

// Check returns all errors recorded so far, if any.
func (b *SyncErrorBuilder) Check() error {
	if len(b.errs) == 0 {
		return nil
	}
	primary := 0
	for i, err := range b.errs {
		if !err.warning {
			primary = i
			break
		}
	}
	assembled := *b.errs[primary]
	assembled.suppressed = append([]error(nil), assembled.suppressed...)
	for i, err := range b.errs {
		if i != primary {
			assembled.suppressed = append(assembled.suppressed, err)
		}
	}
	return &assembled
}
