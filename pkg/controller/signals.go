package controller

import (
	"errors"

	"github.com/buildbarn/bb-archivefs/pkg/vfs"
)

// isSyncWarning returns whether an error returned by Sync() indicates
// that synchronization completed, albeit with problems.
func isSyncWarning(err error) bool {
	var syncErr *vfs.SyncError
	return errors.As(err, &syncErr) && syncErr.IsWarning()
}
