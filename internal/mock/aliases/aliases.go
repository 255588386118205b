package aliases

import (
	"io"
)

// This file contains aliases for some of the interfaces provided by the
// standard library. These aliases are used to give them names that
// don't collide with other interface types for which we want to
// generate mocks.

// ReadCloser is an alias of io.ReadCloser.
type ReadCloser = io.ReadCloser

// WriteCloser is an alias of io.WriteCloser.
type WriteCloser = io.WriteCloser
