package pool

import (
	"github.com/buildbarn/bb-storage/pkg/filesystem"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type emptyFilePool struct{}

func (fp emptyFilePool) NewFile() (filesystem.FileReadWriter, error) {
	return nil, status.Error(codes.ResourceExhausted, "Cannot create file in empty file pool")
}

// EmptyFilePool is a FilePool that does not permit the creation of new
// files. It can be used to run file systems that may only be read
// through streams that don't need any buffering, and in tests.
var EmptyFilePool FilePool = emptyFilePool{}
