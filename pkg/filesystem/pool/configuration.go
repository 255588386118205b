package pool

import (
	"github.com/buildbarn/bb-storage/pkg/filesystem"
	"github.com/buildbarn/bb-storage/pkg/filesystem/path"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// InMemoryConfiguration selects the in-memory file pool. It has no
// parameters.
type InMemoryConfiguration struct{}

// Configuration of a FilePool, as stored in configuration files.
// Exactly one backend must be selected.
type Configuration struct {
	InMemory *InMemoryConfiguration `json:"inMemory,omitempty"`

	// Existing directory whose contents are owned by the pool. Any
	// files in it are removed when the pool is first used.
	DirectoryPath string `json:"directoryPath,omitempty"`

	// Quotas. Zero means unlimited.
	MaximumFileCount int64 `json:"maximumFileCount,omitempty"`
	MaximumSizeBytes int64 `json:"maximumSizeBytes,omitempty"`
}

// NewFilePoolFromConfiguration constructs a FilePool based on
// parameters provided in a configuration file.
func NewFilePoolFromConfiguration(configuration *Configuration) (FilePool, error) {
	if configuration == nil {
		// No configuration provided. Buffering archive content
		// in memory is the sensible default for small archives.
		return NewMetricsFilePool(InMemoryFilePool), nil
	}

	var filePool FilePool
	switch {
	case configuration.InMemory != nil && configuration.DirectoryPath == "":
		filePool = InMemoryFilePool
	case configuration.InMemory == nil && configuration.DirectoryPath != "":
		directory, err := filesystem.NewLocalDirectory(path.LocalFormat.NewParser(configuration.DirectoryPath))
		if err != nil {
			return nil, util.StatusWrapf(err, "Failed to open directory %#v", configuration.DirectoryPath)
		}
		filePool = NewDirectoryBackedFilePool(directory)
	default:
		return nil, status.Error(codes.InvalidArgument, "Configuration did not contain exactly one supported file pool backend")
	}

	if configuration.MaximumFileCount > 0 || configuration.MaximumSizeBytes > 0 {
		maximumFileCount, maximumSizeBytes := configuration.MaximumFileCount, configuration.MaximumSizeBytes
		if maximumFileCount <= 0 {
			maximumFileCount = 1 << 62
		}
		if maximumSizeBytes <= 0 {
			maximumSizeBytes = 1 << 62
		}
		filePool = NewQuotaEnforcingFilePool(filePool, maximumFileCount, maximumSizeBytes)
	}
	return NewMetricsFilePool(filePool), nil
}
