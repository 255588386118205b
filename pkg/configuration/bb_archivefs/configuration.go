package configuration

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/buildbarn/bb-archivefs/pkg/cache"
	"github.com/buildbarn/bb-archivefs/pkg/controller"
	"github.com/buildbarn/bb-archivefs/pkg/driver"
	"github.com/buildbarn/bb-archivefs/pkg/filesystem/pool"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/random"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/google/go-jsonnet"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ApplicationConfiguration of bb_archivefs.
type ApplicationConfiguration struct {
	// Directory on the local file system that is exposed. Archives
	// stored in it are accessed as directories.
	RootDirectoryPath string `json:"rootDirectoryPath"`

	// File pool used to buffer the content of archives and their
	// entries. Defaults to an in-memory pool.
	FilePool *pool.Configuration `json:"filePool,omitempty"`

	// Caching strategy of entries opened with the CACHE access
	// option: "READ_ONLY", "WRITE_THROUGH" or "WRITE_BACK".
	CacheStrategy string `json:"cacheStrategy,omitempty"`

	// Durations, using the syntax of time.ParseDuration().
	LockTimeout                string `json:"lockTimeout,omitempty"`
	MaximumBackoff             string `json:"maximumBackoff,omitempty"`
	ForeignResourceWaitTimeout string `json:"foreignResourceWaitTimeout,omitempty"`

	// Maximum number of archives at the same nesting depth that are
	// synchronized concurrently.
	SyncConcurrency int `json:"syncConcurrency,omitempty"`

	// Archive formats and the file name suffixes by which they are
	// recognized. Defaults to driver.DefaultConfigurations.
	Drivers []*driver.Configuration `json:"drivers,omitempty"`
}

// GetApplicationConfiguration reads the configuration from a Jsonnet
// file and fills in default values. Environment variables are
// accessible through std.extVar().
func GetApplicationConfiguration(path string) (*ApplicationConfiguration, error) {
	vm := jsonnet.MakeVM()
	for _, env := range os.Environ() {
		if key, value, ok := strings.Cut(env, "="); ok {
			vm.ExtVar(key, value)
		}
	}
	serialized, err := vm.EvaluateFile(path)
	if err != nil {
		return nil, util.StatusWrapWithCode(err, codes.InvalidArgument, "Failed to evaluate configuration")
	}
	configuration, err := unmarshalApplicationConfiguration([]byte(serialized))
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to retrieve configuration")
	}
	return configuration, nil
}

func unmarshalApplicationConfiguration(serialized []byte) (*ApplicationConfiguration, error) {
	var configuration ApplicationConfiguration
	decoder := json.NewDecoder(bytes.NewReader(serialized))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&configuration); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "Failed to unmarshal configuration: %s", err)
	}
	setDefaultApplicationValues(&configuration)
	return &configuration, nil
}

// NewDefaultApplicationConfiguration returns the configuration that is
// used if no configuration file is provided.
func NewDefaultApplicationConfiguration() *ApplicationConfiguration {
	var configuration ApplicationConfiguration
	setDefaultApplicationValues(&configuration)
	return &configuration
}

func setDefaultApplicationValues(configuration *ApplicationConfiguration) {
	if configuration.RootDirectoryPath == "" {
		configuration.RootDirectoryPath = "."
	}
	if configuration.CacheStrategy == "" {
		configuration.CacheStrategy = cache.WriteBack.String()
	}
	if configuration.LockTimeout == "" {
		configuration.LockTimeout = "100ms"
	}
	if configuration.MaximumBackoff == "" {
		configuration.MaximumBackoff = "100ms"
	}
	if configuration.ForeignResourceWaitTimeout == "" {
		configuration.ForeignResourceWaitTimeout = "10s"
	}
	if configuration.SyncConcurrency <= 0 {
		configuration.SyncConcurrency = 1
	}
}

func parseDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "Invalid %s %#v: %s", name, value, err)
	}
	if d < 0 {
		return 0, status.Errorf(codes.InvalidArgument, "Invalid %s %#v: Duration cannot be negative", name, value)
	}
	return d, nil
}

func parseCacheStrategy(value string) (cache.Strategy, error) {
	for _, s := range []cache.Strategy{cache.ReadOnly, cache.WriteThrough, cache.WriteBack} {
		if s.String() == value {
			return s, nil
		}
	}
	return 0, status.Errorf(codes.InvalidArgument, "Unknown cache strategy %#v", value)
}

// NewChainConfiguration creates the parameters of the controller
// chains of all archive file systems.
func (c *ApplicationConfiguration) NewChainConfiguration(filePool pool.FilePool, errorLogger util.ErrorLogger) (*controller.ChainConfiguration, error) {
	cacheStrategy, err := parseCacheStrategy(c.CacheStrategy)
	if err != nil {
		return nil, err
	}
	lockTimeout, err := parseDuration("lock timeout", c.LockTimeout)
	if err != nil {
		return nil, err
	}
	maximumBackoff, err := parseDuration("maximum backoff", c.MaximumBackoff)
	if err != nil {
		return nil, err
	}
	foreignResourceWaitTimeout, err := parseDuration("foreign resource wait timeout", c.ForeignResourceWaitTimeout)
	if err != nil {
		return nil, err
	}
	return &controller.ChainConfiguration{
		Clock:                      clock.SystemClock,
		RandomGenerator:            random.FastThreadSafeGenerator,
		ErrorLogger:                errorLogger,
		FilePool:                   filePool,
		CacheStrategy:              cacheStrategy,
		LockTimeout:                lockTimeout,
		MaximumBackoff:             maximumBackoff,
		ForeignResourceWaitTimeout: foreignResourceWaitTimeout,
	}, nil
}
