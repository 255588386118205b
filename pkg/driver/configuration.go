package driver

import (
	"sort"
	"strings"

	"github.com/buildbarn/bb-archivefs/pkg/filesystem/pool"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Configuration of an archive driver, as stored in configuration files.
type Configuration struct {
	// Suffixes of file names that are treated as archives of this
	// format, such as ".zip" or ".tar.gz".
	Suffixes []string `json:"suffixes"`
	// Format of the archive: "zip", "tar", "tar.gz", "tar.lz4" or
	// "tar.zst".
	Format string `json:"format"`
	// Character set of entry names. Only used by the ZIP format.
	Charset string `json:"charset,omitempty"`
}

// DefaultConfigurations is used if no drivers are configured
// explicitly.
var DefaultConfigurations = []*Configuration{
	{Suffixes: []string{".zip", ".jar"}, Format: "zip"},
	{Suffixes: []string{".tar"}, Format: "tar"},
	{Suffixes: []string{".tar.gz", ".tgz"}, Format: "tar.gz"},
	{Suffixes: []string{".tar.lz4"}, Format: "tar.lz4"},
	{Suffixes: []string{".tar.zst", ".tzst"}, Format: "tar.zst"},
}

// NewDriverFromConfiguration creates an ArchiveDriver based on
// parameters provided in a configuration file.
func NewDriverFromConfiguration(filePool pool.FilePool, configuration *Configuration) (vfs.ArchiveDriver, error) {
	switch configuration.Format {
	case "zip":
		return NewZIPDriver(filePool, configuration.Charset)
	case "tar":
		return NewTARDriver(filePool, NoCompression), nil
	case "tar.gz":
		return NewTARDriver(filePool, GzipCompression), nil
	case "tar.lz4":
		return NewTARDriver(filePool, LZ4Compression), nil
	case "tar.zst":
		return NewTARDriver(filePool, ZstdCompression), nil
	default:
		return nil, status.Errorf(codes.InvalidArgument, "Unknown archive format %#v", configuration.Format)
	}
}

type suffixDriver struct {
	suffix string
	format string
	driver vfs.ArchiveDriver
}

// Table resolves archive drivers by the suffix of a file name.
type Table struct {
	drivers []suffixDriver
}

// NewTableFromConfiguration creates a Table containing a driver for
// every configured format. When multiple suffixes match a file name,
// the longest one wins, so that ".tar.gz" takes precedence over ".gz".
func NewTableFromConfiguration(filePool pool.FilePool, configurations []*Configuration) (*Table, error) {
	if len(configurations) == 0 {
		configurations = DefaultConfigurations
	}
	t := &Table{}
	seen := map[string]struct{}{}
	for i, configuration := range configurations {
		d, err := NewDriverFromConfiguration(filePool, configuration)
		if err != nil {
			return nil, util.StatusWrapf(err, "Driver at index %d", i)
		}
		if len(configuration.Suffixes) == 0 {
			return nil, status.Errorf(codes.InvalidArgument, "Driver at index %d has no suffixes", i)
		}
		for _, suffix := range configuration.Suffixes {
			suffix = strings.ToLower(suffix)
			if _, ok := seen[suffix]; ok {
				return nil, status.Errorf(codes.InvalidArgument, "Suffix %#v is used by multiple drivers", suffix)
			}
			seen[suffix] = struct{}{}
			t.drivers = append(t.drivers, suffixDriver{suffix: suffix, format: configuration.Format, driver: d})
		}
	}
	sort.SliceStable(t.drivers, func(i, j int) bool {
		return len(t.drivers[i].suffix) > len(t.drivers[j].suffix)
	})
	return t, nil
}

// Lookup returns the driver for a file name, together with the name of
// its format. The format is used as the scheme of mount points. A nil
// driver is returned if the file name does not carry a known archive
// suffix. A name consisting of only the suffix is not considered an
// archive.
func (t *Table) Lookup(name string) (vfs.ArchiveDriver, string) {
	lower := strings.ToLower(name)
	for _, sd := range t.drivers {
		if len(lower) > len(sd.suffix) && strings.HasSuffix(lower, sd.suffix) {
			return sd.driver, sd.format
		}
	}
	return nil, ""
}
