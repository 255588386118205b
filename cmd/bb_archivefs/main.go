package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	configuration "github.com/buildbarn/bb-archivefs/pkg/configuration/bb_archivefs"
	"github.com/buildbarn/bb-archivefs/pkg/driver"
	"github.com/buildbarn/bb-archivefs/pkg/federation"
	"github.com/buildbarn/bb-archivefs/pkg/filesystem/pool"
	"github.com/buildbarn/bb-archivefs/pkg/manager"
	"github.com/buildbarn/bb-archivefs/pkg/rootfs"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/program"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// bb_archivefs provides access to a directory on the local file
// system, in which archive files such as ZIP and TAR files are
// accessed as if they were directories. Archives may be nested, so
// that "a.zip/b.tar.gz/c.txt" refers to a file stored in a TAR archive,
// which itself is stored in a ZIP archive.
//
// Changes to archives are written back when the command completes.

const usage = `Usage: bb_archivefs [flags] command path...

Commands:
  ls path       List the members of a directory
  stat path     Print the properties of an entry
  cat path      Write the content of a file to stdout
  put path      Replace the content of a file with stdin
  mkdir path    Create a directory or an empty archive
  rm path       Remove a file or an empty directory
  touch path    Set the modification time of an entry
  sync          Write pending changes of all archives

Flags:
`

type command struct {
	arguments int
	run       func(ctx context.Context, fs *federation.FileSystem, args []string) error
}

func formatNode(node *vfs.Node) string {
	name := node.Name.String()
	if name == "" {
		name = "."
	}
	return fmt.Sprintf("%-9s %12d %s %s", node.Type, node.DataSize, node.ModificationTime.Format(time.RFC3339), name)
}

func main() {
	configurationPath := pflag.String("config", "", "Path of a Jsonnet configuration file")
	createParents := pflag.BoolP("parents", "p", false, "Create missing parent directories and archives")
	appendContent := pflag.BoolP("append", "a", false, "Append to existing files, as opposed to replacing them")
	modificationTime := pflag.String("time", "", "Modification time to set, in RFC 3339 format (default: now)")
	pflag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		pflag.PrintDefaults()
	}
	pflag.Parse()

	var accessOptions vfs.AccessOptions
	if *createParents {
		accessOptions |= vfs.CreateParents
	}

	commands := map[string]command{
		"ls": {
			arguments: 1,
			run: func(ctx context.Context, fs *federation.FileSystem, args []string) error {
				nodes, err := fs.ReadDir(ctx, args[0])
				if err != nil {
					return err
				}
				for _, node := range nodes {
					fmt.Println(formatNode(node))
				}
				return nil
			},
		},
		"stat": {
			arguments: 1,
			run: func(ctx context.Context, fs *federation.FileSystem, args []string) error {
				node, err := fs.Stat(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(formatNode(node))
				return nil
			},
		},
		"cat": {
			arguments: 1,
			run: func(ctx context.Context, fs *federation.FileSystem, args []string) error {
				r, err := fs.Open(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = io.Copy(os.Stdout, r)
				if closeErr := r.Close(); err == nil {
					err = closeErr
				}
				return err
			},
		},
		"put": {
			arguments: 1,
			run: func(ctx context.Context, fs *federation.FileSystem, args []string) error {
				options := accessOptions
				if *appendContent {
					options |= vfs.Append
				}
				w, err := fs.Create(ctx, args[0], options)
				if err != nil {
					return err
				}
				_, err = io.Copy(w, os.Stdin)
				if closeErr := w.Close(); err == nil {
					err = closeErr
				}
				return err
			},
		},
		"mkdir": {
			arguments: 1,
			run: func(ctx context.Context, fs *federation.FileSystem, args []string) error {
				return fs.Mkdir(ctx, args[0], accessOptions)
			},
		},
		"rm": {
			arguments: 1,
			run: func(ctx context.Context, fs *federation.FileSystem, args []string) error {
				return fs.Remove(ctx, args[0])
			},
		},
		"touch": {
			arguments: 1,
			run: func(ctx context.Context, fs *federation.FileSystem, args []string) error {
				t := time.Now()
				if *modificationTime != "" {
					var err error
					if t, err = time.Parse(time.RFC3339, *modificationTime); err != nil {
						return status.Errorf(codes.InvalidArgument, "Invalid modification time %#v: %s", *modificationTime, err)
					}
				}
				return fs.SetModificationTime(ctx, args[0], t)
			},
		},
		"sync": {
			arguments: 0,
			run: func(ctx context.Context, fs *federation.FileSystem, args []string) error {
				return fs.Sync(ctx, vfs.SyncUpdate)
			},
		},
	}

	program.RunMain(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
		args := pflag.Args()
		if len(args) == 0 {
			pflag.Usage()
			return status.Error(codes.InvalidArgument, "No command provided")
		}
		cmd, ok := commands[args[0]]
		if !ok {
			return status.Errorf(codes.InvalidArgument, "Unknown command %#v", args[0])
		}
		if len(args)-1 != cmd.arguments {
			return status.Errorf(codes.InvalidArgument, "Command %#v expects %d argument(s), while %d were provided", args[0], cmd.arguments, len(args)-1)
		}

		applicationConfiguration := configuration.NewDefaultApplicationConfiguration()
		if *configurationPath != "" {
			var err error
			applicationConfiguration, err = configuration.GetApplicationConfiguration(*configurationPath)
			if err != nil {
				return util.StatusWrapf(err, "Failed to read configuration from %s", *configurationPath)
			}
		}

		filePool, err := pool.NewFilePoolFromConfiguration(applicationConfiguration.FilePool)
		if err != nil {
			return util.StatusWrap(err, "Failed to create file pool")
		}
		drivers, err := driver.NewTableFromConfiguration(filePool, applicationConfiguration.Drivers)
		if err != nil {
			return util.StatusWrap(err, "Failed to create archive drivers")
		}
		chainConfiguration, err := applicationConfiguration.NewChainConfiguration(filePool, util.DefaultErrorLogger)
		if err != nil {
			return util.StatusWrap(err, "Invalid configuration")
		}
		root, err := rootfs.NewLocalController(applicationConfiguration.RootDirectoryPath)
		if err != nil {
			return util.StatusWrapf(err, "Failed to open root directory %#v", applicationConfiguration.RootDirectoryPath)
		}
		fs, err := federation.NewFileSystem(
			manager.NewManager(chainConfiguration, applicationConfiguration.SyncConcurrency, otel.GetTracerProvider()),
			root,
			drivers)
		if err != nil {
			return err
		}

		err = cmd.run(ctx, fs, args[1:])
		if closeErr := fs.Close(ctx); closeErr != nil {
			// Archives that were synchronized with warnings
			// have been written successfully.
			var syncErr *vfs.SyncError
			if errors.As(closeErr, &syncErr) && syncErr.IsWarning() {
				util.DefaultErrorLogger.Log(closeErr)
			} else if err == nil {
				return closeErr
			} else {
				return util.StatusFromMultiple([]error{err, closeErr})
			}
		}
		return err
	})
}
