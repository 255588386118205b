package driver

import (
	"archive/tar"
	"context"
	"io"
	"time"

	"github.com/buildbarn/bb-archivefs/pkg/filesystem/pool"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/filesystem"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// tarEntry is an entry of a TAR archive. Archives are written in the
// PAX format, which is capable of storing modification and access
// times with sub-second precision.
type tarEntry struct {
	header   tar.Header
	dataSize int64
}

func (e *tarEntry) Name() string {
	return e.header.Name
}

func (e *tarEntry) Type() vfs.EntryType {
	switch e.header.Typeflag {
	case tar.TypeReg:
		return vfs.FileEntry
	case tar.TypeDir:
		return vfs.DirectoryEntry
	case tar.TypeSymlink:
		return vfs.SymlinkEntry
	default:
		return vfs.SpecialEntry
	}
}

func (e *tarEntry) Size(t vfs.SizeType) int64 {
	switch t {
	case vfs.DataSize:
		return e.dataSize
	case vfs.StorageSize:
		// Blocks are padded to 512 bytes.
		if e.dataSize < 0 {
			return vfs.UnknownSize
		}
		return (e.dataSize + 511) &^ 511
	default:
		return vfs.UnknownSize
	}
}

func (e *tarEntry) SetSize(t vfs.SizeType, size int64) bool {
	switch t {
	case vfs.DataSize:
		e.dataSize = size
		return true
	case vfs.StorageSize:
		// Derived from the data size.
		return true
	default:
		return false
	}
}

func (e *tarEntry) Time(t vfs.AccessType) time.Time {
	switch t {
	case vfs.WriteAccess:
		return e.header.ModTime
	case vfs.ReadAccess:
		return e.header.AccessTime
	default:
		return time.Time{}
	}
}

func (e *tarEntry) SetTime(t vfs.AccessType, value time.Time) bool {
	switch t {
	case vfs.WriteAccess:
		e.header.ModTime = value
	case vfs.ReadAccess:
		e.header.AccessTime = value
	default:
		return false
	}
	return true
}

type tarDriver struct {
	filePool    pool.FilePool
	compression Compression
}

// NewTARDriver creates an ArchiveDriver for TAR archives, optionally
// compressed. As TAR archives may contain multiple versions of the
// same entry, this driver supports redundant content and metadata.
func NewTARDriver(filePool pool.FilePool, compression Compression) vfs.ArchiveDriver {
	return &tarDriver{
		filePool:    filePool,
		compression: compression,
	}
}

func (d *tarDriver) NewEntry(name vfs.EntryName, entryType vfs.EntryType, template vfs.Entry) (vfs.ArchiveEntry, error) {
	e := &tarEntry{
		header: tar.Header{
			Name:   name.String(),
			Format: tar.FormatPAX,
		},
		dataSize: vfs.UnknownSize,
	}
	switch entryType {
	case vfs.FileEntry:
		e.header.Typeflag = tar.TypeReg
		e.header.Mode = 0o644
	case vfs.DirectoryEntry:
		e.header.Typeflag = tar.TypeDir
		e.header.Mode = 0o755
		if !name.IsRoot() {
			e.header.Name += "/"
		}
	default:
		return nil, vfs.NewUnsupportedEntryTypeError(name, entryType)
	}
	if template != nil {
		e.SetTime(vfs.WriteAccess, template.Time(vfs.WriteAccess))
		e.SetTime(vfs.ReadAccess, template.Time(vfs.ReadAccess))
	}
	return e, nil
}

// countingReader keeps track of the offset of the data of TAR entries.
type countingReader struct {
	r      io.Reader
	offset int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.offset += int64(n)
	return n, err
}

func (d *tarDriver) NewInput(ctx context.Context, model *vfs.Model, options vfs.AccessOptions, source vfs.InputSocket) (vfs.InputSession, error) {
	file, size, err := materialize(ctx, d.filePool, source, func(r io.Reader) (io.ReadCloser, error) {
		dr, err := d.compression.NewReader(r)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "Not a valid compressed TAR archive: %s", err)
		}
		return dr, nil
	})
	if err != nil {
		return nil, err
	}

	s := &tarInputSession{
		file:   file,
		byName: map[string]*tarInputEntry{},
	}
	cr := &countingReader{r: pool.NewFileReader(file, size)}
	tr := tar.NewReader(cr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			file.Close()
			return nil, status.Errorf(codes.InvalidArgument, "Not a valid TAR archive: %s", err)
		}
		e := &tarInputEntry{
			tarEntry: tarEntry{
				header:   *header,
				dataSize: header.Size,
			},
			offset: cr.offset,
		}
		e.header.Format = tar.FormatPAX
		s.entries = append(s.entries, e)
		s.byName[e.Name()] = e
	}
	return s, nil
}

func (d *tarDriver) NewOutput(model *vfs.Model, options vfs.AccessOptions, sink vfs.OutputSocket, input vfs.InputSession) (vfs.OutputSession, error) {
	return newBufferedOutputSession(d.filePool, sink, tarArchiveWriter{compression: d.compression}), nil
}

func (d *tarDriver) RedundantMetadataSupported() bool {
	return true
}

func (d *tarDriver) RedundantContentSupported() bool {
	return true
}

type tarInputEntry struct {
	tarEntry
	offset int64
}

type tarInputSession struct {
	file    filesystem.FileReadWriter
	entries []*tarInputEntry
	byName  map[string]*tarInputEntry
}

func (s *tarInputSession) Entries() []vfs.ArchiveEntry {
	entries := make([]vfs.ArchiveEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	return entries
}

func (s *tarInputSession) Entry(name string) vfs.ArchiveEntry {
	if e, ok := s.byName[name]; ok {
		return e
	}
	return nil
}

func (s *tarInputSession) Input(name string) vfs.InputSocket {
	return vfs.InputSocketFunc(func(ctx context.Context) (io.ReadCloser, error) {
		e, ok := s.byName[name]
		if !ok {
			return nil, status.Errorf(codes.NotFound, "Archive does not contain entry %#v", name)
		}
		return io.NopCloser(io.NewSectionReader(s.file, e.offset, e.header.Size)), nil
	})
}

func (s *tarInputSession) Close() error {
	return s.file.Close()
}

type tarArchiveWriter struct {
	compression Compression
}

func (aw tarArchiveWriter) writeArchive(w io.Writer, entries []*bufferedEntry) error {
	cw, err := aw.compression.NewWriter(w)
	if err != nil {
		return util.StatusWrap(err, "Failed to create compressor")
	}
	tw := tar.NewWriter(cw)
	for _, be := range entries {
		te, ok := be.entry.(interface{ tarHeader() tar.Header })
		if !ok {
			return status.Errorf(codes.Internal, "Entry %#v was not created by the TAR driver", be.entry.Name())
		}
		header := te.tarHeader()
		if header.Typeflag == tar.TypeReg {
			header.Size = be.size
		}
		if err := tw.WriteHeader(&header); err != nil {
			return util.StatusWrapf(err, "Failed to write header of entry %#v", header.Name)
		}
		if header.Size > 0 {
			if _, err := io.Copy(tw, be.reader()); err != nil {
				return util.StatusWrapf(err, "Failed to write entry %#v", header.Name)
			}
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return cw.Close()
}

// tarHeader returns the header to use for writing the entry into a
// new archive.
func (e *tarEntry) tarHeader() tar.Header {
	header := e.header
	header.Size = 0
	header.Format = tar.FormatPAX
	return header
}
