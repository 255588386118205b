package driver

import (
	"context"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/buildbarn/bb-archivefs/pkg/filesystem/pool"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/filesystem"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/klauspost/compress/zip"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// zipEntry is an entry of a ZIP archive. ZIP archives only store
// modification times, with a granularity of one second.
//
// The type is stored explicitly, as the root directory has an empty
// name that lacks the trailing slash of other directories.
type zipEntry struct {
	header      zip.FileHeader
	entryType   vfs.EntryType
	dataSize    int64
	storageSize int64
}

func zipEntryType(name string) vfs.EntryType {
	if strings.HasSuffix(name, "/") {
		return vfs.DirectoryEntry
	}
	return vfs.FileEntry
}

func (e *zipEntry) Name() string {
	return e.header.Name
}

func (e *zipEntry) Type() vfs.EntryType {
	return e.entryType
}

func (e *zipEntry) Size(t vfs.SizeType) int64 {
	switch t {
	case vfs.DataSize:
		return e.dataSize
	case vfs.StorageSize:
		return e.storageSize
	default:
		return vfs.UnknownSize
	}
}

func (e *zipEntry) SetSize(t vfs.SizeType, size int64) bool {
	switch t {
	case vfs.DataSize:
		e.dataSize = size
	case vfs.StorageSize:
		e.storageSize = size
	default:
		return false
	}
	return true
}

func (e *zipEntry) Time(t vfs.AccessType) time.Time {
	if t == vfs.WriteAccess {
		return e.header.Modified
	}
	return time.Time{}
}

func (e *zipEntry) SetTime(t vfs.AccessType, value time.Time) bool {
	if t != vfs.WriteAccess {
		return false
	}
	if value.IsZero() {
		e.header.Modified = time.Time{}
	} else {
		e.header.Modified = value.Truncate(time.Second)
	}
	return true
}

type zipDriver struct {
	filePool pool.FilePool
	charset  string
	encoder  *encoding.Encoder
}

// NewZIPDriver creates an ArchiveDriver for ZIP archives. If a
// character set other than UTF-8 is provided, entry names are required
// to be representable in that character set. The only such character
// set that is supported is IBM437, being the one traditionally used by
// ZIP archives.
func NewZIPDriver(filePool pool.FilePool, charset string) (vfs.ArchiveDriver, error) {
	d := &zipDriver{
		filePool: filePool,
		charset:  charset,
	}
	switch strings.ToUpper(charset) {
	case "", "UTF-8":
	case "IBM437", "CP437":
		d.encoder = charmap.CodePage437.NewEncoder()
	default:
		return nil, status.Errorf(codes.InvalidArgument, "Unsupported ZIP character set %#v", charset)
	}
	return d, nil
}

func (d *zipDriver) NewEntry(name vfs.EntryName, entryType vfs.EntryType, template vfs.Entry) (vfs.ArchiveEntry, error) {
	p := name.String()
	switch entryType {
	case vfs.FileEntry:
	case vfs.DirectoryEntry:
		if !name.IsRoot() {
			p += "/"
		}
	default:
		return nil, vfs.NewUnsupportedEntryTypeError(name, entryType)
	}
	if d.encoder != nil {
		if _, err := d.encoder.String(p); err != nil {
			return nil, vfs.NewCharsetError(p, d.charset)
		}
	}
	e := &zipEntry{
		header: zip.FileHeader{
			Name:   p,
			Method: zip.Deflate,
		},
		entryType:   entryType,
		dataSize:    vfs.UnknownSize,
		storageSize: vfs.UnknownSize,
	}
	if entryType == vfs.DirectoryEntry {
		e.header.Method = zip.Store
		e.header.SetMode(0o755 | fs.ModeDir)
	} else {
		e.header.SetMode(0o644)
	}
	if template != nil {
		e.SetTime(vfs.WriteAccess, template.Time(vfs.WriteAccess))
	}
	return e, nil
}

func (d *zipDriver) NewInput(ctx context.Context, model *vfs.Model, options vfs.AccessOptions, source vfs.InputSocket) (vfs.InputSession, error) {
	file, size, err := materialize(ctx, d.filePool, source, nil)
	if err != nil {
		return nil, err
	}
	reader, err := zip.NewReader(file, size)
	if err != nil {
		file.Close()
		return nil, status.Errorf(codes.InvalidArgument, "Not a valid ZIP archive: %s", err)
	}
	s := &zipInputSession{
		file:   file,
		byName: map[string]*zipInputEntry{},
	}
	for _, f := range reader.File {
		e := &zipInputEntry{
			zipEntry: zipEntry{
				header:      f.FileHeader,
				entryType:   zipEntryType(f.Name),
				dataSize:    int64(f.UncompressedSize64),
				storageSize: int64(f.CompressedSize64),
			},
			file: f,
		}
		s.entries = append(s.entries, e)
		s.byName[e.Name()] = e
	}
	return s, nil
}

func (d *zipDriver) NewOutput(model *vfs.Model, options vfs.AccessOptions, sink vfs.OutputSocket, input vfs.InputSession) (vfs.OutputSession, error) {
	return newBufferedOutputSession(d.filePool, sink, zipArchiveWriter{store: options.Has(vfs.Store)}), nil
}

func (d *zipDriver) RedundantMetadataSupported() bool {
	return false
}

func (d *zipDriver) RedundantContentSupported() bool {
	return false
}

type zipInputEntry struct {
	zipEntry
	file *zip.File
}

type zipInputSession struct {
	file    filesystem.FileReadWriter
	entries []*zipInputEntry
	byName  map[string]*zipInputEntry
}

func (s *zipInputSession) Entries() []vfs.ArchiveEntry {
	entries := make([]vfs.ArchiveEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	return entries
}

func (s *zipInputSession) Entry(name string) vfs.ArchiveEntry {
	if e, ok := s.byName[name]; ok {
		return e
	}
	return nil
}

func (s *zipInputSession) Input(name string) vfs.InputSocket {
	return vfs.InputSocketFunc(func(ctx context.Context) (io.ReadCloser, error) {
		e, ok := s.byName[name]
		if !ok {
			return nil, status.Errorf(codes.NotFound, "Archive does not contain entry %#v", name)
		}
		r, err := e.file.Open()
		if err != nil {
			return nil, util.StatusWrapWithCode(err, codes.DataLoss, "Failed to open entry")
		}
		return r, nil
	})
}

func (s *zipInputSession) Close() error {
	return s.file.Close()
}

type zipArchiveWriter struct {
	store bool
}

func (aw zipArchiveWriter) writeArchive(w io.Writer, entries []*bufferedEntry) error {
	zw := zip.NewWriter(w)
	for _, be := range entries {
		ze, ok := be.entry.(interface{ zipHeader() zip.FileHeader })
		if !ok {
			return status.Errorf(codes.Internal, "Entry %#v was not created by the ZIP driver", be.entry.Name())
		}
		header := ze.zipHeader()
		if aw.store {
			header.Method = zip.Store
		}
		fw, err := zw.CreateHeader(&header)
		if err != nil {
			return util.StatusWrapf(err, "Failed to write header of entry %#v", header.Name)
		}
		if _, err := io.Copy(fw, be.reader()); err != nil {
			return util.StatusWrapf(err, "Failed to write entry %#v", header.Name)
		}
	}
	return zw.Close()
}

// zipHeader returns the header to use for writing the entry into a
// new archive. Sizes and checksums are computed by the writer.
func (e *zipEntry) zipHeader() zip.FileHeader {
	header := e.header
	header.CRC32 = 0
	header.CompressedSize64 = 0
	header.UncompressedSize64 = 0
	header.CompressedSize = 0
	header.UncompressedSize = 0
	// The writer appends its own timestamp and ZIP64 fields.
	header.Extra = nil
	return header
}
