package driver

import (
	"context"
	"io"

	"github.com/buildbarn/bb-archivefs/pkg/filesystem/pool"
	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/filesystem"
	"github.com/buildbarn/bb-storage/pkg/util"
)

// bufferedEntry is an entry of an output session, whose content is
// held in a pooled file until the archive is written.
type bufferedEntry struct {
	entry vfs.ArchiveEntry
	file  filesystem.FileReadWriter
	size  int64
}

// isUnlinked returns whether an entry has been removed from the file
// system after it was written to the output session.
func (e *bufferedEntry) isUnlinked() bool {
	return e.entry.Size(vfs.DataSize) == vfs.UnknownSize && e.entry.Time(vfs.WriteAccess).IsZero()
}

func (e *bufferedEntry) reader() io.Reader {
	return pool.NewFileReader(e.file, e.size)
}

// archiveWriter writes buffered entries into a container of a given
// archive format.
type archiveWriter interface {
	writeArchive(w io.Writer, entries []*bufferedEntry) error
}

type bufferedOutputSession struct {
	filePool pool.FilePool
	sink     vfs.OutputSocket
	writer   archiveWriter

	entries []*bufferedEntry
	byName  map[string]*bufferedEntry
}

// newBufferedOutputSession creates an OutputSession that stores the
// content of every entry in a separate pooled file. The container is
// only written upon Close(). This means that closing may be retried if
// it fails, and that entries that are removed after having been
// written can be omitted.
func newBufferedOutputSession(filePool pool.FilePool, sink vfs.OutputSocket, writer archiveWriter) *bufferedOutputSession {
	return &bufferedOutputSession{
		filePool: filePool,
		sink:     sink,
		writer:   writer,
		byName:   map[string]*bufferedEntry{},
	}
}

func (s *bufferedOutputSession) Entry(name string) vfs.ArchiveEntry {
	if be, ok := s.byName[name]; ok {
		return be.entry
	}
	return nil
}

func (s *bufferedOutputSession) Output(entry vfs.ArchiveEntry) vfs.OutputSocket {
	return vfs.OutputSocketFunc(func(ctx context.Context) (io.WriteCloser, error) {
		file, err := s.filePool.NewFile()
		if err != nil {
			return nil, util.StatusWrapf(err, "Failed to create buffer for entry %#v", entry.Name())
		}
		be := &bufferedEntry{
			entry: entry,
			file:  file,
		}
		// Formats that support redundant content may store
		// multiple versions of the same entry. Lookups yield the
		// latest one.
		s.entries = append(s.entries, be)
		s.byName[entry.Name()] = be
		return &bufferedEntryWriter{
			entry:    be,
			appender: pool.NewFileAppender(file, 0),
		}, nil
	})
}

func (s *bufferedOutputSession) Discard(entry vfs.ArchiveEntry) {
	name := entry.Name()
	delete(s.byName, name)
	entries := s.entries[:0]
	for _, be := range s.entries {
		if be.entry == entry {
			be.file.Close()
			continue
		}
		entries = append(entries, be)
		if be.entry.Name() == name {
			s.byName[name] = be
		}
	}
	s.entries = entries
}

func (s *bufferedOutputSession) Close(ctx context.Context) error {
	var entries []*bufferedEntry
	for _, be := range s.entries {
		if !be.isUnlinked() {
			entries = append(entries, be)
		}
	}
	w, err := s.sink.Open(ctx)
	if err != nil {
		return err
	}
	if err := s.writer.writeArchive(w, entries); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	s.Abort()
	return nil
}

func (s *bufferedOutputSession) Abort() {
	for _, be := range s.entries {
		be.file.Close()
	}
	s.entries = nil
	s.byName = map[string]*bufferedEntry{}
}

type bufferedEntryWriter struct {
	entry    *bufferedEntry
	appender *pool.FileAppender
	closed   bool
}

func (w *bufferedEntryWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, vfs.NewResourceClosedError()
	}
	n, err := w.appender.Write(p)
	w.entry.size = w.appender.Size()
	return n, err
}

// Close records the size of the entry.
func (w *bufferedEntryWriter) Close() error {
	if w.closed {
		return vfs.NewResourceClosedError()
	}
	w.closed = true
	w.entry.entry.SetSize(vfs.DataSize, w.entry.size)
	return nil
}
