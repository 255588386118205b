package rootfs

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/buildbarn/bb-archivefs/pkg/vfs"
	"github.com/buildbarn/bb-storage/pkg/clock"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type memoryNode struct {
	entryType        vfs.EntryType
	data             []byte
	modificationTime time.Time
	accessTime       time.Time
	readOnly         bool
	children         map[string]*memoryNode
}

func newMemoryNode(entryType vfs.EntryType, now time.Time, template vfs.Entry) *memoryNode {
	n := &memoryNode{
		entryType:        entryType,
		modificationTime: now,
	}
	if template != nil {
		if t := template.Time(vfs.WriteAccess); !t.IsZero() {
			n.modificationTime = t
		}
		n.accessTime = template.Time(vfs.ReadAccess)
	}
	if entryType == vfs.DirectoryEntry {
		n.children = map[string]*memoryNode{}
	}
	return n
}

type memoryController struct {
	model *vfs.Model
	clock clock.Clock

	lock sync.Mutex
	root *memoryNode
}

// NewMemoryController creates a Controller that stores all entries in
// memory. It can act as the root of a federation of archive file
// systems for testing purposes, or for processing archives that are
// never persisted.
func NewMemoryController(path string, clock clock.Clock) vfs.Controller {
	return &memoryController{
		model: vfs.NewModel(vfs.NewRootMountPoint("mem", path), nil),
		clock: clock,
		root:  newMemoryNode(vfs.DirectoryEntry, clock.Now(), nil),
	}
}

func (c *memoryController) Model() *vfs.Model {
	return c.model
}

func (c *memoryController) Parent() vfs.Controller {
	return nil
}

// lookup resolves an entry. The caller must hold the lock.
func (c *memoryController) lookup(name vfs.EntryName) (*memoryNode, error) {
	n := c.root
	for _, component := range name.Components() {
		if n.entryType != vfs.DirectoryEntry {
			return nil, vfs.NewNotFoundError(name)
		}
		child, ok := n.children[component]
		if !ok {
			return nil, vfs.NewNotFoundError(name)
		}
		n = child
	}
	return n, nil
}

// lookupParent resolves the parent directory of an entry, creating it
// if requested. The caller must hold the lock.
func (c *memoryController) lookupParent(options vfs.AccessOptions, name vfs.EntryName) (*memoryNode, string, error) {
	parentName, base := name.Split()
	n := c.root
	current := vfs.RootEntryName
	for _, component := range parentName.Components() {
		current = current.Append(component)
		if n.entryType != vfs.DirectoryEntry {
			return nil, "", vfs.NewNotDirectoryError(current)
		}
		child, ok := n.children[component]
		if !ok {
			if !options.Has(vfs.CreateParents) {
				return nil, "", vfs.NewMissingParentError(name)
			}
			if n.readOnly {
				return nil, "", vfs.NewReadOnlyFileSystemError()
			}
			child = newMemoryNode(vfs.DirectoryEntry, c.clock.Now(), nil)
			n.children[component] = child
			n.modificationTime = c.clock.Now()
		}
		n = child
	}
	if n.entryType != vfs.DirectoryEntry {
		return nil, "", vfs.NewNotDirectoryError(parentName)
	}
	return n, base, nil
}

func (c *memoryController) Stat(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) (*vfs.Node, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	n, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	node := &vfs.Node{
		Name:             name,
		Types:            vfs.NewEntryTypes(n.entryType),
		Type:             n.entryType,
		DataSize:         vfs.UnknownSize,
		StorageSize:      vfs.UnknownSize,
		ModificationTime: n.modificationTime,
		AccessTime:       n.accessTime,
	}
	if n.entryType == vfs.FileEntry {
		node.DataSize = int64(len(n.data))
		node.StorageSize = int64(len(n.data))
	} else {
		node.Members = make([]string, 0, len(n.children))
		for member := range n.children {
			node.Members = append(node.Members, member)
		}
		sort.Strings(node.Members)
	}
	return node, nil
}

func (c *memoryController) CheckAccess(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, types vfs.AccessTypes) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	n, err := c.lookup(name)
	if err != nil {
		return err
	}
	if types.Contains(vfs.WriteAccess) && n.readOnly {
		return status.Errorf(codes.PermissionDenied, "Entry %#v is read-only", name.String())
	}
	return nil
}

func (c *memoryController) SetReadOnly(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	n, err := c.lookup(name)
	if err != nil {
		return err
	}
	n.readOnly = true
	return nil
}

func (c *memoryController) SetTime(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, times map[vfs.AccessType]time.Time) error {
	if _, ok := times[vfs.CreateAccess]; ok {
		return newCreationTimeError(name)
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	n, err := c.lookup(name)
	if err != nil {
		return err
	}
	if t, ok := times[vfs.WriteAccess]; ok {
		n.modificationTime = t
	}
	if t, ok := times[vfs.ReadAccess]; ok {
		n.accessTime = t
	}
	return nil
}

func (c *memoryController) Input(options vfs.AccessOptions, name vfs.EntryName) vfs.InputSocket {
	return vfs.InputSocketFunc(func(ctx context.Context) (io.ReadCloser, error) {
		c.lock.Lock()
		defer c.lock.Unlock()

		n, err := c.lookup(name)
		if err != nil {
			return nil, err
		}
		if n.entryType != vfs.FileEntry {
			return nil, vfs.NewNotFileError(name)
		}
		// Content is never modified in place, so it can be
		// read without holding the lock.
		return io.NopCloser(bytes.NewReader(n.data)), nil
	})
}

// checkReplaceable returns whether an entry may be replaced by a file.
// The caller must hold the lock.
func checkReplaceable(parent *memoryNode, base string, options vfs.AccessOptions, name vfs.EntryName) error {
	if parent.readOnly {
		return vfs.NewReadOnlyFileSystemError()
	}
	if existing, ok := parent.children[base]; ok {
		if options.Has(vfs.Exclusive) || existing.entryType != vfs.FileEntry {
			return vfs.NewAlreadyExistsError(name)
		}
		if existing.readOnly {
			return status.Errorf(codes.PermissionDenied, "Entry %#v is read-only", name.String())
		}
	}
	return nil
}

func (c *memoryController) Output(options vfs.AccessOptions, name vfs.EntryName, template vfs.Entry) vfs.OutputSocket {
	return vfs.OutputSocketFunc(func(ctx context.Context) (io.WriteCloser, error) {
		if name.IsRoot() {
			return nil, vfs.NewNotFileError(name)
		}

		c.lock.Lock()
		defer c.lock.Unlock()

		parent, base, err := c.lookupParent(options, name)
		if err != nil {
			return nil, err
		}
		if err := checkReplaceable(parent, base, options, name); err != nil {
			return nil, err
		}
		w := &memoryWriter{
			controller: c,
			name:       name,
			template:   template,
		}
		if options.Has(vfs.Append) {
			if existing, ok := parent.children[base]; ok {
				w.buffer.Write(existing.data)
			}
		}
		return w, nil
	})
}

type memoryWriter struct {
	controller *memoryController
	name       vfs.EntryName
	template   vfs.Entry
	buffer     bytes.Buffer
	closed     bool
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, vfs.NewResourceClosedError()
	}
	return w.buffer.Write(p)
}

// Close stores the content that has been written. The entry is
// replaced in its entirety, so that readers that are still in progress
// observe the previous content.
func (w *memoryWriter) Close() error {
	if w.closed {
		return vfs.NewResourceClosedError()
	}
	w.closed = true

	c := w.controller
	c.lock.Lock()
	defer c.lock.Unlock()

	parent, base, err := c.lookupParent(0, w.name)
	if err != nil {
		return err
	}
	now := c.clock.Now()
	n := newMemoryNode(vfs.FileEntry, now, w.template)
	n.data = w.buffer.Bytes()
	parent.children[base] = n
	parent.modificationTime = now
	return nil
}

func (c *memoryController) Mknod(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName, entryType vfs.EntryType, template vfs.Entry) error {
	if name.IsRoot() {
		return vfs.NewAlreadyExistsError(name)
	}
	if entryType != vfs.FileEntry && entryType != vfs.DirectoryEntry {
		return vfs.NewUnsupportedEntryTypeError(name, entryType)
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	parent, base, err := c.lookupParent(options, name)
	if err != nil {
		return err
	}
	if entryType == vfs.DirectoryEntry {
		if parent.readOnly {
			return vfs.NewReadOnlyFileSystemError()
		}
		if _, ok := parent.children[base]; ok {
			return vfs.NewAlreadyExistsError(name)
		}
	} else {
		if err := checkReplaceable(parent, base, options, name); err != nil {
			return err
		}
		if existing, ok := parent.children[base]; ok {
			// Creating an existing file retains its content.
			if template != nil {
				if t := template.Time(vfs.WriteAccess); !t.IsZero() {
					existing.modificationTime = t
				}
			}
			return nil
		}
	}
	now := c.clock.Now()
	parent.children[base] = newMemoryNode(entryType, now, template)
	parent.modificationTime = now
	return nil
}

func (c *memoryController) Unlink(ctx context.Context, options vfs.AccessOptions, name vfs.EntryName) error {
	if name.IsRoot() {
		return newRootRemovalError()
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	parent, base, err := c.lookupParent(0, name)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return vfs.NewNotFoundError(name)
		}
		return err
	}
	n, ok := parent.children[base]
	if !ok {
		return vfs.NewNotFoundError(name)
	}
	if parent.readOnly {
		return vfs.NewReadOnlyFileSystemError()
	}
	if n.entryType == vfs.DirectoryEntry && len(n.children) > 0 {
		return vfs.NewDirectoryNotEmptyError(name)
	}
	delete(parent.children, base)
	parent.modificationTime = c.clock.Now()
	return nil
}

// Sync is a no-op, as all changes are applied immediately.
func (c *memoryController) Sync(ctx context.Context, options vfs.SyncOptions) error {
	return nil
}
