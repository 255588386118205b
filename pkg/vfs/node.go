package vfs

import (
	"time"
)

// Node is a snapshot of the state of an entry, as returned by
// Controller.Stat(). It does not reference any live state of the file
// system.
type Node struct {
	Name  EntryName
	Types EntryTypes
	// Type of the entry that takes precedence if multiple entries
	// share the same name.
	Type             EntryType
	DataSize         int64
	StorageSize      int64
	ModificationTime time.Time
	AccessTime       time.Time
	CreationTime     time.Time
	// Names of the children of a directory, in sorted order.
	Members []string
}

// NewNodeFromEntry creates a Node from the properties of an entry.
func NewNodeFromEntry(name EntryName, types EntryTypes, e Entry, members []string) *Node {
	return &Node{
		Name:             name,
		Types:            types,
		Type:             e.Type(),
		DataSize:         e.Size(DataSize),
		StorageSize:      e.Size(StorageSize),
		ModificationTime: e.Time(WriteAccess),
		AccessTime:       e.Time(ReadAccess),
		CreationTime:     e.Time(CreateAccess),
		Members:          members,
	}
}

// IsType returns whether the node has an entry of a given type.
func (n *Node) IsType(t EntryType) bool {
	return n.Types.Contains(t)
}

// Time returns one of the timestamps of the node.
func (n *Node) Time(t AccessType) time.Time {
	switch t {
	case WriteAccess:
		return n.ModificationTime
	case ReadAccess:
		return n.AccessTime
	case CreateAccess:
		return n.CreationTime
	default:
		return time.Time{}
	}
}

func (n *Node) entryName() string {
	if n.Name.IsRoot() {
		return ""
	}
	_, base := n.Name.Split()
	return base
}

type nodeEntry struct {
	*Node
}

func (e nodeEntry) Name() string                { return e.entryName() }
func (e nodeEntry) Type() EntryType             { return e.Node.Type }
func (e nodeEntry) Time(t AccessType) time.Time { return e.Node.Time(t) }

func (e nodeEntry) Size(t SizeType) int64 {
	if t == StorageSize {
		return e.StorageSize
	}
	return e.DataSize
}

// AsEntry returns an Entry view of the node, allowing it to be used as
// a template.
func (n *Node) AsEntry() Entry {
	return nodeEntry{Node: n}
}
