package vfs

import (
	"strings"
)

// MountPoint identifies the root of a file system. Root mount points
// refer to a location outside of any archive. All other mount points
// refer to an entry of a parent file system that is itself the root of
// a nested file system.
//
// MountPoint objects are immutable. As they are compared frequently,
// use Key() rather than pointer comparison.
type MountPoint struct {
	scheme string
	parent *MountPoint
	path   string
	entry  EntryName
	key    string
}

// NewRootMountPoint creates a mount point that has no parent. The path
// is opaque to this package, but is expected to be slash separated.
func NewRootMountPoint(scheme, path string) *MountPoint {
	key := strings.TrimSuffix(path, "/")
	if key == "" {
		key = "/"
	}
	return &MountPoint{
		scheme: scheme,
		path:   path,
		key:    key,
	}
}

// NewChild creates a mount point for an archive that is stored in an
// entry of this file system.
func (mp *MountPoint) NewChild(scheme string, entry EntryName) *MountPoint {
	if entry.IsRoot() {
		panic("The root directory of a file system cannot be mounted")
	}
	key := mp.key
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}
	return &MountPoint{
		scheme: scheme,
		parent: mp,
		entry:  entry,
		key:    key + entry.String(),
	}
}

// Scheme returns the scheme of the file system, such as "file" or
// "zip".
func (mp *MountPoint) Scheme() string {
	return mp.scheme
}

// Parent returns the mount point of the file system containing this
// one, or nil for root mount points.
func (mp *MountPoint) Parent() *MountPoint {
	return mp.parent
}

// EntryInParent returns the name of the entry in the parent file
// system that holds the archive. For root mount points, it returns the
// root name.
func (mp *MountPoint) EntryInParent() EntryName {
	return mp.entry
}

// Depth returns the number of ancestors of the mount point.
func (mp *MountPoint) Depth() int {
	depth := 0
	for p := mp.parent; p != nil; p = p.parent {
		depth++
	}
	return depth
}

// Key returns a hierarchical path that identifies the mount point. The
// key of every mount point has the key of its parent followed by a
// slash as a prefix, meaning that sorting keys in reverse order yields
// children before their parents.
func (mp *MountPoint) Key() string {
	return mp.key
}

// IsAncestorOf returns whether this mount point contains another mount
// point, either directly or indirectly.
func (mp *MountPoint) IsAncestorOf(other *MountPoint) bool {
	for p := other.parent; p != nil; p = p.parent {
		if p.key == mp.key {
			return true
		}
	}
	return false
}

// Resolve returns a human readable path for an entry in the file
// system identified by this mount point.
func (mp *MountPoint) Resolve(name EntryName) string {
	if name.IsRoot() {
		return mp.key
	}
	if strings.HasSuffix(mp.key, "/") {
		return mp.key + name.String()
	}
	return mp.key + "/" + name.String()
}

func (mp *MountPoint) String() string {
	if mp.parent == nil {
		p := mp.path
		if !strings.HasSuffix(p, "/") {
			p += "/"
		}
		return mp.scheme + ":" + p
	}
	return mp.scheme + ":" + mp.parent.String() + mp.entry.String() + "!/"
}
