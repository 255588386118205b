package vfs

import (
	"strings"

	"github.com/buildbarn/bb-storage/pkg/filesystem/path"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// EntryName is the normalized, relative name of an entry within a
// file system. Its components are separated by slashes. The empty name
// refers to the root directory of the file system.
type EntryName struct {
	value string
}

// RootEntryName refers to the root directory of a file system.
var RootEntryName = EntryName{}

// NewEntryName normalizes a slash separated pathname. Empty components
// and "." components are dropped, as are leading and trailing
// slashes. ".." components are rejected.
func NewEntryName(p string) (EntryName, error) {
	var components []string
	for _, c := range strings.Split(p, "/") {
		if c == "" || c == "." {
			continue
		}
		if _, ok := path.NewComponent(c); !ok {
			return EntryName{}, status.Errorf(codes.InvalidArgument, "Invalid pathname component %#v", c)
		}
		components = append(components, c)
	}
	return EntryName{value: strings.Join(components, "/")}, nil
}

// MustNewEntryName is identical to NewEntryName, except that it panics
// upon failure.
func MustNewEntryName(p string) EntryName {
	n, err := NewEntryName(p)
	if err != nil {
		panic(err)
	}
	return n
}

func (n EntryName) String() string {
	return n.value
}

// IsRoot returns whether the name refers to the root directory.
func (n EntryName) IsRoot() bool {
	return n.value == ""
}

// Split returns the name of the parent directory and the last
// component of the name. It may not be called on the root name.
func (n EntryName) Split() (EntryName, string) {
	if n.IsRoot() {
		panic("The root directory has no parent")
	}
	if i := strings.LastIndexByte(n.value, '/'); i >= 0 {
		return EntryName{value: n.value[:i]}, n.value[i+1:]
	}
	return RootEntryName, n.value
}

// Append a single component to the name.
func (n EntryName) Append(component string) EntryName {
	if n.IsRoot() {
		return EntryName{value: component}
	}
	return EntryName{value: n.value + "/" + component}
}

// Join appends all components of another name to this one.
func (n EntryName) Join(other EntryName) EntryName {
	if n.IsRoot() {
		return other
	}
	if other.IsRoot() {
		return n
	}
	return EntryName{value: n.value + "/" + other.value}
}

// Components returns the individual components of the name.
func (n EntryName) Components() []string {
	if n.IsRoot() {
		return nil
	}
	return strings.Split(n.value, "/")
}
