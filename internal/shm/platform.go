// Package shm contains the platform-specific backing objects for sealed sections.
//
// An Object is an OS shared memory object whose bytes outlive any single view
// mapped from it. Views are plain byte slices over the mapped pages. The
// protection of a view is fixed when it is mapped; changing it means
// unmapping and mapping again.
package shm

import (
	"errors"
	"os"
)

// Protection of a mapped view.
type Protection int

const (
	// ProtReadOnly maps sealed views readable.
	ProtReadOnly Protection = iota
	// ProtReadExec maps sealed views readable and executable.
	ProtReadExec
	// ProtReadWrite is used for the initialization view only.
	ProtReadWrite
)

func (p Protection) String() string {
	switch p {
	case ProtReadWrite:
		return "rw"
	case ProtReadOnly:
		return "r"
	case ProtReadExec:
		return "rx"
	default:
		return "invalid"
	}
}

// Valid reports whether p is one of the defined protections.
func (p Protection) Valid() bool {
	return p >= ProtReadOnly && p <= ProtReadWrite
}

// Writable reports whether a view with this protection accepts writes.
func (p Protection) Writable() bool {
	return p == ProtReadWrite
}

var (
	// ErrClosed is returned by operations on a closed Object.
	ErrClosed = errors.New("backing object closed")
	// ErrEmptyView is returned by Unmap for a nil or empty view.
	ErrEmptyView = errors.New("empty view")
)

// PageSize returns the granularity views are mapped with.
func PageSize() int {
	return os.Getpagesize()
}
