//go:build linux

package shm

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// futureWriteSeal reports whether the kernel knows F_SEAL_FUTURE_WRITE (5.1+).
// F_SEAL_WRITE is never used: before 6.7 it also refuses read-only shared
// mappings, which leaves nothing to remap after the writable view is gone.
var futureWriteSeal = sync.OnceValue(func() error {
	fd, err := unix.MemfdCreate("sealmem-seal-check", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return fmt.Errorf("memfd_create: %w", err)
	}
	defer unix.Close(fd)
	_, err = unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_FUTURE_WRITE)
	if errors.Is(err, unix.EINVAL) {
		return fmt.Errorf("%w: kernel without F_SEAL_FUTURE_WRITE", errors.ErrUnsupported)
	}
	return err
})

// Object is a sealable memfd.
type Object struct {
	fd   int
	size int
	name string
}

// CreateObject creates a memfd of exactly size bytes that cannot be shrunk or grown.
func CreateObject(name string, size int) (*Object, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid size %d", size)
	}
	if err := futureWriteSeal(); err != nil {
		return nil, err
	}
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK|unix.F_SEAL_GROW); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("add size seals: %w", err)
	}
	return &Object{fd: fd, size: size, name: name}, nil
}

// Size returns the object's byte length.
func (o *Object) Size() int { return o.size }

// Name returns the memfd name.
func (o *Object) Name() string { return o.name }

// Map maps the whole object shared with the given protection.
func (o *Object) Map(prot Protection) ([]byte, error) {
	if o.fd < 0 {
		return nil, ErrClosed
	}
	var flags int
	switch prot {
	case ProtReadWrite:
		flags = unix.PROT_READ | unix.PROT_WRITE
	case ProtReadOnly:
		flags = unix.PROT_READ
	case ProtReadExec:
		flags = unix.PROT_READ | unix.PROT_EXEC
	default:
		return nil, fmt.Errorf("invalid protection %d", prot)
	}
	view, err := unix.Mmap(o.fd, 0, o.size, flags, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap(%s): %w", prot, err)
	}
	return view, nil
}

// DenyWrites seals the memfd against new writable mappings, write(2) and
// further seal changes. Views mapped afterwards lose the ability to be made
// writable with mprotect. A writable view mapped before the call keeps
// working, so the caller unmaps it first.
func (o *Object) DenyWrites() error {
	if o.fd < 0 {
		return ErrClosed
	}
	_, err := unix.FcntlInt(uintptr(o.fd), unix.F_ADD_SEALS, unix.F_SEAL_FUTURE_WRITE|unix.F_SEAL_SEAL)
	if err != nil {
		return fmt.Errorf("add write seals: %w", err)
	}
	return nil
}

// Close releases the memfd. The bytes stay alive while a view still maps them.
func (o *Object) Close() error {
	if o.fd < 0 {
		return nil
	}
	err := unix.Close(o.fd)
	o.fd = -1
	if err != nil {
		return fmt.Errorf("close memfd %s: %w", o.name, err)
	}
	return nil
}

// Unmap removes a view returned by Map.
func Unmap(view []byte) error {
	if len(view) == 0 {
		return ErrEmptyView
	}
	if err := unix.Munmap(view); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}
