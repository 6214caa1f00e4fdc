//go:build windows

package shm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modntdll = windows.NewLazySystemDLL("ntdll.dll")

	procNtCreateSection      = modntdll.NewProc("NtCreateSection")
	procNtMapViewOfSection   = modntdll.NewProc("NtMapViewOfSection")
	procNtUnmapViewOfSection = modntdll.NewProc("NtUnmapViewOfSection")
)

const (
	sectionAllAccess = 0x000F001F
	secNoChange      = 0x00400000
	viewUnmap        = 2
)

// Object is an NT section created with SEC_NO_CHANGE.
type Object struct {
	handle windows.Handle
	size   int
	name   string
}

func ntError(r uintptr) error {
	if int32(r) < 0 {
		return windows.NTStatus(r)
	}
	return nil
}

// CreateObject creates a committed, unnamed section of exactly size bytes.
func CreateObject(name string, size int) (*Object, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid size %d", size)
	}
	var h windows.Handle
	maxSize := int64(size)
	r, _, _ := procNtCreateSection.Call(
		uintptr(unsafe.Pointer(&h)),
		sectionAllAccess,
		0,
		uintptr(unsafe.Pointer(&maxSize)),
		windows.PAGE_EXECUTE_READWRITE,
		windows.SEC_COMMIT|secNoChange,
		0)
	if err := ntError(r); err != nil {
		return nil, fmt.Errorf("NtCreateSection: %w", err)
	}
	return &Object{handle: h, size: size, name: name}, nil
}

// Size returns the object's byte length.
func (o *Object) Size() int { return o.size }

// Name returns the name the object was created with. Sections are unnamed.
func (o *Object) Name() string { return o.name }

// Map maps a view of the section. Views that are not writable carry
// SEC_NO_CHANGE, so VirtualProtect on them fails.
func (o *Object) Map(prot Protection) ([]byte, error) {
	if o.handle == 0 {
		return nil, ErrClosed
	}
	var (
		win32Protect   uintptr
		allocationType uintptr
		commit         uintptr
	)
	switch prot {
	case ProtReadWrite:
		win32Protect = windows.PAGE_READWRITE
		commit = uintptr(o.size)
	case ProtReadOnly:
		win32Protect = windows.PAGE_READONLY
		allocationType = secNoChange
	case ProtReadExec:
		win32Protect = windows.PAGE_EXECUTE_READ
		allocationType = secNoChange
	default:
		return nil, fmt.Errorf("invalid protection %d", prot)
	}
	var (
		base     uintptr
		offset   int64
		viewSize uintptr
	)
	r, _, _ := procNtMapViewOfSection.Call(
		uintptr(o.handle),
		uintptr(windows.CurrentProcess()),
		uintptr(unsafe.Pointer(&base)),
		0,
		commit,
		uintptr(unsafe.Pointer(&offset)),
		uintptr(unsafe.Pointer(&viewSize)),
		viewUnmap,
		allocationType,
		win32Protect)
	if err := ntError(r); err != nil {
		return nil, fmt.Errorf("NtMapViewOfSection(%s): %w", prot, err)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(base)), o.size), nil
}

// DenyWrites is a no-op: the section was created with SEC_NO_CHANGE and
// sealed views are mapped with it.
func (o *Object) DenyWrites() error {
	if o.handle == 0 {
		return ErrClosed
	}
	return nil
}

// Close releases the section handle. Mapped views keep the section alive.
func (o *Object) Close() error {
	if o.handle == 0 {
		return nil
	}
	err := windows.CloseHandle(o.handle)
	o.handle = 0
	if err != nil {
		return fmt.Errorf("CloseHandle: %w", err)
	}
	return nil
}

// Unmap removes a view returned by Map.
func Unmap(view []byte) error {
	if len(view) == 0 {
		return ErrEmptyView
	}
	base := uintptr(unsafe.Pointer(&view[0]))
	r, _, _ := procNtUnmapViewOfSection.Call(uintptr(windows.CurrentProcess()), base)
	if err := ntError(r); err != nil {
		return fmt.Errorf("NtUnmapViewOfSection: %w", err)
	}
	return nil
}
