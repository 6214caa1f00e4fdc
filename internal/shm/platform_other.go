//go:build !linux && !windows

package shm

import (
	"errors"
	"fmt"
	"runtime"
)

// Object is unavailable on this platform: there is no sealable shared memory
// object whose views can be denied re-protection.
type Object struct {
	size int
	name string
}

func unsupported() error {
	return fmt.Errorf("%w: sealed sections on %s", errors.ErrUnsupported, runtime.GOOS)
}

func CreateObject(name string, size int) (*Object, error) {
	return nil, unsupported()
}

func (o *Object) Size() int { return o.size }

func (o *Object) Name() string { return o.name }

func (o *Object) Map(prot Protection) ([]byte, error) { return nil, unsupported() }

func (o *Object) DenyWrites() error { return unsupported() }

func (o *Object) Close() error { return nil }

func Unmap(view []byte) error { return unsupported() }
