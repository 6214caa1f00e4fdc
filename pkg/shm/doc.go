// Package shm provides Section, a shared memory object whose single view can
// be sealed: remapped read-only (or read-exec) so that writes and protection
// changes are refused by the operating system.
//
// On Linux the backing object is a memfd. Sealing unmaps the writable view,
// adds F_SEAL_FUTURE_WRITE and F_SEAL_SEAL, and maps the memfd again without
// write access; mprotect can no longer add PROT_WRITE to that view. Kernels
// older than 5.1 lack F_SEAL_FUTURE_WRITE and get errors.ErrUnsupported. On
// Windows the backing object is an NT section created with SEC_NO_CHANGE and
// the sealed view is mapped with SEC_NO_CHANGE, so VirtualProtect fails on it.
// Other platforms return errors.ErrUnsupported from Create.
//
// Example usage:
//
//	sec, err := shm.Create(64, shm.Options{})
//	rw, err := sec.MapWritable()
//	copy(rw, secret)
//	ro, err := sec.Seal() // rw is gone, ro holds the same bytes
//	defer sec.Release()
//
// Writing to a sealed view faults the calling thread.
package shm
