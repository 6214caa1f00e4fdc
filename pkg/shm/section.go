package shm

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/srediag/sealmem/internal/logging"
	internalshm "github.com/srediag/sealmem/internal/shm"
)

// Protection selects how a sealed view is mapped.
type Protection = internalshm.Protection

const (
	ReadOnly  = internalshm.ProtReadOnly
	ReadExec  = internalshm.ProtReadExec
	ReadWrite = internalshm.ProtReadWrite
)

var (
	// ErrCreateFailed is returned when the backing object cannot be created.
	ErrCreateFailed = errors.New("section create failed")
	// ErrMapFailed is returned when the OS refuses a writable view.
	ErrMapFailed = errors.New("section map failed")
	// ErrSealFailed is returned when the read-only remap fails. If the
	// section is Broken afterwards, its bytes are unreachable.
	ErrSealFailed = errors.New("section seal failed")
	// ErrContractViolation is returned for calls made in the wrong state.
	ErrContractViolation = errors.New("section contract violation")
)

// State of a Section.
type State int

const (
	// StateBacked: backing object exists, no view.
	StateBacked State = iota
	// StateWritable: a read-write view is mapped.
	StateWritable
	// StateSealed: a read-only or read-exec view is mapped.
	StateSealed
	// StateBroken: seal failed after the writable view was unmapped.
	StateBroken
	// StateReleased: view and backing object are gone.
	StateReleased
)

var stateNames = [...]string{"backed", "writable", "sealed", "broken", "released"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
	return stateNames[s]
}

// Options configures Create.
type Options struct {
	// Name tags the backing object (visible in /proc/<pid>/maps on Linux).
	Name string
	// Seal is the protection of the sealed view. The zero value is ReadOnly.
	Seal Protection
	// CheckAvailableMemory rejects sizes larger than the available memory
	// before asking the OS.
	CheckAvailableMemory bool
}

var (
	logger     = logging.New("section", nil)
	sectionSeq atomic.Uint64
)

// Section owns one backing object and at most one view of it.
//
// A Section is not safe for concurrent use; callers serialize access.
type Section struct {
	obj   *internalshm.Object
	view  []byte
	size  int
	seal  Protection
	state State
}

// Create allocates a backing object of exactly size bytes. No view is mapped yet.
func Create(size int, opts Options) (*Section, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: invalid size %d", ErrCreateFailed, size)
	}
	if !opts.Seal.Valid() || opts.Seal.Writable() {
		return nil, fmt.Errorf("%w: invalid seal protection %s", ErrCreateFailed, opts.Seal)
	}
	if opts.CheckAvailableMemory {
		if err := checkAvailable(uint64(size)); err != nil {
			return nil, err
		}
	}
	name := opts.Name
	if name == "" {
		name = "sealmem-" + strconv.FormatUint(sectionSeq.Add(1), 10)
	}
	obj, err := internalshm.CreateObject(name, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}
	logger.Debugf("section %s created, size:%d seal:%s", name, size, opts.Seal)
	return &Section{
		obj:   obj,
		size:  size,
		seal:  opts.Seal,
		state: StateBacked,
	}, nil
}

func checkAvailable(size uint64) error {
	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Warnf("available memory check skipped: %v", err)
		return nil
	}
	if size > vm.Available {
		return fmt.Errorf("%w: size %d exceeds available memory %d", ErrCreateFailed, size, vm.Available)
	}
	return nil
}

// MapWritable maps the first, read-write view. It can succeed once per Section.
func (s *Section) MapWritable() ([]byte, error) {
	if s.state != StateBacked {
		return nil, fmt.Errorf("%w: map writable in state %s", ErrContractViolation, s.state)
	}
	view, err := s.obj.Map(ReadWrite)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMapFailed, err)
	}
	s.view = view
	s.state = StateWritable
	return view, nil
}

// Seal swaps the writable view for a sealed one over the same bytes and
// returns it. The old view must not be used afterwards; the new view usually
// lives at a different address.
func (s *Section) Seal() ([]byte, error) {
	if s.state != StateWritable {
		return nil, fmt.Errorf("%w: seal in state %s", ErrContractViolation, s.state)
	}
	if err := internalshm.Unmap(s.view); err != nil {
		// the writable view is still in place
		return nil, fmt.Errorf("%w: %w", ErrSealFailed, err)
	}
	s.view = nil
	if err := s.obj.DenyWrites(); err != nil {
		return nil, s.broken(err)
	}
	view, err := s.obj.Map(s.seal)
	if err != nil {
		return nil, s.broken(err)
	}
	s.view = view
	s.state = StateSealed
	logger.Debugf("section %s sealed %s", s.obj.Name(), s.seal)
	return view, nil
}

func (s *Section) broken(cause error) error {
	s.state = StateBroken
	logger.Errorf("section %s: seal failed after unmap, no view left: %v", s.obj.Name(), cause)
	return fmt.Errorf("%w: no view left: %w", ErrSealFailed, cause)
}

// Release unmaps the current view and closes the backing object. Calls after
// the first are no-ops.
func (s *Section) Release() error {
	if s.state == StateReleased {
		return nil
	}
	var errs []error
	if s.view != nil {
		if err := internalshm.Unmap(s.view); err != nil {
			errs = append(errs, err)
		}
		s.view = nil
	}
	if err := s.obj.Close(); err != nil {
		errs = append(errs, err)
	}
	s.state = StateReleased
	logger.Debugf("section %s released", s.obj.Name())
	return errors.Join(errs...)
}

// Bytes returns the current view, or nil when none is mapped.
func (s *Section) Bytes() []byte { return s.view }

// Size returns the byte length of the backing object.
func (s *Section) Size() int { return s.size }

// State returns the current state.
func (s *Section) State() State { return s.state }

// Protection returns the protection the section is, or will be, sealed with.
func (s *Section) Protection() Protection { return s.seal }

// Name returns the backing object's name.
func (s *Section) Name() string { return s.obj.Name() }
