package region

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/valyala/bytebufferpool"

	"github.com/srediag/sealmem/internal/logging"
	"github.com/srediag/sealmem/pkg/shm"
)

var logger = logging.New("region", nil)

// sealSection is replaced in tests to make the OS remap fail.
var sealSection = (*shm.Section).Seal

// State is the lifecycle tag of a Region.
type State int32

const (
	StateUninitialized State = iota
	StateWritable
	StateSealed
	StateRetired
)

var stateNames = [...]string{"uninitialized", "writable", "sealed", "retired"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
	return stateNames[s]
}

// Region holds one value of T inside a Section. The value is written while
// the region is Writable and read-only once it is Sealed; writes through a
// sealed pointer fault in the calling thread.
//
// Initialize, Seal, Retire, Verify and Dump are serialized by the region.
// Read is lock-free and must not race Retire; share a sealed value between
// goroutines through a Cell.
type Region[T any] struct {
	mu          sync.Mutex
	cfg         *Config
	sec         *shm.Section
	size        int
	state       atomic.Int32
	value       atomic.Pointer[T]
	constructed bool
	digest      uint64
}

// Allocate creates a section sized for T and maps it writable. The value is
// zeroed and not yet constructed. A nil config means DefaultConfig.
func Allocate[T any](config *Config) (*Region[T], error) {
	cfg, err := resolveConfig(config)
	if err != nil {
		return nil, err
	}
	if err := checkLayout(reflect.TypeFor[T]()); err != nil {
		return nil, err
	}
	var zero T
	size := int(unsafe.Sizeof(zero))

	sec, err := shm.Create(size, cfg.sectionOptions())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}
	r := &Region[T]{cfg: cfg, sec: sec, size: size}
	view, err := sec.MapWritable()
	if err != nil {
		_ = sec.Release()
		return nil, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}
	r.value.Store((*T)(unsafe.Pointer(&view[0])))
	r.state.Store(int32(StateWritable))

	m := cfg.metrics()
	m.allocated.Inc()
	m.liveBytes.Add(float64(size))
	logger.Debugf("region %s allocated for %T, size:%d", sec.Name(), zero, size)
	return r, nil
}

// Initialize copies v into the region. It succeeds once; the returned pointer
// is valid until Seal.
func (r *Region[T]) Initialize(v T) (*T, error) {
	return r.InitializeFunc(func(p *T) error {
		*p = v
		return nil
	})
}

// InitializeFunc constructs the value in place by calling fn on the zeroed
// writable value. If fn fails the bytes are zeroed again and the region can
// be initialized later.
func (r *Region[T]) InitializeFunc(fn func(*T) error) (*T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.State() {
	case StateWritable:
	case StateSealed:
		return nil, ErrAlreadyInitialized
	case StateRetired:
		return nil, ErrUseAfterRetire
	default:
		return nil, ErrNotYetInitialized
	}
	if r.constructed {
		return nil, ErrAlreadyInitialized
	}
	p := r.value.Load()
	if fn != nil {
		if err := fn(p); err != nil {
			var zero T
			*p = zero
			return nil, err
		}
	}
	r.constructed = true
	return p, nil
}

// Seal remaps the region read-only and returns the value's new address. Any
// pointer obtained from Initialize is invalid afterwards.
//
// If the remap fails after the writable view was dropped, the value is
// unreachable: the region is retired and the error wraps ErrSealFailed.
func (r *Region[T]) Seal() (*T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.State() {
	case StateWritable:
	case StateSealed:
		return nil, fmt.Errorf("%w: already sealed", ErrContractViolation)
	case StateRetired:
		return nil, ErrUseAfterRetire
	default:
		return nil, ErrNotYetInitialized
	}
	if !r.constructed {
		return nil, ErrNotYetInitialized
	}

	m := r.cfg.metrics()
	start := time.Now()
	view, err := sealSection(r.sec)
	if err != nil {
		m.sealFailures.Inc()
		if st := r.sec.State(); st == shm.StateBroken || st == shm.StateReleased {
			if rerr := r.retireLocked(); rerr != nil {
				logger.Warnf("region %s: release after failed seal: %v", r.sec.Name(), rerr)
			}
		}
		return nil, err
	}
	p := (*T)(unsafe.Pointer(&view[0]))
	r.digest = xxhash.Sum64(view)
	r.value.Store(p)
	r.state.Store(int32(StateSealed))
	m.observeSeal(r.size, time.Since(start))

	if logging.DebugMode() && logger.TraceEnabled() {
		logger.Tracef("region %s sealed, digest:%016x\n%s", r.sec.Name(), r.digest, dump(view))
	}
	return p, nil
}

// Read returns the sealed value.
func (r *Region[T]) Read() (*T, error) {
	switch r.State() {
	case StateSealed:
	case StateRetired:
		return nil, ErrUseAfterRetire
	default:
		return nil, ErrNotSealed
	}
	p := r.value.Load()
	if p == nil {
		return nil, ErrUseAfterRetire
	}
	return p, nil
}

// Retire unmaps the region and releases its backing object. The caller
// guarantees no reader still uses the value. Retiring twice is a no-op.
func (r *Region[T]) Retire() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State() == StateRetired {
		return nil
	}
	return r.retireLocked()
}

func (r *Region[T]) retireLocked() error {
	r.value.Store(nil)
	r.state.Store(int32(StateRetired))
	m := r.cfg.metrics()
	m.retired.Inc()
	m.liveBytes.Sub(float64(r.size))
	if err := r.sec.Release(); err != nil {
		return fmt.Errorf("retire %s: %w", r.sec.Name(), err)
	}
	return nil
}

// Verify recomputes the digest of the sealed bytes and compares it with the
// one taken by Seal.
func (r *Region[T]) Verify() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.State() {
	case StateSealed:
	case StateRetired:
		return ErrUseAfterRetire
	default:
		return ErrNotSealed
	}
	if got := xxhash.Sum64(r.sec.Bytes()); got != r.digest {
		return fmt.Errorf("%w: %s digest %016x, sealed with %016x", ErrIntegrity, r.sec.Name(), got, r.digest)
	}
	return nil
}

// Dump returns a hex dump of the mapped bytes, or "" when nothing is mapped.
func (r *Region[T]) Dump() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return dump(r.sec.Bytes())
}

func dump(view []byte) string {
	if len(view) == 0 {
		return ""
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	d := hex.Dumper(buf)
	_, _ = d.Write(view)
	_ = d.Close()
	return buf.String()
}

// State returns the lifecycle tag.
func (r *Region[T]) State() State {
	return State(r.state.Load())
}

// Size returns the byte size of T, which is the size of the backing object.
func (r *Region[T]) Size() int {
	return r.size
}

// Digest returns the xxhash of the sealed bytes, zero before Seal.
func (r *Region[T]) Digest() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.digest
}
