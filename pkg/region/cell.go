package region

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// slot pairs a published region with the number of readers holding it.
// Slots are never reused, so pointer identity tells generations apart.
type slot[T any] struct {
	region *Region[T]
	gen    uint64
	refs   atomic.Int64
}

// Cell publishes the current sealed region of a value and replaces it on
// update. Readers reach the value through one atomic pointer and hold a
// reference while they use it; a superseded region is retired only after its
// reference count dropped to zero.
type Cell[T any] struct {
	name    string
	cfg     *Config
	current atomic.Pointer[slot[T]]
	// writer serializes Update and Close.
	writer sync.Mutex
}

// NewCell seals v in a new region and publishes it.
func NewCell[T any](name string, v T, config *Config) (*Cell[T], error) {
	cfg, err := resolveConfig(config)
	if err != nil {
		return nil, err
	}
	r, err := sealedRegion(cfg, func(p *T) error {
		*p = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cell %s: %w", name, err)
	}
	c := &Cell[T]{name: name, cfg: cfg}
	c.current.Store(&slot[T]{region: r, gen: 1})
	return c, nil
}

// sealedRegion runs Allocate, InitializeFunc and Seal, retiring the region
// if a later step fails or fn panics.
func sealedRegion[T any](cfg *Config, fn func(*T) error) (*Region[T], error) {
	r, err := Allocate[T](cfg)
	if err != nil {
		return nil, err
	}
	sealed := false
	defer func() {
		if !sealed {
			_ = r.Retire()
		}
	}()
	if _, err := r.InitializeFunc(fn); err != nil {
		return nil, err
	}
	if _, err := r.Seal(); err != nil {
		return nil, err
	}
	sealed = true
	return r, nil
}

// Name returns the name the cell was created with.
func (c *Cell[T]) Name() string { return c.name }

// Generation returns the number of regions published so far, or 0 once closed.
func (c *Cell[T]) Generation() uint64 {
	if s := c.current.Load(); s != nil {
		return s.gen
	}
	return 0
}

func (c *Cell[T]) acquire() (*slot[T], error) {
	for {
		s := c.current.Load()
		if s == nil {
			return nil, ErrUseAfterRetire
		}
		s.refs.Add(1)
		// An update that swapped s out before the increment may already be
		// retiring it; only a slot that is still current is safe to use.
		if c.current.Load() == s {
			return s, nil
		}
		s.refs.Add(-1)
	}
}

// Ref is a reader's hold on one sealed region.
type Ref[T any] struct {
	s        *slot[T]
	value    *T
	released atomic.Bool
}

// Value returns the sealed value. It is valid until Release.
func (r *Ref[T]) Value() *T { return r.value }

// Generation returns the generation of the held region.
func (r *Ref[T]) Generation() uint64 { return r.s.gen }

// Release drops the hold. Calls after the first are no-ops.
func (r *Ref[T]) Release() {
	if r.released.CompareAndSwap(false, true) {
		r.s.refs.Add(-1)
	}
}

// Acquire holds the current region until Release is called. Updates keep
// publishing while a Ref is held, but the held region stays mapped.
func (c *Cell[T]) Acquire() (*Ref[T], error) {
	s, err := c.acquire()
	if err != nil {
		return nil, err
	}
	v, err := s.region.Read()
	if err != nil {
		s.refs.Add(-1)
		return nil, err
	}
	return &Ref[T]{s: s, value: v}, nil
}

// View calls fn with the current value, held for the duration of the call.
// fn must not keep the pointer.
func (c *Cell[T]) View(fn func(*T)) error {
	s, err := c.acquire()
	if err != nil {
		return err
	}
	defer s.refs.Add(-1)
	v, err := s.region.Read()
	if err != nil {
		return err
	}
	fn(v)
	return nil
}

// Load returns a copy of the current value.
func (c *Cell[T]) Load() (T, error) {
	var out T
	err := c.View(func(p *T) { out = *p })
	return out, err
}

// Verify checks the integrity of the current region.
func (c *Cell[T]) Verify() error {
	s, err := c.acquire()
	if err != nil {
		return err
	}
	defer s.refs.Add(-1)
	return s.region.Verify()
}

// Update publishes a successor region holding a copy of the current value
// changed by fn. fn runs on the successor's writable value; if it fails, or
// the successor cannot be sealed, the current value is kept.
//
// After the swap the predecessor is retired once its readers drained, by the
// configured Reclaimer or before Update returns. An error wrapping
// ErrReadersActive means the new value was published but the predecessor was
// left mapped.
func (c *Cell[T]) Update(ctx context.Context, fn func(*T) error) (err error) {
	ctx, span := c.cfg.tracer().Start(ctx, "sealmem.Cell.Update",
		trace.WithAttributes(attribute.String("sealmem.cell", c.name)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	c.writer.Lock()
	defer c.writer.Unlock()

	old := c.current.Load()
	if old == nil {
		return fmt.Errorf("cell %s: %w", c.name, ErrUseAfterRetire)
	}
	// old is current and only writers retire, so it stays mapped here.
	src, err := old.region.Read()
	if err != nil {
		return fmt.Errorf("cell %s: %w", c.name, err)
	}
	next, err := sealedRegion(c.cfg, func(p *T) error {
		*p = *src
		if fn == nil {
			return nil
		}
		return fn(p)
	})
	if err != nil {
		return fmt.Errorf("cell %s: update: %w", c.name, err)
	}

	prev := c.current.Swap(&slot[T]{region: next, gen: old.gen + 1})
	c.cfg.metrics().updates.Inc()
	span.AddEvent("published", trace.WithAttributes(attribute.Int64("sealmem.generation", int64(old.gen+1))))
	logger.Debugf("cell %s published generation %d", c.name, old.gen+1)

	return c.retire(ctx, prev)
}

// Store replaces the value with v.
func (c *Cell[T]) Store(ctx context.Context, v T) error {
	return c.Update(ctx, func(p *T) error {
		*p = v
		return nil
	})
}

// Close unpublishes the cell and retires its last region once readers
// drained. Acquire, View and Load fail with ErrUseAfterRetire afterwards.
func (c *Cell[T]) Close(ctx context.Context) error {
	c.writer.Lock()
	defer c.writer.Unlock()
	prev := c.current.Swap(nil)
	if prev == nil {
		return nil
	}
	return c.retire(ctx, prev)
}

func (c *Cell[T]) retire(ctx context.Context, s *slot[T]) error {
	j := retireJob{
		cfg:       c.cfg,
		name:      c.name,
		gen:       s.gen,
		quiescent: func() bool { return s.refs.Load() == 0 },
		retire:    s.region.Retire,
	}
	if rc := c.cfg.Reclaimer; rc != nil {
		err := rc.schedule(j)
		if err == nil {
			return nil
		}
		logger.Warnf("cell %s: %v, retiring generation %d inline", c.name, err, s.gen)
	}
	return reclaim(ctx, j)
}

// retireJob is a superseded region waiting for its readers.
type retireJob struct {
	cfg       *Config
	name      string
	gen       uint64
	quiescent func() bool
	retire    func() error
}

// reclaim waits for j's readers and retires it. When the wait ends first
// the region is counted as leaked and left mapped.
func reclaim(ctx context.Context, j retireJob) error {
	if err := awaitQuiescence(ctx, j.cfg, j.quiescent); err != nil {
		j.cfg.metrics().leaked.Inc()
		logger.Warnf("cell %s generation %d left mapped: %v", j.name, j.gen, err)
		return fmt.Errorf("cell %s generation %d: %w", j.name, j.gen, err)
	}
	if err := j.retire(); err != nil {
		return fmt.Errorf("cell %s generation %d: %w", j.name, j.gen, err)
	}
	logger.Debugf("cell %s retired generation %d", j.name, j.gen)
	return nil
}

func awaitQuiescence(ctx context.Context, cfg *Config, quiescent func() bool) error {
	if quiescent() {
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.PollInitialInterval
	bo.MaxInterval = cfg.PollMaxInterval
	bo.MaxElapsedTime = cfg.RetireTimeout
	bo.Reset()

	err := backoff.Retry(func() error {
		if quiescent() {
			return nil
		}
		return ErrReadersActive
	}, backoff.WithContext(bo, ctx))
	if err != nil && !errors.Is(err, ErrReadersActive) {
		err = fmt.Errorf("%w: %w", ErrReadersActive, err)
	}
	return err
}
