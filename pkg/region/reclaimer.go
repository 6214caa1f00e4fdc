package region

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/panjf2000/ants/v2"
)

// Reclaimer retires superseded regions in the background. Jobs wait in a
// queue; each scheduled job submits one pool task that takes a job, waits
// for its readers and retires it.
type Reclaimer struct {
	cfg     *Config
	pool    *ants.Pool
	pending *queue.Queue
	wg      sync.WaitGroup
	// mu orders schedule against Close.
	mu     sync.RWMutex
	closed atomic.Bool
}

// NewReclaimer starts a pool of config.ReclaimWorkers workers. A nil config
// means DefaultConfig.
func NewReclaimer(config *Config) (*Reclaimer, error) {
	cfg, err := resolveConfig(config)
	if err != nil {
		return nil, err
	}
	pool, err := ants.NewPool(cfg.ReclaimWorkers, ants.WithPanicHandler(func(v interface{}) {
		logger.Errorf("reclaimer task panic: %v", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("reclaimer pool: %w", err)
	}
	return &Reclaimer{
		cfg:     cfg,
		pool:    pool,
		pending: queue.New(int64(cfg.ReclaimWorkers)),
	}, nil
}

func (rc *Reclaimer) schedule(j retireJob) error {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if rc.closed.Load() {
		return ErrReclaimerClosed
	}
	if err := rc.pending.Put(j); err != nil {
		return fmt.Errorf("%w: %w", ErrReclaimerClosed, err)
	}
	rc.wg.Add(1)
	if err := rc.pool.Submit(rc.reclaimOne); err != nil {
		// the job stays queued and is retired by Close
		rc.wg.Done()
		logger.Warnf("reclaimer submit: %v", err)
	}
	return nil
}

func (rc *Reclaimer) reclaimOne() {
	defer rc.wg.Done()
	items, err := rc.pending.Get(1)
	if err != nil || len(items) == 0 {
		return
	}
	j, ok := items[0].(retireJob)
	if !ok {
		return
	}
	if err := reclaim(context.Background(), j); err != nil {
		logger.Warnf("reclaimer: %v", err)
	}
}

// Pending returns the number of jobs not yet taken by a worker.
func (rc *Reclaimer) Pending() int {
	return int(rc.pending.Len())
}

// Running returns the number of workers currently waiting on or retiring a region.
func (rc *Reclaimer) Running() int {
	return rc.pool.Running()
}

// Wait blocks until every scheduled job finished. Scheduling blocks meanwhile.
func (rc *Reclaimer) Wait() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.wg.Wait()
}

// Close stops accepting jobs, waits for running ones and retires whatever is
// still queued before releasing the pool. Jobs wait for readers without a
// deadline of their own: with RetireTimeout 0, Close blocks until every Ref on
// a superseded region has been released.
func (rc *Reclaimer) Close() error {
	rc.mu.Lock()
	swapped := rc.closed.CompareAndSwap(false, true)
	rc.mu.Unlock()
	if !swapped {
		return nil
	}
	rc.wg.Wait()
	var first error
	for _, item := range rc.pending.Dispose() {
		j, ok := item.(retireJob)
		if !ok {
			continue
		}
		if err := reclaim(context.Background(), j); err != nil && first == nil {
			first = err
		}
	}
	rc.pool.Release()
	return first
}
