package region

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/sealmem/pkg/shm"
)

const (
	defaultRetireTimeout       = 30 * time.Second
	defaultPollInitialInterval = 50 * time.Microsecond
	defaultPollMaxInterval     = 10 * time.Millisecond
	defaultReclaimWorkers      = 4
)

// Config is used to tune regions, cells and reclaimers.
type Config struct {
	// SealProtection is the protection of sealed views, shm.ReadOnly or shm.ReadExec.
	SealProtection shm.Protection

	// CheckAvailableMemory rejects a region larger than the available memory
	// before the OS is asked.
	CheckAvailableMemory bool

	// RetireTimeout bounds the wait for readers of a superseded region.
	// A region whose readers are still active when it expires is left mapped.
	// Zero waits forever.
	RetireTimeout time.Duration

	// PollInitialInterval and PollMaxInterval shape the exponential backoff
	// used to poll a superseded region's reader count.
	PollInitialInterval time.Duration
	PollMaxInterval     time.Duration

	// ReclaimWorkers is the worker pool size of a Reclaimer built from this config.
	ReclaimWorkers int

	// Reclaimer, when set, retires superseded regions asynchronously. When
	// nil, Update and Close wait for readers themselves.
	Reclaimer *Reclaimer

	// Metrics receives lifecycle counters. Nil discards them.
	Metrics *Metrics

	// Tracer records spans for updates. Nil uses a no-op tracer.
	Tracer trace.Tracer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SealProtection:       shm.ReadOnly,
		CheckAvailableMemory: true,
		RetireTimeout:        defaultRetireTimeout,
		PollInitialInterval:  defaultPollInitialInterval,
		PollMaxInterval:      defaultPollMaxInterval,
		ReclaimWorkers:       defaultReclaimWorkers,
	}
}

// VerifyConfig is used to verify the sanity of configuration.
func VerifyConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if !config.SealProtection.Valid() || config.SealProtection.Writable() {
		return fmt.Errorf("%w: SealProtection must be read-only or read-exec, got %s", ErrInvalidConfig, config.SealProtection)
	}
	if config.RetireTimeout < 0 {
		return fmt.Errorf("%w: RetireTimeout must not be negative", ErrInvalidConfig)
	}
	if config.PollInitialInterval <= 0 {
		return fmt.Errorf("%w: PollInitialInterval must be positive", ErrInvalidConfig)
	}
	if config.PollMaxInterval < config.PollInitialInterval {
		return fmt.Errorf("%w: PollMaxInterval must be at least PollInitialInterval", ErrInvalidConfig)
	}
	if config.ReclaimWorkers <= 0 {
		return fmt.Errorf("%w: ReclaimWorkers must be positive", ErrInvalidConfig)
	}
	return nil
}

func resolveConfig(config *Config) (*Config, error) {
	if config == nil {
		return DefaultConfig(), nil
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) metrics() *Metrics {
	if c.Metrics == nil {
		return discardMetrics
	}
	return c.Metrics
}

var noopTracer = tracenoop.NewTracerProvider().Tracer("sealmem")

func (c *Config) tracer() trace.Tracer {
	if c.Tracer == nil {
		return noopTracer
	}
	return c.Tracer
}

func (c *Config) sectionOptions() shm.Options {
	return shm.Options{
		Seal:                 c.SealProtection,
		CheckAvailableMemory: c.CheckAvailableMemory,
	}
}
