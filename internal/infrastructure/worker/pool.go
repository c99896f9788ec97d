package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// PoolConfig sizes the step loop pool
type PoolConfig struct {
	Size int
	// Nonblocking rejects submissions when every worker is busy instead of waiting
	Nonblocking    bool
	IdleExpiry     time.Duration
	ReleaseTimeout time.Duration
}

// DefaultPoolConfig returns a pool sized for a handful of concurrent batches
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Size:           8,
		Nonblocking:    true,
		IdleExpiry:     time.Minute,
		ReleaseTimeout: 30 * time.Second,
	}
}

// Pool runs workflow step loops and event handlers on a bounded goroutine pool
type Pool struct {
	pool           *ants.Pool
	releaseTimeout time.Duration
	logger         *zap.Logger
}

// NewPool creates the goroutine pool
func NewPool(cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", cfg.Size)
	}

	opts := []ants.Option{
		ants.WithNonblocking(cfg.Nonblocking),
		ants.WithPanicHandler(func(p interface{}) {
			logger.Error("Pooled task panicked", zap.Any("panic", p), zap.Stack("stack"))
		}),
	}
	if cfg.IdleExpiry > 0 {
		opts = append(opts, ants.WithExpiryDuration(cfg.IdleExpiry))
	}

	pool, err := ants.NewPool(cfg.Size, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &Pool{
		pool:           pool,
		releaseTimeout: cfg.ReleaseTimeout,
		logger:         logger,
	}, nil
}

// Submit queues task. With a nonblocking pool it fails fast when the pool is saturated.
func (p *Pool) Submit(task func()) error {
	if err := p.pool.Submit(task); err != nil {
		p.logger.Warn("Worker pool rejected task",
			zap.Int("running", p.pool.Running()),
			zap.Int("capacity", p.pool.Cap()),
			zap.Error(err))
		return err
	}
	return nil
}

// Name implements Worker
func (p *Pool) Name() string {
	return "step-pool"
}

// Start implements Worker. The pool accepts tasks from construction.
func (p *Pool) Start(ctx context.Context) error {
	p.logger.Info("Worker pool ready", zap.Int("capacity", p.pool.Cap()))
	return nil
}

// Stop waits for running tasks up to the release timeout
func (p *Pool) Stop() error {
	p.logger.Info("Shutting down worker pool", zap.Int("running_workers", p.pool.Running()))
	if p.releaseTimeout <= 0 {
		p.pool.Release()
		return nil
	}
	if err := p.pool.ReleaseTimeout(p.releaseTimeout); err != nil {
		return fmt.Errorf("worker pool did not drain: %w", err)
	}
	return nil
}

// Running returns the number of busy workers
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Capacity returns the pool size
func (p *Pool) Capacity() int {
	return p.pool.Cap()
}
