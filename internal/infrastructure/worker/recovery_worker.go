package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Recoverer reschedules orphaned RUNNING workflows
type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// RecoveryWorker sweeps for RUNNING workflows without a step loop, once at
// start and then every interval
type RecoveryWorker struct {
	recoverer Recoverer
	interval  time.Duration
	logger    *zap.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewRecoveryWorker creates a recovery worker. A zero interval sweeps only at start.
func NewRecoveryWorker(recoverer Recoverer, interval time.Duration, logger *zap.Logger) *RecoveryWorker {
	return &RecoveryWorker{
		recoverer: recoverer,
		interval:  interval,
		logger:    logger,
	}
}

// Name implements Worker
func (w *RecoveryWorker) Name() string {
	return "workflow-recovery"
}

// Start runs the first sweep synchronously and the periodic sweep in the background
func (w *RecoveryWorker) Start(ctx context.Context) error {
	w.sweep(ctx)
	if w.interval <= 0 {
		return nil
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.sweep(ctx)
			}
		}
	}()
	return nil
}

// Stop ends the periodic sweep and waits for it
func (w *RecoveryWorker) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	return nil
}

func (w *RecoveryWorker) sweep(ctx context.Context) {
	n, err := w.recoverer.Recover(ctx)
	if err != nil {
		w.logger.Error("Workflow recovery sweep failed",
			zap.Int("scheduled", n),
			zap.Error(err))
		return
	}
	if n > 0 {
		w.logger.Info("Recovered running workflows", zap.Int("scheduled", n))
	}
}
