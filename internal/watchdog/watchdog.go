// Package watchdog times out decisions stuck in non-terminal statuses.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/reply-agent/internal/logger"
)

const (
	defaultInterval = time.Minute
	defaultTimeout  = 10 * time.Minute
)

// DecisionSweeper forces stuck non-terminal decisions to failed
type DecisionSweeper interface {
	SweepTimedOut(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error)
}

// Watchdog periodically sweeps decisions that stopped making progress. The
// sweep itself writes "timeout:<status>" as the fail reason, so the forced
// decisions remain auditable.
type Watchdog struct {
	sweeper  DecisionSweeper
	interval time.Duration
	timeout  time.Duration
	logger   logger.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// New creates a watchdog
func New(sweeper DecisionSweeper, interval, timeout time.Duration, log logger.Logger) *Watchdog {
	if interval <= 0 {
		interval = defaultInterval
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Watchdog{
		sweeper:  sweeper,
		interval: interval,
		timeout:  timeout,
		logger:   log,
		stopChan: make(chan struct{}),
	}
}

// Start begins the sweep loop
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("watchdog started",
		logger.Duration("interval", w.interval),
		logger.Duration("timeout", w.timeout),
	)
}

// Stop gracefully stops the watchdog
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("watchdog stopped")
}

func (w *Watchdog) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.SweepOnce(ctx)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce runs a single sweep and returns the forced decision IDs
func (w *Watchdog) SweepOnce(ctx context.Context) []uuid.UUID {
	ids, err := w.sweeper.SweepTimedOut(ctx, w.timeout)
	if err != nil {
		w.logger.Error("watchdog sweep failed", logger.Error(err))
		return nil
	}
	if len(ids) > 0 {
		swept := make([]string, len(ids))
		for i, id := range ids {
			swept[i] = id.String()
		}
		w.logger.Warn("forced stuck decisions to failed",
			logger.Int("count", len(ids)),
			logger.Strings("decision_ids", swept),
		)
	}
	return ids
}
