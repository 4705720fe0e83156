package watchdog_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/reply-agent/internal/logger"
	"github.com/jonesrussell/reply-agent/internal/watchdog"
)

type fakeSweeper struct {
	mu        sync.Mutex
	ids       []uuid.UUID
	err       error
	sweeps    int
	olderThan time.Duration
}

func (f *fakeSweeper) SweepTimedOut(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	f.olderThan = olderThan
	if f.err != nil {
		return nil, f.err
	}
	return f.ids, nil
}

func (f *fakeSweeper) sweepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

func TestSweepOncePassesTimeout(t *testing.T) {
	sweeper := &fakeSweeper{ids: []uuid.UUID{uuid.New(), uuid.New()}}
	w := watchdog.New(sweeper, time.Minute, 10*time.Minute, logger.NewNopLogger())

	ids := w.SweepOnce(context.Background())
	if len(ids) != 2 {
		t.Errorf("swept = %d, want 2", len(ids))
	}
	if sweeper.olderThan != 10*time.Minute {
		t.Errorf("olderThan = %v, want 10m", sweeper.olderThan)
	}
}

func TestSweepOnceErrorReturnsNil(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("db down")}
	w := watchdog.New(sweeper, time.Minute, 10*time.Minute, logger.NewNopLogger())

	if ids := w.SweepOnce(context.Background()); ids != nil {
		t.Errorf("SweepOnce() = %v, want nil on error", ids)
	}
}

func TestStartStopRunsSweeps(t *testing.T) {
	sweeper := &fakeSweeper{}
	w := watchdog.New(sweeper, 10*time.Millisecond, time.Minute, logger.NewNopLogger())

	w.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	w.Stop()

	if got := sweeper.sweepCount(); got == 0 {
		t.Error("no sweeps ran while started")
	}

	// Stop again must be a no-op
	w.Stop()
}

func TestStartTwiceRunsOneLoop(t *testing.T) {
	sweeper := &fakeSweeper{}
	w := watchdog.New(sweeper, time.Hour, time.Minute, logger.NewNopLogger())

	ctx := context.Background()
	w.Start(ctx)
	w.Start(ctx)
	w.Stop()
}
