package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kapu/dealsync-go/internal/constants"
	"github.com/kapu/dealsync-go/internal/ingest"
)

// CycleRunner is one sync cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, opts ingest.CycleOptions) (ingest.Summary, error)
}

// Locker is a lock shared between processes.
type Locker interface {
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) error
}

// Scheduler runs sync cycles immediately and then on every tick. At most one
// cycle runs at a time in this process, and, with a Locker, across processes.
type Scheduler struct {
	runner   CycleRunner
	locker   Locker
	interval time.Duration
	opts     ingest.CycleOptions
	logger   *zap.Logger

	running atomic.Bool
	ticker  *time.Ticker
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// New returns a scheduler. locker may be nil.
func New(runner CycleRunner, locker Locker, interval time.Duration, opts ingest.CycleOptions, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = constants.SyncConfig.Interval
	}
	return &Scheduler{
		runner:   runner,
		locker:   locker,
		interval: interval,
		opts:     opts,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the first cycle and the ticker loop, then returns.
func (s *Scheduler) Start(ctx context.Context) {
	s.ticker = time.NewTicker(s.interval)

	s.logger.Info("Deal sync scheduler started", zap.Duration("interval", s.interval))

	s.trigger(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ticker.C:
				s.trigger(ctx)
			case <-s.stopCh:
				s.logger.Info("Deal sync scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Deal sync scheduler context cancelled")
				return
			}
		}
	}()
}

// Stop halts the ticker and waits for a running cycle to return.
func (s *Scheduler) Stop() {
	s.stopped.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
	s.wg.Wait()
}

// Running reports whether a cycle is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) trigger(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Previous sync cycle still running, skipping tick")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Sync cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
			}
		}()
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("Sync cycle failed", zap.Error(err))
		}
	}()
}

// RunOnce runs a single cycle under the cross-process lock when one is
// configured. It returns (false, nil) when another process holds the lock.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	if s.locker != nil {
		token := uuid.NewString()
		acquired, err := s.locker.TryLock(ctx, constants.CacheKeys.CycleLock, token, constants.CacheTTL.CycleLock)
		if err != nil {
			s.logger.Warn("Cycle lock unavailable, running without it", zap.Error(err))
		} else if !acquired {
			s.logger.Warn("Another process is running a sync cycle, skipping")
			return false, nil
		} else {
			defer func() {
				// release even when ctx is already cancelled
				unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := s.locker.Unlock(unlockCtx, constants.CacheKeys.CycleLock, token); err != nil {
					s.logger.Warn("Failed to release cycle lock", zap.Error(err))
				}
			}()
		}
	}

	if _, err := s.runner.RunCycle(ctx, s.opts); err != nil {
		return true, err
	}
	return true, nil
}
