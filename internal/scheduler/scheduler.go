// Package scheduler runs the two periodic engine loops:
//  1. positionLoop – marks, evaluates and closes open positions (default 3s).
//  2. targetLoop   – drips daily-target payouts (default 5s).
//
// Each loop runs its tick synchronously, so a slow tick delays the next one
// instead of overlapping it.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/evetabi/tradesim/internal/config"
	"github.com/evetabi/tradesim/internal/domain"
	"github.com/evetabi/tradesim/internal/service"
)

// Ticker is one periodic unit of work.
type Ticker interface {
	Tick(ctx context.Context) (service.TickReport, error)
}

// Lock keys, namespaced by the lock manager.
const (
	positionLockKey = "tick:positions"
	targetLockKey   = "tick:targets"
)

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler owns the position and daily-target loops. Call Run(ctx) once from
// main; cancel the context to shut it down. Run returns after any in-flight
// tick has finished.
type Scheduler struct {
	positions Ticker
	targets   Ticker
	locks     domain.LockManager
	cfg       config.EngineConfig
	logger    *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(positions, targets Ticker, cfg config.EngineConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		positions: positions,
		targets:   targets,
		cfg:       cfg,
		logger:    logger.With("component", "scheduler"),
	}
}

// SetLockManager makes every tick take a cross-replica lock first. A tick
// whose lock is held elsewhere is skipped.
func (s *Scheduler) SetLockManager(l domain.LockManager) { s.locks = l }

// Run blocks until ctx is cancelled and both loops have exited.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(ctx, "positionLoop", positionLockKey, s.cfg.PositionTickInterval, s.positions)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, "targetLoop", targetLockKey, s.cfg.TargetTickInterval, s.targets)
	}()

	s.logger.Info("scheduler started",
		"position_interval", s.cfg.PositionTickInterval.String(),
		"target_interval", s.cfg.TargetTickInterval.String(),
	)
	wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// loop fires t every interval until ctx is cancelled. Ticks missed while a
// tick is running are dropped by time.Ticker.
func (s *Scheduler) loop(ctx context.Context, name, lockKey string, interval time.Duration, t Ticker) {
	if t == nil {
		return
	}
	if interval <= 0 {
		s.logger.Error(name+": non-positive interval, loop disabled", "interval", interval.String())
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(name + ": shutting down")
			return
		case <-ticker.C:
			s.runOnce(ctx, name, lockKey, t)
		}
	}
}

// runOnce executes a single tick. The tick context survives shutdown so the
// current unit of work can commit; it is bounded by TickTimeout instead.
func (s *Scheduler) runOnce(parent context.Context, name, lockKey string, t Ticker) {
	defer s.recoverAndLog(name)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.cfg.TickTimeout)
	defer cancel()

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, lockKey, s.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				s.logger.Debug(name+": lock held elsewhere, tick skipped", "key", lockKey)
			} else {
				s.logger.Warn(name+": lock unavailable, tick skipped", "key", lockKey, "err", err)
			}
			return
		}
		defer unlock()
	}

	report, err := t.Tick(ctx)
	if err != nil {
		s.logger.Error(name+": tick failed", "err", err)
		return
	}
	if report.Applied > 0 || report.Failed > 0 {
		s.logger.Info(name+": tick",
			"scanned", report.Scanned,
			"applied", report.Applied,
			"skipped", report.Skipped,
			"failed", report.Failed,
			"duration_ms", report.Duration.Milliseconds(),
		)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred around every tick so a panic costs one tick, not
// the loop.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
