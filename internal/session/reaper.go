package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const DefaultReapInterval = time.Minute

// Reaper periodically closes sessions that have been idle longer than the
// configured TTL.
type Reaper struct {
	manager      *Manager
	ttl          time.Duration
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool
}

func NewReaper(manager *Manager, ttl time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		manager:      manager,
		ttl:          ttl,
		logger:       logger,
		pollInterval: DefaultReapInterval,
	}
}

func (r *Reaper) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("session reaper started", "ttl", r.ttl.String())

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("session reaper stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.reap(ctx)
			}
		}
	}
}

func (r *Reaper) Pause() {
	r.paused.Store(true)
	r.logger.Info("session reaper paused")
}

func (r *Reaper) Resume() {
	r.paused.Store(false)
	r.logger.Info("session reaper resumed")
}

func (r *Reaper) IsPaused() bool {
	return r.paused.Load()
}

func (r *Reaper) IsRunning() bool {
	return r.running.Load()
}

func (r *Reaper) reap(ctx context.Context) {
	if n := r.manager.CloseIdle(ctx, r.ttl); n > 0 {
		r.logger.Info("closed idle sessions", "count", n)
	}
}
