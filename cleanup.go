package serversession

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Cleanup scheduler states. The scheduler is an explicit state machine
// rather than nullable fields checked ad hoc: Stopped -> Starting ->
// Running -> Stopped, with the cancellation signal owned by the runner.
const (
	cleanupStopped int32 = iota
	cleanupStarting
	cleanupRunning
)

// cleanupRunner owns the recurring expiration sweep: one independent
// background goroutine per engine that deletes expired sessions on a
// fixed interval and reports the count to the metrics sink. A failed
// sweep is logged and the loop continues on the next tick; cancellation
// is the only normal termination signal.
type cleanupRunner struct {
	cfg    CleanupConfig
	logger *zap.Logger
	sweep  func(ctx context.Context)

	state  atomic.Int32
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newCleanupRunner(cfg CleanupConfig, logger *zap.Logger, sweep func(ctx context.Context)) *cleanupRunner {
	return &cleanupRunner{cfg: cfg, logger: logger, sweep: sweep}
}

// Start launches the sweep loop. A second start while the loop is live
// fails with ErrCleanupAlreadyStarted rather than silently creating two
// sweepers. The loop also stops when ctx is canceled.
func (c *cleanupRunner) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(cleanupStopped, cleanupStarting) {
		return ErrCleanupAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	// A Stop racing this Start can reset the state before the cancel func
	// was published; honor it here instead of leaving an orphaned sweeper
	// that Stop can no longer reach.
	if !c.state.CompareAndSwap(cleanupStarting, cleanupRunning) {
		cancel()
		c.mu.Lock()
		if c.done == done {
			c.cancel = nil
		}
		c.mu.Unlock()
		close(done)
		return nil
	}

	c.logger.Debug("starting session cleanup",
		zap.Duration("interval", c.cfg.Interval))

	go c.run(runCtx, done)
	return nil
}

// Stop cancels the inter-tick wait and returns promptly. It never blocks
// on an in-flight sweep body; the goroutine observes cancellation before
// its next store call and exits on its own.
func (c *cleanupRunner) Stop() {
	if c.state.Swap(cleanupStopped) == cleanupStopped {
		return
	}

	c.logger.Debug("stopping session cleanup")

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
}

// Running reports whether the sweep loop is live.
func (c *cleanupRunner) Running() bool {
	return c.state.Load() == cleanupRunning
}

// Done returns a channel closed when the sweep goroutine has fully
// exited. Intended for tests and orderly shutdown; Stop does not wait on
// it.
func (c *cleanupRunner) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *cleanupRunner) run(ctx context.Context, done chan struct{}) {
	defer func() {
		// Only the current generation may reset the state: a goroutine
		// lingering from before a Stop/Start cycle must not clobber the
		// restarted runner.
		c.mu.Lock()
		if c.done == done {
			c.state.Store(cleanupStopped)
		}
		c.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("session cleanup canceled, exiting")
			return
		case <-ticker.C:
		}

		if ctx.Err() != nil {
			c.logger.Debug("session cleanup canceled, exiting")
			return
		}

		c.sweep(ctx)
	}
}

// runCleanupSweep is the per-tick body wired into the runner by the
// engine. Failures are contained to the tick: log, count, continue.
func (e *Engine) runCleanupSweep(ctx context.Context) {
	pk := e.partition.PartitionKey()
	now := e.now()

	if e.cfg.Cleanup.CoordinateLifetimes {
		e.coordinateExpiredSessions(ctx, pk, now)
	}

	removed, err := e.store.DeleteExpired(ctx, pk, now, e.cfg.Cleanup.BatchSize)
	if err != nil {
		e.logger.Error("failed to delete expired sessions", zap.Error(err))
		e.metrics.Inc(MetricCleanupFailure)
		return
	}

	e.metrics.Inc(MetricCleanupSweep)
	if removed > 0 {
		e.metrics.Add(MetricSessionExpired, uint64(removed))
		e.sink.SessionsEnded(removed)
		e.logger.Debug("removed expired sessions", zap.Int("count", removed))
	}
}

// coordinateExpiredSessions bridges silent timeout with the same
// notification guarantees as explicit logout: each expired session gets
// token revocation and backchannel logout before the sweep deletes it.
func (e *Engine) coordinateExpiredSessions(ctx context.Context, pk string, now time.Time) {
	expired, err := e.store.GetExpired(ctx, pk, now, e.cfg.Cleanup.BatchSize)
	if err != nil {
		e.logger.Error("failed to load expired sessions for coordination", zap.Error(err))
		return
	}

	for i := range expired {
		if ctx.Err() != nil {
			return
		}
		s := &expired[i]
		err := e.RemoveSessions(ctx, RevocationRequest{
			SubjectID:                   s.SubjectID,
			SessionID:                   s.SessionID,
			RevokeTokens:                true,
			SendBackchannelNotification: true,
		})
		if err != nil {
			e.logger.Warn("expired session coordination failed",
				zap.String("session_id", s.SessionID),
				zap.Error(err))
		}
	}
}

// StartCleanup launches the background expiration sweep. It is a no-op
// when cleanup is disabled in configuration; an explicit concurrent
// second start fails with ErrCleanupAlreadyStarted.
func (e *Engine) StartCleanup(ctx context.Context) error {
	if !e.cfg.Cleanup.Enabled {
		e.logger.Debug("session cleanup disabled, not starting")
		return nil
	}
	return e.cleanup.Start(ctx)
}

// StopCleanup cancels the sweep loop. Safe to call when not running.
func (e *Engine) StopCleanup() {
	if !e.cfg.Cleanup.Enabled {
		return
	}
	e.cleanup.Stop()
}
