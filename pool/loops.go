package pool

import (
	"context"
	"time"
)

// monitorLoop runs while the pool is started and enable-monitoring is
// set: every stats-interval it snapshots stats, runs one sizing cycle
// and logs at debug level (spec.md §4.6 "Monitor loop").
func (p *Pool) monitorLoop(ctx context.Context) {
	defer p.wg.Done()

	interval := p.cfg.StatsCollectInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := p.Stats()
			p.maybeAdjustSize()
			p.reportMetrics()
			p.logger.Debug().
				Int("active", snap.Active).
				Int("idle", snap.Idle).
				Int("waiting", snap.Waiting).
				Float64("success_rate", snap.SuccessRate).
				Msg("monitor tick")
		}
	}
}

// cleanupLoop runs every 60s: reaps idle wrappers past idle-timeout,
// then runs a health sweep and restores min (spec.md §4.6 "Cleanup
// loop").
func (p *Pool) cleanupLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reapIdle()
			p.healthSweep()
		}
	}
}

// reapIdle destroys idle wrappers that have exceeded idle-timeout, as
// long as doing so does not drop the pool below min (spec.md §4.6).
func (p *Pool) reapIdle() {
	p.mu.Lock()
	idleTimeout := p.cfg.IdleTimeout
	var survivors []*Wrapper
	var reaped []*Wrapper
	for _, w := range p.idle {
		if w.idleDuration() > idleTimeout && len(p.wrappers) > p.cfg.MinConnections {
			reaped = append(reaped, w)
			delete(p.wrappers, w.id)
			continue
		}
		survivors = append(survivors, w)
	}
	p.idle = survivors
	p.mu.Unlock()

	for _, w := range reaped {
		if err := w.Close(); err != nil {
			p.logger.Warn().Err(err).Msg("failed to close reaped idle connection")
		}
	}
}
