// Package pool implements the connection pool core (spec.md §4.3, C3):
// the idle queue, in-use set, waiter queue and the single mutual-
// exclusion discipline that guards them, wired to the competition-aware
// scheduler (pool/scheduler), the bounded metrics store (pool/telemetry)
// and the adaptive sizing engine (pool/sizing).
//
// Grounded on the teacher's BucketPool (internal/pool/pool.go) and
// Manager (internal/pool/manager.go), collapsed from many buckets down
// to one pool bound to a single embedded SQLite file, per spec.md §1.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lunarforge/sqlitepool/config"
	"github.com/lunarforge/sqlitepool/dbopen"
	"github.com/lunarforge/sqlitepool/metrics"
	"github.com/lunarforge/sqlitepool/pool/scheduler"
	"github.com/lunarforge/sqlitepool/pool/sizing"
	"github.com/lunarforge/sqlitepool/pool/telemetry"
)

// lifecycleState is the pool's own Started/Stopped state machine
// (spec.md §3 "Pool lifecycle"), distinct from a wrapper's State.
type lifecycleState int

const (
	lifecycleConstructed lifecycleState = iota
	lifecycleStarted
	lifecycleStopped
)

// Snapshot is the point-in-time view Stats() returns (spec.md §3 "Pool
// stats snapshot").
type Snapshot struct {
	Active        int
	Idle          int
	Waiting       int
	Max           int
	TotalCreated  uint64
	TotalServed   uint64
	TotalErrors   uint64
	SuccessRate   float64
	AverageWaitMs float64
	Timestamp     time.Time
}

// Metrics is the response returned by PerformanceMetrics (spec.md §6).
type Metrics struct {
	Total         uint64
	Success       uint64
	Failure       uint64
	MinMs         float64
	AvgMs         float64
	MaxMs         float64
	P50Ms         float64
	P95Ms         float64
	P99Ms         float64
	ThroughputRPS float64
	ErrorRatePct  float64
}

// Pool is a connection pool bound to exactly one embedded SQLite file.
// The zero value is not usable; construct with New.
type Pool struct {
	cfg    *config.Config
	opener *dbopen.Opener
	logger zerolog.Logger

	mu    sync.Mutex // guards every field below (spec.md §4.3.3)
	state lifecycleState

	wrappers map[string]*Wrapper // registry: every live wrapper, idle or in-use
	idle     []*Wrapper          // FIFO: idle[0] is the oldest idle wrapper
	inUse    map[string]*Wrapper

	scheduler *scheduler.Scheduler

	totalCreated   uint64
	pendingCreates int // slots reserved for in-flight createLocked calls, not yet in wrappers

	cancel context.CancelFunc
	wg     sync.WaitGroup

	telemetry *telemetry.Store
	sizing    *sizing.Engine

	onAlert func(Alert)
}

// Alert is an ambient observability notification (SPEC_FULL addition
// C.2): the sizing engine crossed an anomaly or error-rate threshold.
// It never blocks and never participates in a scaling decision — it is
// purely informational for an external callback.
type Alert struct {
	Kind         string
	Message      string
	At           time.Time
	AnomalyScore float64
	SuccessRate  float64
}

// OnAlert registers a callback invoked whenever maybeAdjustSize
// observes an anomaly score >= 0.8 or a success rate below 90%
// (original_source's PerformanceAlert / add_alert_callback). Only the
// most recently registered callback is kept; pass nil to unregister.
// The callback runs synchronously on whatever goroutine triggered the
// sizing cycle, so it should return quickly.
func (p *Pool) OnAlert(fn func(Alert)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onAlert = fn
}

// New constructs a pool. The pool is not running until Start is called.
func New(cfg *config.Config, logger zerolog.Logger) *Pool {
	return &Pool{
		cfg:       cfg,
		opener:    dbopen.New(cfg.DatabasePath),
		logger:    logger.With().Str("component", "pool").Logger(),
		state:     lifecycleConstructed,
		wrappers:  make(map[string]*Wrapper),
		inUse:     make(map[string]*Wrapper),
		scheduler: scheduler.New(),
		telemetry: telemetry.New(),
		sizing:    sizing.New(cfg.MinConnections, cfg.MaxConnections),
	}
}

// Start is idempotent: creates min wrappers (best-effort — failures are
// logged, not fatal) and spawns the background loops (spec.md §4.6).
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state == lifecycleStarted {
		p.mu.Unlock()
		return nil
	}
	p.state = lifecycleStarted
	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	for i := 0; i < p.cfg.MinConnections; i++ {
		w, err := p.createLocked(ctx)
		if err != nil {
			p.logger.Warn().Err(err).Msg("failed to create initial connection during start")
			continue
		}
		w.markIdle()
		p.mu.Lock()
		p.idle = append(p.idle, w)
		p.mu.Unlock()
	}

	if p.cfg.EnableMonitoring {
		p.wg.Add(1)
		go p.monitorLoop(loopCtx)
	}
	p.wg.Add(1)
	go p.cleanupLoop(loopCtx)

	return nil
}

// Stop is idempotent: cancels both background loops, waits for them to
// exit, then closes every wrapper and clears all queues.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.state != lifecycleStarted {
		p.state = lifecycleStopped
		p.mu.Unlock()
		return
	}
	p.state = lifecycleStopped
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	for _, w := range p.wrappers {
		w.Close()
	}
	p.wrappers = make(map[string]*Wrapper)
	p.inUse = make(map[string]*Wrapper)
	p.idle = nil
	p.mu.Unlock()
}

// createLocked opens a new physical connection and registers a wrapper
// for it (spec.md §4.3.2). The (possibly blocking) DB open happens
// outside the pool lock so one slow create never stalls other callers.
func (p *Pool) createLocked(ctx context.Context) (*Wrapper, error) {
	createCtx := ctx
	var cancel context.CancelFunc
	if p.cfg.ConnectionTimeout > 0 {
		createCtx, cancel = context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
		defer cancel()
	}

	db, err := p.opener.Open(createCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}

	w := newWrapper(db)

	p.mu.Lock()
	p.wrappers[w.id] = w
	p.totalCreated++
	p.mu.Unlock()

	return w, nil
}

// reserveCreateSlot reserves one creation slot against max, accounting
// for wrappers already registered plus creations already in flight, so
// that a burst of concurrent callers checking capacity at the same
// time can't all observe room and overshoot max together (spec.md §8:
// "active + idle <= max" for every snapshot). Must be called while
// holding p.mu. Returns false if no slot is available.
func (p *Pool) reserveCreateSlot() bool {
	if len(p.wrappers)+p.pendingCreates >= p.cfg.MaxConnections {
		return false
	}
	p.pendingCreates++
	return true
}

// releaseCreateSlot gives back a slot reserved by reserveCreateSlot,
// whether or not the create it guarded succeeded. Must be called
// without holding p.mu.
func (p *Pool) releaseCreateSlot() {
	p.mu.Lock()
	p.pendingCreates--
	p.mu.Unlock()
}

// acquireOptions carries the per-call priority and deadline spec.md §6
// exposes as optional Acquire parameters.
type acquireOptions struct {
	priority int
	deadline time.Time
}

// AcquireOption customizes a single Acquire/WithConnection call.
type AcquireOption func(*acquireOptions)

// WithPriority sets the waiter priority used if the caller must queue
// (spec.md §4.4: higher values win).
func WithPriority(priority int) AcquireOption {
	return func(o *acquireOptions) { o.priority = priority }
}

// WithDeadline overrides the deadline derived from ctx or the pool's
// configured acquire-timeout.
func WithDeadline(deadline time.Time) AcquireOption {
	return func(o *acquireOptions) { o.deadline = deadline }
}

func resolveOptions(ctx context.Context, cfg *config.Config, opts []AcquireOption) acquireOptions {
	o := acquireOptions{}
	if dl, ok := ctx.Deadline(); ok {
		o.deadline = dl
	} else if cfg.AcquireTimeout > 0 {
		o.deadline = time.Now().Add(cfg.AcquireTimeout)
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Acquire hands out a wrapper following spec.md §4.3.1: reuse an idle,
// healthy wrapper if one exists; otherwise grow if under max; otherwise
// queue behind a fair waiter until one is handed off or the deadline
// elapses.
func (p *Pool) Acquire(ctx context.Context, opts ...AcquireOption) (*Wrapper, error) {
	o := resolveOptions(ctx, p.cfg, opts)

	p.mu.Lock()
	if p.state != lifecycleStarted {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	for len(p.idle) > 0 {
		w := p.idle[0]
		p.idle = p.idle[1:]

		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		healthy := w.IsHealthy(healthCtx)
		cancel()

		if !healthy {
			delete(p.wrappers, w.id)
			p.mu.Unlock()
			w.Close()
			p.mu.Lock()
			continue
		}

		w.markAcquired()
		p.inUse[w.id] = w
		p.mu.Unlock()
		p.telemetry.RecordSuccess(0)
		metrics.ConnectionsTotal.WithLabelValues("idle_reuse").Inc()
		return w, nil
	}

	if p.reserveCreateSlot() {
		p.mu.Unlock()
		w, err := p.createLocked(ctx)
		p.releaseCreateSlot()
		if err != nil {
			p.telemetry.RecordFailure()
			metrics.ConnectionErrors.WithLabelValues("create_failed").Inc()
			return nil, err
		}
		p.mu.Lock()
		w.markAcquired()
		p.inUse[w.id] = w
		p.mu.Unlock()
		p.telemetry.RecordSuccess(0)
		metrics.ConnectionsTotal.WithLabelValues("created").Inc()
		return w, nil
	}

	enqueuedAt := time.Now()
	waiter := &scheduler.Waiter{
		ID:         uuid.NewString(),
		Priority:   o.priority,
		EnqueuedAt: enqueuedAt,
		Deadline:   o.deadline,
		Resolve:    make(chan any, 1),
	}
	p.scheduler.Enqueue(waiter)
	p.mu.Unlock()

	var deadlineCh <-chan time.Time
	if !o.deadline.IsZero() {
		timer := time.NewTimer(time.Until(o.deadline))
		defer timer.Stop()
		deadlineCh = timer.C
	}

	select {
	case v := <-waiter.Resolve:
		w := v.(*Wrapper)
		wait := time.Since(enqueuedAt)
		p.telemetry.RecordSuccess(float64(wait.Milliseconds()))
		metrics.QueueWaitDuration.Observe(wait.Seconds())
		metrics.ConnectionsTotal.WithLabelValues("handoff").Inc()
		return w, nil
	case <-deadlineCh:
		p.mu.Lock()
		p.scheduler.Remove(waiter)
		p.mu.Unlock()

		// A handoff may have raced the timer and already delivered a
		// wrapper (spec.md §5 cancellation safety): drain non-blockingly
		// and return it to idle rather than leaking it.
		select {
		case v := <-waiter.Resolve:
			w := v.(*Wrapper)
			p.Release(w)
		default:
		}
		p.telemetry.RecordFailure()
		metrics.ConnectionErrors.WithLabelValues("timeout").Inc()
		return nil, ErrTimeout
	case <-ctx.Done():
		p.mu.Lock()
		p.scheduler.Remove(waiter)
		p.mu.Unlock()
		select {
		case v := <-waiter.Resolve:
			w := v.(*Wrapper)
			p.Release(w)
		default:
		}
		p.telemetry.RecordFailure()
		metrics.ConnectionErrors.WithLabelValues("context_cancelled").Inc()
		return nil, ctx.Err()
	}
}

// Release returns a wrapper to the pool following spec.md §4.3.1:
// unhealthy wrappers are destroyed and replaced (if under min); healthy
// ones are either handed directly to a waiting caller or pushed onto
// the idle queue. maybe-adjust-size always runs afterward.
func (p *Pool) Release(w *Wrapper) {
	p.mu.Lock()
	if _, known := p.wrappers[w.id]; !known {
		p.mu.Unlock()
		return
	}
	if w.State() == StateClosed {
		delete(p.inUse, w.id)
		p.mu.Unlock()
		return
	}

	healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	healthy := w.IsHealthy(healthCtx)
	cancel()

	delete(p.inUse, w.id)

	if !healthy {
		delete(p.wrappers, w.id)
		p.mu.Unlock()
		w.Close()

		p.mu.Lock()
		belowMin := len(p.wrappers) < p.cfg.MinConnections
		p.mu.Unlock()

		if belowMin {
			if repl, err := p.createLocked(context.Background()); err == nil {
				repl.markIdle()
				p.mu.Lock()
				p.idle = append(p.idle, repl)
				p.mu.Unlock()
			} else {
				p.logger.Warn().Err(err).Msg("failed to replace unhealthy connection")
			}
		}
		p.maybeAdjustSize()
		return
	}

	if handed := p.scheduler.Handoff(w); handed != nil {
		w.markAcquired()
		p.inUse[w.id] = w
		p.mu.Unlock()
		p.maybeAdjustSize()
		return
	}

	w.markIdle()
	p.idle = append(p.idle, w)
	p.mu.Unlock()
	p.maybeAdjustSize()
}

// WithConnection scopes an acquire/release around fn, guaranteeing
// release on every exit path including a failure from fn (spec.md
// §4.3.1).
func (p *Pool) WithConnection(ctx context.Context, fn func(*Wrapper) error, opts ...AcquireOption) error {
	w, err := p.Acquire(ctx, opts...)
	if err != nil {
		return err
	}
	defer p.Release(w)
	return fn(w)
}

// Stats assembles the snapshot described in spec.md §3 under a brief
// hold of the pool lock.
func (p *Pool) Stats() Snapshot {
	p.mu.Lock()
	active := len(p.inUse)
	idle := len(p.idle)
	waiting := p.scheduler.Len()
	max := p.cfg.MaxConnections
	created := p.totalCreated
	p.mu.Unlock()

	return Snapshot{
		Active:        active,
		Idle:          idle,
		Waiting:       waiting,
		Max:           max,
		TotalCreated:  created,
		TotalServed:   p.telemetry.TotalServed(),
		TotalErrors:   p.telemetry.TotalErrors(),
		SuccessRate:   p.telemetry.SuccessRate(),
		AverageWaitMs: p.telemetry.RecentAverage(10),
		Timestamp:     time.Now(),
	}
}

// PerformanceMetrics reports the response-time distribution and
// throughput spec.md §6 specifies.
func (p *Pool) PerformanceMetrics() Metrics {
	served := p.telemetry.TotalServed()
	errs := p.telemetry.TotalErrors()

	return Metrics{
		Total:         served + errs,
		Success:       served,
		Failure:       errs,
		MinMs:         p.telemetry.Percentile(0),
		AvgMs:         p.telemetry.RecentAverage(int(served)),
		MaxMs:         p.telemetry.Percentile(100),
		P50Ms:         p.telemetry.Percentile(50),
		P95Ms:         p.telemetry.Percentile(95),
		P99Ms:         p.telemetry.Percentile(99),
		ThroughputRPS: p.telemetry.Throughput(60 * time.Second),
		ErrorRatePct:  100 - p.telemetry.SuccessRate(),
	}
}

// Optimize forces one sizing-engine cycle plus a full health sweep,
// restoring min (spec.md §4.3.1).
func (p *Pool) Optimize() {
	p.maybeAdjustSize()
	p.healthSweep()
}

// maybeAdjustSize samples the sizing engine and applies its decision
// (spec.md §4.5.3). Called unconditionally after every Release and once
// per monitor-loop tick.
func (p *Pool) maybeAdjustSize() {
	// sizing.Engine is not concurrency-safe on its own (see its doc
	// comment): Sample and Decide mutate its rolling history and
	// cooldown state, so both must run serialized under the pool lock
	// exactly like every other shared field (spec.md §4.3.3). in is
	// captured in the same critical section so applyDecision's notion
	// of "current" matches the snapshot the engine actually decided on.
	p.mu.Lock()
	in := sizing.Inputs{
		Active:           len(p.inUse),
		Idle:             len(p.idle),
		Waiters:          p.scheduler.Len(),
		SuccessRate:      p.telemetry.SuccessRate(),
		AvgWaitMs:        p.telemetry.RecentAverage(10),
		RecentErrorCount: p.telemetry.ErrorCountSince(60 * time.Second),
	}
	throughput := p.telemetry.Throughput(60 * time.Second)
	p.sizing.Sample(in, throughput)
	decision := p.sizing.Decide(in, time.Now())
	p.mu.Unlock()

	score := sizing.LoadScore(in)
	p.telemetry.RecordLoadScore(score)
	metrics.LoadScore.Set(score)

	p.reportDecision(decision.Decision.String())
	p.maybeFireAlert(decision, in)
	p.applyDecision(decision, in)
}

// maybeFireAlert invokes the registered OnAlert callback when the
// sizing engine's anomaly score or the pool's success rate crosses the
// thresholds original_source's performance_monitor.py alerts on.
func (p *Pool) maybeFireAlert(decision sizing.Result, in sizing.Inputs) {
	p.mu.Lock()
	fn := p.onAlert
	p.mu.Unlock()
	if fn == nil {
		return
	}

	switch {
	case decision.AnomalyScore >= 0.8:
		fn(Alert{
			Kind:         "anomaly",
			Message:      "response-time anomaly score crossed 0.8",
			At:           time.Now(),
			AnomalyScore: decision.AnomalyScore,
			SuccessRate:  in.SuccessRate,
		})
	case in.SuccessRate < 90:
		fn(Alert{
			Kind:         "error_rate",
			Message:      "success rate dropped below 90%",
			At:           time.Now(),
			AnomalyScore: decision.AnomalyScore,
			SuccessRate:  in.SuccessRate,
		})
	}
}

func (p *Pool) applyDecision(decision sizing.Result, in sizing.Inputs) {
	current := in.Active + in.Idle

	switch decision.Decision {
	case sizing.ScaleUp, sizing.EmergencyScaleUp:
		toCreate := decision.TargetSize - current
		for i := 0; i < toCreate; i++ {
			p.mu.Lock()
			ok := p.reserveCreateSlot()
			p.mu.Unlock()
			if !ok {
				break
			}

			w, err := p.createLocked(context.Background())
			p.releaseCreateSlot()
			if err != nil {
				p.logger.Warn().Err(err).Msg("scale-up create failed, aborting remainder of cycle")
				break
			}
			// Newly created wrappers during scale-up enter idle state
			// directly (spec.md §9 Open Question).
			w.markIdle()
			p.mu.Lock()
			if handed := p.scheduler.Handoff(w); handed != nil {
				w.markAcquired()
				p.inUse[w.id] = w
			} else {
				p.idle = append(p.idle, w)
			}
			p.mu.Unlock()
		}
	case sizing.ScaleDown:
		p.mu.Lock()
		for len(p.idle) > 0 && len(p.wrappers) > decision.TargetSize && len(p.wrappers) > p.cfg.MinConnections {
			oldest := p.idle[0]
			p.idle = p.idle[1:]
			delete(p.wrappers, oldest.id)
			p.mu.Unlock()
			if err := oldest.Close(); err != nil {
				p.logger.Warn().Err(err).Msg("destruction failed during scale-down")
			}
			p.mu.Lock()
		}
		p.mu.Unlock()
	}
}

// healthSweep probes every idle wrapper, destroying any that fail and
// restoring min by creating replacements (spec.md §4.6 cleanup loop,
// §4.3.1 Optimize).
func (p *Pool) healthSweep() {
	p.mu.Lock()
	idleCopy := make([]*Wrapper, len(p.idle))
	copy(idleCopy, p.idle)
	p.mu.Unlock()

	ctx := context.Background()
	var dead []*Wrapper
	for _, w := range idleCopy {
		if !w.IsHealthy(ctx) {
			dead = append(dead, w)
		}
	}

	if len(dead) > 0 {
		deadSet := make(map[string]bool, len(dead))
		for _, w := range dead {
			deadSet[w.id] = true
		}

		p.mu.Lock()
		kept := p.idle[:0]
		for _, w := range p.idle {
			if deadSet[w.id] {
				delete(p.wrappers, w.id)
			} else {
				kept = append(kept, w)
			}
		}
		p.idle = kept
		p.mu.Unlock()

		for _, w := range dead {
			w.Close()
		}
	}

	p.mu.Lock()
	deficit := p.cfg.MinConnections - len(p.wrappers)
	p.mu.Unlock()

	for i := 0; i < deficit; i++ {
		w, err := p.createLocked(ctx)
		if err != nil {
			p.logger.Warn().Err(err).Msg("failed to restore min during health sweep")
			break
		}
		w.markIdle()
		p.mu.Lock()
		p.idle = append(p.idle, w)
		p.mu.Unlock()
	}
}
