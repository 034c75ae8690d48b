package pool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lunarforge/sqlitepool/metrics"
)

// State is a connection wrapper's lifecycle state (spec.md §3).
type State int

const (
	StateIdle State = iota
	StateActive
	StateWaiting
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateWaiting:
		return "waiting"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

// Wrapper owns one physical database handle (spec.md §3, C1).
//
// Grounded on the teacher's PooledConn (internal/pool/connection.go):
// same state machine and use/error counters, with IDs generated by
// google/uuid instead of the teacher's hand-rolled itoa counter, and
// with the internal mutex guarding Execute documented in spec.md §4.1
// ("Execute internally guards against re-entrancy via a local mutex so
// stray concurrent uses degrade to serialization, not corruption").
type Wrapper struct {
	mu sync.Mutex

	id string
	db *sql.DB

	state      State
	createdAt  time.Time
	lastUsedAt time.Time
	useCount   uint64
	errorCount uint64
}

func newWrapper(db *sql.DB) *Wrapper {
	return &Wrapper{
		id:        uuid.NewString(),
		db:        db,
		state:     StateActive,
		createdAt: time.Now(),
	}
}

// ID returns the wrapper's unique identifier.
func (w *Wrapper) ID() string { return w.id }

// State returns the current lifecycle state.
func (w *Wrapper) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// UseCount returns how many Execute/Query calls on this wrapper have
// succeeded.
func (w *Wrapper) UseCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.useCount
}

// ErrorCount returns the cumulative Execute/Query failure count.
func (w *Wrapper) ErrorCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.errorCount
}

// CreatedAt returns the wrapper's creation time.
func (w *Wrapper) CreatedAt() time.Time { return w.createdAt }

// LastUsedAt returns the last acquire/release time, or the zero value
// if never used.
func (w *Wrapper) LastUsedAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastUsedAt
}

// DB returns the underlying *sql.DB for callers that need to run
// arbitrary statements beyond Execute/Query.
func (w *Wrapper) DB() *sql.DB { return w.db }

// Execute runs a statement against the underlying handle (spec.md
// §4.1). On success the wrapper returns to idle and the use count
// increments; on failure the error count increments and the wrapper
// transitions to the error state. The error state does not by itself
// remove the wrapper: health sweeps and Release drop a wrapper only when
// its SELECT 1 probe fails, and a later successful call or a release
// back to the idle queue sets the state to idle again.
func (w *Wrapper) Execute(ctx context.Context, query string, args ...any) (sql.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	res, err := w.db.ExecContext(ctx, query, args...)
	metrics.QueryDuration.Observe(time.Since(start).Seconds())
	w.lastUsedAt = time.Now()
	if err != nil {
		w.errorCount++
		w.state = StateError
		metrics.ConnectionErrors.WithLabelValues("execute_failed").Inc()
		return nil, fmt.Errorf("execute: %w", err)
	}
	w.useCount++
	if w.state != StateClosed {
		w.state = StateIdle
	}
	return res, nil
}

// Query runs a read query against the underlying handle, with the
// same bookkeeping as Execute.
func (w *Wrapper) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	rows, err := w.db.QueryContext(ctx, query, args...)
	metrics.QueryDuration.Observe(time.Since(start).Seconds())
	w.lastUsedAt = time.Now()
	if err != nil {
		w.errorCount++
		w.state = StateError
		return nil, fmt.Errorf("query: %w", err)
	}
	w.useCount++
	if w.state != StateClosed {
		w.state = StateIdle
	}
	return rows, nil
}

// IsHealthy issues the trivial "SELECT 1" probe spec.md §4.1
// specifies; any failure returns false.
func (w *Wrapper) IsHealthy(ctx context.Context) bool {
	var result int
	err := w.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	return err == nil
}

// Close is idempotent and always safe; it transitions the wrapper to
// closed and releases the underlying handle.
func (w *Wrapper) Close() error {
	w.mu.Lock()
	if w.state == StateClosed {
		w.mu.Unlock()
		return nil
	}
	w.state = StateClosed
	w.mu.Unlock()
	return w.db.Close()
}

func (w *Wrapper) markAcquired() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = StateActive
	w.lastUsedAt = time.Now()
}

func (w *Wrapper) markIdle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateClosed {
		w.state = StateIdle
	}
	w.lastUsedAt = time.Now()
}

func (w *Wrapper) idleDuration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastUsedAt.IsZero() {
		return time.Since(w.createdAt)
	}
	return time.Since(w.lastUsedAt)
}
