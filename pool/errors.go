package pool

import "errors"

// Sentinel errors surfaced to Acquire/Release callers (spec.md §7). Only
// these three ever cross the public API; Unhealthy and ValidationFailed
// are internal-only concerns (the latter lives in package config).
var (
	// ErrTimeout means the acquire-timeout elapsed before a wrapper
	// became available. The caller should retry with backoff or
	// abandon.
	ErrTimeout = errors.New("sqlitepool: acquire timeout")

	// ErrPoolClosed means the call happened after Stop. Terminal for
	// that caller.
	ErrPoolClosed = errors.New("sqlitepool: pool is closed")

	// ErrCreateFailed means the underlying database-open operation
	// failed. Transient; retried implicitly by the background loops.
	ErrCreateFailed = errors.New("sqlitepool: connection create failed")
)
