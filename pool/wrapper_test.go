package pool

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wrapper_test.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestWrapper_ExecuteSuccessIncrementsUseCount(t *testing.T) {
	w := newWrapper(openTestDB(t))
	ctx := context.Background()

	if _, err := w.Execute(ctx, "CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if _, err := w.Execute(ctx, "INSERT INTO t (id) VALUES (1)"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if got := w.UseCount(); got != 2 {
		t.Errorf("UseCount() = %d, want 2", got)
	}
	if got := w.State(); got != StateIdle {
		t.Errorf("State() after successful Execute = %v, want idle", got)
	}
}

func TestWrapper_ExecuteFailureSetsErrorState(t *testing.T) {
	w := newWrapper(openTestDB(t))
	ctx := context.Background()

	if _, err := w.Execute(ctx, "INSERT INTO nonexistent_table VALUES (1)"); err == nil {
		t.Fatal("Execute() on nonexistent table, want error")
	}

	if got := w.State(); got != StateError {
		t.Errorf("State() after failed Execute = %v, want error", got)
	}
	if got := w.ErrorCount(); got != 1 {
		t.Errorf("ErrorCount() = %d, want 1", got)
	}
	if got := w.UseCount(); got != 0 {
		t.Errorf("UseCount() after failure = %d, want 0 (only successes count)", got)
	}
}

func TestWrapper_IsHealthy(t *testing.T) {
	w := newWrapper(openTestDB(t))
	if !w.IsHealthy(context.Background()) {
		t.Error("IsHealthy() = false on a freshly opened database")
	}
}

func TestWrapper_CloseIsIdempotent(t *testing.T) {
	w := newWrapper(openTestDB(t))

	if err := w.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error = %v, want nil (idempotent)", err)
	}
	if got := w.State(); got != StateClosed {
		t.Errorf("State() after Close() = %v, want closed", got)
	}
}

func TestWrapper_MarkAcquiredAndIdle(t *testing.T) {
	w := newWrapper(openTestDB(t))

	w.markIdle()
	if got := w.State(); got != StateIdle {
		t.Errorf("State() after markIdle = %v, want idle", got)
	}

	w.markAcquired()
	if got := w.State(); got != StateActive {
		t.Errorf("State() after markAcquired = %v, want active", got)
	}
}

func TestWrapper_IdleDurationWithoutUse(t *testing.T) {
	w := newWrapper(openTestDB(t))
	if d := w.idleDuration(); d < 0 {
		t.Errorf("idleDuration() = %v, want >= 0", d)
	}
}
