package pool

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lunarforge/sqlitepool/config"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestPool(t *testing.T, min, max int) *Pool {
	t.Helper()
	cfg := config.Default(filepath.Join(t.TempDir(), "pool_test.sqlite"))
	cfg.MinConnections = min
	cfg.MaxConnections = max
	cfg.EnableMonitoring = false

	p := New(cfg, testLogger())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(p.Stop)
	return p
}

func TestPool_StartCreatesMinConnections(t *testing.T) {
	p := newTestPool(t, 2, 5)
	snap := p.Stats()
	if snap.Idle != 2 {
		t.Errorf("Stats().Idle after Start = %d, want 2", snap.Idle)
	}
	if snap.Active != 0 {
		t.Errorf("Stats().Active after Start = %d, want 0", snap.Active)
	}
}

func TestPool_AcquireRelease(t *testing.T) {
	p := newTestPool(t, 2, 5)
	ctx := context.Background()

	w, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if snap := p.Stats(); snap.Active != 1 || snap.Idle != 1 {
		t.Errorf("Stats() after Acquire = %+v, want active=1 idle=1", snap)
	}

	p.Release(w)
	if snap := p.Stats(); snap.Active != 0 || snap.Idle != 2 {
		t.Errorf("Stats() after Release = %+v, want active=0 idle=2", snap)
	}
}

func TestPool_GrowsUpToMax(t *testing.T) {
	p := newTestPool(t, 1, 3)
	ctx := context.Background()

	var held []*Wrapper
	for i := 0; i < 3; i++ {
		w, err := p.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire() %d error = %v", i, err)
		}
		held = append(held, w)
	}

	snap := p.Stats()
	if snap.Active != 3 {
		t.Errorf("Stats().Active = %d, want 3", snap.Active)
	}
	if snap.TotalCreated > 3 {
		t.Errorf("Stats().TotalCreated = %d, want <= 3", snap.TotalCreated)
	}

	for _, w := range held {
		p.Release(w)
	}
}

func TestPool_ConcurrentAcquireBurstNeverExceedsMax(t *testing.T) {
	const max = 5
	p := newTestPool(t, 1, max)
	ctx := context.Background()

	const burst = 20
	var wg sync.WaitGroup
	held := make(chan *Wrapper, burst)
	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := p.Acquire(ctx, WithDeadline(time.Now().Add(200*time.Millisecond)))
			if err != nil {
				return
			}
			held <- w
		}()
	}
	wg.Wait()
	close(held)

	if snap := p.Stats(); snap.Active+snap.Idle > max {
		t.Errorf("Stats() active+idle = %d, exceeds max %d", snap.Active+snap.Idle, max)
	}
	if snap := p.Stats(); snap.TotalCreated > max {
		t.Errorf("Stats().TotalCreated = %d, exceeds max %d", snap.TotalCreated, max)
	}

	for w := range held {
		p.Release(w)
	}
}

func TestPool_AcquireTimesOutWhenSaturated(t *testing.T) {
	p := newTestPool(t, 1, 2)
	ctx := context.Background()

	w1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	w2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	start := time.Now()
	_, err = p.Acquire(ctx, WithDeadline(time.Now().Add(100*time.Millisecond)))
	elapsed := time.Since(start)

	if err != ErrTimeout {
		t.Fatalf("Acquire() on saturated pool error = %v, want ErrTimeout", err)
	}
	if elapsed < 90*time.Millisecond {
		t.Errorf("Acquire() returned after %v, want >= ~100ms", elapsed)
	}

	p.Release(w1)
	p.Release(w2)
	if snap := p.Stats(); snap.Idle != 2 {
		t.Errorf("Stats().Idle after releasing both = %d, want 2 (no leak)", snap.Idle)
	}
}

func TestPool_FairHandoffInEnqueueOrder(t *testing.T) {
	p := newTestPool(t, 1, 1)
	ctx := context.Background()

	holder, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	const n = 3
	order := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w, err := p.Acquire(ctx, WithDeadline(time.Now().Add(2*time.Second)))
			if err != nil {
				t.Errorf("waiter %d Acquire() error = %v", id, err)
				return
			}
			order <- id
			p.Release(w)
		}(i)
		time.Sleep(20 * time.Millisecond) // stagger enqueue order deterministically
	}

	time.Sleep(20 * time.Millisecond)
	p.Release(holder)

	wg.Wait()
	close(order)

	var got []int
	for id := range order {
		got = append(got, id)
	}
	if len(got) != n {
		t.Fatalf("resolved %d waiters, want %d", len(got), n)
	}
	for i, id := range got {
		if id != i {
			t.Errorf("resolution order = %v, want 0,1,2 (FIFO)", got)
			break
		}
	}
}

func TestPool_WithConnectionReleasesOnError(t *testing.T) {
	p := newTestPool(t, 1, 2)
	ctx := context.Background()

	wantErr := context.Canceled
	err := p.WithConnection(ctx, func(w *Wrapper) error {
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("WithConnection() error = %v, want %v", err, wantErr)
	}

	if snap := p.Stats(); snap.Active != 0 {
		t.Errorf("Stats().Active after WithConnection failure = %d, want 0 (released)", snap.Active)
	}
}

func TestPool_AcquireAfterStopReturnsPoolClosed(t *testing.T) {
	cfg := config.Default(filepath.Join(t.TempDir(), "pool_test.sqlite"))
	cfg.MinConnections = 1
	cfg.MaxConnections = 2
	p := New(cfg, testLogger())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	p.Stop()

	if _, err := p.Acquire(context.Background()); err != ErrPoolClosed {
		t.Errorf("Acquire() after Stop = %v, want ErrPoolClosed", err)
	}
}

func TestPool_StopIsIdempotent(t *testing.T) {
	p := newTestPool(t, 1, 2)
	p.Stop()
	p.Stop() // must not panic or block
}

func TestPool_OptimizeRunsWithoutError(t *testing.T) {
	p := newTestPool(t, 1, 3)
	p.Optimize()
	if snap := p.Stats(); snap.Idle < 1 {
		t.Errorf("Stats().Idle after Optimize = %d, want >= min", snap.Idle)
	}
}

func TestPool_OnAlertFiresOnLowSuccessRate(t *testing.T) {
	p := newTestPool(t, 1, 3)

	var mu sync.Mutex
	var got []Alert
	p.OnAlert(func(a Alert) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, a)
	})

	for i := 0; i < 5; i++ {
		p.telemetry.RecordFailure()
	}
	p.Optimize()

	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 {
		t.Fatal("OnAlert callback never fired despite success rate at 0%")
	}
	if got[0].Kind != "error_rate" {
		t.Errorf("Alert.Kind = %q, want %q", got[0].Kind, "error_rate")
	}
}
