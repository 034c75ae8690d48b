package sizing

import (
	"testing"
	"time"
)

func TestLoadScore_WeightsAndClamping(t *testing.T) {
	score := LoadScore(Inputs{
		Active:      10,
		Idle:        0,
		Waiters:     0,
		SuccessRate: 100,
		AvgWaitMs:   0,
	})
	if score != 40 {
		t.Errorf("LoadScore() with all-active = %v, want 40 (activeScore 100 * 0.4)", score)
	}

	overloaded := LoadScore(Inputs{
		Active:      5,
		Idle:        5,
		Waiters:     20, // far beyond the 100/20=5 clamp point
		SuccessRate: 0,
		AvgWaitMs:   1000,
	})
	if overloaded > 100 {
		t.Errorf("LoadScore() = %v, exceeds clamp of 100", overloaded)
	}
}

func TestEngine_LowSampleCountReturnsLowConfidenceDefault(t *testing.T) {
	e := New(2, 20)
	res := e.Decide(Inputs{Active: 1, Idle: 1, SuccessRate: 100}, time.Now())
	if res.Decision != Maintain {
		t.Errorf("Decide() with no history = %v, want Maintain", res.Decision)
	}
	if res.PredictedLoad != 50 {
		t.Errorf("PredictedLoad with no history = %v, want default 50", res.PredictedLoad)
	}
}

func TestEngine_EmergencyBypassesCooldown(t *testing.T) {
	e := New(2, 20)
	now := time.Now()

	// Prime some history so predict() isn't in the <5-sample fallback.
	for i := 0; i < 10; i++ {
		e.Sample(Inputs{Active: 8, Idle: 0, SuccessRate: 100, AvgWaitMs: 10}, 5)
	}

	res := e.Decide(Inputs{Active: 8, Idle: 0, Waiters: 10, SuccessRate: 100}, now)
	if res.Decision != EmergencyScaleUp {
		t.Fatalf("Decide() with waiters=10 = %v, want EmergencyScaleUp", res.Decision)
	}
	if res.TargetSize <= 8 {
		t.Errorf("emergency TargetSize = %d, want > current (8)", res.TargetSize)
	}
	if res.TargetSize > 20 {
		t.Errorf("emergency TargetSize = %d, exceeds max 20", res.TargetSize)
	}

	// The emergency decision above started a cooldown window; a second
	// emergency one second later must still scale up.
	again := e.Decide(Inputs{Active: 8, Idle: 0, Waiters: 10, SuccessRate: 100}, now.Add(time.Second))
	if again.Decision != EmergencyScaleUp {
		t.Errorf("Decide() with waiters=10 inside cooldown = %v, want EmergencyScaleUp", again.Decision)
	}
}

func TestEngine_NeverExceedsMaxOrMin(t *testing.T) {
	e := New(2, 5)
	now := time.Now()

	for i := 0; i < 10; i++ {
		e.Sample(Inputs{Active: 5, Idle: 0, SuccessRate: 100, AvgWaitMs: 1000}, 1)
	}
	res := e.Decide(Inputs{Active: 5, Idle: 0, Waiters: 50, SuccessRate: 0}, now)
	if res.TargetSize > 5 {
		t.Errorf("TargetSize = %d, exceeds max 5", res.TargetSize)
	}
	if res.TargetSize < 2 {
		t.Errorf("TargetSize = %d, below min 2", res.TargetSize)
	}
}

func TestEngine_CooldownGate(t *testing.T) {
	e := New(2, 20)
	now := time.Now()

	// A quiet, oversized pool: the first decision shrinks it, which
	// starts the cooldown window.
	for i := 0; i < 20; i++ {
		e.Sample(Inputs{Active: 0, Idle: 10, SuccessRate: 100, AvgWaitMs: 5}, 5)
	}

	first := e.Decide(Inputs{Active: 0, Idle: 10, SuccessRate: 100}, now)
	if first.Decision != ScaleDown {
		t.Fatalf("first Decide() = %v, want ScaleDown", first.Decision)
	}

	// Within cooldown window, a non-emergency decision must be Maintain
	// regardless of the underlying score.
	second := e.Decide(Inputs{Active: 0, Idle: 10, Waiters: 2, SuccessRate: 50}, now.Add(time.Second))
	if second.Decision != Maintain {
		t.Errorf("Decide() within cooldown = %v, want Maintain", second.Decision)
	}
}

func TestRing_EvictsOldest(t *testing.T) {
	r := newRing(3)
	r.push(1)
	r.push(2)
	r.push(3)
	r.push(4)

	got := r.slice()
	want := []float64{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("slice() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("slice()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestStddev_ConstantSeriesIsZero(t *testing.T) {
	if got := stddev([]float64{5, 5, 5, 5}); got != 0 {
		t.Errorf("stddev(constant) = %v, want 0", got)
	}
}
