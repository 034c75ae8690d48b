// Package sizing implements the adaptive sizing engine (spec.md §4.5,
// C5): load scoring, short/long-moving-average prediction, anomaly
// detection and the scale-up/down/maintain decision function.
//
// Directly grounded on
// original_source/services/connection_pool/adaptive_algorithm.py's
// AdaptiveScalingAlgorithm — the Go functions below mirror
// _calculate_load_score, _predict_load, _analyze_performance_trend,
// _detect_anomaly and _make_scaling_decision respectively.
package sizing

import (
	"math"
	"time"
)

// Decision is the kind of scaling action the engine recommends.
type Decision int

const (
	Maintain Decision = iota
	ScaleUp
	ScaleDown
	EmergencyScaleUp
)

func (d Decision) String() string {
	switch d {
	case ScaleUp:
		return "scale_up"
	case ScaleDown:
		return "scale_down"
	case EmergencyScaleUp:
		return "emergency_scale_up"
	default:
		return "maintain"
	}
}

// Inputs is the current pool state fed to the engine once per sample
// (spec.md §4.5.3).
type Inputs struct {
	Active           int
	Idle             int
	Waiters          int
	SuccessRate      float64 // 0-100
	AvgWaitMs        float64 // recent average, last 10 samples
	RecentErrorCount int
}

// Result carries the engine's decision plus the prediction/anomaly
// values that produced it, for logging and PerformanceMetrics.
type Result struct {
	Decision         Decision
	TargetSize       int
	Confidence       float64
	PredictedLoad    float64
	AnomalyScore     float64
	PerformanceTrend float64
	DecisionScore    float64
}

// Engine owns the rolling history (spec.md §3 "Adaptive sizing state")
// and the cooldown/consecutive-decision bookkeeping. It is not
// concurrency-safe on its own — the pool core calls it only from
// within its own lock or from the single background monitor loop.
type Engine struct {
	min, max int

	loadHistory       *ring
	responseHistory   *ring
	connectionHistory *ring
	throughputHistory *ring

	cooldown             time.Duration
	lastDecisionAt       time.Time
	lastDecisionKind     Decision
	consecutiveSameCount int

	// Baseline is the first stable (non-emergency, cooldown-elapsed)
	// decision's response-time snapshot (SPEC_FULL addition C.1).
	Baseline *Baseline
}

// Baseline records the pool's first stable performance snapshot, used
// only for external reporting — never consulted by the decision logic.
type Baseline struct {
	AvgResponseMs float64
	ThroughputRPS float64
	SetAt         time.Time
}

// New creates a sizing engine for a pool bounded by [min, max].
func New(min, max int) *Engine {
	return &Engine{
		min:               min,
		max:               max,
		loadHistory:       newRing(300),
		responseHistory:   newRing(300),
		connectionHistory: newRing(300),
		throughputHistory: newRing(60),
		cooldown:          30 * time.Second,
		lastDecisionAt:    time.Now().Add(-time.Hour), // never in cooldown on first sample
		lastDecisionKind:  Maintain,
	}
}

// LoadScore computes the weighted load score in [0, 100] (spec.md
// §4.5.1).
func LoadScore(in Inputs) float64 {
	total := in.Active + in.Idle
	activeRatio := 0.0
	if total > 0 {
		activeRatio = float64(in.Active) / float64(total)
	}
	activeScore := clamp(activeRatio*100, 0, 100)

	queueScore := clamp(float64(in.Waiters)*20, 0, 100)

	responseScore := clamp(in.AvgWaitMs/50*100, 0, 100)

	errorScore := clamp((100-in.SuccessRate)*5, 0, 100)

	return clamp(
		activeScore*0.4+queueScore*0.3+responseScore*0.2+errorScore*0.1,
		0, 100,
	)
}

// Sample records one observation into the rolling history. Call this
// once per background-loop tick and once per release-time trigger,
// before calling Decide (spec.md §4.5.1's "per sample").
func (e *Engine) Sample(in Inputs, throughputRPS float64) {
	score := LoadScore(in)
	e.loadHistory.push(score)
	e.responseHistory.push(in.AvgWaitMs)
	e.connectionHistory.push(float64(in.Active + in.Idle))
	e.throughputHistory.push(throughputRPS)
}

// prediction mirrors Python's LoadPrediction / _predict_load.
type prediction struct {
	predictedLoad       float64
	confidence          float64
	trend               float64
	recommendedCapacity int
}

func (e *Engine) predict() prediction {
	if e.loadHistory.len() < 5 {
		return prediction{predictedLoad: 50, confidence: 0.1, recommendedCapacity: e.min}
	}

	recent := e.loadHistory.tail(30)
	shortMA := mean(lastN(recent, 5))
	longMA := mean(lastN(recent, 15))

	trend := 0.0
	if longMA > 0 {
		trend = (shortMA - longMA) / longMA
	}
	trend = clamp(trend, -1, 1)

	predictedLoad := clamp(shortMA*(1+trend*0.2), 0, 100)

	v := variance(recent)
	confidence := math.Max(0.1, 1-v/1000)

	return prediction{
		predictedLoad:       predictedLoad,
		confidence:          confidence,
		trend:               trend,
		recommendedCapacity: e.optimalCapacity(predictedLoad),
	}
}

func lastN(xs []float64, n int) []float64 {
	if n >= len(xs) {
		return xs
	}
	return xs[len(xs)-n:]
}

// optimalCapacity applies the buffer factor and clamps to [min, max]
// (spec.md §4.5.3 "Recommended capacity").
func (e *Engine) optimalCapacity(predictedLoad float64) int {
	base := math.Ceil(predictedLoad / 100 * float64(e.max))

	var buffer float64
	switch {
	case predictedLoad > 70:
		buffer = 1.3
	case predictedLoad > 50:
		buffer = 1.2
	default:
		buffer = 1.1
	}

	capacity := int(math.Ceil(base * buffer))
	if capacity < e.min {
		capacity = e.min
	}
	if capacity > e.max {
		capacity = e.max
	}
	return capacity
}

// performanceTrend mirrors _analyze_performance_trend: positive values
// mean performance improved (response times dropped), negative means
// degradation.
func (e *Engine) performanceTrend() float64 {
	if e.responseHistory.len() < 10 {
		return 0
	}
	all := e.responseHistory.slice()
	recent := lastN(all, 10)

	var earlier []float64
	if len(all) >= 20 {
		earlier = all[len(all)-20 : len(all)-10]
	} else {
		earlier = recent
	}

	recentAvg := mean(recent)
	earlierAvg := mean(earlier)
	if earlierAvg == 0 {
		return 0
	}
	return clamp((earlierAvg-recentAvg)/earlierAvg, -1, 1)
}

// anomalyScore mirrors _detect_anomaly: a clamped z-score of the
// recent response-time mean against the historical distribution.
func (e *Engine) anomalyScore() float64 {
	if e.responseHistory.len() < 20 {
		return 0
	}
	all := e.responseHistory.slice()
	recent := all[len(all)-10:]
	historical := all[:len(all)-10]

	histMean := mean(historical)
	histStd := stddev(historical)
	if histStd == 0 {
		return 0
	}

	recentMean := mean(recent)
	z := math.Abs((recentMean - histMean) / histStd)
	return clamp(z, 0, 1)
}

// Decide runs one full cycle of the engine: prediction, trend,
// anomaly, then the decision function (spec.md §4.5.3). Call after
// Sample. now is passed in explicitly so tests can control time.
func (e *Engine) Decide(in Inputs, now time.Time) Result {
	pred := e.predict()
	trend := e.performanceTrend()
	anomaly := e.anomalyScore()
	current := in.Active + in.Idle

	res := Result{
		PredictedLoad:    pred.predictedLoad,
		AnomalyScore:     anomaly,
		PerformanceTrend: trend,
	}

	emergency := pred.predictedLoad > 90 || anomaly >= 0.8 || in.Waiters > 5
	if emergency {
		target := current + int(math.Ceil(float64(current)*0.5))
		if target > e.max {
			target = e.max
		}
		res.Decision = EmergencyScaleUp
		res.TargetSize = target
		res.Confidence = 0.9
		e.recordDecision(res.Decision, now)
		return res
	}

	if now.Sub(e.lastDecisionAt) < e.cooldown {
		res.Decision = Maintain
		res.TargetSize = current
		res.Confidence = 0.5
		return res
	}

	recommended := pred.recommendedCapacity
	diff := recommended - current
	relDiff := 0.0
	if current > 0 {
		relDiff = float64(diff) / float64(current)
	}

	score := pred.predictedLoad/100*0.4 +
		math.Max(0, -trend)*0.3 +
		anomaly*0.2 +
		math.Max(0, relDiff)*0.1
	res.DecisionScore = score

	switch {
	case score > 0.7 && recommended > current:
		res.Decision = ScaleUp
		res.TargetSize = min(recommended, e.max)
		res.Confidence = pred.confidence * 0.8
	case score < 0.3 && recommended < current:
		res.Decision = ScaleDown
		res.TargetSize = max(recommended, e.min)
		res.Confidence = pred.confidence * 0.6
	default:
		res.Decision = Maintain
		res.TargetSize = current
		res.Confidence = 0.5
	}

	e.recordDecision(res.Decision, now)

	if e.Baseline == nil && res.Decision != EmergencyScaleUp {
		e.Baseline = &Baseline{
			AvgResponseMs: in.AvgWaitMs,
			ThroughputRPS: mean(e.throughputHistory.tail(5)),
			SetAt:         now,
		}
	}

	return res
}

func (e *Engine) recordDecision(d Decision, now time.Time) {
	if d == e.lastDecisionKind {
		e.consecutiveSameCount++
	} else {
		e.consecutiveSameCount = 1
	}
	e.lastDecisionKind = d
	if d != Maintain {
		e.lastDecisionAt = now
	}
}

// Status exposes introspection fields mirroring Python's
// get_algorithm_status() (SPEC_FULL addition C.4).
type Status struct {
	LoadHistorySize      int
	ResponseHistorySize  int
	ConsecutiveDecisions int
	LastDecisionKind     Decision
	LastDecisionAt       time.Time
}

func (e *Engine) Status() Status {
	return Status{
		LoadHistorySize:      e.loadHistory.len(),
		ResponseHistorySize:  e.responseHistory.len(),
		ConsecutiveDecisions: e.consecutiveSameCount,
		LastDecisionKind:     e.lastDecisionKind,
		LastDecisionAt:       e.lastDecisionAt,
	}
}
