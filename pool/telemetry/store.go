// Package telemetry implements the pool's metrics store (spec.md §4.2,
// C2): bounded ring buffers of response times, error events and load
// scores, plus the percentile and throughput queries the sizing engine
// and external callers read from.
//
// Grounded on the ring-buffer sizing in the Python
// ConnectionPoolManager (deque(maxlen=1000/100/60)); reimplemented here
// as fixed-capacity circular slices under a dedicated mutex, per
// spec.md §5 ("the metrics store may use its own lock").
package telemetry

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
)

const (
	responseTimeCapacity = 1000
	errorEventCapacity   = 100
	loadScoreCapacity    = 60
)

// Store is the bounded-memory metrics store for one pool.
type Store struct {
	mu sync.Mutex

	responseTimes []float64 // milliseconds, ring buffer
	rtHead        int
	rtLen         int

	errorEvents []time.Time // ring buffer
	eeHead      int
	eeLen       int

	loadScores []float64 // ring buffer
	lsHead     int
	lsLen      int

	totalServed atomic.Uint64
	totalErrors atomic.Uint64

	windowStart     time.Time
	windowServedAt0 uint64
}

// New creates an empty metrics store.
func New() *Store {
	now := time.Now()
	return &Store{
		responseTimes:   make([]float64, responseTimeCapacity),
		errorEvents:     make([]time.Time, errorEventCapacity),
		loadScores:      make([]float64, loadScoreCapacity),
		windowStart:     now,
		windowServedAt0: 0,
	}
}

// RecordSuccess appends a wait-time sample (ms) and increments the
// served counter. O(1).
func (s *Store) RecordSuccess(waitMs float64) {
	s.mu.Lock()
	s.pushResponseTime(waitMs)
	s.mu.Unlock()
	s.totalServed.Add(1)
}

// RecordFailure appends an error timestamp and increments the error
// counter. O(1).
func (s *Store) RecordFailure() {
	s.mu.Lock()
	s.pushErrorEvent(time.Now())
	s.mu.Unlock()
	s.totalErrors.Add(1)
}

// RecordLoadScore appends a load score sample. The sizing engine keeps
// its own load history and does not read this buffer.
func (s *Store) RecordLoadScore(score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lsLen < loadScoreCapacity {
		s.loadScores[(s.lsHead+s.lsLen)%loadScoreCapacity] = score
		s.lsLen++
	} else {
		s.loadScores[s.lsHead] = score
		s.lsHead = (s.lsHead + 1) % loadScoreCapacity
	}
}

func (s *Store) pushResponseTime(v float64) {
	if s.rtLen < responseTimeCapacity {
		s.responseTimes[(s.rtHead+s.rtLen)%responseTimeCapacity] = v
		s.rtLen++
	} else {
		s.responseTimes[s.rtHead] = v
		s.rtHead = (s.rtHead + 1) % responseTimeCapacity
	}
}

func (s *Store) pushErrorEvent(t time.Time) {
	if s.eeLen < errorEventCapacity {
		s.errorEvents[(s.eeHead+s.eeLen)%errorEventCapacity] = t
		s.eeLen++
	} else {
		s.errorEvents[s.eeHead] = t
		s.eeHead = (s.eeHead + 1) % errorEventCapacity
	}
}

// responseTimesCopy returns a copy of the live response-time samples,
// oldest first.
func (s *Store) responseTimesCopy() []float64 {
	out := make([]float64, s.rtLen)
	for i := 0; i < s.rtLen; i++ {
		out[i] = s.responseTimes[(s.rtHead+i)%responseTimeCapacity]
	}
	return out
}

// Percentile returns the p-th percentile (0-100) of the response-time
// buffer via sort + linear interpolation (spec.md §4.2). Empty buffers
// yield zero.
func (s *Store) Percentile(p float64) float64 {
	s.mu.Lock()
	samples := s.responseTimesCopy()
	s.mu.Unlock()

	if len(samples) == 0 {
		return 0
	}
	sort.Float64s(samples)
	if len(samples) == 1 {
		return samples[0]
	}

	rank := (p / 100) * float64(len(samples)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(samples) {
		return samples[len(samples)-1]
	}
	frac := rank - float64(lo)
	return samples[lo] + (samples[hi]-samples[lo])*frac
}

// RecentAverage returns the mean of the last n recorded response times
// (used by the sizing engine's response-score component, spec.md
// §4.5.1's "last 10 recorded response times").
func (s *Store) RecentAverage(n int) float64 {
	s.mu.Lock()
	samples := s.responseTimesCopy()
	s.mu.Unlock()

	if len(samples) == 0 {
		return 0
	}
	if n > len(samples) {
		n = len(samples)
	}
	tail := samples[len(samples)-n:]
	sum := 0.0
	for _, v := range tail {
		sum += v
	}
	return sum / float64(len(tail))
}

// ErrorCountSince returns how many recorded errors fall within the
// last window.
func (s *Store) ErrorCountSince(window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-window)
	count := 0
	for i := 0; i < s.eeLen; i++ {
		t := s.errorEvents[(s.eeHead+i)%errorEventCapacity]
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

// TotalServed returns the cumulative count of successfully served
// acquisitions.
func (s *Store) TotalServed() uint64 { return s.totalServed.Load() }

// TotalErrors returns the cumulative error count.
func (s *Store) TotalErrors() uint64 { return s.totalErrors.Load() }

// SuccessRate returns the percentage (0-100) of served vs served+errors.
// Returns 100 when nothing has happened yet.
func (s *Store) SuccessRate() float64 {
	served := s.totalServed.Load()
	errs := s.totalErrors.Load()
	total := served + errs
	if total == 0 {
		return 100
	}
	return float64(served) / float64(total) * 100
}

// Throughput returns requests-served per second over the given window,
// computed solely as a delta of total-served across wall-clock time
// (spec.md §9 Open Question: never mix in buffer lengths).
func (s *Store) Throughput(window time.Duration) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(s.windowStart).Seconds()
	if elapsed <= 0 {
		return 0
	}
	served := s.totalServed.Load()
	delta := served - s.windowServedAt0

	// Slide the window once it exceeds the requested span so throughput
	// tracks "recent" activity rather than the lifetime average.
	if elapsed >= window.Seconds() {
		s.windowStart = now
		s.windowServedAt0 = served
	}

	return float64(delta) / elapsed
}

// LoadScoreHistory returns a copy of the recorded load-score samples,
// oldest first.
func (s *Store) LoadScoreHistory() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, s.lsLen)
	for i := 0; i < s.lsLen; i++ {
		out[i] = s.loadScores[(s.lsHead+i)%loadScoreCapacity]
	}
	return out
}

// Reset clears all counters and buffers. Used only by tests.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rtHead, s.rtLen = 0, 0
	s.eeHead, s.eeLen = 0, 0
	s.lsHead, s.lsLen = 0, 0
	s.totalServed.Store(0)
	s.totalErrors.Store(0)
	s.windowStart = time.Now()
	s.windowServedAt0 = 0
}
