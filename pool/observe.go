package pool

import (
	"github.com/lunarforge/sqlitepool/metrics"
)

// reportMetrics pushes a stats snapshot into the Prometheus collectors
// (SPEC_FULL addition — spec.md's external interfaces are silent on a
// metrics endpoint, but §1 calls telemetry a first-class responsibility
// and the teacher's pool always paired its counters with a
// metrics.go). Called from the monitor loop on every tick.
func (p *Pool) reportMetrics() {
	snap := p.Stats()
	metrics.ConnectionsActive.Set(float64(snap.Active))
	metrics.ConnectionsIdle.Set(float64(snap.Idle))
	metrics.ConnectionsMax.Set(float64(snap.Max))
	metrics.QueueLength.Set(float64(snap.Waiting))
}

func (p *Pool) reportDecision(decision string) {
	metrics.SizingDecisions.WithLabelValues(decision).Inc()
}
