package agent

import (
	"sync/atomic"
	"time"

	"netwatch-agent/internal/collector"
)

type HealthStatus struct {
	upstreamConnected  atomic.Bool
	namesResolved      atomic.Int64
	lastCycleAt        atomic.Int64
	lastCycleIfaces    atomic.Int64
	lastCycleDuration  atomic.Int64
	lastUpstreamSendAt atomic.Int64
}

func NewHealthStatus() *HealthStatus {
	return &HealthStatus{}
}

func (h *HealthStatus) SetUpstreamConnected(ok bool) {
	h.upstreamConnected.Store(ok)
}

func (h *HealthStatus) SetNamesResolved(n int) {
	h.namesResolved.Store(int64(n))
}

func (h *HealthStatus) MarkCycle(res collector.CycleResult) {
	h.lastCycleAt.Store(res.At.UnixNano())
	h.lastCycleIfaces.Store(int64(res.Interfaces))
	h.lastCycleDuration.Store(int64(res.Duration))
}

func (h *HealthStatus) MarkUpstreamSend(ts time.Time) {
	h.lastUpstreamSendAt.Store(ts.UnixNano())
}

func (h *HealthStatus) LastCycleAt() time.Time {
	if v := h.lastCycleAt.Load(); v > 0 {
		return time.Unix(0, v).UTC()
	}
	return time.Time{}
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"upstream_connected":    h.upstreamConnected.Load(),
		"names_resolved":        h.namesResolved.Load(),
		"last_cycle_interfaces": h.lastCycleIfaces.Load(),
	}
	if v := h.lastCycleAt.Load(); v > 0 {
		out["last_cycle_at"] = time.Unix(0, v).UTC()
		out["last_cycle_duration"] = time.Duration(h.lastCycleDuration.Load()).String()
	}
	if v := h.lastUpstreamSendAt.Load(); v > 0 {
		out["last_upstream_send_at"] = time.Unix(0, v).UTC()
	}
	return out
}
