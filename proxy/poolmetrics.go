package proxy

import (
	"context"
	"time"
)

// poolMetricsInterval is how often reportPoolMetrics samples every
// backend's pool.Stats() into the exported gauges.
const poolMetricsInterval = 5 * time.Second

// reportPoolMetrics periodically pushes each backend's connection-pool
// counts into the PoolActive/PoolIdle/PoolBroken/PoolCapacity gauges so
// /metrics reflects live pool state rather than sitting permanently at
// zero; cmdPoolInfo reads Pool.Stats() directly for the synchronous
// POOLINFO reply, but the Prometheus surface needs its own sampling loop.
func (s *Server) reportPoolMetrics(ctx context.Context) {
	ticker := time.NewTicker(poolMetricsInterval)
	defer ticker.Stop()
	s.collectPoolMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownC:
			return
		case <-ticker.C:
			s.collectPoolMetrics()
		}
	}
}

func (s *Server) collectPoolMetrics() {
	for _, name := range s.groupNames() {
		g := s.groups[name]
		for _, backend := range append(g.Masters(), g.Slaves()...) {
			st := backend.Pool.Stats()
			s.metrics.PoolActive.WithLabelValues(backend.Addr).Set(float64(st.Active))
			s.metrics.PoolIdle.WithLabelValues(backend.Addr).Set(float64(st.Idle))
			s.metrics.PoolBroken.WithLabelValues(backend.Addr).Set(float64(st.Broken))
			s.metrics.PoolCapacity.WithLabelValues(backend.Addr).Set(float64(st.Capacity))
		}
	}
}
