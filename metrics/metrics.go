// Package metrics exposes prometheus counters and gauges for pool and
// dispatch activity, served over a small HTTP endpoint on a separate
// admin port (spec.md §6 reserves the RESP port for RESP traffic only).
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric this proxy exports.
type Registry struct {
	PoolActive   *prometheus.GaugeVec
	PoolIdle     *prometheus.GaugeVec
	PoolBroken   *prometheus.GaugeVec
	PoolCapacity *prometheus.GaugeVec

	CommandsTotal    *prometheus.CounterVec
	CommandErrors    *prometheus.CounterVec
	MigrationsTotal  prometheus.Counter
	MigrationFailures prometheus.Counter

	server *http.Server
}

func NewRegistry() *Registry {
	r := &Registry{
		PoolActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "onecache", Subsystem: "pool", Name: "active_connections",
		}, []string{"backend"}),
		PoolIdle: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "onecache", Subsystem: "pool", Name: "idle_connections",
		}, []string{"backend"}),
		PoolBroken: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "onecache", Subsystem: "pool", Name: "broken_connections",
		}, []string{"backend"}),
		PoolCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "onecache", Subsystem: "pool", Name: "capacity",
		}, []string{"backend"}),
		CommandsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onecache", Subsystem: "dispatch", Name: "commands_total",
		}, []string{"command"}),
		CommandErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onecache", Subsystem: "dispatch", Name: "command_errors_total",
		}, []string{"command", "kind"}),
		MigrationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "onecache", Subsystem: "migration", Name: "started_total",
		}),
		MigrationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "onecache", Subsystem: "migration", Name: "failed_total",
		}),
	}
	return r
}

// Serve starts the /metrics HTTP endpoint on addr. It returns immediately;
// call Shutdown to stop it.
func (r *Registry) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	r.server = &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- r.server.ListenAndServe() }()
	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	default:
	}
	return nil
}

func (r *Registry) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}
