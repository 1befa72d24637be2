// Package metrics exposes the ambient Prometheus instrumentation: cache
// hit/miss counters, recovery attempt counters, worker health gauges, and
// job throughput counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"go.buildorc.dev/internal/model"
)

// Registry bundles every collector the coordinator and recovery engine
// publish. Callers register it once against a prometheus.Registerer.
type Registry struct {
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter

	RecoveryAttempts  prometheus.Counter
	RecoverySuccesses prometheus.Counter

	WorkerHealth  *prometheus.GaugeVec
	WorkersOnline prometheus.Gauge

	JobsCompleted prometheus.Counter
	JobsFailed    prometheus.Counter
}

// New builds a Registry and registers every collector against reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "buildorc", Subsystem: "cache", Name: "hits_total",
			Help: "Artifact cache lookups that resolved locally.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "buildorc", Subsystem: "cache", Name: "misses_total",
			Help: "Artifact cache lookups that found no local entry.",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "buildorc", Subsystem: "cache", Name: "evictions_total",
			Help: "Artifact cache entries evicted to free space.",
		}),
		RecoveryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "buildorc", Subsystem: "recovery", Name: "attempts_total",
			Help: "Build attempts made by the recovery engine.",
		}),
		RecoverySuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "buildorc", Subsystem: "recovery", Name: "successes_total",
			Help: "Build attempts that ended in a successful build.",
		}),
		WorkerHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "buildorc", Subsystem: "worker", Name: "health_score",
			Help: "Per-worker health score in [0,1].",
		}, []string{"worker_id"}),
		WorkersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "buildorc", Subsystem: "worker", Name: "online",
			Help: "Count of workers currently Online or Busy.",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "buildorc", Subsystem: "scheduler", Name: "jobs_completed_total",
			Help: "Scheduled jobs that completed successfully.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "buildorc", Subsystem: "scheduler", Name: "jobs_failed_total",
			Help: "Scheduled jobs that ended in failure.",
		}),
	}

	reg.MustRegister(
		m.CacheHits, m.CacheMisses, m.CacheEvictions,
		m.RecoveryAttempts, m.RecoverySuccesses,
		m.WorkerHealth, m.WorkersOnline,
		m.JobsCompleted, m.JobsFailed,
	)
	return m
}

// ObserveWorkers publishes the current per-worker health score and the count
// of workers in the Online or Busy state. Callers typically invoke this on
// each maintenance tick rather than on every heartbeat, since it rewrites
// every label value regardless of which worker actually changed.
func (m *Registry) ObserveWorkers(workers []*model.RemoteWorker) {
	online := 0
	for _, w := range workers {
		m.WorkerHealth.WithLabelValues(w.ID).Set(w.HealthScore)
		if w.State == model.Online || w.State == model.Busy {
			online++
		}
	}
	m.WorkersOnline.Set(float64(online))
}
