package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route pattern, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// OptimizeRuns counts optimize calls by outcome: ok, empty, invalid, error.
	OptimizeRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimize_runs_total", Help: "Route optimization runs by outcome."},
		[]string{"outcome"},
	)
	// OptimizeDuration records end-to-end optimize latency, lock wait included.
	OptimizeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "optimize_duration_seconds", Help: "Route optimization duration in seconds.", Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 20, 30, 60}},
	)
	// SolverPhaseDuration records time spent per solver phase.
	SolverPhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "solver_phase_duration_seconds", Help: "Solver phase duration in seconds.", Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30}},
		[]string{"phase"},
	)
	JobsAssigned = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "jobs_assigned_total", Help: "Jobs committed to a technician."},
	)
	JobsUnassigned = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "jobs_unassigned_total", Help: "Pending jobs left unassigned by an optimization run."},
	)
	// DistanceLookups counts matrix entries by source: lookup, cache, fallback.
	DistanceLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "distance_lookups_total", Help: "Travel time matrix entries by source."},
		[]string{"result"},
	)
	StoreUpdateFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "store_update_failures_total", Help: "Job assignment updates that failed or were skipped."},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(OptimizeRuns)
		Registry.MustRegister(OptimizeDuration)
		Registry.MustRegister(SolverPhaseDuration)
		Registry.MustRegister(JobsAssigned)
		Registry.MustRegister(JobsUnassigned)
		Registry.MustRegister(DistanceLookups)
		Registry.MustRegister(StoreUpdateFailures)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
