// README: Prometheus collectors for the HTTP surface and the assignment pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the service.
	Registry = prometheus.NewRegistry()

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// AssignmentOutcomes counts engine results by outcome (assigned/unassignable) and reason.
	AssignmentOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "assignment_outcomes_total", Help: "Assignment attempts by outcome and reason."},
		[]string{"outcome", "reason"},
	)
	AssignmentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "assignment_duration_seconds", Help: "Time spent in one assignment attempt.", Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10}},
	)
	// CandidateDrops counts riders removed from ranking, by drop reason.
	CandidateDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "assignment_candidate_drops_total", Help: "Candidates dropped during ranking or reservation."},
		[]string{"reason"},
	)
	GeoRetries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "geo_retries_total", Help: "Travel estimate retries after transient errors."},
	)
	SinkFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "assignment_sink_failures_total", Help: "Failed deliveries to assignment sinks."},
		[]string{"sink"},
	)
	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "job_runs_total", Help: "Periodic job runs by job and status."},
		[]string{"job", "status"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(AssignmentOutcomes)
		Registry.MustRegister(AssignmentDuration)
		Registry.MustRegister(CandidateDrops)
		Registry.MustRegister(GeoRetries)
		Registry.MustRegister(SinkFailures)
		Registry.MustRegister(JobRuns)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// Handler exposes Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
