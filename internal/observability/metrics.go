package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/isogather/internal/failure"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "isogather",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "isogather",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	fragments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "isogather",
			Subsystem: "collector",
			Name:      "fragments_total",
			Help:      "Partitions accounted for by the collector.",
		},
		[]string{"strategy", "outcome"},
	)
	triangles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "isogather",
			Subsystem: "collector",
			Name:      "triangles_total",
			Help:      "Triangles appended to the aggregate.",
		},
		[]string{"strategy"},
	)
	partitionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "isogather",
			Subsystem: "collector",
			Name:      "partition_failures_total",
			Help:      "Failed partitions by stage and error kind.",
		},
		[]string{"stage", "kind"},
	)
	runElapsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "isogather",
			Subsystem: "run",
			Name:      "elapsed_seconds",
			Help:      "Wall-clock time of the last run.",
		},
		[]string{"strategy", "transfer"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, fragments, triangles, partitionFailures, runElapsed)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFragment(strategy string, triangleCount int) {
	RegisterMetrics()
	fragments.WithLabelValues(strategy, "collected").Inc()
	triangles.WithLabelValues(strategy).Add(float64(triangleCount))
}

func RecordFailure(strategy string, pe *failure.PartitionError) {
	RegisterMetrics()
	fragments.WithLabelValues(strategy, "failed").Inc()
	partitionFailures.WithLabelValues(string(pe.Stage), failure.CodeOf(pe.Err).String()).Inc()
}

func RecordRun(strategy, transfer string, elapsed time.Duration) {
	RegisterMetrics()
	runElapsed.WithLabelValues(strategy, transfer).Set(elapsed.Seconds())
}

// WriteTextfile dumps the default registry in the node exporter textfile
// format, for runs too short to be scraped.
func WriteTextfile(path string) error {
	RegisterMetrics()
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
