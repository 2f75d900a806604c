package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pointframe"

// metrics are per dispatcher so tests can use private registries.
type metrics struct {
	requestsTotal   *prometheus.CounterVec
	droppedTotal    prometheus.Counter
	unmatchedTotal  prometheus.Counter
	processDuration prometheus.Histogram
	pointsTotal     *prometheus.CounterVec
	pendingRequests prometheus.Gauge
	queueDepth      prometheus.GaugeFunc
}

func newMetrics(reg prometheus.Registerer, queueDepth func() float64) *metrics {
	m := &metrics{
		// status: ok, malformed_input, internal
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "requests_total",
				Help:      "Total number of completed frame requests by status",
			},
			[]string{"status"},
		),
		droppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "dropped_frames_total",
				Help:      "Frames shed because the worker queue was full or the submitter gave up",
			},
		),
		unmatchedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "unmatched_responses_total",
				Help:      "Responses dropped because no pending request had their frame id",
			},
		),
		processDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "process_duration_seconds",
				Help:      "Histogram of per-frame transform duration in seconds",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
		),
		// kind: in, out
		pointsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "points_total",
				Help:      "Total points received and emitted by the transformer",
			},
			[]string{"kind"},
		),
		pendingRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "pending_requests",
				Help:      "Number of requests awaiting a response",
			},
		),
		queueDepth: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "queue_depth",
				Help:      "Number of requests waiting in the worker inbox",
			},
			queueDepth,
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.requestsTotal,
			m.droppedTotal,
			m.unmatchedTotal,
			m.processDuration,
			m.pointsTotal,
			m.pendingRequests,
			m.queueDepth,
		)
	}
	return m
}
