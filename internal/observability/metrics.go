package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lensctl",
			Subsystem: "link",
			Name:      "frames_sent_total",
			Help:      "Frames written to the peripheral link, by kind.",
		},
		[]string{"kind"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lensctl",
			Subsystem: "link",
			Name:      "frames_received_total",
			Help:      "Frames received from the peripheral link, by kind.",
		},
		[]string{"kind"},
	)
	controlRoundTrip = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lensctl",
			Subsystem: "session",
			Name:      "control_round_trip_seconds",
			Help:      "Control request to response latency in seconds.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2},
		},
	)
	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lensctl",
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts after link loss.",
		},
	)
	sessionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lensctl",
			Subsystem: "session",
			Name:      "state",
			Help:      "Current session state as its enum value.",
		},
	)
	uploadChunks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lensctl",
			Subsystem: "upload",
			Name:      "chunks_total",
			Help:      "Upload chunks acknowledged by the peripheral.",
		},
	)
	uploadFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lensctl",
			Subsystem: "upload",
			Name:      "failures_total",
			Help:      "Uploads aborted before the close command.",
		},
	)
	batteryPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lensctl",
			Subsystem: "peripheral",
			Name:      "battery_percent",
			Help:      "Last battery level reported by the peripheral.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lensctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status API requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lensctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesSent, framesReceived,
			controlRoundTrip, reconnects, sessionState,
			uploadChunks, uploadFailures,
			batteryPercent,
			httpRequests, httpDuration,
		)
	})
}

func RecordFrameSent(kind string) {
	RegisterMetrics()
	framesSent.WithLabelValues(kind).Inc()
}

func RecordFrameReceived(kind string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(kind).Inc()
}

func ObserveControlRoundTrip(d time.Duration) {
	RegisterMetrics()
	controlRoundTrip.Observe(d.Seconds())
}

func RecordReconnect() {
	RegisterMetrics()
	reconnects.Inc()
}

func SetSessionState(v int) {
	RegisterMetrics()
	sessionState.Set(float64(v))
}

func RecordUploadChunk() {
	RegisterMetrics()
	uploadChunks.Inc()
}

func RecordUploadFailure() {
	RegisterMetrics()
	uploadFailures.Inc()
}

func SetBattery(level int) {
	RegisterMetrics()
	batteryPercent.Set(float64(level))
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
