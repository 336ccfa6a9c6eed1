// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fufnotes"

var (
	// httpRequests counts served requests. Labels: route, method, status.
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status code",
	}, []string{"route", "method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// noteSaves counts save attempts. Labels: outcome (ok, conflict, not_found,
	// bad_revision, error), mode (optimistic, force).
	noteSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notes",
		Name:      "saves_total",
		Help:      "Note save attempts by outcome",
	}, []string{"outcome", "mode"})

	titleSyncs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notes",
		Name:      "title_syncs_total",
		Help:      "Managed note titles rewritten after a project or todo rename",
	})

	// handshakes counts sign-in steps. Labels: step (start, code, callback),
	// outcome (ok or the error code).
	handshakes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "handshakes_total",
		Help:      "Passhroom sign-in steps by outcome",
	}, []string{"step", "outcome"})

	backups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backup",
		Name:      "runs_total",
		Help:      "Backup runs by status",
	}, []string{"status"})

	wsClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Connected WebSocket clients",
	})
)

func RecordHTTPRequest(route, method string, status int, d time.Duration) {
	httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RecordSave records one save attempt.
func RecordSave(outcome string, force bool) {
	mode := "optimistic"
	if force {
		mode = "force"
	}
	noteSaves.WithLabelValues(outcome, mode).Inc()
}

func RecordTitleSync(n int) {
	titleSyncs.Add(float64(n))
}

func RecordHandshake(step, outcome string) {
	handshakes.WithLabelValues(step, outcome).Inc()
}

func RecordBackup(status string) {
	backups.WithLabelValues(status).Inc()
}

func SetWebSocketClients(n int) {
	wsClients.Set(float64(n))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
