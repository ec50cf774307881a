package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcvisor"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serverStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "starts_total",
			Help:      "Number of successful server launches.",
		}, []string{"server"},
	)
	serverExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "exits_total",
			Help:      "Number of server exits by termination state.",
		}, []string{"server", "result"},
	)
	terminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "forced_terminations_total",
			Help:      "Process trees killed because of a terminating log line.",
		}, []string{"server"},
	)
	runningServers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "running",
			Help:      "Servers currently running.",
		},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "state_transitions_total",
			Help:      "Supervisor state transitions.",
		}, []string{"server", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "current_state",
			Help:      "Current supervisor state (1 = active state, 0 = inactive).",
		}, []string{"server", "state"},
	)
	logEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "log",
			Name:      "events_total",
			Help:      "Classified output lines by severity.",
		}, []string{"server", "severity"},
	)
	outputLines = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "buffered_lines",
			Help:      "Lines held in the output buffer.",
		}, []string{"server"},
	)
	backups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "runs_total",
			Help:      "Backup attempts by kind and result.",
		}, []string{"server", "kind", "result"},
	)
	backupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "duration_seconds",
			Help:      "Time spent writing one backup archive.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
		}, []string{"server", "kind"},
	)
	portFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "port",
			Name:      "allocation_failures_total",
			Help:      "Launches aborted because no port was free.",
		}, []string{"server"},
	)
	builds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "results_total",
			Help:      "Server builds by family and result code.",
		}, []string{"family", "code"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serverStarts, serverExits, terminations, runningServers, stateTransitions, currentStates,
		logEvents, outputLines, backups, backupDuration, portFailures, builds,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// The helpers below no-op until Register succeeded.

func IncStart(server string) {
	if regOK.Load() {
		serverStarts.WithLabelValues(server).Inc()
		runningServers.Inc()
	}
}

func IncExit(server, result string) {
	if regOK.Load() {
		serverExits.WithLabelValues(server, result).Inc()
		runningServers.Dec()
	}
}

func IncTermination(server string) {
	if regOK.Load() {
		terminations.WithLabelValues(server).Inc()
	}
}

func RecordStateTransition(server, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(server, from, to).Inc()
		currentStates.WithLabelValues(server, from).Set(0)
		currentStates.WithLabelValues(server, to).Set(1)
	}
}

func IncLogEvent(server, severity string) {
	if regOK.Load() {
		logEvents.WithLabelValues(server, severity).Inc()
	}
}

func SetBufferedLines(server string, n int) {
	if regOK.Load() {
		outputLines.WithLabelValues(server).Set(float64(n))
	}
}

func ObserveBackup(server, kind string, ok bool, seconds float64) {
	if regOK.Load() {
		result := "ok"
		if !ok {
			result = "error"
		}
		backups.WithLabelValues(server, kind, result).Inc()
		backupDuration.WithLabelValues(server, kind).Observe(seconds)
	}
}

func IncPortFailure(server string) {
	if regOK.Load() {
		portFailures.WithLabelValues(server).Inc()
	}
}

func IncBuild(family, code string) {
	if regOK.Load() {
		builds.WithLabelValues(family, code).Inc()
	}
}
