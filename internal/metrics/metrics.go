// Package metrics defines the Prometheus collectors for machine lifecycle
// operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	// OperationsTotal counts lifecycle operations by outcome.
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_machine_operations_total",
			Help: "Total number of machine lifecycle operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anvil_machine_operation_duration_seconds",
			Help:    "Machine lifecycle operation duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"operation"},
	)

	RebootsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "anvil_machine_reboots_total",
			Help: "Total number of automatic reboots issued while waiting for readiness",
		},
	)

	ClonesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "anvil_machine_clones_total",
			Help: "Total number of machines cloned from templates",
		},
	)

	WaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anvil_machine_wait_seconds",
			Help:    "Time spent waiting for a machine by phase and result",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"phase", "result"},
	)
)

func init() {
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(OperationDuration)
	prometheus.MustRegister(RebootsTotal)
	prometheus.MustRegister(ClonesTotal)
	prometheus.MustRegister(WaitDuration)
}

// Timer measures the duration of an operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in seconds on o.
func (t *Timer) ObserveDuration(o prometheus.Observer) {
	o.Observe(t.Duration().Seconds())
}

// ObserveOperation records the duration and outcome of a lifecycle operation.
func ObserveOperation(operation string, t *Timer, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	OperationsTotal.WithLabelValues(operation, result).Inc()
	t.ObserveDuration(OperationDuration.WithLabelValues(operation))
}

// WriteTextfile writes all registered metrics to path in the text exposition
// format understood by the node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
