package singlewriter

import (
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusSuccess = "success"
	statusError   = "error"
	statusDropped = "dropped"
)

type metrics struct {
	queueDepth *prometheus.GaugeVec
	tasks      *prometheus.CounterVec
	duration   prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer, logger *slog.Logger) *metrics {
	m := &metrics{
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "zmqx",
			Subsystem: "singlewriter",
			Name:      "queue_depth",
			Help:      "Number of tasks waiting in a lane",
		}, []string{"bucket"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zmqx",
			Subsystem: "singlewriter",
			Name:      "tasks_total",
			Help:      "Tasks handled by the single writer, by status",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "zmqx",
			Subsystem: "singlewriter",
			Name:      "task_duration_seconds",
			Help:      "Time spent running a task on its lane",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
	}
	m.queueDepth = register(reg, m.queueDepth, logger)
	m.tasks = register(reg, m.tasks, logger)
	m.duration = register(reg, m.duration, logger)
	return m
}

// register adds c to reg, reusing the collector already registered under the same name.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, logger *slog.Logger) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		logger.Warn("register single writer metric", "err", err)
	}
	return c
}

func laneLabel(bucket int) string {
	return strconv.Itoa(bucket)
}
