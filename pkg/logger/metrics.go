package logger

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

var (
	logsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vulnscan",
			Subsystem: "logger",
			Name:      "logs_dropped_total",
			Help:      "Total number of logs dropped by sampling",
		},
		[]string{"level"},
	)

	logsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vulnscan",
			Subsystem: "logger",
			Name:      "logs_processed_total",
			Help:      "Total number of logs processed (before sampling)",
		},
		[]string{"level"},
	)

	samplingCounterSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vulnscan",
			Subsystem: "logger",
			Name:      "sampling_counter_size",
			Help:      "Number of unique log message keys in the sampling counter",
		},
	)

	registerOnce sync.Once
)

// RegisterMetrics registers logger metrics with the given registry. A nil
// registry means the default one. Safe to call multiple times.
func RegisterMetrics(registry prometheus.Registerer) {
	registerOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}

		collectors := []prometheus.Collector{
			logsDroppedTotal,
			logsProcessedTotal,
			samplingCounterSize,
		}

		for _, c := range collectors {
			// Ignore duplicate registration, e.g. under test re-runs.
			_ = registry.Register(c)
		}
	})
}

func metricsOnProcessed(level slog.Level) {
	logsProcessedTotal.WithLabelValues(levelToString(level)).Inc()
}

func levelToString(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

// DroppedTotal returns the dropped-log counter value for a level. Exists for
// tests; production reads the /metrics endpoint.
func DroppedTotal(level string) float64 {
	m, err := logsDroppedTotal.GetMetricWithLabelValues(level)
	if err != nil {
		return 0
	}

	var metric dto.Metric
	if err := m.Write(&metric); err != nil {
		return 0
	}

	if metric.Counter != nil {
		return metric.Counter.GetValue()
	}
	return 0
}
