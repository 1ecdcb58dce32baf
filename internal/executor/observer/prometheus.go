package observer

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports execution metrics through a prometheus registerer.
type PrometheusRecorder struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	memory   *prometheus.HistogramVec
	compiles *prometheus.CounterVec
	inFlight prometheus.Gauge
}

// NewPrometheusRecorder creates the collectors and registers them on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codexec",
			Name:      "test_runs_total",
			Help:      "Test case executions by language and outcome.",
		}, []string{"language", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "codexec",
			Name:      "test_duration_seconds",
			Help:      "Wall time of one test case execution.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"language"}),
		memory: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "codexec",
			Name:      "test_memory_bytes",
			Help:      "Peak memory of one test case execution, when measured.",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 10),
		}, []string{"language"}),
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codexec",
			Name:      "compiles_total",
			Help:      "Compilations by language and result.",
		}, []string{"language", "ok"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "codexec",
			Name:      "sessions_in_flight",
			Help:      "Execution sessions currently running.",
		}),
	}
	for _, c := range []prometheus.Collector{r.runs, r.duration, r.memory, r.compiles, r.inFlight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryKB int64) {
	r.compiles.WithLabelValues(languageID, strconv.FormatBool(ok)).Inc()
}

func (r *PrometheusRecorder) ObserveRun(ctx context.Context, languageID string, outcome string, timeMs int64, memoryKB int64) {
	r.runs.WithLabelValues(languageID, outcome).Inc()
	r.duration.WithLabelValues(languageID).Observe((time.Duration(timeMs) * time.Millisecond).Seconds())
	if memoryKB > 0 {
		r.memory.WithLabelValues(languageID).Observe(float64(memoryKB * 1024))
	}
}

func (r *PrometheusRecorder) SessionStarted(ctx context.Context, languageID string) {
	r.inFlight.Inc()
}

func (r *PrometheusRecorder) SessionFinished(ctx context.Context, languageID string) {
	r.inFlight.Dec()
}
