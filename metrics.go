package scriptcage

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcomes recorded by Metrics.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Metrics holds the Prometheus collectors a Runner reports to.
type Metrics struct {
	RunsTotal     *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	FetchesTotal  prometheus.Counter
	LeakedHandles prometheus.Counter
}

// NewMetrics creates and registers the collectors on reg. A nil reg uses
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scriptcage_runs_total",
				Help: "Script runs by outcome",
			},
			[]string{"outcome"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scriptcage_run_duration_seconds",
				Help:    "Wall clock time of a script run",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		FetchesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scriptcage_fetches_total",
				Help: "fetch() calls made by scripts",
			},
		),
		LeakedHandles: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scriptcage_leaked_handles_total",
				Help: "Guest handles still live when a run ended",
			},
		),
	}
}

// Observe records one finished run.
func (m *Metrics) Observe(res *RunResult) {
	if m == nil || res == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome(res.Error)).Inc()
	m.RunDuration.Observe(res.Duration.Seconds())
	m.FetchesTotal.Add(float64(res.FetchCount))
	m.LeakedHandles.Add(float64(res.LeakedHandles))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}
