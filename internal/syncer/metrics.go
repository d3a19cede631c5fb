package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of a Synchronizer.
type Metrics struct {
	SubmittedTotal *prometheus.CounterVec
	ResultsTotal   *prometheus.CounterVec
	DroppedTotal   prometheus.Counter
	CommitsTotal   prometheus.Counter
	Outstanding    prometheus.Gauge
	CallDuration   *prometheus.HistogramVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SubmittedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rowcache",
			Subsystem: "sync",
			Name:      "submitted_total",
			Help:      "Total number of backend calls submitted",
		}, []string{"op"}),
		ResultsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rowcache",
			Subsystem: "sync",
			Name:      "results_total",
			Help:      "Total number of backend results applied, by outcome",
		}, []string{"op", "outcome"}),
		DroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rowcache",
			Subsystem: "sync",
			Name:      "dropped_total",
			Help:      "Total number of results whose row no longer exists",
		}),
		CommitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rowcache",
			Subsystem: "sync",
			Name:      "commits_total",
			Help:      "Total number of batches committed as a whole",
		}),
		Outstanding: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rowcache",
			Subsystem: "sync",
			Name:      "outstanding",
			Help:      "Number of backend calls whose result has not been applied",
		}),
		CallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rowcache",
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Histogram of backend call durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
}

func (m *Metrics) submitted(k Kind) {
	if m != nil {
		m.SubmittedTotal.WithLabelValues(k.String()).Inc()
	}
}

func (m *Metrics) result(k Kind, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ResultsTotal.WithLabelValues(k.String(), outcome).Inc()
}

func (m *Metrics) dropped() {
	if m != nil {
		m.DroppedTotal.Inc()
	}
}

func (m *Metrics) committed() {
	if m != nil {
		m.CommitsTotal.Inc()
	}
}

func (m *Metrics) setOutstanding(n int) {
	if m != nil {
		m.Outstanding.Set(float64(n))
	}
}

func (m *Metrics) observe(k Kind, seconds float64) {
	if m != nil {
		m.CallDuration.WithLabelValues(k.String()).Observe(seconds)
	}
}
