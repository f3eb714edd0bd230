package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voicegate"

// Metrics groups the Prometheus instruments used by the gateway.
type Metrics struct {
	Requests         *prometheus.CounterVec
	InferenceLatency *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec
	BusyRejections   *prometheus.CounterVec
	EngineState      *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg gets a private registry
// that also carries the Go runtime and process collectors.
func New(reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		r.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	f := promauto.With(reg)

	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests by capability, final stage and response code.",
		}, []string{"capability", "stage", "code"}),
		InferenceLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Time spent inside the engine, guard wait included.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"capability"}),
		InFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inference_in_flight",
			Help:      "Inferences currently dispatched per capability.",
		}, []string{"capability"}),
		BusyRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "busy_rejections_total",
			Help:      "Requests rejected because the engine guard could not be acquired.",
		}, []string{"capability"}),
		EngineState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_ready",
			Help:      "1 when the capability's engine is ready, 0 otherwise.",
		}, []string{"capability", "backend", "compiled"}),
		gatherer: gatherer,
	}
}

func (m *Metrics) ObserveInference(capability string, d time.Duration) {
	m.InferenceLatency.WithLabelValues(capability).Observe(d.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
