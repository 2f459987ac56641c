package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK            = "ok"
	outcomeRefused       = "refused"
	outcomeInvalid       = "invalid"
	outcomeProviderError = "provider_error"
)

type Metrics struct {
	dispatches       *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
}

// NewMetrics registers the dispatcher collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geminichat",
			Name:      "dispatch_total",
			Help:      "Dispatched requests by mode and outcome.",
		}, []string{"mode", "outcome"}),
		providerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "geminichat",
			Name:      "provider_duration_seconds",
			Help:      "Latency of outbound provider calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"provider"}),
	}
}

func (m *Metrics) observeDispatch(mode Mode, outcome string) {
	if m == nil {
		return
	}
	label := "unknown"
	if mode.Valid() {
		label = mode.String()
	}
	m.dispatches.WithLabelValues(label, outcome).Inc()
}

func (m *Metrics) observeProvider(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerDuration.WithLabelValues(provider).Observe(d.Seconds())
}
