package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg *prometheus.Registry

	Reservations *prometheus.CounterVec
	Rejected     prometheus.Counter
	Duplicates   prometheus.Counter
	Outbox       *prometheus.CounterVec
}

// New registers the service counters together with the Go and process collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		reg: reg,
		Reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_reservations_total",
			Help: "Processed order events by outcome.",
		}, []string{"outcome"}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_events_rejected_total",
			Help: "Order events dropped because they could not be decoded.",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_reservation_duplicates_total",
			Help: "Redelivered order events answered from the recorded outcome.",
		}),
		Outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_publish_total",
			Help: "Outbox publish attempts by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Reservations,
		m.Rejected,
		m.Duplicates,
		m.Outbox,
	)

	return m
}

// TrackRevokedTokens exposes the current blacklist size as a gauge.
func (m *Metrics) TrackRevokedTokens(count func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "auth_revoked_tokens",
		Help: "Access tokens currently held in the blacklist.",
	}, func() float64 {
		return float64(count())
	}))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) ObserveReservation(outcome string) {
	m.Reservations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveDuplicate() {
	m.Duplicates.Inc()
}

func (m *Metrics) ObserveRejected() {
	m.Rejected.Inc()
}

func (m *Metrics) ObserveOutbox(result string) {
	m.Outbox.WithLabelValues(result).Inc()
}
