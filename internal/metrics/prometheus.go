package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	SessionsRegisteredTotal prometheus.Counter
	SessionsDuplicateTotal  prometheus.Counter
	ActiveSessionsGauge     prometheus.Gauge
	DispatchTotal           *prometheus.CounterVec
	AggregationFailureTotal prometheus.Counter
)

// InitCustomMetrics initializes and registers the server's Prometheus
// metrics. It should be called once at application startup; packages
// tolerate uninitialized metrics so tests need no registry.
func InitCustomMetrics(reg prometheus.Registerer) {
	SessionsRegisteredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frogbytes_sessions_registered_total",
		Help: "Total number of sessions registered.",
	})
	SessionsDuplicateTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frogbytes_sessions_duplicate_total",
		Help: "Total number of suppressed duplicate session registrations.",
	})
	ActiveSessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "frogbytes_active_sessions_gauge",
		Help: "Current number of active sessions in the registry.",
	})
	DispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "frogbytes_dispatch_total",
		Help: "Total number of service control dispatches.",
	}, []string{"service", "outcome"})
	AggregationFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frogbytes_status_aggregation_failures_total",
		Help: "Total number of failed admin status aggregations.",
	})

	if reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{
		SessionsRegisteredTotal,
		SessionsDuplicateTotal,
		ActiveSessionsGauge,
		DispatchTotal,
		AggregationFailureTotal,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}
}

func IncSessionRegistered() {
	if SessionsRegisteredTotal != nil {
		SessionsRegisteredTotal.Inc()
	}
}

func IncSessionDuplicate() {
	if SessionsDuplicateTotal != nil {
		SessionsDuplicateTotal.Inc()
	}
}

func SetActiveSessions(n int) {
	if ActiveSessionsGauge != nil {
		ActiveSessionsGauge.Set(float64(n))
	}
}

func IncDispatch(service, outcome string) {
	if DispatchTotal != nil {
		DispatchTotal.WithLabelValues(service, outcome).Inc()
	}
}

func IncAggregationFailure() {
	if AggregationFailureTotal != nil {
		AggregationFailureTotal.Inc()
	}
}
