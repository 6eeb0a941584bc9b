package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	WAIncomingMessages *prometheus.CounterVec
	WAOutgoingMessages *prometheus.CounterVec
	GeminiRequests     *prometheus.CounterVec
	GeminiLatency      *prometheus.HistogramVec
	LedgerWrites       *prometheus.CounterVec
	Confirmations      *prometheus.CounterVec
	ConfirmSwept       prometheus.Counter
	Errors             *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton on the default registerer.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = New(namespace, prometheus.DefaultRegisterer)
	})
	return metricsInstance
}

// New builds a fresh set of collectors and registers them on reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WAIncomingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wa_incoming_messages_total",
			Help:      "Total incoming WhatsApp messages processed.",
		}, []string{"type"}),
		WAOutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wa_outgoing_messages_total",
			Help:      "Total outgoing WhatsApp messages sent.",
		}, []string{"type"}),
		GeminiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gemini_requests_total",
			Help:      "Total Gemini API requests by outcome.",
		}, []string{"status"}),
		GeminiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gemini_request_duration_seconds",
			Help:      "Latency distribution for Gemini API calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		LedgerWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_writes_total",
			Help:      "Ledger rows written grouped by kind and status.",
		}, []string{"kind", "status"}),
		Confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_total",
			Help:      "Pending product confirmations resolved, grouped by outcome.",
		}, []string{"outcome"}),
		ConfirmSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_swept_total",
			Help:      "Expired confirmation contexts removed by the sweeper.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total errors grouped by component.",
		}, []string{"component"}),
	}

	reg.MustRegister(
		m.WAIncomingMessages,
		m.WAOutgoingMessages,
		m.GeminiRequests,
		m.GeminiLatency,
		m.LedgerWrites,
		m.Confirmations,
		m.ConfirmSwept,
		m.Errors,
	)
	return m
}
