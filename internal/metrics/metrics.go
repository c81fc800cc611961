// Package metrics exposes Prometheus instrumentation for the payment
// pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service registers.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	paymentsCreated *prometheus.CounterVec
	monitorOutcomes *prometheus.CounterVec
	monitorsActive  prometheus.Gauge

	rpcCalls    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec

	bridgeStageDuration *prometheus.HistogramVec
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railclaw_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "railclaw_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		paymentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railclaw_payments_created_total",
			Help: "Payments accepted by kind (direct, bridge).",
		}, []string{"kind"}),
		monitorOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railclaw_monitor_outcomes_total",
			Help: "Monitor terminal outcomes by kind and status.",
		}, []string{"kind", "outcome"}),
		monitorsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "railclaw_monitors_active",
			Help: "Currently running payment monitors.",
		}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railclaw_rpc_calls_total",
			Help: "Outbound RPC calls by chain and result.",
		}, []string{"chain", "result"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "railclaw_rpc_call_duration_seconds",
			Help:    "Outbound RPC call latency by chain.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"chain"}),
		bridgeStageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "railclaw_bridge_stage_duration_seconds",
			Help:    "Time spent in each bridge pipeline stage.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}, []string{"stage"}),
	}

	reg.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.paymentsCreated,
		m.monitorOutcomes,
		m.monitorsActive,
		m.rpcCalls,
		m.rpcDuration,
		m.bridgeStageDuration,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route, status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(route, status).Inc()
	m.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// PaymentCreated counts an accepted payment.
func (m *Metrics) PaymentCreated(kind string) {
	m.paymentsCreated.WithLabelValues(kind).Inc()
}

// MonitorStarted and MonitorFinished track the active monitor gauge;
// MonitorFinished also counts the terminal outcome.
func (m *Metrics) MonitorStarted() {
	m.monitorsActive.Inc()
}

func (m *Metrics) MonitorFinished(kind, outcome string) {
	m.monitorsActive.Dec()
	m.monitorOutcomes.WithLabelValues(kind, outcome).Inc()
}

// ObserveRPCCall records one outbound RPC call.
func (m *Metrics) ObserveRPCCall(chain string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.rpcCalls.WithLabelValues(chain, result).Inc()
	m.rpcDuration.WithLabelValues(chain).Observe(duration.Seconds())
}

// ObserveBridgeStage records time spent in one bridge stage.
func (m *Metrics) ObserveBridgeStage(stage string, duration time.Duration) {
	m.bridgeStageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}
