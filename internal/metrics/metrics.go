// Package metrics exposes Prometheus metrics for rule operations and the
// control API.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all daemon metrics.
type Registry struct {
	// External rule-tool invocations
	CommandsTotal *prometheus.CounterVec

	// Hole registry
	OpenHoles   *prometheus.GaugeVec
	HoleOps     *prometheus.CounterVec
	HoleOpFails *prometheus.CounterVec

	// VPN orchestration
	VpnSetups    *prometheus.CounterVec
	VpnRollbacks prometheus.Counter

	// Control API
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec

	// System
	Uptime prometheus.Gauge
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_commands_total",
		Help: "External rule-tool invocations by tool, action and result",
	}, []string{"tool", "action", "result"})

	r.OpenHoles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "warden_open_holes",
		Help: "Currently tracked firewall holes per protocol",
	}, []string{"protocol"})

	r.HoleOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_hole_operations_total",
		Help: "Punch/plug operations by protocol and operation",
	}, []string{"protocol", "operation"})

	r.HoleOpFails = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_hole_operation_failures_total",
		Help: "Failed punch/plug operations by protocol, operation and reason",
	}, []string{"protocol", "operation", "reason"})

	r.VpnSetups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_vpn_setups_total",
		Help: "VPN setup/teardown attempts by action and result",
	}, []string{"action", "result"})

	r.VpnRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_vpn_rollbacks_total",
		Help: "Partial VPN setups that had to be rolled back",
	})

	r.APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_api_requests_total",
		Help: "Control API requests",
	}, []string{"method", "path", "status"})

	r.APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warden_api_request_duration_seconds",
		Help:    "Control API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	r.Uptime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_uptime_seconds",
		Help: "Daemon uptime in seconds",
	})

	return r
}

// RecordCommand records one external tool invocation.
func (r *Registry) RecordCommand(tool, action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.CommandsTotal.WithLabelValues(tool, action, result).Inc()
}

// RecordAPIRequest records an API request.
func (r *Registry) RecordAPIRequest(method, path string, status int, duration float64) {
	r.APIRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.APILatency.WithLabelValues(method, path).Observe(duration)
}
