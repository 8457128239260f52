package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for rolewarden.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Grant lifecycle metrics.
	TrialsStartedTotal    prometheus.Counter
	TrialRevocationsTotal *prometheus.CounterVec
	GrantsIssuedTotal     prometheus.Counter
	GrantSweepTotal       *prometheus.CounterVec

	// Reconciler metrics.
	ReconcileRunsTotal *prometheus.CounterVec
	ReconcileDuration  prometheus.Histogram

	// Bot command metrics.
	CommandsTotal           *prometheus.CounterVec
	CooldownRejectionsTotal prometheus.Counter

	// Auth metrics.
	AuthFailuresTotal prometheus.Counter

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolewarden_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rolewarden_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		TrialsStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rolewarden_trials_started_total",
			Help: "Total number of trials started.",
		}),

		TrialRevocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolewarden_trial_revocations_total",
			Help: "Total number of expired trial roles removed, by trigger.",
		}, []string{"via"}),

		GrantsIssuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rolewarden_grants_issued_total",
			Help: "Total number of admin-issued role grants.",
		}),

		GrantSweepTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolewarden_grant_sweep_total",
			Help: "Total number of expired role grants processed by the sweep, by outcome.",
		}, []string{"outcome"}),

		ReconcileRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolewarden_reconcile_runs_total",
			Help: "Total number of reconcile ticks, by result.",
		}, []string{"result"}),

		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rolewarden_reconcile_duration_seconds",
			Help:    "Duration of reconcile runs in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolewarden_commands_total",
			Help: "Total number of bot commands and component interactions handled.",
		}, []string{"command"}),

		CooldownRejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rolewarden_cooldown_rejections_total",
			Help: "Total number of interactions rejected by the per-user cooldown.",
		}),

		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rolewarden_auth_failures_total",
			Help: "Total number of ops API authentication failures.",
		}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rolewarden_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TrialsStartedTotal,
		m.TrialRevocationsTotal,
		m.GrantsIssuedTotal,
		m.GrantSweepTotal,
		m.ReconcileRunsTotal,
		m.ReconcileDuration,
		m.CommandsTotal,
		m.CooldownRejectionsTotal,
		m.AuthFailuresTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}
