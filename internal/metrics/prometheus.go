package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IssuesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisionhub_issues_created_total",
			Help: "Total issues created",
		},
		[]string{"model", "weighting_mode"},
	)

	ResolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "decisionhub_resolve_duration_seconds",
			Help:    "Duration of resolve operations in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"model"},
	)

	ConsensusRounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisionhub_consensus_rounds_total",
			Help: "Total resolve rounds by termination outcome",
		},
		[]string{"outcome"},
	)

	ConsensusLevel = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "decisionhub_consensus_level",
			Help:    "Aggregate consensus level reported per round",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	SolverRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisionhub_solver_requests_total",
			Help: "Total requests to the model service",
		},
		[]string{"endpoint", "status"},
	)

	SolverDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "decisionhub_solver_duration_seconds",
			Help:    "Model service call latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"endpoint"},
	)

	ScenariosCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisionhub_scenarios_created_total",
			Help: "Total scenarios created",
		},
		[]string{"model"},
	)

	AutoCloseActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisionhub_autoclose_actions_total",
			Help: "Actions taken by the closure trigger",
		},
		[]string{"action", "status"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisionhub_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisionhub_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	LockContention = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisionhub_issue_lock_contention_total",
			Help: "Operations rejected because the issue was locked",
		},
		[]string{"operation"},
	)

	NotificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisionhub_notification_failures_total",
			Help: "Notifications that could not be delivered",
		},
		[]string{"channel"},
	)

	// 0 closed, 1 half-open, 2 open.
	SolverBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "decisionhub_solver_breaker_state",
			Help: "State of the model service circuit breaker",
		},
	)
)

func Init() {
	prometheus.MustRegister(IssuesCreated)
	prometheus.MustRegister(ResolveDuration)
	prometheus.MustRegister(ConsensusRounds)
	prometheus.MustRegister(ConsensusLevel)
	prometheus.MustRegister(SolverRequests)
	prometheus.MustRegister(SolverDuration)
	prometheus.MustRegister(ScenariosCreated)
	prometheus.MustRegister(AutoCloseActions)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(LockContention)
	prometheus.MustRegister(NotificationFailures)
	prometheus.MustRegister(SolverBreakerState)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
