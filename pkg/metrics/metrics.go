package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PolicyEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policy_evaluations_total",
			Help: "Total number of policy evaluations by outcome (count)",
		},
		[]string{"outcome"},
	)

	PolicyRuleTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policy_rule_triggers_total",
			Help: "Total number of times a rule triggered (count)",
		},
		[]string{"rule_id"},
	)

	PolicyEvaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "policy_evaluation_duration_ms",
			Help:    "Policy evaluation duration in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
		},
	)

	PolicyActiveRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "policy_active_rules",
			Help: "Number of enabled rules in the active policy pack (count)",
		},
	)

	PolicyPackVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "policy_pack_stored_version",
			Help: "Stored version number of the active policy pack",
		},
	)

	WorkflowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Total number of workflow state transitions (count)",
		},
		[]string{"action_type", "transition"},
	)

	WorkflowTransitionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_transition_failures_total",
			Help: "Total number of rejected or failed workflow transitions (count)",
		},
		[]string{"transition", "reason"},
	)

	WorkflowsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "workflows_open",
			Help: "Workflows in ACTIVE or ESCALATED status seen by the last sweep (count)",
		},
		[]string{"status"},
	)

	WorkflowSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "workflow_sweep_duration_ms",
			Help:    "Duration of workflow expiration sweeps in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)

	WorkflowSLAWarningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_sla_warnings_total",
			Help: "Total number of SLA threshold warnings emitted (count)",
		},
		[]string{"threshold"},
	)

	SideEffectFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_side_effect_failures_total",
			Help: "Failed non-critical side effects such as notifications (count)",
		},
		[]string{"kind"},
	)

	ScreeningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screenings_total",
			Help: "Total number of screened declarations by outcome (count)",
		},
		[]string{"outcome"},
	)

	ScreeningDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "screening_duration_ms",
			Help:    "Screening duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"outcome"},
	)

	DedupChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_checks_total",
			Help: "Total number of duplicate checks (count)",
		},
		[]string{"status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"repository", "operation", "status"},
	)
)

var (
	policyOnce    sync.Once
	workflowOnce  sync.Once
	screeningOnce sync.Once
	brokerOnce    sync.Once
	breakerOnce   sync.Once
	httpOnce      sync.Once
)

func RegisterPolicyMetrics() {
	policyOnce.Do(func() {
		prometheus.MustRegister(PolicyEvaluationsTotal, PolicyRuleTriggersTotal, PolicyEvaluationDuration,
			PolicyActiveRules, PolicyPackVersion)
	})
}

func RegisterWorkflowMetrics() {
	workflowOnce.Do(func() {
		prometheus.MustRegister(WorkflowTransitionsTotal, WorkflowTransitionFailuresTotal, WorkflowsOpen,
			WorkflowSweepDuration, WorkflowSLAWarningsTotal, SideEffectFailuresTotal, DatabaseQueriesTotal)
	})
}

func RegisterScreeningMetrics() {
	screeningOnce.Do(func() {
		prometheus.MustRegister(ScreeningsTotal, ScreeningDuration, DedupChecksTotal, FallbackUsageTotal)
	})
}

func RegisterBrokerMetrics() {
	brokerOnce.Do(func() {
		prometheus.MustRegister(RetryAttemptsTotal, DLQMessagesTotal, KafkaMessagesReadTotal,
			KafkaMessagesWrittenTotal, KafkaWriteDuration)
	})
}

func RegisterCircuitBreakerMetrics() {
	breakerOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState, CircuitBreakerRequests, CircuitBreakerFailures)
	})
}

func RegisterHTTPMetrics() {
	httpOnce.Do(func() {
		prometheus.MustRegister(RateLimitRequestsTotal)
	})
}

func ObservePolicyEvaluation(duration time.Duration, triggered bool, ruleIDs []string) {
	outcome := "allow"
	if triggered {
		outcome = "triggered"
	}
	PolicyEvaluationsTotal.WithLabelValues(outcome).Inc()
	PolicyEvaluationDuration.Observe(float64(duration.Microseconds()) / 1000)
	for _, id := range ruleIDs {
		PolicyRuleTriggersTotal.WithLabelValues(id).Inc()
	}
}

func SetPolicyActiveRules(count int) {
	PolicyActiveRules.Set(float64(count))
}

func SetPolicyPackVersion(version int) {
	PolicyPackVersion.Set(float64(version))
}

func IncWorkflowTransition(actionType, transition string) {
	WorkflowTransitionsTotal.WithLabelValues(actionType, transition).Inc()
}

func IncWorkflowTransitionFailure(transition, reason string) {
	WorkflowTransitionFailuresTotal.WithLabelValues(transition, reason).Inc()
}

func SetWorkflowsOpen(status string, count int) {
	WorkflowsOpen.WithLabelValues(status).Set(float64(count))
}

func ObserveWorkflowSweep(duration time.Duration) {
	WorkflowSweepDuration.Observe(float64(duration.Milliseconds()))
}

func IncSLAWarning(threshold string) {
	WorkflowSLAWarningsTotal.WithLabelValues(threshold).Inc()
}

func IncSideEffectFailure(kind string) {
	SideEffectFailuresTotal.WithLabelValues(kind).Inc()
}

func ObserveScreening(duration time.Duration, outcome string) {
	ScreeningsTotal.WithLabelValues(outcome).Inc()
	ScreeningDuration.WithLabelValues(outcome).Observe(float64(duration.Milliseconds()))
}

func IncDedupCheck(status string) {
	DedupChecksTotal.WithLabelValues(status).Inc()
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncDatabaseQuery(repository, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(repository, operation, status).Inc()
}
