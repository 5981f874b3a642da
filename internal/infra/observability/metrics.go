package observability

import (
	"time"

	"github.com/varejoflow/crm-automation/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the CRM automation core.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	externalErrors    *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	scoring           *prometheus.CounterVec
	stageRules        *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	notificationTypes *prometheus.CounterVec
	emails            *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crm_operation_duration_seconds",
				Help:    "Duration of CRM operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_external_errors_total",
				Help: "Total errors from the data store and outbound APIs.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		scoring: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_scoring_opportunities_total",
				Help: "Opportunities processed by score recalculation, by result.",
			},
			[]string{"result"},
		),
		stageRules: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_stage_rules_total",
				Help: "Stage rule evaluations, by outcome.",
			},
			[]string{"outcome"},
		),
		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_notifications_total",
				Help: "In-app notifications, by delivery status.",
			},
			[]string{"status"},
		),
		notificationTypes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_notifications_by_type_total",
				Help: "In-app notifications attempted, by notification type.",
			},
			[]string{"type"},
		),
		emails: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_email_dispatches_total",
				Help: "Email dispatch calls, by status.",
			},
			[]string{"status"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordScoring counts one recalculation run.
func (m *Metrics) RecordScoring(scored, updated, failed int) {
	m.scoring.WithLabelValues("scored").Add(float64(scored))
	m.scoring.WithLabelValues("updated").Add(float64(updated))
	m.scoring.WithLabelValues("failed").Add(float64(failed))
}

// IncrStageRule counts a stage rule evaluation ("matched" or "skipped").
func (m *Metrics) IncrStageRule(outcome string) {
	m.stageRules.WithLabelValues(outcome).Inc()
}

// IncrNotification counts one in-app delivery attempt.
func (m *Metrics) IncrNotification(nt domain.NotificationType, status string) {
	m.notificationTypes.WithLabelValues(string(nt)).Inc()
	m.notifications.WithLabelValues(status).Inc()
}

// IncrEmail counts one email dispatch ("sent" or "failed").
func (m *Metrics) IncrEmail(status string) {
	m.emails.WithLabelValues(status).Inc()
}

// Snapshot returns the counters behind GET /v1/metrics/automation.
func (m *Metrics) Snapshot() *domain.AutomationMetrics {
	hits := getCounterValue(m.cacheHits, "stage_rule")
	misses := getCounterValue(m.cacheMisses, "stage_rule")
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.AutomationMetrics{
		OpportunitiesScored: getCounterValue(m.scoring, "scored"),
		ScoresUpdated:       getCounterValue(m.scoring, "updated"),
		StageRulesMatched:   getCounterValue(m.stageRules, "matched"),
		StageRulesSkipped:   getCounterValue(m.stageRules, "skipped"),
		NotificationsSent:   getCounterValue(m.notifications, "sent"),
		NotificationsFailed: getCounterValue(m.notifications, "failed"),
		EmailsSent:          getCounterValue(m.emails, "sent"),
		EmailsFailed:        getCounterValue(m.emails, "failed"),
		CacheHitRate:        hitRate,
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
