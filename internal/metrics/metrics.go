package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the notification pipeline
type Metrics struct {
	JobsEnqueued   prometheus.Counter
	JobsProcessed  *prometheus.CounterVec
	JobsInFlight   prometheus.Gauge
	QueueBacklog   prometheus.Gauge
	JobDuration    prometheus.Histogram
	QuotaDecisions *prometheus.CounterVec
	Renewals       *prometheus.CounterVec
	Matches        *prometheus.CounterVec
	Notifications  *prometheus.CounterVec
}

// New registers the pipeline collectors on the given registerer
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "replywatch_jobs_enqueued_total",
			Help: "Notification jobs accepted by the queue",
		}),
		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replywatch_jobs_processed_total",
			Help: "Queue jobs by terminal result of one processing attempt",
		}, []string{"result"}),
		JobsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "replywatch_jobs_in_flight",
			Help: "Jobs currently being processed",
		}),
		QueueBacklog: factory.NewGauge(prometheus.GaugeOpts{
			Name: "replywatch_queue_backlog",
			Help: "Jobs waiting in pending state",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "replywatch_job_duration_seconds",
			Help:    "Wall time of one job processing attempt",
			Buckets: prometheus.DefBuckets,
		}),
		QuotaDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replywatch_quota_decisions_total",
			Help: "Quota governor decisions by class and outcome",
		}, []string{"class", "outcome"}),
		Renewals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replywatch_subscription_renewals_total",
			Help: "Subscription renewal attempts by outcome",
		}, []string{"outcome"}),
		Matches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replywatch_response_matches_total",
			Help: "Response matcher outcomes",
		}, []string{"outcome"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replywatch_notifications_total",
			Help: "Classified notifications by result type",
		}, []string{"type"}),
	}
}
