package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_notifications_enqueued_total",
			Help: "Total number of notifications pushed to the dispatch queue",
		},
		[]string{"priority"},
	)

	SendAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_send_attempts_total",
			Help: "Channel send attempts by outcome (ok, retryable, permanent)",
		},
		[]string{"channel", "outcome"},
	)

	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_send_duration_seconds",
			Help:    "Duration of a single channel send",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	Requeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_requeued_total",
			Help: "Notifications requeued with backoff after a retryable failure",
		},
	)

	LeaseRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_lease_recovered_total",
			Help: "SENDING notifications returned to the queue after their claim lease expired",
		},
	)

	WorkersBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_dispatch_workers_busy",
			Help: "Dispatcher workers currently processing a claim",
		},
	)

	CampaignsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_campaigns_running",
			Help: "Campaign runner goroutines currently active",
		},
	)

	BatchesReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_campaign_batches_released_total",
			Help: "Campaign batches released to the queue",
		},
	)

	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_delivery_events_total",
			Help: "Delivery events ingested, by kind and whether they were duplicates",
		},
		[]string{"kind", "duplicate"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_http_requests_total",
			Help: "HTTP requests by method and status code",
		},
		[]string{"method", "code"},
	)
)
