// Package metrics holds the prometheus collectors of the API process.
// Collectors are registered in the default registry at init, scraped via promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcore_events_published_total",
			Help: "Events committed to the dispatcher, by event type.",
		},
		[]string{"type"},
	)

	EventsEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcore_events_enqueued_total",
			Help: "Events placed on session queues.",
		},
	)

	SessionsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcore_sessions_resync_total",
			Help: "Sessions whose live feed was dropped on queue overflow.",
		},
	)

	LiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatcore_live_sessions",
			Help: "Currently open realtime sessions.",
		},
	)

	ScheduledPromoted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcore_scheduled_promoted_total",
			Help: "Scheduled messages promoted by this instance.",
		},
	)

	PollsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcore_polls_closed_total",
			Help: "Polls deactivated by the poll closer.",
		},
	)

	TypingExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcore_typing_expired_total",
			Help: "Typing indicators removed by TTL expiry.",
		},
	)

	HTTPRequests = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatcore_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and status code.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcore_http_rate_limited_total",
			Help: "Requests rejected with 429.",
		},
	)

	PushQueueDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcore_push_dropped_total",
			Help: "Notifications dropped because the push queue was full.",
		},
	)
)

func init() {
	prometheus.MustRegister(EventsPublished, EventsEnqueued, SessionsDropped, LiveSessions,
		ScheduledPromoted, PollsClosed, TypingExpired, HTTPRequests, RateLimited, PushQueueDropped)
}
