package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FeedFetchTotal counts feed fetches by feed type, mode and outcome.
	FeedFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_feed_fetch_total",
		Help: "Total number of feed fetches by feed type, mode and outcome",
	}, []string{"feed_type", "mode", "outcome"})

	// FeedFetchDuration records round-trip latency of feed fetches.
	FeedFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedsync_feed_fetch_duration_seconds",
		Help:    "Feed fetch latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"feed_type", "mode"})

	// FeedDedupDropped counts incoming items dropped because the feed already held their id.
	FeedDedupDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_feed_dedup_dropped_total",
		Help: "Total number of incoming items dropped by dedup-append",
	}, []string{"feed_type"})

	// StaleResponses counts responses discarded because the feed moved to a newer filter.
	StaleResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_stale_responses_total",
		Help: "Total number of fetch responses discarded as stale",
	}, []string{"feed_type"})

	// MutationsTotal counts like/edit/delete mutations by outcome.
	MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_mutations_total",
		Help: "Total number of item mutations by kind and outcome",
	}, []string{"kind", "outcome"})

	// CommentLoadsTotal counts comment list loads by outcome.
	CommentLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_comment_loads_total",
		Help: "Total number of comment list loads by outcome",
	}, []string{"outcome"})

	// ScrollTriggerTotal counts scroll trigger evaluations by decision.
	ScrollTriggerTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_scroll_trigger_total",
		Help: "Total number of scroll trigger evaluations by feed type and decision",
	}, []string{"feed_type", "decision"})

	// ActiveSessions is the gauge of live engine sessions in the gateway.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedsync_active_sessions",
		Help: "Number of live engine sessions",
	})

	// RedisErrors counts Redis errors by operation type.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_redis_errors_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// WebSocketConnections is the gauge of open change-stream connections.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedsync_websocket_connections",
		Help: "Number of open change-stream WebSocket connections",
	})

	// WebSocketBackpressureDrops counts events dropped for slow or closed clients.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_websocket_backpressure_drops_total",
		Help: "Change-stream messages dropped by reason",
	}, []string{"reason"})
)

// TrackFetch returns a function that records fetch latency when called (e.g. defer).
func TrackFetch(feedType, mode string) func() {
	start := time.Now()
	return func() {
		FeedFetchDuration.WithLabelValues(feedType, mode).Observe(time.Since(start).Seconds())
	}
}
