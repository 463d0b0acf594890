// Package telemetry exposes prometheus counters for the sync core. The
// ops HTTP surface serves them on /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesIngested counts messages appended to the conversation
	// store, labeled by source channel ("rest", "realtime", "local").
	MessagesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_messages_ingested_total",
		Help: "Messages appended to the conversation store by source.",
	}, []string{"source"})

	// DuplicatesSkipped counts append attempts rejected because the
	// message id was already present.
	DuplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_duplicates_skipped_total",
		Help: "Duplicate message inserts absorbed as no-ops.",
	})

	// StatusApplied counts status events applied to existing messages.
	StatusApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_status_events_applied_total",
		Help: "Status events applied, by resulting status.",
	}, []string{"status"})

	// StatusDropped counts status/recall/delete events for unknown
	// message ids, dropped without buffering.
	StatusDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_status_events_dropped_total",
		Help: "Status events dropped because the message id is unknown.",
	})

	// MalformedDropped counts raw payloads rejected before normalization.
	MalformedDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_malformed_payloads_total",
		Help: "Raw payloads dropped for missing required fields.",
	})

	// CacheErrors counts persistence read/write failures (non-fatal).
	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_cache_errors_total",
		Help: "Durable cache failures, by operation.",
	}, []string{"op"})

	// MediaBackfills counts backfill fetches for media arriving ahead of
	// its URL, labeled by outcome ("patched", "failed", "missing").
	MediaBackfills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_media_backfills_total",
		Help: "Media URL backfill fetches by outcome.",
	}, []string{"outcome"})

	// Refetches counts scheduled full refetches per conversation.
	Refetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_refetches_total",
		Help: "Scheduled conversation refetch runs.",
	})

	// QueueDropped counts ops rejected because a session queue was full.
	QueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_queue_dropped_total",
		Help: "Session ops dropped due to a full queue.",
	})
)
