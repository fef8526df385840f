package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue metrics for Prometheus monitoring.
var (
	MessagesEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guest_queue_messages_enqueued_total",
			Help: "Total number of messages enqueued",
		},
	)

	MessagesRequeuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guest_queue_messages_requeued_total",
			Help: "Total number of messages requeued with a retry penalty",
		},
	)

	DLQMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guest_queue_dlq_messages_total",
			Help: "Total number of messages moved to the dead letter set",
		},
	)

	RecoveredClaimsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guest_queue_recovered_claims_total",
			Help: "Total number of stale in-flight claims returned to pending",
		},
	)
)
