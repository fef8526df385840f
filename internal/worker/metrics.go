package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Worker metrics for Prometheus monitoring.
var (
	MessagesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guest_worker_messages_processed_total",
			Help: "Total number of messages processed by outcome",
		},
		[]string{"outcome"}, // sent, retried, failed, corrupt
	)

	MessageProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "guest_worker_message_processing_duration_seconds",
			Help:    "Duration of message processing operations",
			Buckets: prometheus.DefBuckets,
		},
	)
)
