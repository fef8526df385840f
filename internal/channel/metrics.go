package channel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guest_channel_token_refreshes_total",
			Help: "Total number of token refresh requests by result",
		},
		[]string{"result"},
	)

	SendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guest_channel_send_requests_total",
			Help: "Total number of send requests by outcome",
		},
		[]string{"outcome"},
	)

	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "guest_channel_send_duration_seconds",
			Help:    "Duration of send requests to the channel API",
			Buckets: prometheus.DefBuckets,
		},
	)
)
