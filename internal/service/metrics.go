package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	edgeMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_edge_mutations_total",
		Help: "Follow/unfollow attempts by result",
	}, []string{"op", "result"})

	publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_publish_total",
		Help: "Publish attempts by result",
	}, []string{"result"})

	publishRecipients = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "timeline_publish_recipients",
		Help:    "Timeline entries written per committed publish",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	publishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "timeline_publish_duration_seconds",
		Help:    "Publish transaction duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy"})

	indexRepairQueue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timeline_index_repair_queue_length",
		Help: "Pending follower index invalidations awaiting retry",
	})
)

// resultLabel 把错误折叠成低基数标签
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnknownUser):
		return "unknown_user"
	case errors.Is(err, ErrDuplicateEdge):
		return "duplicate"
	case errors.Is(err, ErrEdgeNotFound):
		return "not_found"
	case errors.Is(err, ErrSelfFollowRejected):
		return "self_follow"
	case errors.Is(err, ErrPartialFanoutAborted):
		return "aborted"
	default:
		return "error"
	}
}
