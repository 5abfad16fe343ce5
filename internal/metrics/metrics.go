package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shinyyama/referral-backend/internal/referral"
)

var (
	PropagationJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "referral_propagation_jobs_total",
		Help: "Upline propagation jobs by outcome (ok, retried, failed, dropped).",
	}, []string{"result"})

	PropagationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "referral_propagation_duration_seconds",
		Help:    "Time spent on one upline propagation attempt.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	PropagationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "referral_propagation_queue_depth",
		Help: "Jobs waiting in the propagation queue.",
	})

	StatsRecomputed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "referral_stats_recomputed_total",
		Help: "Stats records rewritten.",
	})

	TeamSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "referral_team_size",
		Help:    "Team size observed at recompute time.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})
)

// StatsListener records every stats write.
func StatsListener(ctx context.Context, s referral.Stats) {
	StatsRecomputed.Inc()
	TeamSize.Observe(float64(s.TotalTeamSize))
}

// Chain fans a stats write out to several listeners in order.
func Chain(listeners ...referral.StatsListener) referral.StatsListener {
	return func(ctx context.Context, s referral.Stats) {
		for _, l := range listeners {
			if l != nil {
				l(ctx, s)
			}
		}
	}
}
