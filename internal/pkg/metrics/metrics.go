// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "loyalty"

var (
	// StampsAdded 按租户统计实际发放的印章数（含双倍印章）
	StampsAdded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stamps_added_total",
		Help:      "Stamps added to cards.",
	}, []string{"tenant"})

	StampRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stamp_rejections_total",
		Help:      "Stamp operations rejected by business rules.",
	}, []string{"reason"})

	CardsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cards_completed_total",
		Help:      "Stamp cards that reached their goal.",
	}, []string{"tenant"})

	PointsRedeemed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "points_redeemed_total",
		Help:      "Points spent on rewards.",
	}, []string{"tenant"})

	// Notifications result: sent / failed / skipped / queued
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Outbound customer notifications by kind, channel and result.",
	}, []string{"kind", "channel", "result"})

	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sweep_duration_seconds",
		Help:      "Duration of scheduled notification sweeps.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"sweep"})
)
