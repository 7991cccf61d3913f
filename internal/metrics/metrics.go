package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "engagement"

// Outcome labels for ActionsTotal
const (
	OutcomeRecorded    = "recorded"
	OutcomeDuplicate   = "duplicate"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
)

var (
	// ActionsTotal counts recorded actions by action type and outcome
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "actions_total",
		Help:      "Actions processed by type and outcome",
	}, []string{"action", "outcome"})

	// PointsAwardedTotal counts points granted by source
	PointsAwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "points_awarded_total",
		Help:      "Points awarded by source (base, streak, badge)",
	}, []string{"source"})

	// BadgesUnlockedTotal counts badge unlocks by badge id
	BadgesUnlockedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "badges_unlocked_total",
		Help:      "Badge unlocks by badge id",
	}, []string{"badge"})

	// LevelUpsTotal counts level transitions by the level reached
	LevelUpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "level_ups_total",
		Help:      "Level transitions by new level",
	}, []string{"level"})

	// CommitRetriesTotal counts profile commit retries by reason
	CommitRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commit_retries_total",
		Help:      "Profile commit retries by reason (conflict, storage)",
	}, []string{"reason"})

	// RecordDuration tracks end-to-end RecordAction latency
	RecordDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "record_action_duration_seconds",
		Help:      "RecordAction duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	// LeaderboardUpsertErrors counts failed leaderboard writes by period
	LeaderboardUpsertErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leaderboard_upsert_errors_total",
		Help:      "Failed leaderboard upserts by period",
	}, []string{"period"})

	// InvariantViolations counts skipped mutations by kind
	InvariantViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invariant_violations_total",
		Help:      "Invariant violations detected at runtime by kind",
	}, []string{"kind"})

	// KafkaMessagesTotal counts consumed messages by result
	KafkaMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "kafka",
		Name:      "messages_total",
		Help:      "Consumed action messages by result",
	}, []string{"result"})

	// ReconcileDuration tracks index reconciliation runs
	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "reconcile_duration_seconds",
		Help:      "Ranking index reconciliation duration in seconds",
		Buckets:   prometheus.DefBuckets,
	})

	// WebsocketConnections tracks connected websocket clients
	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "websocket",
		Name:      "connections",
		Help:      "Connected websocket clients",
	})
)
