package domain

import "time"

// ActionEvent is a request to record one user action
type ActionEvent struct {
	UserID         string     `json:"user_id"`
	DisplayName    string     `json:"display_name,omitempty"`
	Action         ActionType `json:"action"`
	OccurredAt     time.Time  `json:"occurred_at,omitempty"`
	Points         *int64     `json:"points,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

// Outcome describes what one pass of the pipeline changed on a profile
type Outcome struct {
	PointsAwarded  int64    `json:"points_awarded"`
	BasePoints     int64    `json:"base_points"`
	StreakBonus    int64    `json:"streak_bonus,omitempty"`
	BadgePoints    int64    `json:"badge_points,omitempty"`
	NewBadges      []string `json:"new_badges"`
	PreviousLevel  Level    `json:"previous_level"`
	Level          Level    `json:"level"`
	LeveledUp      bool     `json:"leveled_up"`
	DailyLimitHit  bool     `json:"daily_limit_hit,omitempty"`
	StreakExtended bool     `json:"streak_extended,omitempty"`
	StreakBroken   bool     `json:"streak_broken,omitempty"`
}

// RecordResult is returned to callers of RecordAction
type RecordResult struct {
	UserID        string                `json:"user_id"`
	PointsAwarded int64                 `json:"points_awarded"`
	TotalPoints   int64                 `json:"total_points"`
	Level         Level                 `json:"level"`
	NewBadges     []string              `json:"new_badges"`
	LeveledUp     bool                  `json:"leveled_up"`
	Streak        Streak                `json:"streak"`
	Duplicate     bool                  `json:"duplicate,omitempty"`
	Ranks         map[Period]RankChange `json:"ranks,omitempty"`
}

// ActionRecord is the audit row persisted alongside a profile update
type ActionRecord struct {
	IdempotencyKey string
	UserID         string
	Action         ActionType
	PointsAwarded  int64
	NewBadges      []string
	OccurredAt     time.Time
}
