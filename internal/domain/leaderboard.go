package domain

import (
	"fmt"
	"time"
)

// Period identifies a ranking window
type Period string

const (
	PeriodAllTime Period = "all_time"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Valid reports whether p is a known period
func (p Period) Valid() bool {
	switch p {
	case PeriodAllTime, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

// BucketKey returns the storage key for the window of p containing t
func (p Period) BucketKey(t time.Time) string {
	switch p {
	case PeriodWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("weekly:%04d-W%02d", year, week)
	case PeriodMonthly:
		return fmt.Sprintf("monthly:%s", t.Format("2006-01"))
	default:
		return string(PeriodAllTime)
	}
}

// BucketTTL is how long a finished periodic bucket is retained
func (p Period) BucketTTL() time.Duration {
	switch p {
	case PeriodWeekly:
		return 14 * 24 * time.Hour
	case PeriodMonthly:
		return 62 * 24 * time.Hour
	default:
		return 0
	}
}

// LeaderboardEntry is a single ranked user
type LeaderboardEntry struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Points      int64  `json:"points"`
	Level       Level  `json:"level"`
	Rank        int64  `json:"rank"`
	RankDelta   int64  `json:"rank_delta"`
	BadgeCount  int    `json:"badge_count"`
}

// Leaderboard is a read-only snapshot of a ranking window
type Leaderboard struct {
	Period       Period             `json:"period"`
	Bucket       string             `json:"bucket"`
	Entries      []LeaderboardEntry `json:"entries"`
	TotalEntries int64              `json:"total_entries"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// RankChange is the effect of one upsert on a user's position.
// RankDelta is PreviousRank - NewRank; positive means the user moved up.
// PreviousRank is zero when the user was not ranked before.
type RankChange struct {
	PreviousRank int64 `json:"previous_rank"`
	NewRank      int64 `json:"new_rank"`
	RankDelta    int64 `json:"rank_delta"`
	Points       int64 `json:"points"`
}

// NewRankChange derives the delta from the two ranks
func NewRankChange(previous, current, points int64) RankChange {
	var delta int64
	if previous > 0 {
		delta = previous - current
	}
	return RankChange{
		PreviousRank: previous,
		NewRank:      current,
		RankDelta:    delta,
		Points:       points,
	}
}

// BaseRank is the rank an index keeps for an entry after the entry's own
// write: the rank held before it, or the rank it produced for a new entry
func (c RankChange) BaseRank() int64 {
	if c.PreviousRank > 0 {
		return c.PreviousRank
	}
	return c.NewRank
}

// RankMovement is an entry's movement from its base rank, including moves
// caused by other users passing it
func RankMovement(base, rank int64) int64 {
	if base == 0 || rank == 0 {
		return 0
	}
	return base - rank
}

// EntryFromProfile builds the leaderboard metadata for a profile
func EntryFromProfile(p *Profile) LeaderboardEntry {
	return LeaderboardEntry{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Points:      p.Points,
		Level:       p.Level,
		BadgeCount:  len(p.Badges),
	}
}

// RankMutation is one write to a ranking bucket. In replace mode Entry.Points
// is the new total and never lowers a stored score. In increment mode the
// stored score grows by Delta and Entry.Points is ignored.
type RankMutation struct {
	Entry     LeaderboardEntry
	Delta     int64
	Increment bool
	TTL       time.Duration
	At        time.Time
}
