package domain

// Level is a coarse engagement tier derived from total points
type Level string

const (
	LevelExplorer   Level = "Explorer"
	LevelExpert     Level = "Expert"
	LevelAmbassador Level = "Ambassador"
)

// StatKind names a per-action counter on a profile
type StatKind string

const (
	StatReviews        StatKind = "reviews"
	StatComments       StatKind = "comments"
	StatFavorites      StatKind = "favorites"
	StatShares         StatKind = "shares"
	StatPlacesVisited  StatKind = "places_visited"
	StatEventsAttended StatKind = "events_attended"
	StatHelpfulVotes   StatKind = "helpful_votes"
)

// StatKinds lists every counter a profile tracks
var StatKinds = []StatKind{
	StatReviews,
	StatComments,
	StatFavorites,
	StatShares,
	StatPlacesVisited,
	StatEventsAttended,
	StatHelpfulVotes,
}

// Valid reports whether k is a known stat
func (k StatKind) Valid() bool {
	for _, known := range StatKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ActionType identifies a point-bearing user action
type ActionType string

const (
	ActionReview      ActionType = "review"
	ActionComment     ActionType = "comment"
	ActionFavorite    ActionType = "favorite"
	ActionShare       ActionType = "share"
	ActionPlaceVisit  ActionType = "place_visit"
	ActionEventAttend ActionType = "event_attend"
	ActionHelpfulVote ActionType = "helpful_vote"
)

// PointActionConfig maps an action to its point value and the stat it increments
type PointActionConfig struct {
	ID         ActionType `json:"id" yaml:"id"`
	Stat       StatKind   `json:"stat" yaml:"stat"`
	BasePoints int64      `json:"base_points" yaml:"base_points"`
	DailyLimit int        `json:"daily_limit,omitempty" yaml:"daily_limit"`
}

// Rarity grades how hard a badge is to obtain
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// BadgeCategory groups badges for display
type BadgeCategory string

const (
	CategoryContribution BadgeCategory = "contribution"
	CategorySocial       BadgeCategory = "social"
	CategoryExploration  BadgeCategory = "exploration"
	CategoryDedication   BadgeCategory = "dedication"
	CategoryMilestone    BadgeCategory = "milestone"
	CategorySpecial      BadgeCategory = "special"
)

// BadgeDefinition is a static, one-time unlockable achievement
type BadgeDefinition struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    BadgeCategory   `json:"category"`
	PointsAward int64           `json:"points_award"`
	Rarity      Rarity          `json:"rarity"`
	Condition   UnlockCondition `json:"-"`
}

// UnlockCondition is the sealed set of ways a badge can unlock.
// Implementations: ActionCount, PointsThreshold, StreakLength, SpecialEvent.
type UnlockCondition interface {
	conditionKind() string
}

// ActionCount unlocks once a stat counter reaches Threshold
type ActionCount struct {
	Stat      StatKind
	Threshold int64
}

// PointsThreshold unlocks once total points reach Threshold
type PointsThreshold struct {
	Threshold int64
}

// StreakLength unlocks once the longest streak reaches Threshold days
type StreakLength struct {
	Threshold int
}

// SpecialEvent unlocks only through an explicit out-of-band signal
type SpecialEvent struct {
	EventID string
}

func (ActionCount) conditionKind() string     { return "action_count" }
func (PointsThreshold) conditionKind() string { return "points_threshold" }
func (StreakLength) conditionKind() string    { return "streak_length" }
func (SpecialEvent) conditionKind() string    { return "special_event" }

// ConditionKind returns the wire name of a condition
func ConditionKind(c UnlockCondition) string {
	if c == nil {
		return ""
	}
	return c.conditionKind()
}

// LevelThreshold is the minimum number of points for a level
type LevelThreshold struct {
	Level     Level `json:"level" yaml:"level"`
	MinPoints int64 `json:"min_points" yaml:"min_points"`
}
