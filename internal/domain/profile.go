package domain

import "time"

// Streak tracks consecutive calendar days with at least one action
type Streak struct {
	Current          int       `json:"current"`
	Longest          int       `json:"longest"`
	LastActivityDate time.Time `json:"last_activity_date"`
}

// Stats holds per-action counters
type Stats struct {
	Reviews        int64 `json:"reviews"`
	Comments       int64 `json:"comments"`
	Favorites      int64 `json:"favorites"`
	Shares         int64 `json:"shares"`
	PlacesVisited  int64 `json:"places_visited"`
	EventsAttended int64 `json:"events_attended"`
	HelpfulVotes   int64 `json:"helpful_votes"`
}

// Count returns the counter for a stat kind
func (s *Stats) Count(kind StatKind) int64 {
	if p := s.counter(kind); p != nil {
		return *p
	}
	return 0
}

// Increment adds one to the counter for a stat kind.
// It returns false for an unknown kind.
func (s *Stats) Increment(kind StatKind) bool {
	p := s.counter(kind)
	if p == nil {
		return false
	}
	*p++
	return true
}

func (s *Stats) counter(kind StatKind) *int64 {
	switch kind {
	case StatReviews:
		return &s.Reviews
	case StatComments:
		return &s.Comments
	case StatFavorites:
		return &s.Favorites
	case StatShares:
		return &s.Shares
	case StatPlacesVisited:
		return &s.PlacesVisited
	case StatEventsAttended:
		return &s.EventsAttended
	case StatHelpfulVotes:
		return &s.HelpfulVotes
	}
	return nil
}

// UnlockedBadge records when a badge was earned
type UnlockedBadge struct {
	BadgeID    string    `json:"badge_id"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

// DailyActions counts actions recorded on a single calendar day
type DailyActions struct {
	Day    string             `json:"day,omitempty"`
	Counts map[ActionType]int `json:"counts,omitempty"`
}

// Profile is a user's gamification state
type Profile struct {
	UserID       string          `json:"user_id"`
	DisplayName  string          `json:"display_name,omitempty"`
	Points       int64           `json:"points"`
	Level        Level           `json:"level"`
	Streak       Streak          `json:"streak"`
	Stats        Stats           `json:"stats"`
	Badges       []UnlockedBadge `json:"badges"`
	DailyActions DailyActions    `json:"-"`
	JoinedAt     time.Time       `json:"joined_at"`
	LastActive   time.Time       `json:"last_active"`

	// Version is the optimistic concurrency token; zero means never stored
	Version int64 `json:"-"`
}

// NewProfile creates the lazily-initialized profile for a user's first action
func NewProfile(userID, displayName string, at time.Time) *Profile {
	return &Profile{
		UserID:      userID,
		DisplayName: displayName,
		Level:       LevelExplorer,
		Streak: Streak{
			Current:          1,
			Longest:          1,
			LastActivityDate: at,
		},
		Badges:     []UnlockedBadge{},
		JoinedAt:   at,
		LastActive: at,
	}
}

// EmptyProfile is the zero-state profile returned for users with no activity
func EmptyProfile(userID string) *Profile {
	return &Profile{
		UserID: userID,
		Level:  LevelExplorer,
		Badges: []UnlockedBadge{},
	}
}

// HasBadge reports whether the badge is already unlocked
func (p *Profile) HasBadge(badgeID string) bool {
	for _, b := range p.Badges {
		if b.BadgeID == badgeID {
			return true
		}
	}
	return false
}

// BadgeIDs returns unlocked badge ids in unlock order
func (p *Profile) BadgeIDs() []string {
	ids := make([]string, len(p.Badges))
	for i, b := range p.Badges {
		ids[i] = b.BadgeID
	}
	return ids
}

// Clone returns a deep copy safe to mutate
func (p *Profile) Clone() *Profile {
	c := *p
	c.Badges = append([]UnlockedBadge(nil), p.Badges...)
	if c.Badges == nil {
		c.Badges = []UnlockedBadge{}
	}
	if p.DailyActions.Counts != nil {
		c.DailyActions.Counts = make(map[ActionType]int, len(p.DailyActions.Counts))
		for k, v := range p.DailyActions.Counts {
			c.DailyActions.Counts[k] = v
		}
	}
	return &c
}

// DedupeBadges drops repeated badge ids, keeping the earliest entry.
// It returns the ids that were dropped.
func (p *Profile) DedupeBadges() []string {
	seen := make(map[string]bool, len(p.Badges))
	kept := p.Badges[:0]
	var dropped []string
	for _, b := range p.Badges {
		if seen[b.BadgeID] {
			dropped = append(dropped, b.BadgeID)
			continue
		}
		seen[b.BadgeID] = true
		kept = append(kept, b)
	}
	p.Badges = kept
	return dropped
}
