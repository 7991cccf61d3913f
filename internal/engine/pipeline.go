package engine

import (
	"fmt"
	"time"

	"github.com/city-engagement/internal/catalog"
	"github.com/city-engagement/internal/domain"
)

// Options tunes pipeline behavior
type Options struct {
	// Location defines calendar days for streaks and daily limits
	Location           *time.Location
	EnforceDailyLimits bool
}

// Pipeline runs ledger, streak, level and badge stages against one profile
type Pipeline struct {
	catalog *catalog.Catalog
	ledger  *Ledger
	streaks *StreakTracker
	badges  *BadgeEngine
}

// NewPipeline wires the pipeline stages around a catalog
func NewPipeline(c *catalog.Catalog, opts Options) *Pipeline {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	ledger := NewLedger(c, loc, opts.EnforceDailyLimits)
	return &Pipeline{
		catalog: c,
		ledger:  ledger,
		streaks: NewStreakTracker(ledger, loc, c.WeekStreakLength(), c.WeekStreakBonus()),
		badges:  NewBadgeEngine(c, ledger),
	}
}

// Catalog returns the catalog the pipeline evaluates against
func (p *Pipeline) Catalog() *catalog.Catalog {
	return p.catalog
}

// Validate checks an event without touching any profile
func (p *Pipeline) Validate(ev domain.ActionEvent) error {
	if ev.UserID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidRequest)
	}
	if _, ok := p.catalog.Action(ev.Action); !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownActionType, ev.Action)
	}
	if ev.Points != nil && *ev.Points < 0 {
		return domain.ErrInvalidPoints
	}
	return nil
}

// LevelFor maps points to a level using the catalog thresholds
func (p *Pipeline) LevelFor(points int64) domain.Level {
	return LevelFor(points, p.catalog.Levels())
}

// Apply runs one action through every stage. ev.OccurredAt must be set.
// The profile is mutated in place and is unchanged when an error is returned.
func (p *Pipeline) Apply(profile *domain.Profile, ev domain.ActionEvent) (domain.Outcome, error) {
	if err := p.Validate(ev); err != nil {
		return domain.Outcome{}, err
	}
	at := ev.OccurredAt
	startPoints := profile.Points
	startLevel := p.LevelFor(startPoints)

	award, err := p.ledger.ApplyAction(profile, ev.Action, ev.Points, at)
	if err != nil {
		return domain.Outcome{}, err
	}
	if ev.DisplayName != "" {
		profile.DisplayName = ev.DisplayName
	}

	streak := p.streaks.Track(profile, at)
	profile.Level = p.LevelFor(profile.Points)

	beforeBadges := profile.Points
	unlocked := p.badges.Evaluate(profile, at)
	profile.Level = p.LevelFor(profile.Points)

	return domain.Outcome{
		PointsAwarded:  profile.Points - startPoints,
		BasePoints:     award.Points,
		StreakBonus:    streak.Bonus,
		BadgePoints:    profile.Points - beforeBadges,
		NewBadges:      badgeIDs(unlocked),
		PreviousLevel:  startLevel,
		Level:          profile.Level,
		LeveledUp:      profile.Level != startLevel,
		DailyLimitHit:  award.Limited,
		StreakExtended: streak.Extended,
		StreakBroken:   streak.Broken,
	}, nil
}

// ApplySpecialEvent unlocks the badges tied to eventID and any badges
// reachable through their bonus points
func (p *Pipeline) ApplySpecialEvent(profile *domain.Profile, eventID string, at time.Time) (domain.Outcome, error) {
	if !p.catalog.HasSpecialEvent(eventID) {
		return domain.Outcome{}, fmt.Errorf("%w: %q", domain.ErrUnknownSpecialEvent, eventID)
	}
	startPoints := profile.Points
	startLevel := p.LevelFor(startPoints)

	unlocked := p.badges.AwardSpecialEvent(profile, eventID, at)
	profile.Level = p.LevelFor(profile.Points)

	return domain.Outcome{
		PointsAwarded: profile.Points - startPoints,
		BadgePoints:   profile.Points - startPoints,
		NewBadges:     badgeIDs(unlocked),
		PreviousLevel: startLevel,
		Level:         profile.Level,
		LeveledUp:     profile.Level != startLevel,
	}, nil
}

// Normalize repairs derived fields on a profile loaded from storage and
// returns the badge ids that were duplicated
func (p *Pipeline) Normalize(profile *domain.Profile) []string {
	dropped := profile.DedupeBadges()
	profile.Level = p.LevelFor(profile.Points)
	if profile.Streak.Longest < profile.Streak.Current {
		profile.Streak.Longest = profile.Streak.Current
	}
	return dropped
}

func badgeIDs(badges []domain.BadgeDefinition) []string {
	ids := make([]string, len(badges))
	for i, b := range badges {
		ids[i] = b.ID
	}
	return ids
}
