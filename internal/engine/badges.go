package engine

import (
	"time"

	"github.com/city-engagement/internal/catalog"
	"github.com/city-engagement/internal/domain"
)

// BadgeEngine awards badges whose unlock conditions a profile satisfies
type BadgeEngine struct {
	catalog *catalog.Catalog
	ledger  *Ledger
}

// NewBadgeEngine creates a badge engine
func NewBadgeEngine(c *catalog.Catalog, ledger *Ledger) *BadgeEngine {
	return &BadgeEngine{
		catalog: c,
		ledger:  ledger,
	}
}

// Satisfied reports whether a profile meets an unlock condition.
// SpecialEvent conditions are never satisfied by counters.
func Satisfied(cond domain.UnlockCondition, p *domain.Profile) bool {
	switch c := cond.(type) {
	case domain.ActionCount:
		return p.Stats.Count(c.Stat) >= c.Threshold
	case domain.PointsThreshold:
		return p.Points >= c.Threshold
	case domain.StreakLength:
		return p.Streak.Longest >= c.Threshold
	case domain.SpecialEvent:
		return false
	default:
		return false
	}
}

// Evaluate unlocks every satisfied badge the profile does not own yet.
// Badge awards add points, which can satisfy further points badges, so
// scanning repeats until a pass unlocks nothing. The number of passes is
// bounded by the catalog size.
func (e *BadgeEngine) Evaluate(p *domain.Profile, at time.Time) []domain.BadgeDefinition {
	badges := e.catalog.Badges()
	var unlocked []domain.BadgeDefinition

	for pass := 0; pass <= len(badges); pass++ {
		progressed := false
		for _, b := range badges {
			if p.HasBadge(b.ID) || !Satisfied(b.Condition, p) {
				continue
			}
			e.award(p, b, at)
			unlocked = append(unlocked, b)
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return unlocked
}

// AwardSpecialEvent unlocks the badges tied to an out-of-band event, then
// evaluates any badges the bonus points make reachable
func (e *BadgeEngine) AwardSpecialEvent(p *domain.Profile, eventID string, at time.Time) []domain.BadgeDefinition {
	var unlocked []domain.BadgeDefinition
	for _, b := range e.catalog.Badges() {
		ev, ok := b.Condition.(domain.SpecialEvent)
		if !ok || ev.EventID != eventID || p.HasBadge(b.ID) {
			continue
		}
		e.award(p, b, at)
		unlocked = append(unlocked, b)
	}
	if len(unlocked) == 0 {
		return nil
	}
	return append(unlocked, e.Evaluate(p, at)...)
}

func (e *BadgeEngine) award(p *domain.Profile, b domain.BadgeDefinition, at time.Time) {
	p.Badges = append(p.Badges, domain.UnlockedBadge{BadgeID: b.ID, UnlockedAt: at})
	// PointsAward is validated non-negative at catalog load
	_ = e.ledger.Grant(p, b.PointsAward)
}
