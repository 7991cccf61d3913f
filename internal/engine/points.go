package engine

import (
	"fmt"
	"time"

	"github.com/city-engagement/internal/catalog"
	"github.com/city-engagement/internal/domain"
)

const dayLayout = "2006-01-02"

// Ledger is the single entry point for changing a profile's points and stats
type Ledger struct {
	catalog            *catalog.Catalog
	location           *time.Location
	enforceDailyLimits bool
}

// NewLedger creates a points ledger
func NewLedger(c *catalog.Catalog, loc *time.Location, enforceDailyLimits bool) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{
		catalog:            c,
		location:           loc,
		enforceDailyLimits: enforceDailyLimits,
	}
}

// ActionAward is the result of applying one action to a profile
type ActionAward struct {
	Points  int64
	Limited bool
}

// ApplyAction adds the action's points (or override) and increments its stat once.
// The profile is left untouched when an error is returned.
func (l *Ledger) ApplyAction(p *domain.Profile, action domain.ActionType, override *int64, at time.Time) (ActionAward, error) {
	cfg, ok := l.catalog.Action(action)
	if !ok {
		return ActionAward{}, fmt.Errorf("%w: %q", domain.ErrUnknownActionType, action)
	}

	points := cfg.BasePoints
	if override != nil {
		if *override < 0 {
			return ActionAward{}, domain.ErrInvalidPoints
		}
		points = *override
	}

	limited := false
	count := l.countDaily(p, action, at)
	if l.enforceDailyLimits && cfg.DailyLimit > 0 && count > cfg.DailyLimit {
		points = 0
		limited = true
	}

	p.Stats.Increment(cfg.Stat)
	p.Points += points

	return ActionAward{Points: points, Limited: limited}, nil
}

// Grant adds bonus points that are not tied to a stat
func (l *Ledger) Grant(p *domain.Profile, points int64) error {
	if points < 0 {
		return domain.ErrInvalidPoints
	}
	p.Points += points
	return nil
}

// countDaily records the action against its calendar day and returns
// the count including this action. Actions for an earlier day than the
// one being tracked are not counted.
func (l *Ledger) countDaily(p *domain.Profile, action domain.ActionType, at time.Time) int {
	day := at.In(l.location).Format(dayLayout)
	if day < p.DailyActions.Day {
		return 1
	}
	if day != p.DailyActions.Day || p.DailyActions.Counts == nil {
		p.DailyActions = domain.DailyActions{Day: day, Counts: make(map[domain.ActionType]int)}
	}
	p.DailyActions.Counts[action]++
	return p.DailyActions.Counts[action]
}
