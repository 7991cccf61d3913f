package engine

import (
	"time"

	"github.com/city-engagement/internal/domain"
)

// StreakTracker derives consecutive-day activity from the last activity date
type StreakTracker struct {
	ledger    *Ledger
	location  *time.Location
	milestone int
	bonus     int64
}

// NewStreakTracker creates a tracker that grants bonus points through the
// ledger when the current streak reaches milestone days
func NewStreakTracker(ledger *Ledger, loc *time.Location, milestone int, bonus int64) *StreakTracker {
	if loc == nil {
		loc = time.UTC
	}
	return &StreakTracker{
		ledger:    ledger,
		location:  loc,
		milestone: milestone,
		bonus:     bonus,
	}
}

// StreakUpdate reports what Track changed
type StreakUpdate struct {
	DaysDiff int
	Extended bool
	Broken   bool
	Bonus    int64
}

// CalendarDaysBetween returns the number of calendar-day boundaries between
// from and to, both read in loc. It is negative when to is on an earlier day.
func CalendarDaysBetween(from, to time.Time, loc *time.Location) int {
	fy, fm, fd := from.In(loc).Date()
	ty, tm, td := to.In(loc).Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// Track updates the streak for activity at now
func (t *StreakTracker) Track(p *domain.Profile, now time.Time) StreakUpdate {
	var update StreakUpdate

	if p.Streak.LastActivityDate.IsZero() {
		p.Streak.Current = 1
		if p.Streak.Longest < 1 {
			p.Streak.Longest = 1
		}
	} else {
		update.DaysDiff = CalendarDaysBetween(p.Streak.LastActivityDate, now, t.location)
		switch {
		case update.DaysDiff == 1:
			p.Streak.Current++
			if p.Streak.Current > p.Streak.Longest {
				p.Streak.Longest = p.Streak.Current
			}
			update.Extended = true
			if p.Streak.Current == t.milestone && t.bonus > 0 {
				if err := t.ledger.Grant(p, t.bonus); err == nil {
					update.Bonus = t.bonus
				}
			}
		case update.DaysDiff > 1:
			p.Streak.Current = 1
			update.Broken = true
		}
	}

	// Late events never move the activity clock backwards
	if now.After(p.Streak.LastActivityDate) {
		p.Streak.LastActivityDate = now
	}
	if now.After(p.LastActive) {
		p.LastActive = now
	}
	return update
}
