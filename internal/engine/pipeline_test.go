package engine

import (
	"math/rand"
	"testing"
	"time"

	"github.com/city-engagement/internal/catalog"
	"github.com/city-engagement/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_FirstReview(t *testing.T) {
	pipeline := NewPipeline(catalog.Default(), Options{})
	p := domain.NewProfile("alice", "Alice", day(1))

	outcome, err := pipeline.Apply(p, domain.ActionEvent{UserID: "alice", Action: domain.ActionReview, OccurredAt: day(1)})
	require.NoError(t, err)

	assert.Equal(t, int64(30), p.Points)
	assert.Equal(t, int64(1), p.Stats.Reviews)
	assert.Equal(t, []string{"first_review"}, p.BadgeIDs())
	assert.Equal(t, domain.LevelExplorer, p.Level)
	assert.Equal(t, 1, p.Streak.Current)

	assert.Equal(t, int64(30), outcome.PointsAwarded)
	assert.Equal(t, int64(10), outcome.BasePoints)
	assert.Equal(t, int64(20), outcome.BadgePoints)
	assert.Equal(t, []string{"first_review"}, outcome.NewBadges)
	assert.False(t, outcome.LeveledUp)
}

func TestPipeline_LevelUp(t *testing.T) {
	pipeline := NewPipeline(catalog.Default(), Options{})
	p := domain.NewProfile("bob", "", day(1))
	p.Points = 190
	p.Level = domain.LevelExplorer
	p.Badges = []domain.UnlockedBadge{{BadgeID: "century", UnlockedAt: day(1)}}
	p.Stats.Reviews = 1
	p.Badges = append(p.Badges, domain.UnlockedBadge{BadgeID: "first_review", UnlockedAt: day(1)})

	outcome, err := pipeline.Apply(p, domain.ActionEvent{UserID: "bob", Action: domain.ActionReview, OccurredAt: day(1)})
	require.NoError(t, err)
	assert.True(t, outcome.LeveledUp)
	assert.Equal(t, domain.LevelExplorer, outcome.PreviousLevel)
	assert.Equal(t, domain.LevelExpert, outcome.Level)
	assert.Equal(t, domain.LevelExpert, p.Level)
	assert.Equal(t, int64(200), p.Points)
}

func TestPipeline_UnknownActionLeavesProfile(t *testing.T) {
	pipeline := NewPipeline(catalog.Default(), Options{})
	p := domain.NewProfile("carol", "", day(1))
	before := p.Clone()

	_, err := pipeline.Apply(p, domain.ActionEvent{UserID: "carol", Action: "rsvp", OccurredAt: day(2)})
	assert.ErrorIs(t, err, domain.ErrUnknownActionType)
	assert.Equal(t, before, p)

	_, err = pipeline.Apply(p, domain.ActionEvent{Action: domain.ActionReview, OccurredAt: day(2)})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestPipeline_SpecialEvent(t *testing.T) {
	pipeline := NewPipeline(catalog.Default(), Options{})
	p := domain.NewProfile("dana", "", day(1))

	outcome, err := pipeline.ApplySpecialEvent(p, "early_adopter", day(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"early_adopter"}, outcome.NewBadges)
	assert.Equal(t, int64(50), p.Points)

	_, err = pipeline.ApplySpecialEvent(p, "black_friday", day(1))
	assert.ErrorIs(t, err, domain.ErrUnknownSpecialEvent)
}

func TestPipeline_Normalize(t *testing.T) {
	pipeline := NewPipeline(catalog.Default(), Options{})
	p := domain.NewProfile("erin", "", day(1))
	p.Points = 600
	p.Level = domain.LevelExplorer
	p.Streak.Current = 4
	p.Streak.Longest = 2
	p.Badges = []domain.UnlockedBadge{
		{BadgeID: "first_review", UnlockedAt: day(1)},
		{BadgeID: "first_review", UnlockedAt: day(2)},
	}

	dropped := pipeline.Normalize(p)
	assert.Equal(t, []string{"first_review"}, dropped)
	assert.Len(t, p.Badges, 1)
	assert.Equal(t, day(1), p.Badges[0].UnlockedAt)
	assert.Equal(t, domain.LevelAmbassador, p.Level)
	assert.Equal(t, 4, p.Streak.Longest)
}

// Random action sequences must keep points monotonic and derived fields consistent
func TestPipeline_Invariants(t *testing.T) {
	c := catalog.Default()
	pipeline := NewPipeline(c, Options{EnforceDailyLimits: true})
	actions := c.Actions()
	rng := rand.New(rand.NewSource(7))

	at := day(1)
	p := domain.NewProfile("fuzz", "", at)
	last := p.Points
	for i := 0; i < 2000; i++ {
		at = at.Add(time.Duration(rng.Intn(40)) * time.Hour)
		action := actions[rng.Intn(len(actions))].ID
		_, err := pipeline.Apply(p, domain.ActionEvent{UserID: "fuzz", Action: action, OccurredAt: at})
		require.NoError(t, err)

		require.GreaterOrEqual(t, p.Points, last)
		require.Equal(t, LevelFor(p.Points, c.Levels()), p.Level)
		require.LessOrEqual(t, p.Streak.Current, p.Streak.Longest)
		require.Empty(t, p.Clone().DedupeBadges())
		last = p.Points
	}
}
