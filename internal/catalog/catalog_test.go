package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/city-engagement/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()

	review, ok := c.Action(domain.ActionReview)
	require.True(t, ok)
	assert.Equal(t, int64(10), review.BasePoints)
	assert.Equal(t, domain.StatReviews, review.Stat)

	first, ok := c.Badge("first_review")
	require.True(t, ok)
	assert.Equal(t, int64(20), first.PointsAward)
	assert.Equal(t, domain.ActionCount{Stat: domain.StatReviews, Threshold: 1}, first.Condition)

	assert.True(t, c.HasSpecialEvent("early_adopter"))
	assert.False(t, c.HasSpecialEvent("launch_party"))
	assert.Equal(t, 7, c.WeekStreakLength())
	assert.Equal(t, int64(50), c.WeekStreakBonus())
	assert.Len(t, c.Actions(), 7)
}

func TestParse(t *testing.T) {
	t.Run("ConditionVariants", func(t *testing.T) {
		c, err := Parse([]byte(`
version: "test-1"
levels:
  - {level: Expert, min_points: 200}
  - {level: Explorer, min_points: 0}
actions:
  - {id: review, stat: reviews, base_points: 10}
badges:
  - id: a
    condition: {type: action_count, stat: reviews, threshold: 3}
  - id: b
    condition: {type: points_threshold, threshold: 50}
  - id: c
    condition: {type: streak_length, threshold: 7}
  - id: d
    condition: {type: special_event, event_id: beta}
`))
		require.NoError(t, err)
		assert.Equal(t, "test-1", c.Version())

		levels := c.Levels()
		require.Len(t, levels, 2)
		assert.Equal(t, domain.LevelExplorer, levels[0].Level)

		badges := c.Badges()
		require.Len(t, badges, 4)
		assert.IsType(t, domain.ActionCount{}, badges[0].Condition)
		assert.IsType(t, domain.PointsThreshold{}, badges[1].Condition)
		assert.IsType(t, domain.StreakLength{}, badges[2].Condition)
		assert.Equal(t, domain.SpecialEvent{EventID: "beta"}, badges[3].Condition)
		assert.Equal(t, 7, c.WeekStreakLength())
	})

	cases := map[string]string{
		"UnknownConditionType": `
levels: [{level: Explorer, min_points: 0}]
badges: [{id: x, condition: {type: moon_phase}}]`,
		"DuplicateBadge": `
levels: [{level: Explorer, min_points: 0}]
badges:
  - {id: x, condition: {type: points_threshold, threshold: 1}}
  - {id: x, condition: {type: points_threshold, threshold: 2}}`,
		"UnknownStat": `
levels: [{level: Explorer, min_points: 0}]
actions: [{id: review, stat: likes, base_points: 1}]`,
		"NegativePoints": `
levels: [{level: Explorer, min_points: 0}]
actions: [{id: review, stat: reviews, base_points: -1}]`,
		"NoZeroLevel": `
levels: [{level: Expert, min_points: 10}]`,
		"NoLevels": `
actions: [{id: review, stat: reviews, base_points: 1}]`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src))
			assert.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: file
week_streak_bonus: 35
levels: [{level: Explorer, min_points: 0}]
actions: [{id: share, stat: shares, base_points: 3, daily_limit: 2}]
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(35), c.WeekStreakBonus())
	share, ok := c.Action(domain.ActionShare)
	require.True(t, ok)
	assert.Equal(t, 2, share.DailyLimit)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
