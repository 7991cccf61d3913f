package engine

import (
	"testing"

	"github.com/city-engagement/internal/catalog"
	"github.com/city-engagement/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestLevelFor(t *testing.T) {
	thresholds := catalog.Default().Levels()

	cases := []struct {
		points int64
		want   domain.Level
	}{
		{0, domain.LevelExplorer},
		{199, domain.LevelExplorer},
		{200, domain.LevelExpert},
		{499, domain.LevelExpert},
		{500, domain.LevelAmbassador},
		{100000, domain.LevelAmbassador},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, LevelFor(tc.points, thresholds), "points=%d", tc.points)
	}
}

func TestNextLevel(t *testing.T) {
	thresholds := catalog.Default().Levels()

	level, remaining, ok := NextLevel(150, thresholds)
	assert.True(t, ok)
	assert.Equal(t, domain.LevelExpert, level)
	assert.Equal(t, int64(50), remaining)

	level, remaining, ok = NextLevel(200, thresholds)
	assert.True(t, ok)
	assert.Equal(t, domain.LevelAmbassador, level)
	assert.Equal(t, int64(300), remaining)

	_, _, ok = NextLevel(750, thresholds)
	assert.False(t, ok)
}
