package engine

import "github.com/city-engagement/internal/domain"

// LevelFor maps points to a level. thresholds must be sorted ascending by
// MinPoints with the first one at zero.
func LevelFor(points int64, thresholds []domain.LevelThreshold) domain.Level {
	for i := len(thresholds) - 1; i >= 0; i-- {
		if points >= thresholds[i].MinPoints {
			return thresholds[i].Level
		}
	}
	if len(thresholds) > 0 {
		return thresholds[0].Level
	}
	return domain.LevelExplorer
}

// NextLevel returns the next level above points and how many points it
// still needs. ok is false at the top level.
func NextLevel(points int64, thresholds []domain.LevelThreshold) (level domain.Level, remaining int64, ok bool) {
	for _, t := range thresholds {
		if t.MinPoints > points {
			return t.Level, t.MinPoints - points, true
		}
	}
	return "", 0, false
}
