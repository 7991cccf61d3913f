package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/city-engagement/internal/domain"
	"gopkg.in/yaml.v3"
)

// ErrInvalidCatalog is returned when a catalog definition fails validation
var ErrInvalidCatalog = errors.New("invalid catalog")

// Catalog is the immutable set of point actions, badges and level thresholds
type Catalog struct {
	version          string
	actions          map[domain.ActionType]domain.PointActionConfig
	actionOrder      []domain.ActionType
	badges           []domain.BadgeDefinition
	badgeIndex       map[string]int
	specialEvents    map[string]bool
	levels           []domain.LevelThreshold
	weekStreakLength int
	weekStreakBonus  int64
}

// Definition is the serializable form of a catalog
type Definition struct {
	Version          string                     `yaml:"version"`
	WeekStreakLength int                        `yaml:"week_streak_length"`
	WeekStreakBonus  int64                      `yaml:"week_streak_bonus"`
	Levels           []domain.LevelThreshold    `yaml:"levels"`
	Actions          []domain.PointActionConfig `yaml:"actions"`
	Badges           []BadgeDef                `yaml:"badges"`
}

// BadgeDef is the serializable form of a badge definition
type BadgeDef struct {
	ID          string               `yaml:"id"`
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Category    domain.BadgeCategory `yaml:"category"`
	PointsAward int64                `yaml:"points_award"`
	Rarity      domain.Rarity        `yaml:"rarity"`
	Condition   ConditionDef        `yaml:"condition"`
}

// ConditionDef is the tagged form of an unlock condition
type ConditionDef struct {
	Type      string          `yaml:"type"`
	Stat      domain.StatKind `yaml:"stat,omitempty"`
	Threshold int64           `yaml:"threshold,omitempty"`
	EventID   string          `yaml:"event_id,omitempty"`
}

// toCondition converts the tagged form into the sealed condition type
func (c ConditionDef) toCondition() (domain.UnlockCondition, error) {
	switch c.Type {
	case "action_count":
		if !c.Stat.Valid() {
			return nil, fmt.Errorf("unknown stat %q", c.Stat)
		}
		if c.Threshold <= 0 {
			return nil, fmt.Errorf("action_count threshold must be positive")
		}
		return domain.ActionCount{Stat: c.Stat, Threshold: c.Threshold}, nil
	case "points_threshold":
		if c.Threshold <= 0 {
			return nil, fmt.Errorf("points_threshold threshold must be positive")
		}
		return domain.PointsThreshold{Threshold: c.Threshold}, nil
	case "streak_length":
		if c.Threshold <= 0 {
			return nil, fmt.Errorf("streak_length threshold must be positive")
		}
		return domain.StreakLength{Threshold: int(c.Threshold)}, nil
	case "special_event":
		if c.EventID == "" {
			return nil, fmt.Errorf("special_event requires event_id")
		}
		return domain.SpecialEvent{EventID: c.EventID}, nil
	default:
		return nil, fmt.Errorf("unknown condition type %q", c.Type)
	}
}

// Load reads a catalog definition from a YAML file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from YAML
func Parse(data []byte) (*Catalog, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return New(def)
}

// New validates a definition and builds the catalog
func New(def Definition) (*Catalog, error) {
	c := &Catalog{
		version:          def.Version,
		actions:          make(map[domain.ActionType]domain.PointActionConfig, len(def.Actions)),
		badgeIndex:       make(map[string]int, len(def.Badges)),
		specialEvents:    make(map[string]bool),
		weekStreakLength: def.WeekStreakLength,
		weekStreakBonus:  def.WeekStreakBonus,
	}
	if c.version == "" {
		c.version = "unversioned"
	}
	if c.weekStreakLength <= 0 {
		c.weekStreakLength = 7
	}
	if c.weekStreakBonus < 0 {
		return nil, fmt.Errorf("%w: week streak bonus must not be negative", ErrInvalidCatalog)
	}

	for _, a := range def.Actions {
		if a.ID == "" {
			return nil, fmt.Errorf("%w: action without id", ErrInvalidCatalog)
		}
		if _, dup := c.actions[a.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate action %q", ErrInvalidCatalog, a.ID)
		}
		if !a.Stat.Valid() {
			return nil, fmt.Errorf("%w: action %q has unknown stat %q", ErrInvalidCatalog, a.ID, a.Stat)
		}
		if a.BasePoints < 0 || a.DailyLimit < 0 {
			return nil, fmt.Errorf("%w: action %q has negative points or limit", ErrInvalidCatalog, a.ID)
		}
		c.actions[a.ID] = a
		c.actionOrder = append(c.actionOrder, a.ID)
	}

	for _, b := range def.Badges {
		if b.ID == "" {
			return nil, fmt.Errorf("%w: badge without id", ErrInvalidCatalog)
		}
		if _, dup := c.badgeIndex[b.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate badge %q", ErrInvalidCatalog, b.ID)
		}
		if b.PointsAward < 0 {
			return nil, fmt.Errorf("%w: badge %q has negative award", ErrInvalidCatalog, b.ID)
		}
		cond, err := b.Condition.toCondition()
		if err != nil {
			return nil, fmt.Errorf("%w: badge %q: %v", ErrInvalidCatalog, b.ID, err)
		}
		if ev, ok := cond.(domain.SpecialEvent); ok {
			c.specialEvents[ev.EventID] = true
		}
		c.badgeIndex[b.ID] = len(c.badges)
		c.badges = append(c.badges, domain.BadgeDefinition{
			ID:          b.ID,
			Name:        b.Name,
			Description: b.Description,
			Category:    b.Category,
			PointsAward: b.PointsAward,
			Rarity:      b.Rarity,
			Condition:   cond,
		})
	}

	levels, err := validateLevels(def.Levels)
	if err != nil {
		return nil, err
	}
	c.levels = levels

	return c, nil
}

func validateLevels(in []domain.LevelThreshold) ([]domain.LevelThreshold, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: no level thresholds", ErrInvalidCatalog)
	}
	levels := append([]domain.LevelThreshold(nil), in...)
	sort.SliceStable(levels, func(i, j int) bool {
		return levels[i].MinPoints < levels[j].MinPoints
	})
	if levels[0].MinPoints != 0 {
		return nil, fmt.Errorf("%w: lowest level must start at 0 points", ErrInvalidCatalog)
	}
	seen := make(map[domain.Level]bool, len(levels))
	for i, l := range levels {
		if l.Level == "" || seen[l.Level] {
			return nil, fmt.Errorf("%w: missing or duplicate level %q", ErrInvalidCatalog, l.Level)
		}
		seen[l.Level] = true
		if i > 0 && l.MinPoints == levels[i-1].MinPoints {
			return nil, fmt.Errorf("%w: levels %q and %q share a threshold", ErrInvalidCatalog, levels[i-1].Level, l.Level)
		}
	}
	return levels, nil
}

// Version returns the catalog version string
func (c *Catalog) Version() string {
	return c.version
}

// Action returns the configuration for an action type
func (c *Catalog) Action(id domain.ActionType) (domain.PointActionConfig, bool) {
	a, ok := c.actions[id]
	return a, ok
}

// Actions returns all actions in definition order
func (c *Catalog) Actions() []domain.PointActionConfig {
	out := make([]domain.PointActionConfig, len(c.actionOrder))
	for i, id := range c.actionOrder {
		out[i] = c.actions[id]
	}
	return out
}

// Badges returns all badge definitions in definition order
func (c *Catalog) Badges() []domain.BadgeDefinition {
	return append([]domain.BadgeDefinition(nil), c.badges...)
}

// Badge returns a badge definition by id
func (c *Catalog) Badge(id string) (domain.BadgeDefinition, bool) {
	i, ok := c.badgeIndex[id]
	if !ok {
		return domain.BadgeDefinition{}, false
	}
	return c.badges[i], true
}

// HasSpecialEvent reports whether any badge unlocks on the event
func (c *Catalog) HasSpecialEvent(eventID string) bool {
	return c.specialEvents[eventID]
}

// Levels returns the thresholds in ascending order
func (c *Catalog) Levels() []domain.LevelThreshold {
	return append([]domain.LevelThreshold(nil), c.levels...)
}

// WeekStreakLength is the streak day count that earns the bonus
func (c *Catalog) WeekStreakLength() int {
	return c.weekStreakLength
}

// WeekStreakBonus is the point grant for reaching the streak milestone
func (c *Catalog) WeekStreakBonus() int64 {
	return c.weekStreakBonus
}
