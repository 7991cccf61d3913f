package catalog

import "github.com/city-engagement/internal/domain"

// DefaultDefinition is the built-in catalog used when no catalog file is configured
func DefaultDefinition() Definition {
	return Definition{
		Version:          "2026.10.1",
		WeekStreakLength: 7,
		WeekStreakBonus:  50,
		Levels: []domain.LevelThreshold{
			{Level: domain.LevelExplorer, MinPoints: 0},
			{Level: domain.LevelExpert, MinPoints: 200},
			{Level: domain.LevelAmbassador, MinPoints: 500},
		},
		Actions: []domain.PointActionConfig{
			{ID: domain.ActionReview, Stat: domain.StatReviews, BasePoints: 10, DailyLimit: 5},
			{ID: domain.ActionComment, Stat: domain.StatComments, BasePoints: 5, DailyLimit: 10},
			{ID: domain.ActionFavorite, Stat: domain.StatFavorites, BasePoints: 2, DailyLimit: 20},
			{ID: domain.ActionShare, Stat: domain.StatShares, BasePoints: 3, DailyLimit: 10},
			{ID: domain.ActionPlaceVisit, Stat: domain.StatPlacesVisited, BasePoints: 5},
			{ID: domain.ActionEventAttend, Stat: domain.StatEventsAttended, BasePoints: 15},
			{ID: domain.ActionHelpfulVote, Stat: domain.StatHelpfulVotes, BasePoints: 2, DailyLimit: 25},
		},
		Badges: []BadgeDef{
			{
				ID: "first_review", Name: "First Review", Description: "Wrote your first review",
				Category: domain.CategoryContribution, PointsAward: 20, Rarity: domain.RarityCommon,
				Condition: ConditionDef{Type: "action_count", Stat: domain.StatReviews, Threshold: 1},
			},
			{
				ID: "review_pro", Name: "Review Pro", Description: "Wrote 10 reviews",
				Category: domain.CategoryContribution, PointsAward: 100, Rarity: domain.RarityRare,
				Condition: ConditionDef{Type: "action_count", Stat: domain.StatReviews, Threshold: 10},
			},
			{
				ID: "conversation_starter", Name: "Conversation Starter", Description: "Posted 25 comments",
				Category: domain.CategorySocial, PointsAward: 50, Rarity: domain.RarityRare,
				Condition: ConditionDef{Type: "action_count", Stat: domain.StatComments, Threshold: 25},
			},
			{
				ID: "social_butterfly", Name: "Social Butterfly", Description: "Shared 10 listings",
				Category: domain.CategorySocial, PointsAward: 50, Rarity: domain.RarityRare,
				Condition: ConditionDef{Type: "action_count", Stat: domain.StatShares, Threshold: 10},
			},
			{
				ID: "collector", Name: "Collector", Description: "Saved 20 favorites",
				Category: domain.CategoryExploration, PointsAward: 30, Rarity: domain.RarityCommon,
				Condition: ConditionDef{Type: "action_count", Stat: domain.StatFavorites, Threshold: 20},
			},
			{
				ID: "city_explorer", Name: "City Explorer", Description: "Visited 10 places",
				Category: domain.CategoryExploration, PointsAward: 75, Rarity: domain.RarityRare,
				Condition: ConditionDef{Type: "action_count", Stat: domain.StatPlacesVisited, Threshold: 10},
			},
			{
				ID: "event_goer", Name: "Event Goer", Description: "Attended 5 events",
				Category: domain.CategoryExploration, PointsAward: 75, Rarity: domain.RarityRare,
				Condition: ConditionDef{Type: "action_count", Stat: domain.StatEventsAttended, Threshold: 5},
			},
			{
				ID: "helping_hand", Name: "Helping Hand", Description: "Cast 25 helpful votes",
				Category: domain.CategorySocial, PointsAward: 40, Rarity: domain.RarityCommon,
				Condition: ConditionDef{Type: "action_count", Stat: domain.StatHelpfulVotes, Threshold: 25},
			},
			{
				ID: "week_warrior", Name: "Week Warrior", Description: "Active 7 days in a row",
				Category: domain.CategoryDedication, PointsAward: 70, Rarity: domain.RarityRare,
				Condition: ConditionDef{Type: "streak_length", Threshold: 7},
			},
			{
				ID: "month_master", Name: "Month Master", Description: "Active 30 days in a row",
				Category: domain.CategoryDedication, PointsAward: 300, Rarity: domain.RarityEpic,
				Condition: ConditionDef{Type: "streak_length", Threshold: 30},
			},
			{
				ID: "century", Name: "Century", Description: "Earned 100 points",
				Category: domain.CategoryMilestone, PointsAward: 25, Rarity: domain.RarityCommon,
				Condition: ConditionDef{Type: "points_threshold", Threshold: 100},
			},
			{
				ID: "local_legend", Name: "Local Legend", Description: "Earned 1000 points",
				Category: domain.CategoryMilestone, PointsAward: 100, Rarity: domain.RarityLegendary,
				Condition: ConditionDef{Type: "points_threshold", Threshold: 1000},
			},
			{
				ID: "early_adopter", Name: "Early Adopter", Description: "Joined during the launch cohort",
				Category: domain.CategorySpecial, PointsAward: 50, Rarity: domain.RarityEpic,
				Condition: ConditionDef{Type: "special_event", EventID: "early_adopter"},
			},
		},
	}
}

// Default returns the built-in catalog
func Default() *Catalog {
	c, err := New(DefaultDefinition())
	if err != nil {
		panic("catalog: invalid built-in definition: " + err.Error())
	}
	return c
}
