package reward

import (
	"math"

	"github.com/valorforge/arena-server/internal/domain"
)

// Pure scoring functions. Deterministic for identical inputs so finalize
// retries recompute the same result.

const (
	ratingBase     = 30.0
	baseExperience = 100
	winBonus       = 50
	actionBonus    = 5

	devastatorThreshold = 1000
	highDamageThreshold = 500
)

func typeRatingMultiplier(t domain.BattleType) float64 {
	switch t {
	case domain.BattleTournament:
		return 1.5
	case domain.BattleGuildRaid:
		return 1.2
	case domain.BattleCooperative:
		return 0.8
	default:
		return 1.0
	}
}

func typeExperienceMultiplier(t domain.BattleType) float64 {
	switch t {
	case domain.BattleTournament:
		return 2.0
	case domain.BattleGuildRaid:
		return 1.5
	case domain.BattleCooperative:
		return 1.3
	default:
		return 1.0
	}
}

// RatingDelta computes the rating change for one participant.
func RatingDelta(isWinner bool, battleType domain.BattleType) int {
	mult := 1.0
	if !isWinner {
		mult = -0.5
	}
	return Round(ratingBase * mult * typeRatingMultiplier(battleType))
}

// Experience computes earned XP: additive bonuses first, type multiplier last.
func Experience(stats domain.PlayerStats, isWinner bool, battleType domain.BattleType) int {
	xp := float64(baseExperience)
	if isWinner {
		xp += winBonus
	}
	if stats.DamageDealt > 0 {
		xp += math.Floor(float64(stats.DamageDealt) / 10)
	}
	if stats.ActionsPerformed > 0 {
		xp += float64(stats.ActionsPerformed * actionBonus)
	}
	xp *= typeExperienceMultiplier(battleType)
	return Round(xp)
}

// Loot assembles the reward list for one participant.
func Loot(isWinner bool, battleType domain.BattleType, stats domain.PlayerStats) []domain.Reward {
	rewards := []domain.Reward{}

	gold := 50
	if isWinner {
		gold = 100
	}
	rewards = append(rewards, domain.Reward{Type: "currency", Amount: gold, Currency: "gold"})

	if isWinner {
		rewards = append(rewards, domain.Reward{Type: "card_pack", Rarity: "common", Count: 1})
		if battleType == domain.BattleTournament {
			rewards = append(rewards, domain.Reward{Type: "card_pack", Rarity: "rare", Count: 1})
		}
	}

	if stats.DamageDealt > highDamageThreshold {
		rewards = append(rewards, domain.Reward{
			Type:          "achievement_progress",
			AchievementID: "high_damage_dealer",
			Progress:      1,
		})
	}

	return rewards
}

// BattleAchievements evaluates the battle-only achievement set. Quest
// milestones live in quest.go and must stay out of this path.
func BattleAchievements(stats domain.PlayerStats, isWinner bool, battleType domain.BattleType) []domain.Achievement {
	var out []domain.Achievement

	if isWinner && stats.DamageTaken == 0 {
		out = append(out, domain.Achievement{
			ID:          "perfect_victory",
			Name:        "Perfect Victory",
			Description: "Win a battle without taking damage",
			Rarity:      "rare",
			Points:      25,
		})
	}
	if stats.DamageDealt > devastatorThreshold {
		out = append(out, domain.Achievement{
			ID:          "devastator",
			Name:        "Devastator",
			Description: "Deal over 1000 damage in a single battle",
			Rarity:      "epic",
			Points:      30,
		})
	}
	if isWinner && battleType == domain.BattleTournament {
		out = append(out, domain.Achievement{
			ID:          "tournament_champion",
			Name:        "Tournament Champion",
			Description: "Win a tournament battle",
			Rarity:      "legendary",
			Points:      50,
		})
	}

	return out
}

// Round rounds half up toward positive infinity, matching the rounding the
// battle clients use (-22.5 becomes -22, not -23).
func Round(v float64) int {
	return int(math.Floor(v + 0.5))
}
