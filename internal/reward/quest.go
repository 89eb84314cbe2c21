package reward

import (
	"github.com/valorforge/arena-server/internal/domain"
)

// Quest scoring path. Rule set is deliberately separate from the battle path:
// milestone and perfect-score achievements never fire from battles.

// QuestDef is the stored definition a completion is scored against.
type QuestDef struct {
	QuestID          string          `json:"quest_id"`
	ExperienceReward int             `json:"experience_reward"`
	Difficulty       string          `json:"difficulty"`
	Rewards          []domain.Reward `json:"rewards"`
	Objectives       []Objective     `json:"objectives"`
	NextQuestID      string          `json:"next_quest_id,omitempty"`
}

type Objective struct {
	ID       string `json:"id"`
	Required bool   `json:"required"`
}

func difficultyMultiplier(d string) float64 {
	switch d {
	case "hard":
		return 1.5
	case "medium":
		return 1.2
	default:
		return 1.0
	}
}

// ValidateCompletion checks every required objective is reported complete.
func ValidateCompletion(completion domain.QuestCompletion, def QuestDef) bool {
	if len(completion.CompletedObjectives) == 0 {
		return false
	}
	done := make(map[string]bool, len(completion.CompletedObjectives))
	for _, id := range completion.CompletedObjectives {
		done[id] = true
	}
	for _, obj := range def.Objectives {
		if obj.Required && !done[obj.ID] {
			return false
		}
	}
	return true
}

// QuestExperience scales base XP by completion score and difficulty.
func QuestExperience(completion domain.QuestCompletion, def QuestDef) int {
	base := def.ExperienceReward
	if base <= 0 {
		base = 100
	}
	score := completion.CompletionScore
	if score <= 0 {
		score = 100
	}
	return Round(float64(base) * float64(score) / 100 * difficultyMultiplier(def.Difficulty))
}

// QuestRewards scales each defined reward amount by the completion score.
func QuestRewards(completion domain.QuestCompletion, def QuestDef) []domain.Reward {
	score := completion.CompletionScore
	if score <= 0 {
		score = 100
	}
	out := make([]domain.Reward, 0, len(def.Rewards))
	for _, r := range def.Rewards {
		scaled := r
		scaled.Amount = Round(float64(r.Amount) * float64(score) / 100)
		out = append(out, scaled)
	}
	return out
}

// QuestAchievements evaluates milestone and perfect-score unlocks.
// totalCompleted is the player's cumulative count including this quest.
func QuestAchievements(completion domain.QuestCompletion, totalCompleted int) []domain.Achievement {
	var out []domain.Achievement

	switch totalCompleted {
	case 10:
		out = append(out, domain.Achievement{
			ID: "quest_novice", Name: "Quest Novice",
			Description: "Complete 10 quests", Rarity: "common", Points: 15,
		})
	case 50:
		out = append(out, domain.Achievement{
			ID: "quest_veteran", Name: "Quest Veteran",
			Description: "Complete 50 quests", Rarity: "rare", Points: 30,
		})
	case 100:
		out = append(out, domain.Achievement{
			ID: "quest_master", Name: "Quest Master",
			Description: "Complete 100 quests", Rarity: "epic", Points: 50,
		})
	}

	if completion.CompletionScore >= 100 {
		out = append(out, domain.Achievement{
			ID: "perfectionist", Name: "Perfectionist",
			Description: "Complete a quest with perfect score", Rarity: "rare", Points: 20,
		})
	}

	return out
}
