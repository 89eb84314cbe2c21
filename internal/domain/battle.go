package domain

import "time"

// BattleType selects reward multipliers and turn-enforcement rules.
type BattleType string

const (
	BattlePvP         BattleType = "pvp"
	BattleGuildRaid   BattleType = "guild_raid"
	BattleTournament  BattleType = "tournament"
	BattleCooperative BattleType = "cooperative"
)

func (t BattleType) Valid() bool {
	switch t {
	case BattlePvP, BattleGuildRaid, BattleTournament, BattleCooperative:
		return true
	}
	return false
}

// PlayerStats are the raw per-player numbers reported for a finished battle.
type PlayerStats struct {
	DamageDealt      int `json:"damage_dealt"`
	DamageTaken      int `json:"damage_taken"`
	ActionsPerformed int `json:"actions_performed"`
	HealingDone      int `json:"healing_done,omitempty"`
}

// Reward is a single granted item (currency, card pack, achievement progress).
type Reward struct {
	Type          string `json:"type"`
	Amount        int    `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
	Rarity        string `json:"rarity,omitempty"`
	Count         int    `json:"count,omitempty"`
	AchievementID string `json:"achievement_id,omitempty"`
	Progress      int    `json:"progress,omitempty"`
}

// Achievement is an unlock triggered by battle or quest evaluation.
type Achievement struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Rarity      string `json:"rarity"`
	Points      int    `json:"points"`
}

// BattleResult is immutable once written to a completed session.
type BattleResult struct {
	BattleID     string                   `json:"battle_id"`
	WinnerID     string                   `json:"winner_id"`
	BattleType   BattleType               `json:"battle_type"`
	FinalStats   map[string]PlayerStats   `json:"final_stats"`
	RatingDelta  map[string]int           `json:"rating_delta"`
	Experience   map[string]int           `json:"experience"`
	Rewards      map[string][]Reward      `json:"rewards"`
	Achievements map[string][]Achievement `json:"achievements,omitempty"`
	CompletedAt  time.Time                `json:"completed_at"`
}

// ProfileDelta is the additive update applied to a player profile after a
// battle or quest. All fields are pure increments so concurrent applications
// commute.
type ProfileDelta struct {
	PlayerID        string
	ExperienceDelta int
	RatingDelta     int
	BattlesPlayed   int
	BattlesWon      int
	QuestsCompleted int
}

// ProfileTotals is the aggregate snapshot after a delta lands. Carried in
// outbound events so ranking consumers can write absolute scores and stay
// idempotent under redelivery.
type ProfileTotals struct {
	TotalXP         int `json:"total_xp"`
	BattleRating    int `json:"battle_rating"`
	BattlesWon      int `json:"battles_won"`
	QuestsCompleted int `json:"quests_completed"`
}

// QuestCompletion is a client-reported quest finish.
type QuestCompletion struct {
	QuestID             string   `json:"quest_id"`
	CompletionScore     int      `json:"completion_score"`
	CompletedObjectives []string `json:"completed_objectives"`
}

// QuestResult mirrors BattleResult for the quest path.
type QuestResult struct {
	QuestID      string        `json:"quest_id"`
	Completed    bool          `json:"completed"`
	Rewards      []Reward      `json:"rewards"`
	Experience   int           `json:"experience"`
	Achievements []Achievement `json:"achievements,omitempty"`
	NextQuestID  string        `json:"next_quest_id,omitempty"`
}
