// Package battledto holds the wire types exchanged with battle clients.
package battledto

import "time"

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type EnvModifiers struct {
	DamageMultiplier     float64            `json:"damage_multiplier,omitempty"`
	SpeedMultiplier      float64            `json:"speed_multiplier,omitempty"`
	ExperienceMultiplier float64            `json:"experience_multiplier,omitempty"`
	PlayerBonuses        map[string]float64 `json:"player_bonuses,omitempty"`
}

type InitializeRequest struct {
	BattleID     string         `json:"battle_id,omitempty"`
	PlayerIDs    []string       `json:"player_ids"`
	BattleType   string         `json:"battle_type"`
	InitialState map[string]any `json:"initial_state,omitempty"`
	Modifiers    *EnvModifiers  `json:"environment_modifiers,omitempty"`
}

type InitializeResponse struct {
	BattleID    string    `json:"battle_id"`
	Status      string    `json:"status"`
	CurrentTurn string    `json:"current_turn"`
	CreatedAt   time.Time `json:"created_at"`
}

type SyncRequest struct {
	ActionType string         `json:"action_type"`
	GameState  map[string]any `json:"game_state,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  int64          `json:"timestamp,omitempty"`
}

type SyncResponse struct {
	Accepted    bool           `json:"accepted"`
	BattleID    string         `json:"battle_id"`
	Status      string         `json:"status"`
	CurrentTurn string         `json:"current_turn"`
	TurnCount   int            `json:"turn_count"`
	GameState   map[string]any `json:"game_state"`
	Conflicts   []Conflict     `json:"conflicts,omitempty"`
}

type Conflict struct {
	Type       string `json:"type"`
	UserID     string `json:"user_id,omitempty"`
	ActionType string `json:"action_type,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

type PlayerStats struct {
	DamageDealt      int `json:"damage_dealt"`
	DamageTaken      int `json:"damage_taken"`
	ActionsPerformed int `json:"actions_performed"`
	HealingDone      int `json:"healing_done"`
}

type ResultSubmitRequest struct {
	WinnerID string                 `json:"winner_id"`
	Stats    map[string]PlayerStats `json:"player_stats,omitempty"`
}

type Reward struct {
	Type          string `json:"type"`
	Amount        int    `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
	Rarity        string `json:"rarity,omitempty"`
	Count         int    `json:"count,omitempty"`
	AchievementID string `json:"achievement_id,omitempty"`
	Progress      int    `json:"progress,omitempty"`
}

type Achievement struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Rarity      string `json:"rarity"`
	Points      int    `json:"points"`
}

type BattleResult struct {
	BattleID     string                   `json:"battle_id"`
	WinnerID     string                   `json:"winner_id"`
	BattleType   string                   `json:"battle_type"`
	FinalStats   map[string]PlayerStats   `json:"final_stats"`
	RatingDelta  map[string]int           `json:"rating_delta"`
	Experience   map[string]int           `json:"experience"`
	Rewards      map[string][]Reward      `json:"rewards"`
	Achievements map[string][]Achievement `json:"achievements,omitempty"`
	CompletedAt  time.Time                `json:"completed_at"`
}

type ResultSubmitResponse struct {
	Result *BattleResult `json:"result"`
}

type QuestCompleteRequest struct {
	QuestID             string   `json:"quest_id"`
	CompletionScore     int      `json:"completion_score"`
	CompletedObjectives []string `json:"completed_objectives"`
}

type QuestResult struct {
	QuestID      string        `json:"quest_id"`
	Completed    bool          `json:"completed"`
	Rewards      []Reward      `json:"rewards"`
	Experience   int           `json:"experience"`
	Achievements []Achievement `json:"achievements,omitempty"`
	NextQuestID  string        `json:"next_quest_id,omitempty"`
}

type QuestCompleteResponse struct {
	Result *QuestResult `json:"result"`
}

type LeaderboardEntry struct {
	PlayerID string  `json:"player_id"`
	Score    float64 `json:"score"`
	Rank     int     `json:"rank"`
}

type LeaderboardResponse struct {
	Category string             `json:"category"`
	Entries  []LeaderboardEntry `json:"entries"`
}
