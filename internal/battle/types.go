package battle

import (
	"errors"
	"time"

	"github.com/valorforge/arena-server/internal/domain"
)

// Status is the monotonic session lifecycle state.
type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
)

// Conflict marks a business-level turn or version race. Conflicts are normal
// outcomes carried in the sync response, never errors.
type Conflict string

const (
	ConflictNotYourTurn Conflict = "not_your_turn"
	ConflictSyncError   Conflict = "sync_error"
)

// Action types the turn machine understands. Anything else is a documented
// no-op that still advances the turn.
const (
	ActionAttack     = "attack"
	ActionDefend     = "defend"
	ActionUseAbility = "use_ability"
	ActionEndTurn    = "end_turn"
)

var (
	ErrNotFound        = errors.New("battle not found")
	ErrUnauthorized    = errors.New("user not a battle participant")
	ErrInvalidArgument = errors.New("invalid battle argument")
	ErrConflict        = errors.New("concurrent battle update")
	ErrNotActive       = errors.New("battle is not active")
)

// GameState is the opaque battle-type-specific payload. Updates merge per
// top-level key, they never replace the whole map.
type GameState map[string]any

// Merge overwrites s's top-level keys with delta's. Returns s for chaining.
func (s GameState) Merge(delta GameState) GameState {
	for k, v := range delta {
		s[k] = v
	}
	return s
}

// Clone copies the top level only; nested values stay shared.
func (s GameState) Clone() GameState {
	out := make(GameState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// EnvModifiers are externally supplied damage/speed/experience multipliers
// plus flat per-player bonuses (weather, terrain).
type EnvModifiers struct {
	DamageMultiplier     float64            `json:"damage_multiplier,omitempty"`
	SpeedMultiplier      float64            `json:"speed_multiplier,omitempty"`
	ExperienceMultiplier float64            `json:"experience_multiplier,omitempty"`
	PlayerBonuses        map[string]float64 `json:"player_bonuses,omitempty"`
}

// LastAction summarizes the most recent submission per player.
type LastAction struct {
	ActionType string    `json:"action_type"`
	Timestamp  time.Time `json:"timestamp"`
}

// Session is the root aggregate, stored as JSON under battle:<id>.
type Session struct {
	ID          string                `json:"id"`
	Players     []string              `json:"players"`
	CurrentTurn string                `json:"current_turn"`
	BattleType  domain.BattleType     `json:"battle_type"`
	GameState   GameState             `json:"game_state"`
	Env         *EnvModifiers         `json:"env,omitempty"`
	Status      Status                `json:"status"`
	IsActive    bool                  `json:"is_active"`
	TurnCount   int                   `json:"turn_count"`
	LastActions map[string]LastAction `json:"last_actions,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Result      *domain.BattleResult  `json:"result,omitempty"`
}

// HasPlayer reports membership in the turn order.
func (s *Session) HasPlayer(userID string) bool {
	for _, p := range s.Players {
		if p == userID {
			return true
		}
	}
	return false
}

func (s *Session) playerIndex(userID string) int {
	for i, p := range s.Players {
		if p == userID {
			return i
		}
	}
	return -1
}

// NextTurn returns the player after userID in round-robin order.
func (s *Session) NextTurn(userID string) string {
	i := s.playerIndex(userID)
	if i < 0 || len(s.Players) == 0 {
		return s.CurrentTurn
	}
	return s.Players[(i+1)%len(s.Players)]
}

// TurnEnforced reports whether this session checks turn ownership for the
// given action type. Cooperative battles exempt defend and use_ability.
func (s *Session) TurnEnforced(actionType string) bool {
	if s.BattleType != domain.BattleCooperative {
		return true
	}
	switch actionType {
	case ActionDefend, ActionUseAbility:
		return false
	default:
		return true
	}
}

// PlayerState is per-participant ephemeral state under battle:<id>:player:<uid>.
// Written only by its owning player's request path.
type PlayerState struct {
	BattleID      string    `json:"battle_id"`
	PlayerID      string    `json:"player_id"`
	GameState     GameState `json:"game_state,omitempty"`
	ActionType    string    `json:"action_type,omitempty"`
	IsReady       bool      `json:"is_ready"`
	IsConnected   bool      `json:"is_connected"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// ActionRecord is one append-only audit log entry.
type ActionRecord struct {
	ID         string    `json:"id"`
	PlayerID   string    `json:"player_id"`
	ActionType string    `json:"action_type"`
	State      GameState `json:"state,omitempty"`
	Metadata   GameState `json:"metadata,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Processed  bool      `json:"processed"`
}

// SyncResult is the outcome of one SyncState call.
type SyncResult struct {
	Accepted  bool
	Session   *Session
	Conflicts []Conflict
}
