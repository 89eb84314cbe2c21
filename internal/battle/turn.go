package battle

import (
	"encoding/json"
	"time"

	"github.com/valorforge/arena-server/internal/reward"
)

// Per-action-type state effects. Pure over the session snapshot read inside
// the transaction; the caller merges the returned delta and advances the turn.
//
// Unknown action types yield an empty delta but still advance the turn. That
// leniency is deliberate: a malformed client payload must not stall a battle.

func applyActionEffects(sess *Session, userID, actionType string, metadata GameState, now time.Time) GameState {
	switch actionType {
	case ActionAttack:
		return attackDelta(sess, userID, metadata, now)
	case ActionDefend:
		return GameState{
			"defense_actions": map[string]any{
				userID: map[string]any{
					"is_defending":  true,
					"defense_bonus": 0.5,
					"timestamp":     now,
				},
			},
		}
	case ActionUseAbility:
		return abilityDelta(userID, metadata, now)
	case ActionEndTurn:
		return GameState{}
	default:
		return GameState{}
	}
}

func attackDelta(sess *Session, userID string, metadata GameState, now time.Time) GameState {
	attack, ok := metadata["attack_data"].(map[string]any)
	if !ok {
		return GameState{}
	}
	damage := toFloat(attack["base_damage"])

	if sess.Env != nil {
		mult := sess.Env.DamageMultiplier
		if mult == 0 {
			mult = 1.0
		}
		damage *= mult
		if bonus, ok := sess.Env.PlayerBonuses[userID]; ok {
			damage += bonus
		}
	}

	return GameState{
		"last_attack": map[string]any{
			"attacker":  userID,
			"damage":    reward.Round(damage),
			"timestamp": now,
		},
	}
}

func abilityDelta(userID string, metadata GameState, now time.Time) GameState {
	ability, ok := metadata["ability_data"].(map[string]any)
	if !ok {
		return GameState{}
	}
	return GameState{
		"last_ability": map[string]any{
			"user":       userID,
			"ability_id": ability["id"],
			"effects":    ability["effects"],
			"timestamp":  now,
		},
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}
