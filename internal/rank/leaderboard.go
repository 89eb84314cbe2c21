package rank

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/valorforge/arena-server/internal/obslog"
	"github.com/valorforge/arena-server/internal/sink"
	"go.uber.org/zap"
)

// Leaderboard keeps per-category sorted sets. Updates are last-value-wins
// (ZADD overwrites the member score), which makes retries idempotent.

const (
	CategoryTotalXP           = "total_xp"
	CategoryBattleRating      = "battle_rating"
	CategoryQuestsCompleted   = "quests_completed"
	CategoryAchievementPoints = "achievement_points"
)

type Leaderboard struct {
	rdb *redis.Client
}

func NewLeaderboard(rdb *redis.Client) *Leaderboard {
	return &Leaderboard{rdb: rdb}
}

func key(category string) string { return "arena:leaderboard:" + strings.TrimSpace(category) }

// SetScore records the player's current aggregate score for a category.
func (l *Leaderboard) SetScore(ctx context.Context, category, playerID string, score float64) error {
	if l == nil || l.rdb == nil {
		return fmt.Errorf("leaderboard not initialized")
	}
	if strings.TrimSpace(category) == "" || strings.TrimSpace(playerID) == "" {
		return fmt.Errorf("category and player id required")
	}
	return l.rdb.ZAdd(ctx, key(category), redis.Z{Score: score, Member: playerID}).Err()
}

type Entry struct {
	PlayerID string  `json:"player_id"`
	Score    float64 `json:"score"`
	Rank     int     `json:"rank"`
}

// Top returns the highest-scored entries with 1-based ranks.
func (l *Leaderboard) Top(ctx context.Context, category string, limit int) ([]Entry, error) {
	if l == nil || l.rdb == nil {
		return nil, fmt.Errorf("leaderboard not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	zs, err := l.rdb.ZRevRangeWithScores(ctx, key(category), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		entries = append(entries, Entry{PlayerID: member, Score: z.Score, Rank: i + 1})
	}
	return entries, nil
}

// PlayerRank returns the 1-based rank for one player, 0 when unranked.
func (l *Leaderboard) PlayerRank(ctx context.Context, category, playerID string) (int, error) {
	if l == nil || l.rdb == nil {
		return 0, fmt.Errorf("leaderboard not initialized")
	}
	r, err := l.rdb.ZRevRank(ctx, key(category), playerID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(r) + 1, nil
}

// Apply consumes aggregate-carrying events from the dispatcher. Payload
// fields hold absolute post-update scores, so writes go through SetScore and
// a redelivered event lands on the same value.
func (l *Leaderboard) Apply(ctx context.Context, ev sink.Event) error {
	if strings.TrimSpace(ev.UserID) == "" {
		return nil
	}
	var fields map[string]string
	switch ev.Kind {
	case sink.EventRatingUpdated:
		fields = map[string]string{
			"battle_rating": CategoryBattleRating,
			"total_xp":      CategoryTotalXP,
		}
	case sink.EventQuestCompleted:
		fields = map[string]string{
			"total_xp":         CategoryTotalXP,
			"quests_completed": CategoryQuestsCompleted,
		}
	default:
		return nil
	}
	for field, category := range fields {
		score, ok := payloadNumber(ev.Payload[field])
		if !ok {
			continue
		}
		if err := l.SetScore(ctx, category, ev.UserID, score); err != nil {
			return err
		}
	}
	obslog.L().Debug("leaderboard_apply", zap.String("user_id", ev.UserID), zap.String("kind", string(ev.Kind)))
	return nil
}

// payloadNumber reads a numeric payload field. Events built in process carry
// ints, events decoded from JSON carry float64 or json.Number.
func payloadNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
