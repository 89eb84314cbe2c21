package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/valorforge/arena-server/internal/domain"
)

// Repository persists player aggregates and final battle results in Postgres.
// All profile writes are pure additive increments so concurrent finalizations
// of unrelated battles touching the same profile cannot lose updates.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// ApplyDelta upserts the profile row with atomic increments and returns the
// aggregates after the update so event payloads can carry absolute scores.
func (r *Repository) ApplyDelta(ctx context.Context, delta domain.ProfileDelta) (domain.ProfileTotals, error) {
	if r == nil || r.db == nil {
		return domain.ProfileTotals{}, nil
	}
	const q = `INSERT INTO player_profiles (
	    player_id, total_xp, battle_rating, battles_played, battles_won, quests_completed, last_battle_at
	  ) VALUES ($1,$2,$3,$4,$5,$6,NOW())
	  ON CONFLICT (player_id) DO UPDATE SET
	    total_xp=player_profiles.total_xp+EXCLUDED.total_xp,
	    battle_rating=player_profiles.battle_rating+EXCLUDED.battle_rating,
	    battles_played=player_profiles.battles_played+EXCLUDED.battles_played,
	    battles_won=player_profiles.battles_won+EXCLUDED.battles_won,
	    quests_completed=player_profiles.quests_completed+EXCLUDED.quests_completed,
	    last_battle_at=NOW()
	  RETURNING total_xp, battle_rating, battles_won, quests_completed`

	var totals domain.ProfileTotals
	err := r.db.QueryRowContext(ctx, q,
		delta.PlayerID,
		delta.ExperienceDelta,
		delta.RatingDelta,
		delta.BattlesPlayed,
		delta.BattlesWon,
		delta.QuestsCompleted,
	).Scan(&totals.TotalXP, &totals.BattleRating, &totals.BattlesWon, &totals.QuestsCompleted)
	if err != nil {
		return domain.ProfileTotals{}, err
	}
	return totals, nil
}

// SaveBattleResult upserts the immutable result record keyed by battle id.
func (r *Repository) SaveBattleResult(ctx context.Context, result *domain.BattleResult) error {
	if r == nil || r.db == nil || result == nil {
		return nil
	}

	statsRaw, _ := json.Marshal(result.FinalStats)
	ratingRaw, _ := json.Marshal(result.RatingDelta)
	xpRaw, _ := json.Marshal(result.Experience)
	rewardsRaw, _ := json.Marshal(result.Rewards)
	achRaw, _ := json.Marshal(result.Achievements)

	const q = `INSERT INTO battle_results (
	    battle_id, battle_type, winner_id, final_stats, rating_delta, experience, rewards, achievements, completed_at
	  ) VALUES ($1,$2,$3,$4::jsonb,$5::jsonb,$6::jsonb,$7::jsonb,$8::jsonb,$9)
	  ON CONFLICT (battle_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, q,
		result.BattleID,
		string(result.BattleType),
		result.WinnerID,
		string(statsRaw), string(ratingRaw), string(xpRaw), string(rewardsRaw), string(achRaw),
		result.CompletedAt,
	)
	return err
}

// Profile is the aggregate row read back for API responses.
type Profile struct {
	PlayerID        string    `json:"player_id"`
	TotalXP         int       `json:"total_xp"`
	BattleRating    int       `json:"battle_rating"`
	BattlesPlayed   int       `json:"battles_played"`
	BattlesWon      int       `json:"battles_won"`
	QuestsCompleted int       `json:"quests_completed"`
	LastBattleAt    time.Time `json:"last_battle_at"`
}

// GetProfile returns the aggregate row, or nil when the player has none yet.
func (r *Repository) GetProfile(ctx context.Context, playerID string) (*Profile, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	const q = `SELECT player_id, total_xp, battle_rating, battles_played, battles_won, quests_completed, last_battle_at
	  FROM player_profiles WHERE player_id = $1`

	var p Profile
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx, q, playerID).Scan(
		&p.PlayerID, &p.TotalXP, &p.BattleRating, &p.BattlesPlayed, &p.BattlesWon, &p.QuestsCompleted, &last,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select player profile: %w", err)
	}
	if last.Valid {
		p.LastBattleAt = last.Time
	}
	return &p, nil
}
