package quest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/valorforge/arena-server/internal/domain"
	"github.com/valorforge/arena-server/internal/obslog"
	"github.com/valorforge/arena-server/internal/reward"
	"github.com/valorforge/arena-server/internal/sink"
	"go.uber.org/zap"
)

var (
	ErrQuestNotFound    = errors.New("quest not found")
	ErrAlreadyCompleted = errors.New("quest already completed")
	ErrValidationFailed = errors.New("quest completion validation failed")
)

// DeltaApplier is the slice of the profile store the quest path needs.
type DeltaApplier interface {
	ApplyDelta(ctx context.Context, delta domain.ProfileDelta) (domain.ProfileTotals, error)
}

// progress is the per-player quest document, updated under WATCH so the
// cumulative count used for milestone achievements is race-free.
type progress struct {
	Completed map[string]completedQuest `json:"completed"`
	Count     int                       `json:"count"`
}

type completedQuest struct {
	Score       int       `json:"score"`
	CompletedAt time.Time `json:"completed_at"`
}

// Manager runs the quest-completion path. The achievement rule set here is
// separate from the battle path and must stay that way.
type Manager struct {
	rdb      *redis.Client
	profiles DeltaApplier
	retryMax int
}

func NewManager(rdb *redis.Client, profiles DeltaApplier) *Manager {
	return &Manager{rdb: rdb, profiles: profiles, retryMax: 3}
}

func keyDef(questID string) string     { return "arena:quest:def:" + strings.TrimSpace(questID) }
func keyProgress(userID string) string { return "arena:quest:progress:" + strings.TrimSpace(userID) }

// SaveDef stores a quest definition. Used by seeding and tests.
func (m *Manager) SaveDef(ctx context.Context, def *reward.QuestDef) error {
	if m == nil || m.rdb == nil {
		return fmt.Errorf("quest manager not initialized")
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return err
	}
	return m.rdb.Set(ctx, keyDef(def.QuestID), raw, 0).Err()
}

func (m *Manager) loadDef(ctx context.Context, questID string) (*reward.QuestDef, error) {
	raw, err := m.rdb.Get(ctx, keyDef(questID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var def reward.QuestDef
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Complete validates and records one quest completion, applies the additive
// profile delta, and returns result plus outbound events.
func (m *Manager) Complete(ctx context.Context, userID string, completion domain.QuestCompletion) (*domain.QuestResult, []sink.Event, error) {
	if m == nil || m.rdb == nil {
		return nil, nil, fmt.Errorf("quest manager not initialized")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" || strings.TrimSpace(completion.QuestID) == "" {
		return nil, nil, fmt.Errorf("%w: user and quest ids required", ErrValidationFailed)
	}

	def, err := m.loadDef(ctx, completion.QuestID)
	if err != nil {
		return nil, nil, err
	}
	if def == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrQuestNotFound, completion.QuestID)
	}
	if !reward.ValidateCompletion(completion, *def) {
		return nil, nil, fmt.Errorf("%w: %s", ErrValidationFailed, completion.QuestID)
	}

	progK := keyProgress(userID)
	var result *domain.QuestResult

	var txErr error
	for attempt := 0; attempt < m.retryMax; attempt++ {
		txErr = m.rdb.Watch(ctx, func(tx *redis.Tx) error {
			var prog progress
			raw, err := tx.Get(ctx, progK).Bytes()
			if err != nil && err != redis.Nil {
				return err
			}
			if err == nil {
				if jerr := json.Unmarshal(raw, &prog); jerr != nil {
					return jerr
				}
			}
			if prog.Completed == nil {
				prog.Completed = map[string]completedQuest{}
			}
			if _, done := prog.Completed[completion.QuestID]; done {
				return ErrAlreadyCompleted
			}

			score := completion.CompletionScore
			if score <= 0 {
				score = 100
			}
			prog.Completed[completion.QuestID] = completedQuest{Score: score, CompletedAt: time.Now()}
			prog.Count++

			res := &domain.QuestResult{
				QuestID:      completion.QuestID,
				Completed:    true,
				Rewards:      reward.QuestRewards(completion, *def),
				Experience:   reward.QuestExperience(completion, *def),
				Achievements: reward.QuestAchievements(completion, prog.Count),
				NextQuestID:  def.NextQuestID,
			}

			pipe := tx.TxPipeline()
			newRaw, _ := json.Marshal(&prog)
			pipe.Set(ctx, progK, newRaw, 0)
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
			result = res
			return nil
		}, progK)

		if txErr == nil || !errors.Is(txErr, redis.TxFailedErr) {
			break
		}
	}
	if txErr != nil {
		return nil, nil, txErr
	}

	var totals domain.ProfileTotals
	if m.profiles != nil {
		delta := domain.ProfileDelta{
			PlayerID:        userID,
			ExperienceDelta: result.Experience,
			QuestsCompleted: 1,
		}
		after, err := m.profiles.ApplyDelta(ctx, delta)
		if err != nil {
			obslog.L().Error("quest_profile_delta_error", zap.String("user_id", userID), zap.Error(err))
		} else {
			totals = after
		}
	}

	obslog.L().Info("quest_complete",
		zap.String("user_id", userID),
		zap.String("quest_id", completion.QuestID),
		zap.Int("experience", result.Experience),
	)

	events := []sink.Event{{
		Kind:   sink.EventQuestCompleted,
		UserID: userID,
		Payload: map[string]any{
			"quest_id":         result.QuestID,
			"experience":       result.Experience,
			"total_xp":         totals.TotalXP,
			"quests_completed": totals.QuestsCompleted,
		},
	}}
	for _, ach := range result.Achievements {
		events = append(events, sink.Event{
			Kind:   sink.EventAchievementUnlocked,
			UserID: userID,
			Payload: map[string]any{
				"achievement_id": ach.ID,
				"rarity":         ach.Rarity,
				"points":         ach.Points,
			},
		})
	}
	return result, events, nil
}

// CompletedCount returns the player's cumulative quest count.
func (m *Manager) CompletedCount(ctx context.Context, userID string) (int, error) {
	if m == nil || m.rdb == nil {
		return 0, fmt.Errorf("quest manager not initialized")
	}
	raw, err := m.rdb.Get(ctx, keyProgress(userID)).Bytes()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var prog progress
	if err := json.Unmarshal(raw, &prog); err != nil {
		return 0, err
	}
	return prog.Count, nil
}
