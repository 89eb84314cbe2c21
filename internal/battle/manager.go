package battle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/valorforge/arena-server/internal/domain"
	"github.com/valorforge/arena-server/internal/obslog"
	"github.com/valorforge/arena-server/internal/reward"
	"github.com/valorforge/arena-server/internal/sink"
	"go.uber.org/zap"
)

// ProfileStore applies additive profile deltas and archives final results.
// ApplyDelta reports the post-update aggregates so outbound events can carry
// absolute scores. Postgres in production, an in-memory fake in tests.
type ProfileStore interface {
	ApplyDelta(ctx context.Context, delta domain.ProfileDelta) (domain.ProfileTotals, error)
	SaveBattleResult(ctx context.Context, result *domain.BattleResult) error
}

// Manager owns the battle session lifecycle. Any number of battles proceed in
// parallel; actions for one battle serialize only at the WATCH transaction on
// its session key.
type Manager struct {
	rdb      *redis.Client
	store    *Store
	profiles ProfileStore
	retryMax int
}

type Options struct {
	TTL      time.Duration
	RetryMax int
}

func NewManager(rdb *redis.Client, opts Options) *Manager {
	retryMax := opts.RetryMax
	if retryMax <= 0 {
		retryMax = 3
	}
	return &Manager{
		rdb:      rdb,
		store:    NewStore(rdb, opts.TTL),
		retryMax: retryMax,
	}
}

// AttachProfiles wires the profile store for persisting finalize deltas.
func (m *Manager) AttachProfiles(p ProfileStore) {
	if m != nil {
		m.profiles = p
	}
}

// Store exposes the document layer for maintenance tooling and tests.
func (m *Manager) Store() *Store { return m.store }

// Initialize creates the session and one state document per player.
func (m *Manager) Initialize(ctx context.Context, battleID string, players []string, battleType domain.BattleType, initialState GameState, env *EnvModifiers) (*Session, []sink.Event, error) {
	if m == nil || m.rdb == nil {
		return nil, nil, fmt.Errorf("battle manager not initialized")
	}
	if len(players) == 0 {
		return nil, nil, fmt.Errorf("%w: players required", ErrInvalidArgument)
	}
	seen := make(map[string]bool, len(players))
	for _, p := range players {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			return nil, nil, fmt.Errorf("%w: players must be distinct", ErrInvalidArgument)
		}
		seen[p] = true
	}
	if !battleType.Valid() {
		return nil, nil, fmt.Errorf("%w: unknown battle type %q", ErrInvalidArgument, battleType)
	}

	if strings.TrimSpace(battleID) == "" {
		battleID = uuid.NewString()
	}
	if initialState == nil {
		initialState = GameState{}
	}

	now := time.Now()
	sess := &Session{
		ID:          strings.TrimSpace(battleID),
		Players:     players,
		CurrentTurn: players[0],
		BattleType:  battleType,
		GameState:   initialState,
		Env:         env,
		Status:      StatusActive,
		IsActive:    true,
		TurnCount:   0,
		LastActions: map[string]LastAction{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	ok, err := m.store.CreateSession(ctx, sess)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: battle %s already exists", ErrInvalidArgument, sess.ID)
	}

	for _, p := range players {
		ps := &PlayerState{
			BattleID:      sess.ID,
			PlayerID:      p,
			IsReady:       false,
			IsConnected:   true,
			LastHeartbeat: now,
		}
		if err := m.store.SavePlayerState(ctx, ps); err != nil {
			return nil, nil, err
		}
	}

	obslog.L().Info("battle_create",
		zap.String("battle_id", sess.ID),
		zap.String("battle_type", string(battleType)),
		zap.Int("players", len(players)),
	)

	events := []sink.Event{{
		Kind:     sink.EventBattleCreated,
		BattleID: sess.ID,
		Payload: map[string]any{
			"battle_type":  string(battleType),
			"players":      players,
			"player_count": len(players),
		},
	}}
	return sess, events, nil
}

// SyncState records one player submission and, for turn-enforced action
// types, runs the transactional turn transition. Turn conflicts are carried
// in the result, not returned as errors.
func (m *Manager) SyncState(ctx context.Context, battleID, userID, actionType string, proposed GameState, metadata GameState) (*SyncResult, error) {
	if m == nil || m.rdb == nil {
		return nil, fmt.Errorf("battle manager not initialized")
	}
	battleID = strings.TrimSpace(battleID)
	userID = strings.TrimSpace(userID)
	if battleID == "" || userID == "" {
		return nil, fmt.Errorf("%w: battle and user ids required", ErrInvalidArgument)
	}

	sess, err := m.store.LoadSession(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, battleID)
	}
	if !sess.HasPlayer(userID) {
		return nil, fmt.Errorf("%w: %s in battle %s", ErrUnauthorized, userID, battleID)
	}

	now := time.Now()

	// Player snapshot and heartbeat. Single-writer per player, no
	// transaction needed for this write alone.
	ps, err := m.store.LoadPlayerState(ctx, battleID, userID)
	if err != nil {
		return nil, err
	}
	if ps == nil {
		ps = &PlayerState{BattleID: battleID, PlayerID: userID}
	}
	if proposed != nil {
		ps.GameState = proposed
	}
	ps.ActionType = actionType
	ps.IsConnected = true
	ps.LastHeartbeat = now
	if err := m.store.SavePlayerState(ctx, ps); err != nil {
		return nil, err
	}

	enforced := sess.TurnEnforced(actionType)

	// Out-of-turn submissions are still recorded for audit but never
	// advance state.
	if enforced && sess.CurrentTurn != userID {
		if err := m.appendAudit(ctx, sess.ID, userID, actionType, proposed, metadata, now, false); err != nil {
			return nil, err
		}
		obslog.L().Info("battle_sync_conflict",
			zap.String("battle_id", battleID),
			zap.String("user_id", userID),
			zap.String("conflict", string(ConflictNotYourTurn)),
		)
		return &SyncResult{Accepted: false, Session: sess, Conflicts: []Conflict{ConflictNotYourTurn}}, nil
	}

	updated, conflict, err := m.runTransition(ctx, sess, userID, actionType, metadata, enforced, now)
	if err != nil {
		return nil, err
	}
	if conflict != "" {
		if aerr := m.appendAudit(ctx, sess.ID, userID, actionType, proposed, metadata, now, false); aerr != nil {
			return nil, aerr
		}
		obslog.L().Info("battle_sync_conflict",
			zap.String("battle_id", battleID),
			zap.String("user_id", userID),
			zap.String("conflict", string(conflict)),
		)
		if updated == nil {
			updated = sess
		}
		return &SyncResult{Accepted: false, Session: updated, Conflicts: []Conflict{conflict}}, nil
	}

	if err := m.appendAudit(ctx, sess.ID, userID, actionType, proposed, metadata, now, true); err != nil {
		return nil, err
	}

	obslog.L().Info("battle_sync",
		zap.String("battle_id", battleID),
		zap.String("user_id", userID),
		zap.String("action_type", actionType),
		zap.Int("turn_count", updated.TurnCount),
		zap.String("current_turn", updated.CurrentTurn),
	)
	return &SyncResult{Accepted: true, Session: updated}, nil
}

// runTransition executes the joint session+turn update under WATCH. A lost
// race retries up to retryMax before surfacing sync_error; a turn observed to
// have moved on maps to not_your_turn.
func (m *Manager) runTransition(ctx context.Context, sess *Session, userID, actionType string, metadata GameState, enforced bool, now time.Time) (*Session, Conflict, error) {
	gameK := m.store.keyBattle(sess.ID)

	var (
		errNotYourTurn = errors.New("not_your_turn")
		errNotActive   = errors.New("battle_not_active")
	)

	var updated *Session
	for attempt := 0; attempt < m.retryMax; attempt++ {
		err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, gameK).Bytes()
			if err == redis.Nil {
				return fmt.Errorf("%w: %s", ErrNotFound, sess.ID)
			}
			if err != nil {
				return err
			}
			var cur Session
			if jerr := json.Unmarshal(raw, &cur); jerr != nil {
				return jerr
			}
			if cur.Status != StatusActive {
				return errNotActive
			}
			if enforced && cur.CurrentTurn != userID {
				return errNotYourTurn
			}

			delta := applyActionEffects(&cur, userID, actionType, metadata, now)
			if cur.GameState == nil {
				cur.GameState = GameState{}
			}
			cur.GameState.Merge(delta)

			if cur.TurnEnforced(actionType) {
				cur.CurrentTurn = cur.NextTurn(userID)
				cur.TurnCount++
			}
			if cur.LastActions == nil {
				cur.LastActions = map[string]LastAction{}
			}
			cur.LastActions[userID] = LastAction{ActionType: actionType, Timestamp: now}
			cur.UpdatedAt = now

			pipe := tx.TxPipeline()
			newRaw, _ := json.Marshal(&cur)
			pipe.Set(ctx, gameK, newRaw, m.store.ttl)
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
			updated = &cur
			return nil
		}, gameK)

		if err == nil {
			return updated, "", nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, errNotYourTurn) {
			return nil, ConflictNotYourTurn, nil
		}
		if errors.Is(err, errNotActive) {
			return nil, ConflictSyncError, nil
		}
		return nil, "", err
	}
	return nil, ConflictSyncError, nil
}

func (m *Manager) appendAudit(ctx context.Context, battleID, userID, actionType string, state, metadata GameState, now time.Time, processed bool) error {
	rec := &ActionRecord{
		ID:         uuid.NewString(),
		PlayerID:   userID,
		ActionType: actionType,
		State:      state,
		Metadata:   metadata,
		Timestamp:  now,
		Processed:  processed,
	}
	return m.store.AppendAction(ctx, battleID, rec)
}

// Finalize computes per-player results, commits the one-time transition to
// COMPLETED, then applies additive profile deltas. Safe to call twice: once
// the completed status is committed, later calls return the stored result
// without re-awarding anything.
func (m *Manager) Finalize(ctx context.Context, battleID, winnerID string, rawStats map[string]domain.PlayerStats) (*domain.BattleResult, []sink.Event, error) {
	if m == nil || m.rdb == nil {
		return nil, nil, fmt.Errorf("battle manager not initialized")
	}
	battleID = strings.TrimSpace(battleID)
	if battleID == "" {
		return nil, nil, fmt.Errorf("%w: battle id required", ErrInvalidArgument)
	}

	gameK := m.store.keyBattle(battleID)
	errAlreadyDone := errors.New("battle_already_completed")

	var result *domain.BattleResult
	var committed *Session

	for attempt := 0; attempt < m.retryMax; attempt++ {
		err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, gameK).Bytes()
			if err == redis.Nil {
				return fmt.Errorf("%w: %s", ErrNotFound, battleID)
			}
			if err != nil {
				return err
			}
			var cur Session
			if jerr := json.Unmarshal(raw, &cur); jerr != nil {
				return jerr
			}
			if cur.Status == StatusCompleted {
				result = cur.Result
				return errAlreadyDone
			}
			if cur.Status != StatusActive {
				return fmt.Errorf("%w: battle %s", ErrNotActive, battleID)
			}

			res := computeResult(&cur, winnerID, rawStats, time.Now())

			cur.Status = StatusCompleted
			cur.IsActive = false
			cur.Result = res
			cur.CompletedAt = &res.CompletedAt
			cur.UpdatedAt = res.CompletedAt

			pipe := tx.TxPipeline()
			newRaw, _ := json.Marshal(&cur)
			pipe.Set(ctx, gameK, newRaw, m.store.ttl)
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
			result = res
			committed = &cur
			return nil
		}, gameK)

		if err == nil {
			break
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, errAlreadyDone) {
			obslog.L().Info("battle_finalize_noop", zap.String("battle_id", battleID))
			return result, nil, nil
		}
		return nil, nil, err
	}
	if committed == nil {
		if result != nil {
			return result, nil, nil
		}
		return nil, nil, fmt.Errorf("%w: finalize %s", ErrConflict, battleID)
	}

	// Profile deltas are pure increments, applied outside the session
	// transaction. The completed flag above is the idempotency gate.
	totals := make(map[string]domain.ProfileTotals, len(committed.Players))
	if m.profiles != nil {
		for _, playerID := range committed.Players {
			delta := domain.ProfileDelta{
				PlayerID:        playerID,
				ExperienceDelta: result.Experience[playerID],
				RatingDelta:     result.RatingDelta[playerID],
				BattlesPlayed:   1,
			}
			if delta.RatingDelta > 0 {
				delta.BattlesWon = 1
			}
			after, err := m.profiles.ApplyDelta(ctx, delta)
			if err != nil {
				obslog.L().Error("battle_profile_delta_error",
					zap.String("battle_id", battleID),
					zap.String("player_id", playerID),
					zap.Error(err),
				)
				continue
			}
			totals[playerID] = after
		}
		if err := m.profiles.SaveBattleResult(ctx, result); err != nil {
			obslog.L().Error("battle_result_persist_error", zap.String("battle_id", battleID), zap.Error(err))
		}
	}

	obslog.L().Info("battle_finalize",
		zap.String("battle_id", battleID),
		zap.String("winner_id", result.WinnerID),
		zap.String("battle_type", string(result.BattleType)),
		zap.Int("turn_count", committed.TurnCount),
	)

	events := finalizeEvents(committed, result, totals)

	// Best-effort cleanup; a failure here never affects the committed result.
	if err := m.Cleanup(ctx, battleID); err != nil {
		obslog.L().Warn("battle_cleanup_error", zap.String("battle_id", battleID), zap.Error(err))
	}

	return result, events, nil
}

func computeResult(sess *Session, winnerID string, rawStats map[string]domain.PlayerStats, now time.Time) *domain.BattleResult {
	res := &domain.BattleResult{
		BattleID:     sess.ID,
		WinnerID:     winnerID,
		BattleType:   sess.BattleType,
		FinalStats:   make(map[string]domain.PlayerStats, len(sess.Players)),
		RatingDelta:  make(map[string]int, len(sess.Players)),
		Experience:   make(map[string]int, len(sess.Players)),
		Rewards:      make(map[string][]domain.Reward, len(sess.Players)),
		Achievements: make(map[string][]domain.Achievement, len(sess.Players)),
		CompletedAt:  now,
	}
	for _, playerID := range sess.Players {
		stats := rawStats[playerID]
		isWinner := playerID == winnerID
		res.FinalStats[playerID] = stats
		res.RatingDelta[playerID] = reward.RatingDelta(isWinner, sess.BattleType)
		res.Experience[playerID] = reward.Experience(stats, isWinner, sess.BattleType)
		res.Rewards[playerID] = reward.Loot(isWinner, sess.BattleType, stats)
		if achs := reward.BattleAchievements(stats, isWinner, sess.BattleType); len(achs) > 0 {
			res.Achievements[playerID] = achs
		}
	}
	return res
}

func finalizeEvents(sess *Session, res *domain.BattleResult, totals map[string]domain.ProfileTotals) []sink.Event {
	events := []sink.Event{{
		Kind:     sink.EventBattleCompleted,
		BattleID: sess.ID,
		UserID:   res.WinnerID,
		Payload: map[string]any{
			"battle_type": string(res.BattleType),
			"winner_id":   res.WinnerID,
			"turn_count":  sess.TurnCount,
		},
	}}
	for _, playerID := range sess.Players {
		after := totals[playerID]
		events = append(events, sink.Event{
			Kind:   sink.EventRatingUpdated,
			UserID: playerID,
			Payload: map[string]any{
				"rating_delta":  res.RatingDelta[playerID],
				"experience":    res.Experience[playerID],
				"battle_rating": after.BattleRating,
				"total_xp":      after.TotalXP,
			},
		})
	}
	for _, playerID := range sess.Players {
		for _, ach := range res.Achievements[playerID] {
			events = append(events, sink.Event{
				Kind:     sink.EventAchievementUnlocked,
				BattleID: sess.ID,
				UserID:   playerID,
				Payload: map[string]any{
					"achievement_id": ach.ID,
					"rarity":         ach.Rarity,
					"points":         ach.Points,
				},
			})
		}
	}
	return events
}

// Cleanup archives per-player state, then deletes the live copies and the
// pending action log. Idempotent: archive writes are last-write-wins on a
// fixed key, deletes tolerate already-gone records.
func (m *Manager) Cleanup(ctx context.Context, battleID string) error {
	if m == nil || m.rdb == nil {
		return fmt.Errorf("battle manager not initialized")
	}
	sess, err := m.store.LoadSession(ctx, battleID)
	if err != nil {
		return err
	}
	if sess == nil {
		sess, err = m.store.LoadArchivedSession(ctx, battleID)
		if err != nil {
			return err
		}
	}
	if sess == nil {
		return nil
	}

	for _, playerID := range sess.Players {
		ps, err := m.store.LoadPlayerState(ctx, battleID, playerID)
		if err != nil {
			return err
		}
		if ps == nil {
			continue
		}
		if err := m.store.ArchivePlayerState(ctx, ps); err != nil {
			return err
		}
		if err := m.store.DeletePlayerState(ctx, battleID, playerID); err != nil {
			return err
		}
	}
	if err := m.store.ClearActions(ctx, battleID); err != nil {
		return err
	}

	obslog.L().Info("battle_cleanup", zap.String("battle_id", battleID), zap.Int("players", len(sess.Players)))
	return nil
}

// SweepStale archives completed battles older than the retention window and
// deletes their live records. Safe to run concurrently with itself: the
// archive write targets a fixed key and the delete only counts when the
// record still existed.
func (m *Manager) SweepStale(ctx context.Context, olderThan time.Duration, batchSize int) (int, error) {
	if m == nil || m.rdb == nil {
		return 0, fmt.Errorf("battle manager not initialized")
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	cutoff := time.Now().Add(-olderThan)

	swept := 0
	var cursor uint64
	for {
		ids, next, err := m.store.ScanSessions(ctx, cursor, batchSize)
		if err != nil {
			return swept, err
		}
		for _, id := range ids {
			sess, err := m.store.LoadSession(ctx, id)
			if err != nil {
				return swept, err
			}
			if sess == nil || sess.Status != StatusCompleted {
				continue
			}
			completed := sess.UpdatedAt
			if sess.CompletedAt != nil {
				completed = *sess.CompletedAt
			}
			if completed.After(cutoff) {
				continue
			}
			if err := m.store.ArchiveSession(ctx, sess); err != nil {
				return swept, err
			}
			if err := m.Cleanup(ctx, id); err != nil {
				return swept, err
			}
			deleted, err := m.store.DeleteSession(ctx, id)
			if err != nil {
				return swept, err
			}
			if deleted {
				swept++
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	obslog.L().Info("battle_sweep", zap.Int("swept", swept), zap.Duration("older_than", olderThan))
	return swept, nil
}

// LoadSession returns the live session by id.
func (m *Manager) LoadSession(ctx context.Context, battleID string) (*Session, error) {
	if m == nil || m.rdb == nil {
		return nil, fmt.Errorf("battle manager not initialized")
	}
	return m.store.LoadSession(ctx, battleID)
}
