// Package httpapi exposes the battle coordination surface over fasthttp.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/valorforge/arena-server/internal/anticheat"
	"github.com/valorforge/arena-server/internal/auth"
	"github.com/valorforge/arena-server/internal/battle"
	"github.com/valorforge/arena-server/internal/domain"
	"github.com/valorforge/arena-server/internal/obslog"
	"github.com/valorforge/arena-server/internal/quest"
	"github.com/valorforge/arena-server/internal/rank"
	"github.com/valorforge/arena-server/internal/sink"
	"github.com/valorforge/arena-server/pkg/battledto"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const dispatchTimeout = 10 * time.Second

type Server struct {
	battles    *battle.Manager
	quests     *quest.Manager
	board      *rank.Leaderboard
	verifier   auth.Verifier
	oracle     anticheat.Oracle
	dispatcher *sink.Dispatcher

	srv *fasthttp.Server
}

func NewServer(battles *battle.Manager, quests *quest.Manager, board *rank.Leaderboard, verifier auth.Verifier, oracle anticheat.Oracle, dispatcher *sink.Dispatcher) *Server {
	s := &Server{
		battles:    battles,
		quests:     quests,
		board:      board,
		verifier:   verifier,
		oracle:     oracle,
		dispatcher: dispatcher,
	}
	s.srv = &fasthttp.Server{
		Handler:            s.handle,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		MaxRequestBodySize: 1 << 20,
		Name:               "arena-server",
	}
	return s
}

func (s *Server) Serve(addr string) error {
	obslog.L().Info("http_listen", zap.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Shutdown() error {
	if s == nil || s.srv == nil {
		return nil
	}
	return s.srv.Shutdown()
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())

	if method == fasthttp.MethodGet && path == "/health" {
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
		return
	}

	userID, err := s.authenticate(ctx)
	if err != nil {
		writeError(ctx, fasthttp.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}

	switch {
	case method == fasthttp.MethodPost && path == "/v1/battles":
		s.handleInitialize(ctx, userID)
	case method == fasthttp.MethodPost && strings.HasPrefix(path, "/v1/battles/") && strings.HasSuffix(path, "/sync"):
		s.handleSync(ctx, userID, pathSegment(path, "/v1/battles/", "/sync"))
	case method == fasthttp.MethodPost && strings.HasPrefix(path, "/v1/battles/") && strings.HasSuffix(path, "/result"):
		s.handleResult(ctx, userID, pathSegment(path, "/v1/battles/", "/result"))
	case method == fasthttp.MethodGet && strings.HasPrefix(path, "/v1/battles/"):
		s.handleGet(ctx, userID, strings.TrimPrefix(path, "/v1/battles/"))
	case method == fasthttp.MethodPost && path == "/v1/quests/complete":
		s.handleQuestComplete(ctx, userID)
	case method == fasthttp.MethodGet && strings.HasPrefix(path, "/v1/leaderboards/"):
		s.handleLeaderboard(ctx, strings.TrimPrefix(path, "/v1/leaderboards/"))
	default:
		writeError(ctx, fasthttp.StatusNotFound, "not_found", "unknown route")
	}
}

func pathSegment(path, prefix, suffix string) string {
	return strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
}

func (s *Server) authenticate(ctx *fasthttp.RequestCtx) (string, error) {
	header := string(ctx.Request.Header.Peek("Authorization"))
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", auth.ErrUnauthenticated
	}
	return s.verifier.Verify(ctx, token)
}

func (s *Server) handleInitialize(ctx *fasthttp.RequestCtx, userID string) {
	var req battledto.InitializeRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "bad_request", "malformed json body")
		return
	}
	var env *battle.EnvModifiers
	if req.Modifiers != nil {
		env = &battle.EnvModifiers{
			DamageMultiplier:     req.Modifiers.DamageMultiplier,
			SpeedMultiplier:      req.Modifiers.SpeedMultiplier,
			ExperienceMultiplier: req.Modifiers.ExperienceMultiplier,
			PlayerBonuses:        req.Modifiers.PlayerBonuses,
		}
	}
	sess, events, err := s.battles.Initialize(ctx, req.BattleID, req.PlayerIDs, domain.BattleType(req.BattleType), battle.GameState(req.InitialState), env)
	if err != nil {
		s.writeDomainError(ctx, err)
		return
	}
	s.fanOut(events)
	writeJSON(ctx, fasthttp.StatusCreated, battledto.InitializeResponse{
		BattleID:    sess.ID,
		Status:      string(sess.Status),
		CurrentTurn: sess.CurrentTurn,
		CreatedAt:   sess.CreatedAt,
	})
}

func (s *Server) handleSync(ctx *fasthttp.RequestCtx, userID, battleID string) {
	var req battledto.SyncRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "bad_request", "malformed json body")
		return
	}
	res, err := s.battles.SyncState(ctx, battleID, userID, req.ActionType, battle.GameState(req.GameState), battle.GameState(req.Metadata))
	if err != nil {
		s.writeDomainError(ctx, err)
		return
	}
	resp := battledto.SyncResponse{
		Accepted:    res.Accepted,
		BattleID:    res.Session.ID,
		Status:      string(res.Session.Status),
		CurrentTurn: res.Session.CurrentTurn,
		TurnCount:   res.Session.TurnCount,
		GameState:   res.Session.GameState,
	}
	for _, c := range res.Conflicts {
		resp.Conflicts = append(resp.Conflicts, battledto.Conflict{
			Type:       string(c),
			UserID:     userID,
			ActionType: req.ActionType,
		})
	}
	writeJSON(ctx, fasthttp.StatusOK, resp)
}

func (s *Server) handleResult(ctx *fasthttp.RequestCtx, userID, battleID string) {
	var req battledto.ResultSubmitRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "bad_request", "malformed json body")
		return
	}
	stats := make(map[string]domain.PlayerStats, len(req.Stats))
	for id, st := range req.Stats {
		stats[id] = domain.PlayerStats{
			DamageDealt:      st.DamageDealt,
			DamageTaken:      st.DamageTaken,
			ActionsPerformed: st.ActionsPerformed,
			HealingDone:      st.HealingDone,
		}
	}
	// Anti-cheat gate runs on the claimed submission before anything
	// commits. An unreachable oracle fails open with a warning.
	if s.oracle != nil {
		sess, err := s.battles.LoadSession(ctx, battleID)
		if err != nil {
			s.writeDomainError(ctx, err)
			return
		}
		if sess == nil {
			s.writeDomainError(ctx, battle.ErrNotFound)
			return
		}
		claimed := &domain.BattleResult{
			BattleID:   battleID,
			WinnerID:   req.WinnerID,
			BattleType: sess.BattleType,
			FinalStats: stats,
		}
		ok, verr := s.oracle.Validate(ctx, userID, claimed)
		if verr != nil {
			obslog.L().Warn("anticheat_unavailable", zap.String("battle_id", battleID), zap.Error(verr))
		} else if !ok {
			obslog.L().Warn("anticheat_rejected",
				zap.String("battle_id", battleID),
				zap.String("user_id", userID),
			)
			writeError(ctx, fasthttp.StatusForbidden, "result_rejected", "submission failed validation")
			return
		}
	}

	result, events, err := s.battles.Finalize(ctx, battleID, req.WinnerID, stats)
	if err != nil {
		s.writeDomainError(ctx, err)
		return
	}
	s.fanOut(events)
	writeJSON(ctx, fasthttp.StatusOK, battledto.ResultSubmitResponse{Result: toDTOResult(result)})
}

func (s *Server) handleGet(ctx *fasthttp.RequestCtx, userID, battleID string) {
	sess, err := s.battles.LoadSession(ctx, battleID)
	if err != nil {
		s.writeDomainError(ctx, err)
		return
	}
	if sess == nil {
		s.writeDomainError(ctx, battle.ErrNotFound)
		return
	}
	if !sess.HasPlayer(userID) {
		writeError(ctx, fasthttp.StatusForbidden, "forbidden", "not a battle participant")
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, battledto.SyncResponse{
		Accepted:    true,
		BattleID:    sess.ID,
		Status:      string(sess.Status),
		CurrentTurn: sess.CurrentTurn,
		TurnCount:   sess.TurnCount,
		GameState:   sess.GameState,
	})
}

func (s *Server) handleQuestComplete(ctx *fasthttp.RequestCtx, userID string) {
	var req battledto.QuestCompleteRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "bad_request", "malformed json body")
		return
	}
	result, events, err := s.quests.Complete(ctx, userID, domain.QuestCompletion{
		QuestID:             req.QuestID,
		CompletionScore:     req.CompletionScore,
		CompletedObjectives: req.CompletedObjectives,
	})
	if err != nil {
		s.writeDomainError(ctx, err)
		return
	}
	s.fanOut(events)
	writeJSON(ctx, fasthttp.StatusOK, battledto.QuestCompleteResponse{Result: toDTOQuestResult(result)})
}

func (s *Server) handleLeaderboard(ctx *fasthttp.RequestCtx, category string) {
	limit := ctx.QueryArgs().GetUintOrZero("limit")
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	entries, err := s.board.Top(ctx, category, limit)
	if err != nil {
		s.writeDomainError(ctx, err)
		return
	}
	resp := battledto.LeaderboardResponse{Category: category, Entries: []battledto.LeaderboardEntry{}}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, battledto.LeaderboardEntry{
			PlayerID: e.PlayerID,
			Score:    e.Score,
			Rank:     e.Rank,
		})
	}
	writeJSON(ctx, fasthttp.StatusOK, resp)
}

// fanOut pushes events to the outbound sinks off the request path. Sink
// failures never affect the response.
func (s *Server) fanOut(events []sink.Event) {
	if s.dispatcher == nil || len(events) == 0 {
		return
	}
	go func() {
		dctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		s.dispatcher.Dispatch(dctx, events)
	}()
}

func (s *Server) writeDomainError(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, battle.ErrNotFound), errors.Is(err, quest.ErrQuestNotFound):
		writeError(ctx, fasthttp.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, battle.ErrUnauthorized):
		writeError(ctx, fasthttp.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, battle.ErrInvalidArgument), errors.Is(err, quest.ErrValidationFailed):
		writeError(ctx, fasthttp.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, battle.ErrConflict), errors.Is(err, battle.ErrNotActive), errors.Is(err, quest.ErrAlreadyCompleted):
		writeError(ctx, fasthttp.StatusConflict, "conflict", err.Error())
	default:
		obslog.L().Error("http_internal_error", zap.Error(err))
		writeError(ctx, fasthttp.StatusInternalServerError, "internal", "internal server error")
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, body any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json; charset=utf-8")
	enc := json.NewEncoder(ctx)
	if err := enc.Encode(body); err != nil {
		obslog.L().Error("http_encode_error", zap.Error(err))
	}
}

func writeError(ctx *fasthttp.RequestCtx, status int, code, message string) {
	writeJSON(ctx, status, battledto.ErrorResponse{Code: code, Message: message})
}

func toDTOResult(r *domain.BattleResult) *battledto.BattleResult {
	if r == nil {
		return nil
	}
	out := &battledto.BattleResult{
		BattleID:     r.BattleID,
		WinnerID:     r.WinnerID,
		BattleType:   string(r.BattleType),
		FinalStats:   map[string]battledto.PlayerStats{},
		RatingDelta:  r.RatingDelta,
		Experience:   r.Experience,
		Rewards:      map[string][]battledto.Reward{},
		Achievements: map[string][]battledto.Achievement{},
		CompletedAt:  r.CompletedAt,
	}
	for id, achs := range r.Achievements {
		out.Achievements[id] = toDTOAchievements(achs)
	}
	for id, st := range r.FinalStats {
		out.FinalStats[id] = battledto.PlayerStats{
			DamageDealt:      st.DamageDealt,
			DamageTaken:      st.DamageTaken,
			ActionsPerformed: st.ActionsPerformed,
			HealingDone:      st.HealingDone,
		}
	}
	for id, rewards := range r.Rewards {
		out.Rewards[id] = toDTORewards(rewards)
	}
	return out
}

func toDTOQuestResult(r *domain.QuestResult) *battledto.QuestResult {
	if r == nil {
		return nil
	}
	return &battledto.QuestResult{
		QuestID:      r.QuestID,
		Completed:    r.Completed,
		Rewards:      toDTORewards(r.Rewards),
		Experience:   r.Experience,
		Achievements: toDTOAchievements(r.Achievements),
		NextQuestID:  r.NextQuestID,
	}
}

func toDTORewards(in []domain.Reward) []battledto.Reward {
	out := make([]battledto.Reward, 0, len(in))
	for _, r := range in {
		out = append(out, battledto.Reward{
			Type: r.Type, Amount: r.Amount, Currency: r.Currency,
			Rarity: r.Rarity, Count: r.Count,
			AchievementID: r.AchievementID, Progress: r.Progress,
		})
	}
	return out
}

func toDTOAchievements(in []domain.Achievement) []battledto.Achievement {
	out := make([]battledto.Achievement, 0, len(in))
	for _, a := range in {
		out = append(out, battledto.Achievement{
			ID: a.ID, Name: a.Name, Description: a.Description, Rarity: a.Rarity, Points: a.Points,
		})
	}
	return out
}
