package battle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/valorforge/arena-server/internal/domain"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewManager(rdb, Options{TTL: time.Hour}), mr
}

// recordingProfiles counts delta applications per player so finalize
// idempotence is observable. Keeps running aggregates like the real stores.
type recordingProfiles struct {
	mu      sync.Mutex
	deltas  map[string][]domain.ProfileDelta
	totals  map[string]domain.ProfileTotals
	results []*domain.BattleResult
}

func newRecordingProfiles() *recordingProfiles {
	return &recordingProfiles{
		deltas: map[string][]domain.ProfileDelta{},
		totals: map[string]domain.ProfileTotals{},
	}
}

func (r *recordingProfiles) ApplyDelta(_ context.Context, delta domain.ProfileDelta) (domain.ProfileTotals, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas[delta.PlayerID] = append(r.deltas[delta.PlayerID], delta)
	after := r.totals[delta.PlayerID]
	after.TotalXP += delta.ExperienceDelta
	after.BattleRating += delta.RatingDelta
	after.BattlesWon += delta.BattlesWon
	after.QuestsCompleted += delta.QuestsCompleted
	r.totals[delta.PlayerID] = after
	return after, nil
}

func (r *recordingProfiles) SaveBattleResult(_ context.Context, result *domain.BattleResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return nil
}

func TestInitialize(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	sess, events, err := m.Initialize(ctx, "b1", []string{"alice", "bob"}, domain.BattlePvP, nil, nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if sess.Status != StatusActive || !sess.IsActive {
		t.Fatalf("new session not active: %+v", sess)
	}
	if sess.CurrentTurn != "alice" || sess.TurnCount != 0 {
		t.Fatalf("turn init wrong: turn=%s count=%d", sess.CurrentTurn, sess.TurnCount)
	}
	if len(events) != 1 || events[0].Kind != "battle_created" {
		t.Fatalf("events = %v", events)
	}

	ps, err := m.Store().LoadPlayerState(ctx, "b1", "bob")
	if err != nil || ps == nil {
		t.Fatalf("player state missing: %v", err)
	}

	// Same id again must not clobber the live session.
	if _, _, err := m.Initialize(ctx, "b1", []string{"x", "y"}, domain.BattlePvP, nil, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("duplicate id err = %v, want ErrInvalidArgument", err)
	}
}

func TestInitializeValidation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, _, err := m.Initialize(ctx, "", nil, domain.BattlePvP, nil, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("empty players err = %v", err)
	}
	if _, _, err := m.Initialize(ctx, "", []string{"a", "a"}, domain.BattlePvP, nil, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("duplicate players err = %v", err)
	}
	if _, _, err := m.Initialize(ctx, "", []string{"a", "b"}, "bossfight", nil, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("unknown type err = %v", err)
	}

	// Blank id gets a generated one.
	sess, _, err := m.Initialize(ctx, "  ", []string{"a", "b"}, domain.BattlePvP, nil, nil)
	if err != nil || sess.ID == "" {
		t.Fatalf("generated id: sess=%+v err=%v", sess, err)
	}
}

func TestSyncAdvancesTurn(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	env := &EnvModifiers{DamageMultiplier: 1.5, PlayerBonuses: map[string]float64{"alice": 50}}
	if _, _, err := m.Initialize(ctx, "b1", []string{"alice", "bob"}, domain.BattlePvP, nil, env); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	res, err := m.SyncState(ctx, "b1", "alice", ActionAttack, nil, GameState{
		"attack_data": map[string]any{"base_damage": 200},
	})
	if err != nil {
		t.Fatalf("SyncState: %v", err)
	}
	if !res.Accepted || len(res.Conflicts) != 0 {
		t.Fatalf("attack not accepted: %+v", res)
	}
	if res.Session.CurrentTurn != "bob" || res.Session.TurnCount != 1 {
		t.Fatalf("turn after attack: turn=%s count=%d", res.Session.CurrentTurn, res.Session.TurnCount)
	}

	attack, ok := res.Session.GameState["last_attack"].(map[string]any)
	if !ok {
		t.Fatalf("last_attack missing: %v", res.Session.GameState)
	}
	// 200 * 1.5 + 50 flat bonus.
	if attack["damage"] != 350 {
		t.Fatalf("damage = %v, want 350", attack["damage"])
	}
	if attack["attacker"] != "alice" {
		t.Fatalf("attacker = %v", attack["attacker"])
	}

	// No modifiers: damage passes through.
	m2, _ := newTestManager(t)
	if _, _, err := m2.Initialize(ctx, "b2", []string{"a", "b"}, domain.BattlePvP, nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	res2, err := m2.SyncState(ctx, "b2", "a", ActionAttack, nil, GameState{
		"attack_data": map[string]any{"base_damage": 600},
	})
	if err != nil {
		t.Fatalf("SyncState: %v", err)
	}
	if d := res2.Session.GameState["last_attack"].(map[string]any)["damage"]; d != 600 {
		t.Fatalf("unmodified damage = %v, want 600", d)
	}
}

func TestSyncRoundRobin(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	players := []string{"a", "b", "c"}
	if _, _, err := m.Initialize(ctx, "b1", players, domain.BattlePvP, nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	order := []string{"a", "b", "c", "a", "b"}
	for i, p := range order {
		res, err := m.SyncState(ctx, "b1", p, ActionEndTurn, nil, nil)
		if err != nil {
			t.Fatalf("sync %d: %v", i, err)
		}
		if !res.Accepted {
			t.Fatalf("sync %d rejected: %+v", i, res.Conflicts)
		}
		if res.Session.TurnCount != i+1 {
			t.Fatalf("turn count after sync %d = %d", i, res.Session.TurnCount)
		}
		want := players[(i+1)%len(players)]
		if res.Session.CurrentTurn != want {
			t.Fatalf("current turn after sync %d = %s, want %s", i, res.Session.CurrentTurn, want)
		}
	}
}

func TestSyncNotYourTurn(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, _, err := m.Initialize(ctx, "b1", []string{"alice", "bob"}, domain.BattlePvP, nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	res, err := m.SyncState(ctx, "b1", "bob", ActionAttack, nil, nil)
	if err != nil {
		t.Fatalf("SyncState: %v", err)
	}
	if res.Accepted {
		t.Fatalf("out-of-turn attack accepted")
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0] != ConflictNotYourTurn {
		t.Fatalf("conflicts = %v", res.Conflicts)
	}
	if res.Session.TurnCount != 0 || res.Session.CurrentTurn != "alice" {
		t.Fatalf("rejected action mutated session: %+v", res.Session)
	}

	// The attempt is still in the audit log, unprocessed.
	recs, err := m.Store().Actions(ctx, "b1")
	if err != nil {
		t.Fatalf("Actions: %v", err)
	}
	if len(recs) != 1 || recs[0].PlayerID != "bob" || recs[0].Processed {
		t.Fatalf("audit recs = %+v", recs)
	}

	// Accepted action lands processed.
	if _, err := m.SyncState(ctx, "b1", "alice", ActionEndTurn, nil, nil); err != nil {
		t.Fatalf("SyncState: %v", err)
	}
	recs, _ = m.Store().Actions(ctx, "b1")
	if len(recs) != 2 || !recs[1].Processed {
		t.Fatalf("audit after accepted = %+v", recs)
	}
}

func TestSyncErrors(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.SyncState(ctx, "nope", "alice", ActionAttack, nil, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown battle err = %v", err)
	}

	if _, _, err := m.Initialize(ctx, "b1", []string{"alice", "bob"}, domain.BattlePvP, nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := m.SyncState(ctx, "b1", "mallory", ActionAttack, nil, nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("outsider err = %v", err)
	}
	if _, err := m.SyncState(ctx, "b1", "", ActionAttack, nil, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("blank user err = %v", err)
	}

	// Outsider attempts leave no audit trail and no state change.
	recs, _ := m.Store().Actions(ctx, "b1")
	if len(recs) != 0 {
		t.Fatalf("outsider left audit recs: %+v", recs)
	}
}

func TestSyncCompletedBattle(t *testing.T) {
	m, _ := newTestManager(t)
	m.AttachProfiles(newRecordingProfiles())
	ctx := context.Background()

	if _, _, err := m.Initialize(ctx, "b1", []string{"alice", "bob"}, domain.BattlePvP, nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, _, err := m.Finalize(ctx, "b1", "alice", nil); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	res, err := m.SyncState(ctx, "b1", "alice", ActionAttack, nil, nil)
	if err != nil {
		t.Fatalf("SyncState after finalize: %v", err)
	}
	if res.Accepted || len(res.Conflicts) != 1 || res.Conflicts[0] != ConflictSyncError {
		t.Fatalf("sync on completed battle = %+v", res)
	}
}

func TestCooperativeTurnExemption(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, _, err := m.Initialize(ctx, "b1", []string{"alice", "bob"}, domain.BattleCooperative, nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Off-turn defend is accepted and does not advance the turn.
	res, err := m.SyncState(ctx, "b1", "bob", ActionDefend, nil, nil)
	if err != nil {
		t.Fatalf("SyncState: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("cooperative defend rejected: %+v", res.Conflicts)
	}
	if res.Session.CurrentTurn != "alice" || res.Session.TurnCount != 0 {
		t.Fatalf("defend advanced turn: turn=%s count=%d", res.Session.CurrentTurn, res.Session.TurnCount)
	}
	defenses, ok := res.Session.GameState["defense_actions"].(map[string]any)
	if !ok || defenses["bob"] == nil {
		t.Fatalf("defense_actions = %v", res.Session.GameState["defense_actions"])
	}

	// Attack stays turn-enforced even in cooperative battles.
	res, err = m.SyncState(ctx, "b1", "bob", ActionAttack, nil, nil)
	if err != nil {
		t.Fatalf("SyncState: %v", err)
	}
	if res.Accepted {
		t.Fatalf("cooperative off-turn attack accepted")
	}
}

func TestUnknownActionAdvancesTurn(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, _, err := m.Initialize(ctx, "b1", []string{"alice", "bob"}, domain.BattlePvP, GameState{"round": 1}, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	res, err := m.SyncState(ctx, "b1", "alice", "dance", nil, nil)
	if err != nil {
		t.Fatalf("SyncState: %v", err)
	}
	if !res.Accepted || res.Session.CurrentTurn != "bob" || res.Session.TurnCount != 1 {
		t.Fatalf("unknown action result = %+v", res)
	}
	// No effect delta, existing state untouched.
	if len(res.Session.GameState) != 1 {
		t.Fatalf("unknown action touched state: %v", res.Session.GameState)
	}
}

func TestGameStateMergesPerKey(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	initial := GameState{"round": 1, "terrain": "forest"}
	if _, _, err := m.Initialize(ctx, "b1", []string{"alice", "bob"}, domain.BattlePvP, initial, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	res, err := m.SyncState(ctx, "b1", "alice", ActionAttack, nil, GameState{
		"attack_data": map[string]any{"base_damage": 10},
	})
	if err != nil {
		t.Fatalf("SyncState: %v", err)
	}
	gs := res.Session.GameState
	if gs["terrain"] != "forest" {
		t.Fatalf("merge dropped untouched key: %v", gs)
	}
	if gs["last_attack"] == nil {
		t.Fatalf("merge missed delta key: %v", gs)
	}
}

func TestFinalizeIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	profiles := newRecordingProfiles()
	m.AttachProfiles(profiles)
	ctx := context.Background()

	if _, _, err := m.Initialize(ctx, "b1", []string{"alice", "bob"}, domain.BattlePvP, nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	stats := map[string]domain.PlayerStats{
		"alice": {DamageDealt: 300, DamageTaken: 0, ActionsPerformed: 4},
		"bob":   {DamageDealt: 120, DamageTaken: 300, ActionsPerformed: 3},
	}
	result, events, err := m.Finalize(ctx, "b1", "alice", stats)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if result.WinnerID != "alice" {
		t.Fatalf("winner = %s", result.WinnerID)
	}
	if result.RatingDelta["alice"] != 30 || result.RatingDelta["bob"] != -15 {
		t.Fatalf("rating deltas = %v", result.RatingDelta)
	}
	// (100 + 50 + 30 + 20) * 1.0
	if result.Experience["alice"] != 200 {
		t.Fatalf("winner xp = %d", result.Experience["alice"])
	}
	if len(events) == 0 || events[0].Kind != "battle_completed" {
		t.Fatalf("events = %v", events)
	}

	var ratingEvents int
	for _, ev := range events {
		if ev.Kind != "rating_updated" {
			continue
		}
		ratingEvents++
		// Events carry the post-update aggregates, not just the delta.
		want := profiles.totals[ev.UserID]
		if ev.Payload["battle_rating"] != want.BattleRating || ev.Payload["total_xp"] != want.TotalXP {
			t.Fatalf("rating event for %s payload = %v, want totals %+v", ev.UserID, ev.Payload, want)
		}
	}
	if ratingEvents != 2 {
		t.Fatalf("rating events = %d, want one per player", ratingEvents)
	}

	if len(profiles.deltas["alice"]) != 1 || len(profiles.deltas["bob"]) != 1 {
		t.Fatalf("delta counts = %v", profiles.deltas)
	}
	if d := profiles.deltas["alice"][0]; d.BattlesWon != 1 || d.BattlesPlayed != 1 {
		t.Fatalf("winner delta = %+v", d)
	}
	if d := profiles.deltas["bob"][0]; d.BattlesWon != 0 {
		t.Fatalf("loser delta = %+v", d)
	}

	// Second call: same result, nothing re-awarded, no events.
	again, events2, err := m.Finalize(ctx, "b1", "bob", stats)
	if err != nil {
		t.Fatalf("second Finalize: %v", err)
	}
	if again.WinnerID != "alice" {
		t.Fatalf("second finalize changed winner to %s", again.WinnerID)
	}
	if len(events2) != 0 {
		t.Fatalf("second finalize emitted events: %v", events2)
	}
	if len(profiles.deltas["alice"]) != 1 {
		t.Fatalf("second finalize re-applied deltas: %v", profiles.deltas)
	}
	if len(profiles.results) != 1 {
		t.Fatalf("battle result persisted %d times", len(profiles.results))
	}
}

func TestFinalizeAttributesAchievements(t *testing.T) {
	m, _ := newTestManager(t)
	m.AttachProfiles(newRecordingProfiles())
	ctx := context.Background()

	if _, _, err := m.Initialize(ctx, "b1", []string{"alice", "bob"}, domain.BattlePvP, nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Alice wins untouched, bob loses but clears the devastator bar.
	stats := map[string]domain.PlayerStats{
		"alice": {DamageDealt: 400, DamageTaken: 0, ActionsPerformed: 5},
		"bob":   {DamageDealt: 1200, DamageTaken: 400, ActionsPerformed: 6},
	}
	result, events, err := m.Finalize(ctx, "b1", "alice", stats)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	ids := func(achs []domain.Achievement) []string {
		out := make([]string, 0, len(achs))
		for _, a := range achs {
			out = append(out, a.ID)
		}
		return out
	}
	if got := ids(result.Achievements["alice"]); len(got) != 1 || got[0] != "perfect_victory" {
		t.Fatalf("winner achievements = %v", got)
	}
	if got := ids(result.Achievements["bob"]); len(got) != 1 || got[0] != "devastator" {
		t.Fatalf("loser achievements = %v", got)
	}

	// Each unlock event names the player who earned it.
	earned := map[string]string{}
	for _, ev := range events {
		if ev.Kind != "achievement_unlocked" {
			continue
		}
		earned[ev.Payload["achievement_id"].(string)] = ev.UserID
	}
	if earned["perfect_victory"] != "alice" || earned["devastator"] != "bob" {
		t.Fatalf("unlock attribution = %v", earned)
	}
	if len(earned) != 2 {
		t.Fatalf("unlock events = %v", earned)
	}
}

func TestSyncConcurrentTurnAdvance(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	players := []string{"alice", "bob"}
	if _, _, err := m.Initialize(ctx, "b1", players, domain.BattlePvP, nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Two devices race the same turn. Exactly one sync may advance it;
	// the loser of the race must come back rejected, never double-advance.
	const rounds = 20
	for round := 0; round < rounds; round++ {
		current := players[round%len(players)]

		var wg sync.WaitGroup
		results := make([]*SyncResult, 2)
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = m.SyncState(ctx, "b1", current, ActionEndTurn, nil, nil)
			}(i)
		}
		wg.Wait()

		accepted := 0
		for i := 0; i < 2; i++ {
			if errs[i] != nil {
				t.Fatalf("round %d sync %d: %v", round, i, errs[i])
			}
			if results[i].Accepted {
				accepted++
			} else if len(results[i].Conflicts) != 1 || results[i].Conflicts[0] != ConflictNotYourTurn {
				t.Fatalf("round %d loser conflicts = %v", round, results[i].Conflicts)
			}
		}
		if accepted != 1 {
			t.Fatalf("round %d: %d accepted syncs, want exactly 1", round, accepted)
		}

		sess, err := m.LoadSession(ctx, "b1")
		if err != nil || sess == nil {
			t.Fatalf("round %d load: %+v err=%v", round, sess, err)
		}
		if sess.TurnCount != round+1 {
			t.Fatalf("round %d: turn count = %d, want %d", round, sess.TurnCount, round+1)
		}
	}
}

func TestFinalizeUnknownBattle(t *testing.T) {
	m, _ := newTestManager(t)
	if _, _, err := m.Finalize(context.Background(), "nope", "alice", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFinalizeArchivesPlayerState(t *testing.T) {
	m, _ := newTestManager(t)
	m.AttachProfiles(newRecordingProfiles())
	ctx := context.Background()

	if _, _, err := m.Initialize(ctx, "b1", []string{"alice", "bob"}, domain.BattlePvP, nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := m.SyncState(ctx, "b1", "alice", ActionEndTurn, GameState{"hp": 90}, nil); err != nil {
		t.Fatalf("SyncState: %v", err)
	}
	if _, _, err := m.Finalize(ctx, "b1", "alice", nil); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	// Live copies gone, archived copies retrievable.
	ps, err := m.Store().LoadPlayerState(ctx, "b1", "alice")
	if err != nil || ps != nil {
		t.Fatalf("live player state after finalize: %+v err=%v", ps, err)
	}
	archived, err := m.Store().LoadArchivedPlayerState(ctx, "b1", "alice")
	if err != nil || archived == nil {
		t.Fatalf("archived player state: %+v err=%v", archived, err)
	}
	recs, _ := m.Store().Actions(ctx, "b1")
	if len(recs) != 0 {
		t.Fatalf("action log survived cleanup: %+v", recs)
	}

	// Cleanup again is a no-op.
	if err := m.Cleanup(ctx, "b1"); err != nil {
		t.Fatalf("second Cleanup: %v", err)
	}
}

func TestSweepStale(t *testing.T) {
	m, _ := newTestManager(t)
	m.AttachProfiles(newRecordingProfiles())
	ctx := context.Background()

	if _, _, err := m.Initialize(ctx, "done", []string{"alice", "bob"}, domain.BattlePvP, nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, _, err := m.Initialize(ctx, "live", []string{"carol", "dave"}, domain.BattlePvP, nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, _, err := m.Finalize(ctx, "done", "alice", nil); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	// Negative window puts the cutoff in the future, so the completed
	// battle is immediately past retention.
	swept, err := m.SweepStale(ctx, -time.Minute, 10)
	if err != nil {
		t.Fatalf("SweepStale: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	if sess, _ := m.Store().LoadSession(ctx, "done"); sess != nil {
		t.Fatalf("swept session still live")
	}
	archived, err := m.Store().LoadArchivedSession(ctx, "done")
	if err != nil || archived == nil || archived.Status != StatusCompleted {
		t.Fatalf("archived session = %+v err=%v", archived, err)
	}
	if sess, _ := m.Store().LoadSession(ctx, "live"); sess == nil {
		t.Fatalf("active battle was swept")
	}

	// Sweeping again finds nothing.
	swept, err = m.SweepStale(ctx, -time.Minute, 10)
	if err != nil || swept != 0 {
		t.Fatalf("second sweep = %d err=%v", swept, err)
	}
}

func TestSweepSkipsRecentlyCompleted(t *testing.T) {
	m, _ := newTestManager(t)
	m.AttachProfiles(newRecordingProfiles())
	ctx := context.Background()

	if _, _, err := m.Initialize(ctx, "b1", []string{"alice", "bob"}, domain.BattlePvP, nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, _, err := m.Finalize(ctx, "b1", "alice", nil); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	swept, err := m.SweepStale(ctx, 7*24*time.Hour, 10)
	if err != nil || swept != 0 {
		t.Fatalf("sweep inside retention = %d err=%v", swept, err)
	}
	if sess, _ := m.Store().LoadSession(ctx, "b1"); sess == nil {
		t.Fatalf("recently completed battle was deleted")
	}
}
