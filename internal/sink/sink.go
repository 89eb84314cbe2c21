package sink

import (
	"context"

	"github.com/valorforge/arena-server/internal/obslog"
	"go.uber.org/zap"
)

// Core operations return events instead of calling collaborators directly;
// the Dispatcher fans them out. Sink failures are logged and swallowed, they
// never roll back committed battle state.

type EventKind string

const (
	EventBattleCreated       EventKind = "battle_created"
	EventBattleCompleted     EventKind = "battle_completed"
	EventAchievementUnlocked EventKind = "achievement_unlocked"
	EventQuestCompleted      EventKind = "quest_completed"
	EventRatingUpdated       EventKind = "rating_updated"
)

type Event struct {
	Kind     EventKind      `json:"kind"`
	BattleID string         `json:"battle_id,omitempty"`
	UserID   string         `json:"user_id,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Notifier delivers user-facing notifications.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Tracker records analytics events.
type Tracker interface {
	Track(ctx context.Context, ev Event) error
}

// Ranker receives updated aggregate scores. Idempotent on retry.
type Ranker interface {
	Apply(ctx context.Context, ev Event) error
}

// Pusher broadcasts events to live spectators.
type Pusher interface {
	Broadcast(ctx context.Context, ev Event) error
}

type Dispatcher struct {
	notifier Notifier
	tracker  Tracker
	ranker   Ranker
	pusher   Pusher
}

func NewDispatcher(n Notifier, t Tracker, r Ranker, p Pusher) *Dispatcher {
	return &Dispatcher{notifier: n, tracker: t, ranker: r, pusher: p}
}

// Dispatch fans each event out to every configured sink. Fire-and-forget:
// every sink error is logged at warn and dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, events []Event) {
	if d == nil {
		return
	}
	for _, ev := range events {
		if d.notifier != nil {
			if err := d.notifier.Notify(ctx, ev); err != nil {
				obslog.L().Warn("sink_notify_error", zap.String("kind", string(ev.Kind)), zap.String("battle_id", ev.BattleID), zap.Error(err))
			}
		}
		if d.tracker != nil {
			if err := d.tracker.Track(ctx, ev); err != nil {
				obslog.L().Warn("sink_track_error", zap.String("kind", string(ev.Kind)), zap.String("battle_id", ev.BattleID), zap.Error(err))
			}
		}
		if d.ranker != nil && (ev.Kind == EventRatingUpdated || ev.Kind == EventQuestCompleted) {
			if err := d.ranker.Apply(ctx, ev); err != nil {
				obslog.L().Warn("sink_rank_error", zap.String("user_id", ev.UserID), zap.Error(err))
			}
		}
		if d.pusher != nil {
			if err := d.pusher.Broadcast(ctx, ev); err != nil {
				obslog.L().Warn("sink_push_error", zap.String("kind", string(ev.Kind)), zap.String("battle_id", ev.BattleID), zap.Error(err))
			}
		}
	}
}
