package sink

import (
	"context"
	"errors"
	"testing"
)

type recordingSink struct {
	events []Event
	err    error
}

func (r *recordingSink) Notify(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingSink) Track(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingSink) Apply(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingSink) Broadcast(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestDispatchFansOut(t *testing.T) {
	notifier := &recordingSink{}
	tracker := &recordingSink{}
	ranker := &recordingSink{}
	pusher := &recordingSink{}
	d := NewDispatcher(notifier, tracker, ranker, pusher)

	events := []Event{
		{Kind: EventBattleCompleted, BattleID: "b1"},
		{Kind: EventRatingUpdated, UserID: "alice"},
		{Kind: EventQuestCompleted, UserID: "alice"},
	}
	d.Dispatch(context.Background(), events)

	if len(notifier.events) != 3 || len(tracker.events) != 3 || len(pusher.events) != 3 {
		t.Fatalf("fanout counts: notify=%d track=%d push=%d",
			len(notifier.events), len(tracker.events), len(pusher.events))
	}
	// Ranker only sees score-carrying kinds.
	if len(ranker.events) != 2 ||
		ranker.events[0].Kind != EventRatingUpdated ||
		ranker.events[1].Kind != EventQuestCompleted {
		t.Fatalf("ranker events = %v", ranker.events)
	}
}

func TestDispatchSwallowsErrors(t *testing.T) {
	failing := &recordingSink{err: errors.New("sink down")}
	pusher := &recordingSink{}
	d := NewDispatcher(failing, failing, failing, pusher)

	// Must not panic or stop early; the healthy sink still gets everything.
	events := []Event{
		{Kind: EventBattleCreated, BattleID: "b1"},
		{Kind: EventRatingUpdated, UserID: "alice"},
		{Kind: EventAchievementUnlocked, UserID: "alice"},
	}
	d.Dispatch(context.Background(), events)

	if len(pusher.events) != 3 {
		t.Fatalf("healthy sink got %d events, want 3", len(pusher.events))
	}
}

func TestDispatchNilSinks(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)
	d.Dispatch(context.Background(), []Event{{Kind: EventBattleCreated}})

	var nilD *Dispatcher
	nilD.Dispatch(context.Background(), []Event{{Kind: EventBattleCreated}})
}
