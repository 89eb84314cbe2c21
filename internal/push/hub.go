package push

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/valorforge/arena-server/internal/obslog"
	"github.com/valorforge/arena-server/internal/sink"
	"go.uber.org/zap"
)

// Hub fans battle events out to websocket spectators. A subscriber watches
// one battle or, with no battle_id, the whole stream. Slow clients have
// events dropped rather than blocking dispatch.
type Hub struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
	srv  *http.Server
}

type subscriber struct {
	battleID string
	ch       chan sink.Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Broadcast implements sink.Pusher.
func (h *Hub) Broadcast(_ context.Context, ev sink.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.battleID != "" && sub.battleID != ev.BattleID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// subscriber buffer full; drop
		}
	}
	return nil
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// SubscriberCount reports connected spectators.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		obslog.L().Warn("push_accept_error", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := &subscriber{
		battleID: strings.TrimSpace(r.URL.Query().Get("battle_id")),
		ch:       make(chan sink.Event, 32),
	}
	h.add(sub)
	defer h.remove(sub)

	obslog.L().Info("push_subscribe", zap.String("battle_id", sub.battleID))

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.ch:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// Serve runs the hub on its own listener. Blocks until the server stops.
func (h *Hub) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/v1/watch", h)
	h.mu.Lock()
	h.srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	srv := h.srv
	h.mu.Unlock()
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close stops the listener. Connected spectators are dropped.
func (h *Hub) Close() error {
	h.mu.Lock()
	srv := h.srv
	h.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Close()
}
