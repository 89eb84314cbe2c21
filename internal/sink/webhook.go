package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/valorforge/arena-server/internal/msgcat"
)

// WebhookNotifier posts rendered notification text to an external endpoint.
type WebhookNotifier struct {
	url     string
	http    *fasthttp.Client
	catalog *msgcat.Catalog
	timeout time.Duration
}

func NewWebhookNotifier(url string, catalog *msgcat.Catalog) *WebhookNotifier {
	return &WebhookNotifier{
		url:     strings.TrimSpace(url),
		http:    &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second, MaxConnsPerHost: 16},
		catalog: catalog,
		timeout: 5 * time.Second,
	}
}

func templateKey(kind EventKind) string {
	switch kind {
	case EventBattleCreated:
		return "battle.created"
	case EventBattleCompleted:
		return "battle.completed"
	case EventAchievementUnlocked:
		return "achievement.unlocked"
	case EventQuestCompleted:
		return "quest.completed"
	case EventRatingUpdated:
		return "rating.updated"
	default:
		return ""
	}
}

type notifyPayload struct {
	Kind     string `json:"kind"`
	BattleID string `json:"battle_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Message  string `json:"message"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	if n == nil || n.url == "" {
		return nil
	}

	data := map[string]any{"battle_id": ev.BattleID, "user_id": ev.UserID}
	for k, v := range ev.Payload {
		data[k] = v
	}
	message := string(ev.Kind)
	if n.catalog != nil {
		if rendered, err := n.catalog.Render(templateKey(ev.Kind), data); err == nil {
			message = rendered
		}
	}

	body, err := json.Marshal(notifyPayload{
		Kind:     string(ev.Kind),
		BattleID: ev.BattleID,
		UserID:   ev.UserID,
		Message:  message,
	})
	if err != nil {
		return err
	}
	return n.post(ctx, n.url, body)
}

func (n *WebhookNotifier) post(ctx context.Context, url string, body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline := time.Now().Add(n.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := n.http.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("notify webhook: %w", err)
	}
	if resp.StatusCode() >= fasthttp.StatusBadRequest {
		return fmt.Errorf("notify webhook status %d", resp.StatusCode())
	}
	return nil
}

// WebhookTracker posts raw analytics events.
type WebhookTracker struct {
	url     string
	http    *fasthttp.Client
	timeout time.Duration
}

func NewWebhookTracker(url string) *WebhookTracker {
	return &WebhookTracker{
		url:     strings.TrimSpace(url),
		http:    &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second, MaxConnsPerHost: 16},
		timeout: 5 * time.Second,
	}
}

func (t *WebhookTracker) Track(ctx context.Context, ev Event) error {
	if t == nil || t.url == "" {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(t.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.http.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("track webhook: %w", err)
	}
	if resp.StatusCode() >= fasthttp.StatusBadRequest {
		return fmt.Errorf("track webhook status %d", resp.StatusCode())
	}
	return nil
}
