package anticheat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/valorforge/arena-server/internal/domain"
)

// Oracle renders a verdict on a submitted battle result. A false verdict
// makes the caller reject the submission before finalize runs.
type Oracle interface {
	Validate(ctx context.Context, userID string, result *domain.BattleResult) (bool, error)
}

// AllowAll accepts everything. Default when no oracle endpoint is configured.
type AllowAll struct{}

func (AllowAll) Validate(context.Context, string, *domain.BattleResult) (bool, error) {
	return true, nil
}

// HTTPOracle posts the result to an external validation service.
type HTTPOracle struct {
	baseURL string
	http    *fasthttp.Client
	timeout time.Duration
}

func NewHTTPOracle(baseURL string) *HTTPOracle {
	return &HTTPOracle{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second, MaxConnsPerHost: 16},
		timeout: 5 * time.Second,
	}
}

type validateRequest struct {
	UserID string               `json:"user_id"`
	Result *domain.BattleResult `json:"result"`
}

type validateResponse struct {
	Valid bool `json:"valid"`
}

func (o *HTTPOracle) Validate(ctx context.Context, userID string, result *domain.BattleResult) (bool, error) {
	body, err := json.Marshal(validateRequest{UserID: userID, Result: result})
	if err != nil {
		return false, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(o.baseURL + "/validate")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline := time.Now().Add(o.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := o.http.DoDeadline(req, resp, deadline); err != nil {
		return false, fmt.Errorf("anticheat request: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return false, fmt.Errorf("anticheat status %d", resp.StatusCode())
	}

	var out validateResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return false, fmt.Errorf("anticheat decode: %w", err)
	}
	return out.Valid, nil
}
