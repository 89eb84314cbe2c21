package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Verifier resolves a bearer credential to a verified user id. Required
// before any battle operation is invoked.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

var ErrUnauthenticated = errors.New("unauthenticated")

// Passthrough treats the bearer token itself as the user id. Development
// only, selected when no identity service is configured.
type Passthrough struct{}

func (Passthrough) Verify(_ context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrUnauthenticated
	}
	return token, nil
}

// HTTPVerifier calls the external identity service.
type HTTPVerifier struct {
	baseURL string
	http    *fasthttp.Client
	timeout time.Duration
}

func NewHTTPVerifier(baseURL string) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second, MaxConnsPerHost: 32},
		timeout: 5 * time.Second,
	}
}

type verifyResponse struct {
	UserID string `json:"user_id"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrUnauthenticated
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(v.baseURL + "/verify")
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Authorization", "Bearer "+token)

	deadline := time.Now().Add(v.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := v.http.DoDeadline(req, resp, deadline); err != nil {
		return "", fmt.Errorf("auth request: %w", err)
	}
	switch resp.StatusCode() {
	case fasthttp.StatusOK:
	case fasthttp.StatusUnauthorized, fasthttp.StatusForbidden:
		return "", ErrUnauthenticated
	default:
		return "", fmt.Errorf("auth status %d", resp.StatusCode())
	}

	var out verifyResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("auth decode: %w", err)
	}
	if strings.TrimSpace(out.UserID) == "" {
		return "", ErrUnauthenticated
	}
	return out.UserID, nil
}

// StaticVerifier maps raw tokens to user ids. Development and test use only.
type StaticVerifier map[string]string

func (s StaticVerifier) Verify(_ context.Context, token string) (string, error) {
	if uid, ok := s[strings.TrimSpace(token)]; ok && uid != "" {
		return uid, nil
	}
	return "", ErrUnauthenticated
}
