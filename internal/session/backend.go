package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"spinsync/internal/core"
)

// TokenPath and HealthPath are the backend routes the client talks to.
const (
	TokenPath   = "/api/auth/token"
	HandoffPath = "/api/auth/handoff/"
	HealthPath  = "/healthz"
)

// ExchangeRequest is the token-exchange request body.
type ExchangeRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirectUri"`
}

// TokenResponse is the token-exchange success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
}

// ErrorResponse is the token-exchange failure body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Tokens converts the response into AuthTokens relative to now.
func (r TokenResponse) Tokens(now time.Time) core.AuthTokens {
	tokens := core.AuthTokens{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
	if r.ExpiresIn > 0 {
		tokens.ExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return tokens
}

// BackendClient talks to the token-exchange backend.
type BackendClient struct {
	baseURL       string
	httpClient    *http.Client
	healthTimeout time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

func NewBackendClient(baseURL string, healthTimeout time.Duration, logger *zap.Logger) *BackendClient {
	if healthTimeout <= 0 {
		healthTimeout = core.DefaultHealthCheckTimeout
	}
	return &BackendClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    http.DefaultClient,
		healthTimeout: healthTimeout,
		logger:        logger,
		now:           time.Now,
	}
}

// Exchange trades an authorization code for tokens.
func (c *BackendClient) Exchange(ctx context.Context, code, redirectURI string) (core.AuthTokens, error) {
	const op = "exchange"

	body, err := json.Marshal(ExchangeRequest{Code: code, RedirectURI: redirectURI})
	if err != nil {
		return core.AuthTokens{}, fmt.Errorf("failed to encode exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+TokenPath, bytes.NewReader(body))
	if err != nil {
		return core.AuthTokens{}, fmt.Errorf("failed to build exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.AuthTokens{}, &core.Error{Kind: core.KindTransient, Op: op, Message: "backend unreachable", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.AuthTokens{}, &core.Error{Kind: core.KindTransient, Op: op, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var failure ErrorResponse
		_ = json.Unmarshal(raw, &failure)
		message := failure.Error
		if failure.Details != "" {
			message += ": " + failure.Details
		}
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}

		kind := core.KindUnauthenticated
		if resp.StatusCode >= http.StatusInternalServerError {
			kind = core.KindTransient
		}
		c.logger.Warn("Token exchange rejected", zap.Int("status", resp.StatusCode), zap.String("error", failure.Error))
		return core.AuthTokens{}, &core.Error{Kind: kind, Op: op, Status: resp.StatusCode, Message: message}
	}

	var tokens TokenResponse
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return core.AuthTokens{}, &core.Error{Kind: core.KindUnknown, Op: op, Status: resp.StatusCode, Message: "malformed token response", Err: err}
	}
	if tokens.AccessToken == "" {
		return core.AuthTokens{}, core.NewError(core.KindUnauthenticated, op, "no access token in response")
	}
	return tokens.Tokens(c.now()), nil
}

// Handoff collects tokens parked by the backend after a browser login. Each id works once.
func (c *BackendClient) Handoff(ctx context.Context, id string) (core.AuthTokens, error) {
	const op = "handoff"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+HandoffPath+url.PathEscape(id), nil)
	if err != nil {
		return core.AuthTokens{}, fmt.Errorf("failed to build handoff request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.AuthTokens{}, &core.Error{Kind: core.KindTransient, Op: op, Message: "backend unreachable", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return core.AuthTokens{}, &core.Error{Kind: core.KindNotFound, Op: op, Status: resp.StatusCode, Message: "unknown or expired hand-off"}
	case resp.StatusCode != http.StatusOK:
		return core.AuthTokens{}, &core.Error{Kind: core.KindTransient, Op: op, Status: resp.StatusCode}
	}

	var tokens TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return core.AuthTokens{}, &core.Error{Kind: core.KindUnknown, Op: op, Message: "malformed token response", Err: err}
	}
	return tokens.Tokens(c.now()), nil
}

// Health checks the backend answers on its health route within the health-check timeout.
func (c *BackendClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+HealthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &core.Error{Kind: core.KindTransient, Op: "health", Message: "backend unreachable", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &core.Error{Kind: core.KindTransient, Op: "health", Status: resp.StatusCode, Message: "backend unhealthy"}
	}
	return nil
}
