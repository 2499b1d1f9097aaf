package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SessionAPI is the minimal behaviour required from the provider's
// session endpoints. The orchestrator depends on this capability rather
// than on the network so it can be exercised against a fake.
type SessionAPI interface {
	ExchangeToken(ctx context.Context, assertion, scope string) (string, error)
	CreateSession(ctx context.Context, accessToken, loginName string) (string, error)
	CheckPassword(ctx context.Context, accessToken, sessionID, password string) (string, error)
	FetchSession(ctx context.Context, accessToken, sessionID string) (UserIdentity, error)
}

// ZitadelClient talks to a Zitadel-compatible session API over HTTP.
type ZitadelClient struct {
	issuer string
	http   *http.Client
	logger *slog.Logger
}

// NewZitadelClient builds the HTTP session API client. Every call gets a
// bounded timeout; the provider offers no cancellation of its own and the
// caller must not hang.
func NewZitadelClient(cfg ProviderConfig, logger *slog.Logger) *ZitadelClient {
	return &ZitadelClient{
		issuer: strings.TrimSuffix(cfg.Issuer, "/"),
		http:   &http.Client{Timeout: cfg.CallTimeout},
		logger: logger,
	}
}

// ExchangeToken performs the JWT-bearer grant against the token endpoint
// and returns the service access token.
func (c *ZitadelClient) ExchangeToken(ctx context.Context, assertion, scope string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", GrantJWTBearer)
	form.Set("scope", scope)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.issuer+"/oauth/v2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", authErr(KindInternal, "Internal server error", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	status, body, err := c.do(req)
	if err != nil {
		return "", authErr(KindUpstreamAuth, "Failed to authenticate service account", err)
	}
	if status < 200 || status >= 300 {
		c.logger.Error("token exchange failed", "status", status)
		return "", authErr(KindUpstreamAuth, "Failed to authenticate service account", fmt.Errorf("provider status %d", status))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.AccessToken == "" {
		return "", authErr(KindInternal, "Internal server error", fmt.Errorf("malformed token response"))
	}
	return payload.AccessToken, nil
}

// CreateSession opens a provider session whose only check is that the
// login name exists. Returns the session id.
func (c *ZitadelClient) CreateSession(ctx context.Context, accessToken, loginName string) (string, error) {
	body := map[string]any{
		"checks": map[string]any{
			"user": map[string]any{"loginName": loginName},
		},
	}

	status, resp, err := c.doJSON(ctx, http.MethodPost, c.issuer+"/v2/sessions", accessToken, body)
	if err != nil {
		return "", authErr(KindSessionCreateFailed, "Failed to create session", err)
	}
	if status < 200 || status >= 300 {
		c.logger.Warn("create session rejected", "status", status)
		return "", classifyCreateSession(status, resp)
	}

	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(resp, &payload); err != nil || payload.SessionID == "" {
		return "", authErr(KindInternal, "Internal server error", fmt.Errorf("malformed create session response"))
	}
	return payload.SessionID, nil
}

// CheckPassword submits the password check into an existing session.
// Returns the session-scoped bearer token on success.
func (c *ZitadelClient) CheckPassword(ctx context.Context, accessToken, sessionID, password string) (string, error) {
	body := map[string]any{
		"checks": map[string]any{
			"password": map[string]any{"password": password},
		},
	}

	status, resp, err := c.doJSON(ctx, http.MethodPatch, c.issuer+"/v2/sessions/"+sessionID, accessToken, body)
	if err != nil {
		return "", authErr(KindAuthenticationFailed, "Authentication failed", err)
	}
	if status < 200 || status >= 300 {
		c.logger.Warn("password check rejected", "status", status, "session_id", sessionID)
		return "", classifyPasswordCheck(status, resp)
	}

	var payload struct {
		SessionToken string `json:"sessionToken"`
	}
	if err := json.Unmarshal(resp, &payload); err != nil || payload.SessionToken == "" {
		return "", authErr(KindInternal, "Internal server error", fmt.Errorf("malformed password check response"))
	}
	return payload.SessionToken, nil
}

// FetchSession reads back the verified identity claims for a session.
func (c *ZitadelClient) FetchSession(ctx context.Context, accessToken, sessionID string) (UserIdentity, error) {
	status, resp, err := c.doJSON(ctx, http.MethodGet, c.issuer+"/v2/sessions/"+sessionID, accessToken, nil)
	if err != nil {
		return UserIdentity{}, authErr(KindProfileFetchFailed, "Failed to get user details", err)
	}
	if status < 200 || status >= 300 {
		c.logger.Error("fetch session failed", "status", status, "session_id", sessionID)
		return UserIdentity{}, authErr(KindProfileFetchFailed, "Failed to get user details", fmt.Errorf("provider status %d", status))
	}

	var payload struct {
		Session struct {
			Factors struct {
				User UserIdentity `json:"user"`
			} `json:"factors"`
		} `json:"session"`
	}
	if err := json.Unmarshal(resp, &payload); err != nil || payload.Session.Factors.User.ID == "" {
		return UserIdentity{}, authErr(KindProfileFetchFailed, "Failed to get user details", fmt.Errorf("malformed session response"))
	}
	return payload.Session.Factors.User, nil
}

func (c *ZitadelClient) doJSON(ctx context.Context, method, target, accessToken string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req)
}

func (c *ZitadelClient) do(req *http.Request) (int, []byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("call provider: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read provider response: %w", err)
	}

	c.logger.Debug("provider call",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp.StatusCode, body, nil
}

// ServiceScope computes the scope string for the JWT-bearer grant from
// the configured audience mode. Validate has already confirmed the mode's
// required ids are present.
func ServiceScope(cfg ProviderConfig) string {
	scopes := []string{"openid"}
	if cfg.OfflineAccess {
		scopes = append(scopes, "offline_access")
	}

	switch cfg.AudienceMode {
	case AudienceProject:
		scopes = append(scopes, "urn:zitadel:iam:org:project:id:"+cfg.ProjectID+":aud")
	case AudienceApp:
		scopes = append(scopes,
			"urn:zitadel:iam:org:project:id:"+cfg.ProjectID+":aud",
			"urn:zitadel:iam:org:app:id:"+cfg.AppID+":aud",
		)
	default:
		scopes = append(scopes, "urn:zitadel:iam:org:project:id:zitadel:aud")
	}
	return strings.Join(scopes, " ")
}
