package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const hostedStateTTL = 10 * time.Minute

// HostedLogin implements the provider-hosted alternative to the password
// exchange: a standard authorization-code flow against the same issuer,
// ending in the same application session token.
type HostedLogin struct {
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	tokens      *TokenService
	logger      *slog.Logger

	mu     sync.Mutex
	states map[string]hostedState
}

type hostedState struct {
	nonce     string
	callback  string
	createdAt time.Time
}

// NewHostedLogin initializes the flow via OIDC discovery on the provider
// issuer.
func NewHostedLogin(ctx context.Context, cfg Config, tokens *TokenService, logger *slog.Logger) (*HostedLogin, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Provider.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover provider: %w", err)
	}

	endpoint := provider.Endpoint()
	if cfg.OIDC.ClientSecret == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}

	redirect := strings.TrimSuffix(cfg.Server.PublicURL, "/") + "/auth/oidc/callback"
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.OIDC.ClientID,
		ClientSecret: cfg.OIDC.ClientSecret,
		RedirectURL:  redirect,
		Endpoint:     endpoint,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}

	return &HostedLogin{
		oauthConfig: oauthCfg,
		verifier:    provider.Verifier(&oidc.Config{ClientID: cfg.OIDC.ClientID}),
		tokens:      tokens,
		logger:      logger,
		states:      make(map[string]hostedState),
	}, nil
}

// Start redirects the browser to the provider's hosted login screen.
func (h *HostedLogin) Start(w http.ResponseWriter, r *http.Request) {
	state := randomHex(16)
	nonce := randomHex(16)

	h.mu.Lock()
	h.pruneLocked()
	h.states[state] = hostedState{
		nonce:     nonce,
		callback:  sanitizeCallback(r.URL.Query().Get("callbackUrl")),
		createdAt: time.Now(),
	}
	h.mu.Unlock()

	authURL := h.oauthConfig.AuthCodeURL(state, oauth2.SetAuthURLParam("nonce", nonce))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes the code exchange, verifies the ID token, and
// returns the verified identity plus the browser destination.
func (h *HostedLogin) Callback(ctx context.Context, state, code string) (UserIdentity, string, error) {
	h.mu.Lock()
	pending, ok := h.states[state]
	delete(h.states, state)
	h.mu.Unlock()
	if !ok {
		return UserIdentity{}, "", fmt.Errorf("unknown state")
	}
	if time.Since(pending.createdAt) > hostedStateTTL {
		return UserIdentity{}, "", fmt.Errorf("state expired")
	}

	tok, err := h.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return UserIdentity{}, "", fmt.Errorf("exchange code: %w", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return UserIdentity{}, "", fmt.Errorf("id_token missing in response")
	}

	idToken, err := h.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return UserIdentity{}, "", fmt.Errorf("verify id_token: %w", err)
	}

	var claims struct {
		Nonce             string `json:"nonce"`
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
		Email             string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return UserIdentity{}, "", fmt.Errorf("parse claims: %w", err)
	}
	if claims.Nonce != pending.nonce {
		return UserIdentity{}, "", fmt.Errorf("nonce mismatch")
	}

	user := UserIdentity{
		ID:          idToken.Subject,
		LoginName:   claims.PreferredUsername,
		DisplayName: claims.Name,
	}
	if user.LoginName == "" {
		user.LoginName = claims.Email
	}
	if user.DisplayName == "" {
		user.DisplayName = user.LoginName
	}

	return user, pending.callback, nil
}

func (h *HostedLogin) pruneLocked() {
	for state, pending := range h.states {
		if time.Since(pending.createdAt) > hostedStateTTL {
			delete(h.states, state)
		}
	}
}

func (a *App) handleOIDCStart(w http.ResponseWriter, r *http.Request) {
	if a.Hosted == nil {
		http.Error(w, "hosted login not configured", http.StatusNotFound)
		return
	}
	a.Hosted.Start(w, r)
}

func (a *App) handleOIDCCallback(w http.ResponseWriter, r *http.Request) {
	if a.Hosted == nil {
		http.Error(w, "hosted login not configured", http.StatusNotFound)
		return
	}

	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		http.Error(w, "missing state or code", http.StatusBadRequest)
		return
	}

	user, callback, err := a.Hosted.Callback(r.Context(), state, code)
	if err != nil {
		a.Logger.Error("hosted login failed", "error", err)
		http.Error(w, "login failed", http.StatusBadGateway)
		return
	}

	token, err := a.Tokens.MintHosted(user)
	if err != nil {
		a.Logger.Error("mint hosted session", "error", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	a.setSessionCookie(w, token)
	http.Redirect(w, r, callback, http.StatusFound)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
