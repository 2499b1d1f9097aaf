package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config    Config
	Logger    *slog.Logger
	Exchanger *Exchanger
	Tokens    *TokenService
	Hosted    *HostedLogin
}

// NewApp wires together the application state from configuration.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	tokens := NewTokenService(cfg.Session)
	api := NewZitadelClient(cfg.Provider, logger)

	exchanger, err := NewExchanger(cfg, api, tokens, logger)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:    cfg,
		Logger:    logger,
		Exchanger: exchanger,
		Tokens:    tokens,
	}

	if cfg.OIDC.ClientID != "" {
		hosted, err := NewHostedLogin(ctx, cfg, tokens, logger)
		if err != nil {
			return nil, err
		}
		app.Hosted = hosted
	}

	return app, nil
}

// handleLogin drives the password exchange for POST /api/login.
func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Missing loginName or password")
		return
	}

	result, err := a.Exchanger.Authenticate(r.Context(), req.LoginName, req.Password)
	if err != nil {
		ae := AsAuthError(err)
		if ae.Status() >= http.StatusInternalServerError {
			a.Logger.Error("login failed", "error", err, "login_name", req.LoginName)
		} else {
			a.Logger.Warn("login rejected", "reason", ae.Message, "login_name", req.LoginName)
		}
		writeError(w, ae.Status(), ae.Message)
		return
	}

	a.setSessionCookie(w, result.SessionToken)
	writeJSON(w, http.StatusOK, loginResponse{
		Success:      true,
		SessionToken: result.SessionToken,
		User: publicUser{
			ID:          result.User.ID,
			Username:    result.User.LoginName,
			DisplayName: result.User.DisplayName,
		},
		Provider: result.Provider,
	})
}

// handleLogout clears the session cookie. The token itself stays valid
// until expiry; there is no server-side session state to revoke.
func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   a.Config.Server.CookieDomain,
		HttpOnly: true,
		Secure:   !a.Config.Server.DevMode,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the authenticated user's claims.
func (a *App) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := SessionFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": publicUser{
			ID:          claims.UserID,
			Username:    claims.Username,
			DisplayName: claims.DisplayName,
		},
		"authMethod": claims.AuthMethod,
		"loginTime":  claims.LoginTime,
	})
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   a.Config.Server.CookieDomain,
		HttpOnly: true,
		Secure:   !a.Config.Server.DevMode,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(a.Config.Session.TTL.Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
