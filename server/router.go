package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware)
	}

	r.Get("/healthz", a.handleHealthz)

	r.Get("/auth/login", a.handleLoginPage)
	r.Get("/auth/signup", a.handleSignupPage)
	r.Get("/auth/oidc/start", a.handleOIDCStart)
	r.Get("/auth/oidc/callback", a.handleOIDCCallback)

	r.Post("/api/login", a.handleLogin)
	r.Post("/api/logout", a.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(a.RequireSession)
		r.Get("/", a.handleIndexPage)
		r.Get("/profile", a.handleProfilePage)
		r.Get("/api/me", a.handleMe)
	})

	return r
}
