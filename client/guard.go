// Package client validates logind application session tokens so sibling
// services sharing the session secret can guard their own routes.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GuardConfig configures the session token guard.
type GuardConfig struct {
	// Secret is the shared session-signing secret.
	Secret string
	// Issuer and Audience must match the values logind mints with.
	Issuer   string
	Audience string
	// CookieName holds the session token on browser requests. Defaults
	// to logind's cookie.
	CookieName string
	// LoginURL is where unauthenticated browser requests are redirected,
	// carrying the intended destination as callbackUrl. Empty disables
	// the redirect and returns 401 instead.
	LoginURL string
	// Leeway tolerates small clock skew between services.
	Leeway time.Duration
}

// Claims is the validated view of a session token.
type Claims struct {
	UserID      string
	Username    string
	DisplayName string
	AuthMethod  string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Guard verifies logind-signed session tokens.
type Guard struct {
	cfg GuardConfig
}

// NewGuard creates a guard with sane defaults.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	if cfg.Secret == "" {
		return nil, errors.New("secret required")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "logind_session"
	}
	return &Guard{cfg: cfg}, nil
}

type rawClaims struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AuthMethod  string `json:"authMethod"`
	jwt.RegisteredClaims
}

// Validate checks signature, issuer, audience, and expiry of a token.
func (g *Guard) Validate(rawToken string) (*Claims, error) {
	if rawToken == "" {
		return nil, errors.New("token required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(g.cfg.Leeway),
	}
	if g.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.cfg.Issuer))
	}
	if g.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(g.cfg.Audience))
	}

	tok, err := jwt.ParseWithClaims(rawToken, &rawClaims{}, func(*jwt.Token) (any, error) {
		return []byte(g.cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	raw, ok := tok.Claims.(*rawClaims)
	if !ok || !tok.Valid {
		return nil, errors.New("token invalid")
	}
	if raw.UserID == "" {
		return nil, fmt.Errorf("userId missing")
	}

	claims := &Claims{
		UserID:      raw.UserID,
		Username:    raw.Username,
		DisplayName: raw.DisplayName,
		AuthMethod:  raw.AuthMethod,
	}
	if raw.IssuedAt != nil {
		claims.IssuedAt = raw.IssuedAt.Time
	}
	if raw.ExpiresAt != nil {
		claims.ExpiresAt = raw.ExpiresAt.Time
	}
	return claims, nil
}

// RequireAuth middleware validates the session token and injects claims
// into the request context.
func RequireAuth(g *Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := g.Validate(tokenFromRequest(r, g.cfg.CookieName))
			if err != nil {
				g.deny(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (g *Guard) deny(w http.ResponseWriter, r *http.Request) {
	if g.cfg.LoginURL == "" || strings.Contains(r.Header.Get("Accept"), "application/json") {
		http.Error(w, "invalid session", http.StatusUnauthorized)
		return
	}
	login, err := url.Parse(g.cfg.LoginURL)
	if err != nil {
		http.Error(w, "invalid session", http.StatusUnauthorized)
		return
	}
	q := login.Query()
	q.Set("callbackUrl", r.URL.RequestURI())
	login.RawQuery = q.Encode()
	http.Redirect(w, r, login.String(), http.StatusFound)
}

// ClaimsFromContext retrieves claims attached by the middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}

type claimsKey struct{}

func tokenFromRequest(r *http.Request, cookieName string) string {
	auth := r.Header.Get("Authorization")
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	if cookie, err := r.Cookie(cookieName); err == nil {
		return cookie.Value
	}
	return ""
}
