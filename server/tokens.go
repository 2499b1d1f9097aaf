package server

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthMethodSessionAPI tags tokens minted through the password exchange.
const AuthMethodSessionAPI = "zitadel_session_api"

// AuthMethodHostedLogin tags tokens minted through the hosted OIDC flow.
const AuthMethodHostedLogin = "zitadel_hosted_login"

// SessionClaims is the claim set carried by the application session
// token. The token is the only durable session state: there is no
// server-side store, so everything a protected route needs rides here.
type SessionClaims struct {
	UserID          string `json:"userId"`
	Username        string `json:"username"`
	DisplayName     string `json:"displayName"`
	LoginTime       int64  `json:"loginTime"`
	AuthMethod      string `json:"authMethod"`
	ProviderSession string `json:"zitadelSessionId,omitempty"`
	ProviderToken   string `json:"zitadelSessionToken,omitempty"`
	jwt.RegisteredClaims
}

// TokenService mints and validates application session tokens, signed
// HS256 with the locally configured session secret.
type TokenService struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration

	// overwritten for testing
	now func() time.Time
}

// NewTokenService constructs a TokenService from config.
func NewTokenService(cfg SessionConfig) *TokenService {
	return &TokenService{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		now:      time.Now,
	}
}

// Mint signs a session token for a verified identity. Expiry is fixed at
// the configured TTL from issuance.
func (ts *TokenService) Mint(user UserIdentity, provider SessionRef) (string, error) {
	return ts.mint(user, provider, AuthMethodSessionAPI)
}

// MintHosted signs a session token for an identity verified through the
// hosted OIDC flow; no provider session backs it.
func (ts *TokenService) MintHosted(user UserIdentity) (string, error) {
	return ts.mint(user, SessionRef{}, AuthMethodHostedLogin)
}

func (ts *TokenService) mint(user UserIdentity, provider SessionRef, method string) (string, error) {
	now := ts.now()
	claims := SessionClaims{
		UserID:          user.ID,
		Username:        user.LoginName,
		DisplayName:     user.DisplayName,
		LoginTime:       now.UnixMilli(),
		AuthMethod:      method,
		ProviderSession: provider.SessionID,
		ProviderToken:   provider.SessionToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    ts.issuer,
			Audience:  jwt.ClaimStrings{ts.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Validate parses a session token and checks signature, issuer, audience,
// and expiry.
func (ts *TokenService) Validate(token string) (*SessionClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ts.issuer),
		jwt.WithAudience(ts.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ts.now),
	)

	tok, err := parser.ParseWithClaims(token, &SessionClaims{}, func(*jwt.Token) (any, error) {
		return ts.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(*SessionClaims)
	if !ok || !tok.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	return claims, nil
}
