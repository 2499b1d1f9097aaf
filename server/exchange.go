package server

import (
	"context"
	"log/slog"
)

// Exchanger drives the session-based password authentication exchange:
// service token, create session, password check, identity fetch, and
// finally the locally signed application token.
//
// Each attempt is an independent unit of work. The four provider calls
// are strictly ordered and performed exactly once; session creation in
// particular is not safe to retry blindly, so every failure terminates
// the flow and a caller who wants another go restarts from the top.
type Exchanger struct {
	signer *AssertionSigner
	api    SessionAPI
	tokens *TokenService
	scope  string
	logger *slog.Logger
}

// NewExchanger wires the orchestrator from its collaborators. The scope
// string is derived once from configuration.
func NewExchanger(cfg Config, api SessionAPI, tokens *TokenService, logger *slog.Logger) (*Exchanger, error) {
	signer, err := NewAssertionSigner(cfg.ServiceKey(), cfg.Provider.Issuer)
	if err != nil {
		return nil, err
	}
	return &Exchanger{
		signer: signer,
		api:    api,
		tokens: tokens,
		scope:  ServiceScope(cfg.Provider),
		logger: logger,
	}, nil
}

// Authenticate verifies loginName/password against the provider and, on
// success, returns the minted application session token plus the minimal
// user projection. Failures carry an AuthError classifying the step that
// broke.
func (e *Exchanger) Authenticate(ctx context.Context, loginName, password string) (*LoginResult, error) {
	if loginName == "" || password == "" {
		return nil, authErr(KindBadRequest, "Missing loginName or password", nil)
	}

	assertion, err := e.signer.Sign()
	if err != nil {
		return nil, authErr(KindConfiguration, "Internal server error", err)
	}

	accessToken, err := e.api.ExchangeToken(ctx, assertion, e.scope)
	if err != nil {
		return nil, err
	}

	sessionID, err := e.api.CreateSession(ctx, accessToken, loginName)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("session created", "session_id", sessionID)

	sessionToken, err := e.api.CheckPassword(ctx, accessToken, sessionID, password)
	if err != nil {
		return nil, err
	}

	// The password is verified from here on; failures are reported as
	// profile-fetch problems, not authentication failures.
	user, err := e.api.FetchSession(ctx, accessToken, sessionID)
	if err != nil {
		return nil, err
	}

	provider := SessionRef{SessionID: sessionID, SessionToken: sessionToken}
	appToken, err := e.tokens.Mint(user, provider)
	if err != nil {
		return nil, authErr(KindInternal, "Internal server error", err)
	}

	e.logger.Info("login succeeded", "user_id", user.ID, "session_id", sessionID)

	return &LoginResult{
		SessionToken: appToken,
		User:         user,
		Provider:     provider,
	}, nil
}
