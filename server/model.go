package server

// UserIdentity holds the verified identity claims read back from a
// password-verified provider session.
type UserIdentity struct {
	ID          string `json:"id"`
	LoginName   string `json:"loginName"`
	DisplayName string `json:"displayName"`
}

// SessionRef references the provider-side session created for one login
// attempt. The session token is bearer material and must never be logged.
type SessionRef struct {
	SessionID    string `json:"sessionId"`
	SessionToken string `json:"sessionToken"`
}

// LoginResult is the successful outcome of a full exchange.
type LoginResult struct {
	SessionToken string
	User         UserIdentity
	Provider     SessionRef
}

// loginRequest is the inbound /api/login payload.
type loginRequest struct {
	LoginName string `json:"loginName"`
	Password  string `json:"password"`
}

// loginResponse is the outbound /api/login success payload.
type loginResponse struct {
	Success      bool       `json:"success"`
	SessionToken string     `json:"sessionToken"`
	User         publicUser `json:"user"`
	Provider     SessionRef `json:"zitadelSession"`
}

// publicUser is the minimal user projection exposed to clients.
type publicUser struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}
