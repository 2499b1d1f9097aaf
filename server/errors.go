package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies an authentication failure. Each kind carries a
// stable client-facing message and an HTTP status.
type ErrorKind int

const (
	// KindInternal covers anything unexpected, including malformed
	// provider responses.
	KindInternal ErrorKind = iota
	// KindBadRequest means the inbound request was missing loginName or
	// password. Raised before any network call.
	KindBadRequest
	// KindConfiguration means the service credential or audience-mode
	// settings are missing or invalid.
	KindConfiguration
	// KindUpstreamAuth means the service token exchange itself failed.
	KindUpstreamAuth
	// KindUserNotFound means session creation was rejected because the
	// login name is unknown to the provider.
	KindUserNotFound
	// KindSessionCreateFailed covers every other session-creation failure.
	KindSessionCreateFailed
	// KindInvalidPassword means the provider rejected the password check.
	KindInvalidPassword
	// KindAuthenticationFailed covers other password-check failures.
	KindAuthenticationFailed
	// KindProfileFetchFailed means the password was already verified but
	// the identity claims could not be read back.
	KindProfileFetchFailed
)

// AuthError is the structured result surfaced for every failed exchange.
// The wrapped cause is for logs only; Message is what clients see.
type AuthError struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *AuthError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.cause }

// Status maps the error kind to its HTTP status.
func (e *AuthError) Status() int {
	switch e.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUserNotFound:
		return http.StatusNotFound
	case KindSessionCreateFailed, KindInvalidPassword, KindAuthenticationFailed:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func authErr(kind ErrorKind, msg string, cause error) *AuthError {
	return &AuthError{Kind: kind, Message: msg, cause: cause}
}

// AsAuthError extracts an AuthError, falling back to KindInternal.
func AsAuthError(err error) *AuthError {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	return authErr(KindInternal, "Internal server error", err)
}

// classifyCreateSession inspects a session-creation error body for the
// provider's "user not found" message. Best-effort text matching: the
// provider's error vocabulary is not a stable contract, so any body we
// cannot recognize falls back to the generic failure for this step.
func classifyCreateSession(status int, body []byte) *AuthError {
	if msg := providerMessage(body); strings.Contains(msg, "user not found") {
		return authErr(KindUserNotFound, "User not found", nil)
	}
	return authErr(KindSessionCreateFailed, "Failed to create session", fmt.Errorf("provider status %d", status))
}

// classifyPasswordCheck inspects a password-check error body for the
// provider's invalid-password messages. Same best-effort caveat as
// classifyCreateSession.
func classifyPasswordCheck(status int, body []byte) *AuthError {
	msg := providerMessage(body)
	if strings.Contains(msg, "invalid password") || strings.Contains(msg, "password check failed") {
		return authErr(KindInvalidPassword, "Invalid password", nil)
	}
	return authErr(KindAuthenticationFailed, "Authentication failed", fmt.Errorf("provider status %d", status))
}

func providerMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Message
}
