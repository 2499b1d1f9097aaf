package client

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "shared-session-secret"

func mintTestToken(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	now := time.Now()
	claims := jwt.MapClaims{
		"userId":      "user-1",
		"username":    "jdoe",
		"displayName": "Jane Doe",
		"authMethod":  "zitadel_session_api",
		"iss":         "logind",
		"aud":         "logind-users",
		"iat":         now.Unix(),
		"exp":         now.Add(time.Hour).Unix(),
	}
	if mutate != nil {
		mutate(claims)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return token
}

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	g, err := NewGuard(GuardConfig{
		Secret:   testSecret,
		Issuer:   "logind",
		Audience: "logind-users",
		LoginURL: "/auth/login",
	})
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	return g
}

func TestGuardValidate(t *testing.T) {
	g := newTestGuard(t)

	claims, err := g.Validate(mintTestToken(t, nil))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.UserID != "user-1" || claims.Username != "jdoe" || claims.DisplayName != "Jane Doe" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.AuthMethod != "zitadel_session_api" {
		t.Fatalf("unexpected auth method: %q", claims.AuthMethod)
	}
}

func TestGuardValidateRejections(t *testing.T) {
	g := newTestGuard(t)

	cases := []struct {
		name   string
		mutate func(jwt.MapClaims)
	}{
		{"expired", func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Minute).Unix() }},
		{"wrong issuer", func(c jwt.MapClaims) { c["iss"] = "someone-else" }},
		{"wrong audience", func(c jwt.MapClaims) { c["aud"] = "another-app" }},
		{"missing user id", func(c jwt.MapClaims) { delete(c, "userId") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := g.Validate(mintTestToken(t, tc.mutate)); err == nil {
				t.Fatalf("expected rejection")
			}
		})
	}

	if _, err := g.Validate(""); err == nil {
		t.Fatalf("expected empty token rejection")
	}
}

func TestGuardRejectsWrongAlgorithm(t *testing.T) {
	g := newTestGuard(t)

	// alg=none tokens must never pass.
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"userId": "user-1",
		"iss":    "logind",
		"aud":    "logind-users",
		"exp":    time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if _, err := g.Validate(token); err == nil {
		t.Fatalf("expected alg=none token to be rejected")
	}
}

func TestRequireAuthMiddleware(t *testing.T) {
	g := newTestGuard(t)
	var gotClaims *Claims
	handler := RequireAuth(g)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/data", nil)
		req.Header.Set("Authorization", "Bearer "+mintTestToken(t, nil))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if gotClaims == nil || gotClaims.UserID != "user-1" {
			t.Fatalf("claims not injected: %+v", gotClaims)
		}
	})

	t.Run("valid cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/data", nil)
		req.AddCookie(&http.Cookie{Name: "logind_session", Value: mintTestToken(t, nil)})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("browser redirect", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/data?page=2", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusFound {
			t.Fatalf("status = %d, want redirect", rec.Code)
		}
		loc, err := url.Parse(rec.Header().Get("Location"))
		if err != nil {
			t.Fatalf("parse location: %v", err)
		}
		if loc.Path != "/auth/login" || loc.Query().Get("callbackUrl") != "/data?page=2" {
			t.Fatalf("unexpected redirect: %q", rec.Header().Get("Location"))
		}
	})

	t.Run("api 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/data", nil)
		req.Header.Set("Accept", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})
}
