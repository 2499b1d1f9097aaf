package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestZitadel(t *testing.T, handler http.Handler) (*ZitadelClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := defaultConfig().Provider
	cfg.Issuer = srv.URL
	return NewZitadelClient(cfg, testLogger()), srv
}

func TestExchangeTokenRequestShape(t *testing.T) {
	var gotForm map[string]string
	client, _ := newTestZitadel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/oauth/v2/token" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("unexpected content type: %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotForm = map[string]string{
			"grant_type": r.PostFormValue("grant_type"),
			"scope":      r.PostFormValue("scope"),
			"assertion":  r.PostFormValue("assertion"),
		}
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "tok-1"})
	}))

	token, err := client.ExchangeToken(context.Background(), "signed-assertion", "openid")
	if err != nil {
		t.Fatalf("ExchangeToken: %v", err)
	}
	if token != "tok-1" {
		t.Fatalf("unexpected token: %q", token)
	}
	if gotForm["grant_type"] != GrantJWTBearer {
		t.Fatalf("unexpected grant_type: %q", gotForm["grant_type"])
	}
	if gotForm["scope"] != "openid" || gotForm["assertion"] != "signed-assertion" {
		t.Fatalf("unexpected form: %v", gotForm)
	}
}

func TestExchangeTokenFailureIsUpstreamAuth(t *testing.T) {
	client, _ := newTestZitadel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))

	_, err := client.ExchangeToken(context.Background(), "assertion", "openid")
	if AsAuthError(err).Kind != KindUpstreamAuth {
		t.Fatalf("expected UpstreamAuth, got %v", err)
	}
}

func TestCreateSessionRequestShape(t *testing.T) {
	client, _ := newTestZitadel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/sessions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok-1" {
			t.Errorf("unexpected authorization: %q", auth)
		}
		var body struct {
			Checks struct {
				User struct {
					LoginName string `json:"loginName"`
				} `json:"user"`
			} `json:"checks"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Checks.User.LoginName != "jdoe" {
			t.Errorf("unexpected loginName: %q", body.Checks.User.LoginName)
		}
		writeJSON(w, http.StatusCreated, map[string]string{"sessionId": "sess-1"})
	}))

	id, err := client.CreateSession(context.Background(), "tok-1", "jdoe")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if id != "sess-1" {
		t.Fatalf("unexpected session id: %q", id)
	}
}

func TestCreateSessionClassification(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     any
		wantKind ErrorKind
	}{
		{"user not found", http.StatusNotFound, map[string]string{"message": "Errors.User.NotFound: user not found"}, KindUserNotFound},
		{"other message", http.StatusForbidden, map[string]string{"message": "permission denied"}, KindSessionCreateFailed},
		{"non-json body", http.StatusBadGateway, "gateway exploded", KindSessionCreateFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestZitadel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if s, ok := tc.body.(string); ok {
					http.Error(w, s, tc.status)
					return
				}
				writeJSON(w, tc.status, tc.body)
			}))

			_, err := client.CreateSession(context.Background(), "tok", "jdoe")
			if AsAuthError(err).Kind != tc.wantKind {
				t.Fatalf("expected %v, got %v", tc.wantKind, err)
			}
		})
	}
}

func TestCheckPasswordRequestShape(t *testing.T) {
	client, _ := newTestZitadel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/v2/sessions/sess-1" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Checks struct {
				Password struct {
					Password string `json:"password"`
				} `json:"password"`
			} `json:"checks"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Checks.Password.Password != "hunter2" {
			t.Errorf("password not forwarded")
		}
		writeJSON(w, http.StatusOK, map[string]string{"sessionToken": "st-1"})
	}))

	token, err := client.CheckPassword(context.Background(), "tok", "sess-1", "hunter2")
	if err != nil {
		t.Fatalf("CheckPassword: %v", err)
	}
	if token != "st-1" {
		t.Fatalf("unexpected session token: %q", token)
	}
}

func TestCheckPasswordClassification(t *testing.T) {
	cases := []struct {
		name     string
		message  string
		wantKind ErrorKind
	}{
		{"invalid password", "Errors.User.Password.Invalid: invalid password", KindInvalidPassword},
		{"password check failed", "password check failed", KindInvalidPassword},
		{"other", "session locked", KindAuthenticationFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestZitadel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": tc.message})
			}))

			_, err := client.CheckPassword(context.Background(), "tok", "sess-1", "wrong")
			if AsAuthError(err).Kind != tc.wantKind {
				t.Fatalf("expected %v, got %v", tc.wantKind, err)
			}
		})
	}
}

func TestFetchSession(t *testing.T) {
	client, _ := newTestZitadel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v2/sessions/sess-1" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session": map[string]any{
				"factors": map[string]any{
					"user": map[string]string{
						"id":          "user-123",
						"loginName":   "jdoe",
						"displayName": "Jane Doe",
					},
				},
			},
		})
	}))

	user, err := client.FetchSession(context.Background(), "tok", "sess-1")
	if err != nil {
		t.Fatalf("FetchSession: %v", err)
	}
	if user.ID != "user-123" || user.LoginName != "jdoe" || user.DisplayName != "Jane Doe" {
		t.Fatalf("unexpected identity: %+v", user)
	}
}

func TestFetchSessionFailures(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		client, _ := newTestZitadel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		_, err := client.FetchSession(context.Background(), "tok", "sess-1")
		if AsAuthError(err).Kind != KindProfileFetchFailed {
			t.Fatalf("expected ProfileFetchFailed, got %v", err)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		client, _ := newTestZitadel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"unexpected": "shape"})
		}))
		_, err := client.FetchSession(context.Background(), "tok", "sess-1")
		if AsAuthError(err).Kind != KindProfileFetchFailed {
			t.Fatalf("expected ProfileFetchFailed, got %v", err)
		}
	})
}

func TestServiceScope(t *testing.T) {
	cases := []struct {
		name string
		cfg  ProviderConfig
		want string
	}{
		{
			name: "system",
			cfg:  ProviderConfig{AudienceMode: AudienceSystem},
			want: "openid urn:zitadel:iam:org:project:id:zitadel:aud",
		},
		{
			name: "project",
			cfg:  ProviderConfig{AudienceMode: AudienceProject, ProjectID: "p1"},
			want: "openid urn:zitadel:iam:org:project:id:p1:aud",
		},
		{
			name: "app",
			cfg:  ProviderConfig{AudienceMode: AudienceApp, ProjectID: "p1", AppID: "a1"},
			want: "openid urn:zitadel:iam:org:project:id:p1:aud urn:zitadel:iam:org:app:id:a1:aud",
		},
		{
			name: "offline access",
			cfg:  ProviderConfig{AudienceMode: AudienceSystem, OfflineAccess: true},
			want: "openid offline_access urn:zitadel:iam:org:project:id:zitadel:aud",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ServiceScope(tc.cfg); got != tc.want {
				t.Fatalf("ServiceScope = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestProviderMessageParsing(t *testing.T) {
	if msg := providerMessage([]byte(`{"message":"user not found"}`)); msg != "user not found" {
		t.Fatalf("unexpected message: %q", msg)
	}
	if msg := providerMessage([]byte(`not json`)); msg != "" {
		t.Fatalf("expected empty message for non-JSON body, got %q", msg)
	}
}
