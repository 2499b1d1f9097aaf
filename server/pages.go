package server

import (
	"html/template"
	"net/http"
	"net/url"
	"strings"
)

var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
  <h1>Sign in</h1>
  <form id="login">
    <label>Login name <input name="loginName" autocomplete="username"></label>
    <label>Password <input name="password" type="password" autocomplete="current-password"></label>
    <button type="submit">Sign in</button>
  </form>
  <p id="error" hidden></p>
  {{if .HostedEnabled}}<p><a href="/auth/oidc/start?callbackUrl={{.CallbackURL}}">Sign in with hosted login</a></p>{{end}}
  <p><a href="/auth/signup">Create an account</a></p>
  <script>
    document.getElementById("login").addEventListener("submit", async (ev) => {
      ev.preventDefault();
      const form = new FormData(ev.target);
      const resp = await fetch("/api/login", {
        method: "POST",
        headers: {"Content-Type": "application/json"},
        body: JSON.stringify({loginName: form.get("loginName"), password: form.get("password")}),
      });
      if (resp.ok) {
        window.location = {{.CallbackURL}};
        return;
      }
      const body = await resp.json().catch(() => ({}));
      const err = document.getElementById("error");
      err.textContent = body.error || "Login failed";
      err.hidden = false;
    });
  </script>
</body>
</html>
`))

var signupPage = template.Must(template.New("signup").Parse(`<!DOCTYPE html>
<html>
<head><title>Create your account</title></head>
<body>
  <h1>Create your account</h1>
  <p>Account creation is handled by the identity provider.</p>
  {{if .SignupURL}}<p><a href="{{.SignupURL}}">Continue to secure signup</a></p>{{end}}
  {{if .RecoverURL}}<p>Forgot your password? <a href="{{.RecoverURL}}">Reset it</a></p>{{end}}
  <p>Need to sign in instead? <a href="/auth/login">Go to login</a></p>
</body>
</html>
`))

var profilePage = template.Must(template.New("profile").Parse(`<!DOCTYPE html>
<html>
<head><title>Profile</title></head>
<body>
  <h1>{{.DisplayName}}</h1>
  <dl>
    <dt>User id</dt><dd>{{.UserID}}</dd>
    <dt>Login name</dt><dd>{{.Username}}</dd>
    <dt>Auth method</dt><dd>{{.AuthMethod}}</dd>
  </dl>
  <form method="post" action="/api/logout"><button>Sign out</button></form>
</body>
</html>
`))

func (a *App) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	callback := sanitizeCallback(r.URL.Query().Get("callbackUrl"))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = loginPage.Execute(w, map[string]any{
		"CallbackURL":   callback,
		"HostedEnabled": a.Hosted != nil,
	})
}

// handleSignupPage links out to the provider's hosted signup and recover
// screens; account creation never touches this service.
func (a *App) handleSignupPage(w http.ResponseWriter, r *http.Request) {
	var signupURL, recoverURL string
	if a.Config.OIDC.ClientID != "" {
		base := strings.TrimSuffix(a.Config.Provider.Issuer, "/")
		q := url.Values{"client_id": {a.Config.OIDC.ClientID}}.Encode()
		signupURL = base + "/ui/login/signup?" + q
		recoverURL = base + "/ui/login/recover?" + q
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = signupPage.Execute(w, map[string]string{
		"SignupURL":  signupURL,
		"RecoverURL": recoverURL,
	})
}

func (a *App) handleProfilePage(w http.ResponseWriter, r *http.Request) {
	claims := SessionFromContext(r.Context())
	if claims == nil {
		http.Redirect(w, r, "/auth/login", http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = profilePage.Execute(w, claims)
}

func (a *App) handleIndexPage(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/profile", http.StatusFound)
}

// sanitizeCallback keeps redirects local. Absolute URLs and
// protocol-relative paths are dropped so login cannot be used as an open
// redirector.
func sanitizeCallback(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return "/"
	}
	return raw
}
