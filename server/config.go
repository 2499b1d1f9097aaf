package server

import (
	"bytes"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v3"
)

// Hardcoded token defaults
const (
	DefaultSessionTTL   = time.Hour
	DefaultAssertionTTL = 5 * time.Minute
	DefaultCallTimeout  = 5 * time.Second
)

// Audience modes for the service token scope.
const (
	AudienceSystem  = "system"
	AudienceProject = "project"
	AudienceApp     = "app"
)

// Config captures the full application configuration loaded from YAML and environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Session  SessionConfig  `yaml:"session"`
	OIDC     OIDCConfig     `yaml:"oidc"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	PublicURL       string    `yaml:"public_url"`
	DevListenAddr   string    `yaml:"dev_listen_addr"`
	HTTPListenAddr  string    `yaml:"http_listen_addr"`
	HTTPSListenAddr string    `yaml:"https_listen_addr"`
	DevMode         bool      `yaml:"dev_mode"`
	CookieDomain    string    `yaml:"cookie_domain"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour.
type TLSConfig struct {
	Domains   []string `yaml:"domains"`
	Email     string   `yaml:"email"`
	CachePath string   `yaml:"cache_path"`
}

// ProviderConfig describes the upstream identity provider and the service
// account used to reach its session API.
type ProviderConfig struct {
	Issuer        string        `yaml:"issuer"`
	KeyJSON       string        `yaml:"key_json"`
	KeyPath       string        `yaml:"key_path"`
	AudienceMode  string        `yaml:"audience_mode"`
	ProjectID     string        `yaml:"project_id"`
	AppID         string        `yaml:"app_id"`
	OfflineAccess bool          `yaml:"offline_access"`
	CallTimeout   time.Duration `yaml:"call_timeout"`

	key *ServiceKey
}

// SessionConfig controls the locally minted application session token.
type SessionConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	Audience string        `yaml:"audience"`
	TTL      time.Duration `yaml:"ttl"`
}

// OIDCConfig enables the optional hosted-login flow against the provider.
type OIDCConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// ServiceKey is the provider-issued service account key material.
// Loaded once at startup; never persisted or logged by this process.
type ServiceKey struct {
	Type   string `json:"type"`
	KeyID  string `json:"keyId"`
	Key    string `json:"key"`
	UserID string `json:"userId"`

	privateKey *rsa.PrivateKey
}

// PrivateKey returns the parsed RSA signing key.
func (k *ServiceKey) PrivateKey() *rsa.PrivateKey { return k.privateKey }

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		// Use strict unmarshaling to detect unknown fields
		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8080",
			DevListenAddr:   "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			TLS: TLSConfig{
				CachePath: ".secrets/tls",
			},
		},
		Provider: ProviderConfig{
			AudienceMode: AudienceSystem,
			CallTimeout:  DefaultCallTimeout,
		},
		Session: SessionConfig{
			Issuer:   "logind",
			Audience: "logind-users",
			TTL:      DefaultSessionTTL,
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"LOGIND_SERVER_PUBLIC_URL":      func(v string) { cfg.Server.PublicURL = v },
		"LOGIND_SERVER_DEV_LISTEN_ADDR": func(v string) { cfg.Server.DevListenAddr = v },
		"LOGIND_SERVER_DEV_MODE":        func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"LOGIND_SERVER_COOKIE_DOMAIN":   func(v string) { cfg.Server.CookieDomain = v },
		"LOGIND_SERVER_TLS_DOMAINS":     func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"LOGIND_PROVIDER_ISSUER":        func(v string) { cfg.Provider.Issuer = v },
		"LOGIND_PROVIDER_KEY_JSON":      func(v string) { cfg.Provider.KeyJSON = v },
		"LOGIND_PROVIDER_KEY_PATH":      func(v string) { cfg.Provider.KeyPath = v },
		"LOGIND_PROVIDER_AUDIENCE_MODE": func(v string) { cfg.Provider.AudienceMode = v },
		"LOGIND_PROVIDER_PROJECT_ID":    func(v string) { cfg.Provider.ProjectID = v },
		"LOGIND_PROVIDER_APP_ID":        func(v string) { cfg.Provider.AppID = v },
		"LOGIND_PROVIDER_OFFLINE":       func(v string) { cfg.Provider.OfflineAccess = parseBool(v, cfg.Provider.OfflineAccess) },
		"LOGIND_SESSION_SECRET":         func(v string) { cfg.Session.Secret = v },
		"LOGIND_OIDC_CLIENT_ID":         func(v string) { cfg.OIDC.ClientID = v },
		"LOGIND_OIDC_CLIENT_SECRET":     func(v string) { cfg.OIDC.ClientSecret = v },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate performs the startup contract checks. Credential and
// audience-mode problems are configuration errors and must surface here,
// not on the first login attempt.
func (c *Config) Validate() error {
	if c.Server.PublicURL == "" {
		return errors.New("server.public_url is required")
	}
	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}
	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		return errors.New("server.tls.domains must be provided in production")
	}

	if c.Provider.Issuer == "" {
		return errors.New("provider.issuer is required")
	}
	c.Provider.Issuer = strings.TrimSuffix(c.Provider.Issuer, "/")

	if c.Provider.CallTimeout <= 0 {
		c.Provider.CallTimeout = DefaultCallTimeout
	}

	switch c.Provider.AudienceMode {
	case AudienceSystem:
	case AudienceProject:
		if c.Provider.ProjectID == "" {
			return errors.New("provider.project_id is required when audience_mode is project")
		}
	case AudienceApp:
		if c.Provider.ProjectID == "" || c.Provider.AppID == "" {
			return errors.New("provider.project_id and provider.app_id are required when audience_mode is app")
		}
	default:
		return fmt.Errorf("provider.audience_mode must be one of system, project, app, got: %s", c.Provider.AudienceMode)
	}

	if c.Session.Secret == "" {
		return errors.New("session.secret is required")
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = DefaultSessionTTL
	}
	if c.Session.Issuer == "" || c.Session.Audience == "" {
		return errors.New("session.issuer and session.audience are required")
	}

	key, err := loadServiceKey(c.Provider)
	if err != nil {
		return err
	}
	c.Provider.key = key

	return nil
}

// ServiceKey returns the parsed service account credential. Validate must
// have succeeded first.
func (c *Config) ServiceKey() *ServiceKey { return c.Provider.key }

func loadServiceKey(p ProviderConfig) (*ServiceKey, error) {
	raw := p.KeyJSON
	if raw == "" && p.KeyPath != "" {
		b, err := os.ReadFile(p.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read provider key: %w", err)
		}
		raw = string(b)
	}
	if raw == "" {
		return nil, errors.New("provider.key_json or provider.key_path is required")
	}

	var key ServiceKey
	if err := json.Unmarshal([]byte(raw), &key); err != nil {
		return nil, fmt.Errorf("parse provider key: %w", err)
	}
	if key.KeyID == "" || key.Key == "" || key.UserID == "" {
		return nil, errors.New("provider key must contain keyId, key, and userId")
	}

	priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(key.Key))
	if err != nil {
		return nil, fmt.Errorf("parse provider signing key: %w", err)
	}
	key.privateKey = priv

	return &key, nil
}
