package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// Config holds every tunable for the auth core. Values come from the
// environment; defaults match a local development setup against a single
// OAuth provider.
type Config struct {
	Env     string `env:"ENV" envDefault:"DEV"`
	AppName string `env:"APP_NAME" envDefault:"Storefront Auth"`
	Port    string `env:"PORT" envDefault:"8080"`
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	Provider ProviderConfig `envPrefix:"OAUTH_"`
	Session  SessionConfig  `envPrefix:"SESSION_"`
	Retry    RetryConfig    `envPrefix:"RETRY_"`
	Queue    QueueConfig    `envPrefix:"QUEUE_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
}

// ProviderConfig identifies the upstream OAuth/OIDC provider this service
// is a relying party of.
type ProviderConfig struct {
	IssuerURL    string        `env:"ISSUER_URL" envDefault:"http://localhost:9090"`
	ClientID     string        `env:"CLIENT_ID" envDefault:"storefront-web"`
	ClientSecret string        `env:"CLIENT_SECRET"`
	RedirectPath string        `env:"REDIRECT_PATH" envDefault:"/auth/callback"`
	StateTTL     time.Duration `env:"STATE_TTL" envDefault:"10m"`
}

type SessionConfig struct {
	TTL                   time.Duration `env:"TTL" envDefault:"24h"`
	InactivityTimeout     time.Duration `env:"INACTIVITY_TIMEOUT" envDefault:"30m"`
	MaxConcurrentSessions int           `env:"MAX_CONCURRENT" envDefault:"5"`
	MaxRiskScore          int           `env:"MAX_RISK_SCORE" envDefault:"100"`
	CookieName            string        `env:"COOKIE_NAME" envDefault:"sf_session"`
	CookieMaxAge          time.Duration `env:"COOKIE_MAX_AGE" envDefault:"1h"`
	SigningSecret         string        `env:"SIGNING_SECRET" envDefault:"dev-only-signing-secret"`
}

type RetryConfig struct {
	// AttemptTTL bounds how long per-operation retry bookkeeping is kept
	// for operations that never complete.
	AttemptTTL time.Duration `env:"ATTEMPT_TTL" envDefault:"15m"`
}

type QueueConfig struct {
	// MaxReplayAttempts is how many failed replays an offline action
	// survives before it is dropped.
	MaxReplayAttempts int           `env:"MAX_REPLAY_ATTEMPTS" envDefault:"3"`
	ProbeInterval     time.Duration `env:"PROBE_INTERVAL" envDefault:"30s"`
	StorageKey        string        `env:"STORAGE_KEY" envDefault:"offline_auth_actions"`
}

type RedisConfig struct {
	// Addr empty selects the in-memory stores.
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "[config.Load] env.Parse")
	}
	return cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	if len(c.Port) > 0 && c.Port[0] == ':' {
		return c.Port
	}
	return ":" + c.Port
}

// IsDev reports whether the service runs in a development environment.
// Controls the Secure flag on session cookies and route logging.
func (c *Config) IsDev() bool {
	return c.Env == "DEV"
}
