// Package config loads the secretariat configuration with go-config, from
// config/app.json and the environment, with explicit overrides for secrets.
package config

import (
	"context"
	"os"
	"strings"
	"time"

	gconfig "github.com/goliatone/go-config/config"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"

	"github.com/betagouv/secretariat"
)

const (
	EnvSigningKey      = "SECRETARIAT_SIGNING_KEY"
	EnvDatabaseDSN     = "SECRETARIAT_DATABASE_DSN"
	EnvRedisAddr       = "SECRETARIAT_REDIS_ADDR"
	EnvSlackWebhookURL = "SECRETARIAT_SLACK_WEBHOOK_URL"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config is the top-level configuration
type Config struct {
	App       AppConfig       `koanf:"app" json:"app"`
	Auth      AuthConfig      `koanf:"auth" json:"auth"`
	Storage   StorageConfig   `koanf:"storage" json:"storage"`
	Directory DirectoryConfig `koanf:"directory" json:"directory"`
	Notify    NotifyConfig    `koanf:"notify" json:"notify"`
	Log       LogConfig       `koanf:"log" json:"log"`
}

type AppConfig struct {
	Addr       string `koanf:"addr" json:"addr"`
	BaseURL    string `koanf:"base_url" json:"base_url"`
	MailDomain string `koanf:"mail_domain" json:"mail_domain"`
}

type AuthConfig struct {
	SigningKey              string   `koanf:"signing_key" json:"signing_key"`
	CookieName              string   `koanf:"cookie_name" json:"cookie_name"`
	SessionTTLExpression    string   `koanf:"session_ttl" json:"session_ttl"`
	LoginTokenTTLExpression string   `koanf:"login_token_ttl" json:"login_token_ttl"`
	Issuer                  string   `koanf:"issuer" json:"issuer"`
	Audience                []string `koanf:"audience" json:"audience"`
	SecureCookie            bool     `koanf:"secure_cookie" json:"secure_cookie"`
}

type StorageConfig struct {
	// Driver is one of sqlite, postgres or redis
	Driver                  string `koanf:"driver" json:"driver"`
	DSN                     string `koanf:"dsn" json:"dsn"`
	RedisAddr               string `koanf:"redis_addr" json:"redis_addr"`
	RedisPrefix             string `koanf:"redis_prefix" json:"redis_prefix"`
	PurgeIntervalExpression string `koanf:"purge_interval" json:"purge_interval"`
}

type DirectoryConfig struct {
	// Fixture is a YAML file listing the members
	Fixture string `koanf:"fixture" json:"fixture"`
}

type NotifyConfig struct {
	SlackWebhookURL  string `koanf:"slack_webhook_url" json:"slack_webhook_url"`
	GithubRepository string `koanf:"github_repository" json:"github_repository"`
}

type LogConfig struct {
	Level  string `koanf:"level" json:"level"`
	Format string `koanf:"format" json:"format"`
}

var _ secretariat.Config = (*Config)(nil)

// Default returns a configuration usable for local development
func Default() *Config {
	return &Config{
		App: AppConfig{
			Addr:       ":8100",
			BaseURL:    "http://localhost:8100",
			MailDomain: "beta.gouv.fr",
		},
		Auth: AuthConfig{
			CookieName:              "token",
			SessionTTLExpression:    secretariat.DefaultSessionDuration.String(),
			LoginTokenTTLExpression: secretariat.DefaultLoginTokenTTL.String(),
			Issuer:                  "secretariat",
		},
		Storage: StorageConfig{
			Driver:                  DriverSQLite,
			DSN:                     "file:secretariat.db?cache=shared",
			RedisPrefix:             "login_tokens",
			PurgeIntervalExpression: "15m",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "pretty",
		},
	}
}

// Load reads config/app.json and the environment over the defaults, then
// applies the SECRETARIAT_* secret overrides
func Load(ctx context.Context, logger glog.Logger) (*Config, error) {
	container := gconfig.New(Default()).
		WithLogger(logger)

	if err := container.Load(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to load configuration")
	}

	cfg := container.Raw()
	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.CheckRequired(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides secrets from the environment
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvSigningKey); ok && v != "" {
		c.Auth.SigningKey = v
	}
	if v, ok := lookup(EnvDatabaseDSN); ok && v != "" {
		c.Storage.DSN = v
	}
	if v, ok := lookup(EnvRedisAddr); ok && v != "" {
		c.Storage.RedisAddr = v
	}
	if v, ok := lookup(EnvSlackWebhookURL); ok && v != "" {
		c.Notify.SlackWebhookURL = v
	}
}

// Validate checks the shape of the loaded values. Secrets may still arrive
// from the environment afterwards, CheckRequired covers them.
func (c *Config) Validate() error {
	return problemsError(c.shapeProblems())
}

// CheckRequired checks the settings the server cannot start without
func (c *Config) CheckRequired() error {
	problems := c.shapeProblems()

	if strings.TrimSpace(c.Auth.SigningKey) == "" {
		problems = append(problems, "auth.signing_key is required")
	}
	if c.App.MailDomain == "" {
		problems = append(problems, "app.mail_domain is required")
	}

	switch c.Storage.Driver {
	case DriverSQLite, DriverPostgres:
		if c.Storage.DSN == "" {
			problems = append(problems, "storage.dsn is required for "+c.Storage.Driver)
		}
	case DriverRedis:
		if c.Storage.RedisAddr == "" {
			problems = append(problems, "storage.redis_addr is required for redis")
		}
	}

	return problemsError(problems)
}

func (c *Config) shapeProblems() []string {
	var problems []string

	switch c.Storage.Driver {
	case DriverSQLite, DriverPostgres, DriverRedis:
	default:
		problems = append(problems, "storage.driver must be one of sqlite, postgres, redis")
	}

	checks := []struct{ name, expr string }{
		{"auth.session_ttl", c.Auth.SessionTTLExpression},
		{"auth.login_token_ttl", c.Auth.LoginTokenTTLExpression},
		{"storage.purge_interval", c.Storage.PurgeIntervalExpression},
	}
	for _, check := range checks {
		if check.expr == "" {
			continue
		}
		if _, err := time.ParseDuration(check.expr); err != nil {
			problems = append(problems, check.name+" must be a duration such as 30m")
		}
	}

	return problems
}

func problemsError(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration: "+strings.Join(problems, "; "), errors.CategoryValidation).
		WithMetadata(map[string]any{"errors": problems})
}

func parseDuration(expr string, def time.Duration) time.Duration {
	dur, err := time.ParseDuration(expr)
	if err != nil || dur <= 0 {
		return def
	}
	return dur
}

func (c *Config) GetSigningKey() string {
	return c.Auth.SigningKey
}

// GetContextKey is the session cookie name, also used as the locals key
func (c *Config) GetContextKey() string {
	if c.Auth.CookieName == "" {
		return "token"
	}
	return c.Auth.CookieName
}

func (c *Config) GetSessionDuration() time.Duration {
	return parseDuration(c.Auth.SessionTTLExpression, secretariat.DefaultSessionDuration)
}

func (c *Config) GetLoginTokenTTL() time.Duration {
	return parseDuration(c.Auth.LoginTokenTTLExpression, secretariat.DefaultLoginTokenTTL)
}

// GetPurgeInterval is zero when expired login tokens are never purged
func (c *Config) GetPurgeInterval() time.Duration {
	return parseDuration(c.Storage.PurgeIntervalExpression, 0)
}

func (c *Config) GetIssuer() string {
	return c.Auth.Issuer
}

func (c *Config) GetAudience() []string {
	return c.Auth.Audience
}

func (c *Config) GetSecureCookie() bool {
	return c.Auth.SecureCookie
}

func (c *Config) GetMailDomain() string {
	return c.App.MailDomain
}

func (c *Config) GetBaseURL() string {
	return strings.TrimSuffix(c.App.BaseURL, "/")
}
