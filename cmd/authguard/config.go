package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrEthical07/authguard"
	"github.com/MrEthical07/authguard/oauth"
	"github.com/MrEthical07/authguard/store/sqlstore"
)

// serverConfig is everything the binary reads from the environment.
type serverConfig struct {
	Addr       string
	RedisURL   string
	Dialect    sqlstore.Dialect
	DSN        string
	AMQPURL    string
	AMQPQueue  string
	AdminToken string
	PublicURL  string

	GoogleClientID     string
	GoogleClientSecret string
	GitHubClientID     string
	GitHubClientSecret string

	Engine authguard.Config
}

// loadEnv reads .env when present. Variables already set in the process
// environment win.
func loadEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load env: %w", err)
}

func loadConfig() (serverConfig, error) {
	cfg := serverConfig{
		Addr:       envOr("AUTHGUARD_ADDR", ":8080"),
		RedisURL:   envOr("REDIS_URL", "redis://localhost:6379/0"),
		DSN:        envOr("DATABASE_URL", "file:authguard.db"),
		AMQPURL:    os.Getenv("AMQP_URL"),
		AMQPQueue:  os.Getenv("AMQP_QUEUE"),
		AdminToken: os.Getenv("AUTHGUARD_ADMIN_TOKEN"),
		PublicURL:  strings.TrimRight(envOr("AUTHGUARD_PUBLIC_URL", "http://localhost:8080"), "/"),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GitHubClientID:     os.Getenv("GITHUB_CLIENT_ID"),
		GitHubClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),

		Engine: authguard.DefaultConfig(),
	}

	dialect, err := sqlstore.ParseDialect(envOr("DATABASE_DIALECT", "sqlite"))
	if err != nil {
		return cfg, err
	}
	cfg.Dialect = dialect

	secret := os.Getenv("AUTHGUARD_MASTER_SECRET")
	if secret == "" {
		return cfg, errors.New("AUTHGUARD_MASTER_SECRET is required")
	}
	cfg.Engine.Keys.MasterSecret = []byte(secret)

	e := &cfg.Engine
	if e.Session.Lifetime, err = envDuration("AUTHGUARD_SESSION_LIFETIME", e.Session.Lifetime); err != nil {
		return cfg, err
	}
	if e.Session.RememberMeLifetime, err = envDuration("AUTHGUARD_REMEMBER_ME_LIFETIME", e.Session.RememberMeLifetime); err != nil {
		return cfg, err
	}
	if e.Session.MaxConcurrent, err = envInt("AUTHGUARD_MAX_SESSIONS", e.Session.MaxConcurrent); err != nil {
		return cfg, err
	}
	if e.Credential.RequireVerifiedEmail, err = envBool("AUTHGUARD_REQUIRE_VERIFIED_EMAIL", e.Credential.RequireVerifiedEmail); err != nil {
		return cfg, err
	}
	if e.Maintenance.Interval, err = envDuration("AUTHGUARD_MAINTENANCE_INTERVAL", e.Maintenance.Interval); err != nil {
		return cfg, err
	}
	if e.Metrics.Enabled, err = envBool("AUTHGUARD_METRICS", true); err != nil {
		return cfg, err
	}
	if e.Metrics.EnableLatencyHistograms, err = envBool("AUTHGUARD_LATENCY_HISTOGRAM", e.Metrics.EnableLatencyHistograms); err != nil {
		return cfg, err
	}

	return cfg, cfg.Engine.Validate()
}

// providers returns the OAuth providers that have client credentials.
func (c serverConfig) providers() []oauth.Provider {
	var out []oauth.Provider
	if c.GoogleClientID != "" {
		out = append(out, oauth.Google(c.GoogleClientID, c.GoogleClientSecret, c.PublicURL+"/v1/oauth/google/callback"))
	}
	if c.GitHubClientID != "" {
		out = append(out, oauth.GitHub(c.GitHubClientID, c.GitHubClientSecret, c.PublicURL+"/v1/oauth/github/callback"))
	}
	return out
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for %s: %q", key, v)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid bool for %s: %q", key, v)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %q", key, v)
	}
	return d, nil
}
