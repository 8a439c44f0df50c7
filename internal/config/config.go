// Package config loads gateway configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config holds all environment-provided settings.
type Config struct {
	HTTPPort int

	// Upstream accounting-document service.
	UpstreamBaseURL string

	// OAuth client settings for the upstream authorization server.
	AuthBaseURL  string
	ClientID     string
	ClientSecret string
	Audience     string
	// RedirectBaseURL is the externally visible base used to build the
	// OAuth redirect URI. Empty means derive it from the request host.
	RedirectBaseURL string

	// RetainStateOnFailure keeps the anti-forgery state entry alive when
	// the code exchange fails, allowing the callback to be retried.
	// Upstream behavior here is ambiguous, so it is a switch rather than
	// a hardcoded choice.
	RetainStateOnFailure bool

	// Shared cache. Empty RedisAddr selects the in-memory store, which
	// is only sound for a single instance.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Upload log database.
	DBPath string

	// Rate limiting, fixed window per client IP.
	RateLimit         int
	RateWindowSeconds int
}

// Load reads configuration from FISCALGATE_* environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:        getEnvInt("FISCALGATE_HTTP_PORT", 8080),
		UpstreamBaseURL: strings.TrimRight(os.Getenv("FISCALGATE_UPSTREAM_URL"), "/"),
		AuthBaseURL:     strings.TrimRight(os.Getenv("FISCALGATE_AUTH_URL"), "/"),
		ClientID:        os.Getenv("FISCALGATE_CLIENT_ID"),
		ClientSecret:    os.Getenv("FISCALGATE_CLIENT_SECRET"),
		Audience:        os.Getenv("FISCALGATE_AUDIENCE"),
		RedirectBaseURL: strings.TrimRight(os.Getenv("FISCALGATE_REDIRECT_BASE_URL"), "/"),

		RetainStateOnFailure: getEnvBool("FISCALGATE_RETAIN_OAUTH_STATE", true),

		RedisAddr:     os.Getenv("FISCALGATE_REDIS_ADDR"),
		RedisPassword: os.Getenv("FISCALGATE_REDIS_PASSWORD"),
		RedisDB:       getEnvInt("FISCALGATE_REDIS_DB", 0),

		DBPath: getEnv("FISCALGATE_DB", "fiscalgate.db"),

		RateLimit:         getEnvInt("FISCALGATE_RATE_LIMIT", 100),
		RateWindowSeconds: getEnvInt("FISCALGATE_RATE_WINDOW_SECONDS", 3600),
	}

	if cfg.UpstreamBaseURL == "" {
		return nil, errors.New("FISCALGATE_UPSTREAM_URL is required")
	}
	if _, err := url.Parse(cfg.UpstreamBaseURL); err != nil {
		return nil, fmt.Errorf("invalid FISCALGATE_UPSTREAM_URL: %w", err)
	}
	if cfg.AuthBaseURL == "" {
		return nil, errors.New("FISCALGATE_AUTH_URL is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("FISCALGATE_CLIENT_ID is required")
	}
	if cfg.RateLimit <= 0 || cfg.RateWindowSeconds <= 0 {
		return nil, errors.New("rate limit and window must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
