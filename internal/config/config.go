// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the matching engine.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (run locks, health). Optional: when empty, in-process locks
	// are used and the redis health check is skipped.
	RedisAddr string `koanf:"redis_addr"`

	// JWT Authentication (admin endpoints)
	JWTSecret string `koanf:"jwt_secret"`

	// External policy generator. Optional: when the URL is empty, the
	// policy optimizer endpoint is disabled.
	GeneratorURL    string `koanf:"generator_url"`
	GeneratorAPIKey string `koanf:"generator_api_key"`

	// Governance knobs
	OptimizerMinSwipes int `koanf:"optimizer_min_swipes"`

	// Reciprocal job
	ReciprocalJobEnabled bool `koanf:"reciprocal_job_enabled"`

	// CORS. When empty, cross-origin requests are not served.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// Rate limiting
	RateLimitEnabled   bool `koanf:"rate_limit_enabled"`
	RateLimitPerMinute int  `koanf:"rate_limit_per_minute"`

	// Profiling exposes /debug/pprof; development only.
	ProfilingEnabled bool `koanf:"profiling_enabled"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL     = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret       = errors.New("JWT_SECRET is required")
	ErrMissingGeneratorAPIKey = errors.New("GENERATOR_API_KEY is required when GENERATOR_URL is set")
	ErrInvalidPort            = errors.New("PORT must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort                 = 8080
	DefaultEnv                  = "development"
	DefaultOptimizerMinSwipes   = 100
	DefaultReciprocalJobEnabled = true
	DefaultRateLimitEnabled     = true
	DefaultRateLimitPerMinute   = 100
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Parse port from env, collecting error if invalid.
	// Try TRUEQUE_PORT first, then PORT.
	port, portErr := getEnvIntOrDefaultMulti([]string{"TRUEQUE_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	minSwipes, minSwipesErr := getEnvIntOrDefault("OPTIMIZER_MIN_SWIPES", k.Int("optimizer_min_swipes"), DefaultOptimizerMinSwipes)
	if minSwipesErr != nil {
		loadErrs = append(loadErrs, minSwipesErr)
	}

	reciprocalEnabled := getEnvBool("RECIPROCAL_JOB_ENABLED", k, "reciprocal_job_enabled", DefaultReciprocalJobEnabled)
	rateLimitEnabled := getEnvBool("RATE_LIMIT_ENABLED", k, "rate_limit_enabled", DefaultRateLimitEnabled)
	profilingEnabled := getEnvBool("PROFILING_ENABLED", k, "profiling_enabled", false)

	rateLimitPerMinute, rateLimitErr := getEnvIntOrDefault("RATE_LIMIT_PER_MINUTE", k.Int("rate_limit_per_minute"), DefaultRateLimitPerMinute)
	if rateLimitErr != nil {
		loadErrs = append(loadErrs, rateLimitErr)
	}

	corsOrigins := k.Strings("cors_allowed_origins")
	if val := os.Getenv("CORS_ALLOWED_ORIGINS"); val != "" {
		corsOrigins = corsOrigins[:0]
		for _, origin := range strings.Split(val, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				corsOrigins = append(corsOrigins, origin)
			}
		}
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                 port,
		Env:                  getEnvOrDefaultMulti([]string{"TRUEQUE_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:          getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:            getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		JWTSecret:            getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		GeneratorURL:         getEnvOrKoanf("GENERATOR_URL", k, "generator_url"),
		GeneratorAPIKey:      getEnvOrKoanf("GENERATOR_API_KEY", k, "generator_api_key"),
		OptimizerMinSwipes:   minSwipes,
		ReciprocalJobEnabled: reciprocalEnabled,
		CORSAllowedOrigins:   corsOrigins,
		RateLimitEnabled:     rateLimitEnabled,
		RateLimitPerMinute:   rateLimitPerMinute,
		ProfilingEnabled:     profilingEnabled,
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvBool returns the environment variable as a bool if set, otherwise the
// koanf value, or default. Env vars take precedence over file config.
func getEnvBool(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	result := defaultVal
	if k.Exists(koanfKey) {
		result = k.Bool(koanfKey)
	}
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			result = true
		case "false", "0", "no", "off":
			result = false
		}
	}
	return result
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}

	// The generator is optional, but a configured endpoint needs its key.
	if c.GeneratorURL != "" && c.GeneratorAPIKey == "" {
		errs = append(errs, ErrMissingGeneratorAPIKey)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                   fmt.Sprintf("%d", c.Port),
		"env":                    c.Env,
		"database_url":           maskDatabaseURL(c.DatabaseURL),
		"redis_addr":             c.RedisAddr,
		"jwt_secret":             maskSecret(c.JWTSecret),
		"generator_url":          c.GeneratorURL,
		"generator_api_key":      maskSecret(c.GeneratorAPIKey),
		"optimizer_min_swipes":   fmt.Sprintf("%d", c.OptimizerMinSwipes),
		"reciprocal_job_enabled": fmt.Sprintf("%t", c.ReciprocalJobEnabled),
		"cors_allowed_origins":   strings.Join(c.CORSAllowedOrigins, ","),
		"rate_limit_enabled":     fmt.Sprintf("%t", c.RateLimitEnabled),
		"rate_limit_per_minute":  fmt.Sprintf("%d", c.RateLimitPerMinute),
		"profiling_enabled":      fmt.Sprintf("%t", c.ProfilingEnabled),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	// Simple approach: find :// and then mask between : and @
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	// Reconstruct URL with masked password
	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
