package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port            int
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	MetricsEnabled  bool
	LogLevel        slog.Level

	// Credential
	APIKeyEnv          string
	APIKeyParam        string
	CredentialCacheTTL time.Duration

	// OpenAI
	Model            string
	BaseURL          string
	Timeout          time.Duration
	SystemPrompt     string
	MaxMessageLength int
}

// Load seeds the environment from envFile (if present) and builds a Config.
// Variables already set in the process environment take precedence over the
// file. The API key itself is not read here; it is resolved per request.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	var errs []error
	cfg := &Config{
		APIKeyEnv:      getEnvOrDefault("OPENAI_API_KEY_ENV", "OPENAI_API_KEY"),
		APIKeyParam:    strings.TrimSpace(os.Getenv("OPENAI_API_KEY_PARAM")),
		Model:          getEnvOrDefault("OPENAI_MODEL", "gpt-4o"),
		BaseURL:        getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		SystemPrompt:   getEnvOrDefault("SYSTEM_PROMPT", "You are a supportive mental coach."),
		AllowedOrigins: splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*")),
	}

	var err error
	if cfg.Port, err = getEnvAsIntOrDefault("PORT", 8000); err != nil {
		errs = append(errs, err)
	} else if cfg.Port <= 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: PORT out of range: %d", cfg.Port))
	}
	if cfg.MaxMessageLength, err = getEnvAsIntOrDefault("MAX_MESSAGE_LENGTH", 0); err != nil {
		errs = append(errs, err)
	} else if cfg.MaxMessageLength < 0 {
		errs = append(errs, errors.New("config: MAX_MESSAGE_LENGTH must not be negative"))
	}
	if cfg.MetricsEnabled, err = getEnvAsBoolOrDefault("METRICS_ENABLED", true); err != nil {
		errs = append(errs, err)
	}
	if cfg.Timeout, err = getEnvAsDurationOrDefault("OPENAI_TIMEOUT", 60*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.CredentialCacheTTL, err = getEnvAsDurationOrDefault("CREDENTIAL_CACHE_TTL", 5*time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.ShutdownTimeout, err = getEnvAsDurationOrDefault("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.LogLevel, err = parseLogLevel(getEnvOrDefault("LOG_LEVEL", "info")); err != nil {
		errs = append(errs, err)
	}
	if len(cfg.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("config: CORS_ALLOWED_ORIGINS must list at least one origin"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func getEnvOrDefault(key, defaultVal string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) (int, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) (bool, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("config: %s must be a boolean: %w", key, err)
	}
	return b, nil
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a duration: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", key)
	}
	return d, nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: unknown LOG_LEVEL %q", level)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
