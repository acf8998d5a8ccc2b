package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kapu/dealsync-go/internal/constants"
	"github.com/kapu/dealsync-go/pkg/errors"
)

// DatePolicy controls what happens to a record whose date text cannot be parsed.
type DatePolicy string

const (
	// DatePolicyFallback stamps the round with the current time and logs a warning.
	DatePolicyFallback DatePolicy = "fallback"
	// DatePolicySkip fails the record without writing anything.
	DatePolicySkip DatePolicy = "skip"
)

type Config struct {
	Postgres PostgresConfig
	Redis    RedisConfig
	Source   SourceConfig
	Session  SessionConfig
	Browser  BrowserConfig
	Sync     SyncConfig
	Gemini   GeminiConfig
	OpenAI   OpenAIConfig
	Logging  LoggingConfig
}

type PostgresConfig struct {
	URL string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
}

type SourceConfig struct {
	ListingBaseURL  string
	InvestorBaseURL string
}

type SessionConfig struct {
	Cookies      string
	CookieDomain string
	CookieFile   string
	UserAgent    string
	Headers      map[string]string
}

type BrowserConfig struct {
	Headless          bool
	ExecPath          string
	Concurrency       int
	NavigationTimeout time.Duration
}

type SyncConfig struct {
	Interval           time.Duration
	MaxPages           int
	StopAfterPages     int
	FirstRunPageBudget int
	TxTimeout          time.Duration
	RetryAttempts      int
	RetryBaseDelay     time.Duration
	DatePolicy         DatePolicy
	RewriteEnabled     bool
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type OpenAIConfig struct {
	APIKey         string
	Model          string
	EnableFallback bool
}

type LoggingConfig struct {
	Level string
	File  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Postgres: PostgresConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Enabled:  getEnvBool("REDIS_ENABLED", false),
		},
		Source: SourceConfig{
			ListingBaseURL:  strings.TrimRight(getEnv("LISTING_BASE_URL", ""), "/"),
			InvestorBaseURL: strings.TrimRight(getEnv("INVESTOR_BASE_URL", ""), "/"),
		},
		Session: SessionConfig{
			Cookies:      getEnv("SESSION_COOKIES", ""),
			CookieDomain: getEnv("SESSION_COOKIE_DOMAIN", ""),
			CookieFile:   getEnv("SESSION_COOKIE_FILE", ""),
			UserAgent:    getEnv("USER_AGENT", constants.APIConfig.UserAgent),
			Headers:      parseHeaders(getEnv("SESSION_HEADERS", "")),
		},
		Browser: BrowserConfig{
			Headless:          getEnvBool("BROWSER_HEADLESS", true),
			ExecPath:          getEnv("BROWSER_EXEC_PATH", ""),
			Concurrency:       getEnvInt("FETCH_CONCURRENCY", constants.BrowserConfig.Concurrency),
			NavigationTimeout: getEnvDuration("NAVIGATION_TIMEOUT", constants.BrowserConfig.NavigationTimeout),
		},
		Sync: SyncConfig{
			Interval:           getEnvDuration("SYNC_INTERVAL", constants.SyncConfig.Interval),
			MaxPages:           getEnvInt("MAX_PAGES", constants.SyncConfig.MaxPages),
			StopAfterPages:     getEnvInt("STOP_AFTER_PAGES", 0),
			FirstRunPageBudget: getEnvInt("FIRST_RUN_PAGE_BUDGET", constants.SyncConfig.FirstRunPageBudget),
			TxTimeout:          getEnvDuration("TX_TIMEOUT", constants.SyncConfig.TxTimeout),
			RetryAttempts:      getEnvInt("RETRY_ATTEMPTS", constants.RetryConfig.MaxAttempts),
			RetryBaseDelay:     getEnvDuration("RETRY_BASE_DELAY", constants.RetryConfig.BaseDelay),
			DatePolicy:         DatePolicy(strings.ToLower(getEnv("UNPARSEABLE_DATE_POLICY", string(DatePolicyFallback)))),
			RewriteEnabled:     getEnvBool("REWRITE_DESCRIPTIONS", false),
		},
		Gemini: GeminiConfig{
			APIKey: getEnv("GEMINI_API_KEY", ""),
			Model:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		},
		OpenAI: OpenAIConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			Model:          getEnv("OPENAI_MODEL", "gpt-4.1-mini"),
			EnableFallback: getEnvBool("OPENAI_ENABLE_FALLBACK", true),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", "logs/dealsync.log"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Postgres.URL == "" {
		return errors.NewConfigError("DATABASE_URL", "DATABASE_URL is required")
	}
	if c.Source.ListingBaseURL == "" {
		return errors.NewConfigError("LISTING_BASE_URL", "LISTING_BASE_URL is required")
	}
	if c.Sync.MaxPages <= 0 {
		return errors.NewConfigError("MAX_PAGES", "MAX_PAGES must be positive")
	}
	if c.Sync.StopAfterPages < 0 {
		return errors.NewConfigError("STOP_AFTER_PAGES", "STOP_AFTER_PAGES must not be negative")
	}
	if c.Sync.Interval <= 0 {
		return errors.NewConfigError("SYNC_INTERVAL", "SYNC_INTERVAL must be positive")
	}
	if c.Browser.Concurrency <= 0 {
		return errors.NewConfigError("FETCH_CONCURRENCY", "FETCH_CONCURRENCY must be positive")
	}
	switch c.Sync.DatePolicy {
	case DatePolicyFallback, DatePolicySkip:
	default:
		return errors.NewConfigError("UNPARSEABLE_DATE_POLICY",
			fmt.Sprintf("UNPARSEABLE_DATE_POLICY must be %q or %q", DatePolicyFallback, DatePolicySkip))
	}
	return nil
}

// RewriteAvailable reports whether description rewriting can run.
func (c *Config) RewriteAvailable() bool {
	return c.Sync.RewriteEnabled && (c.Gemini.APIKey != "" || c.OpenAI.APIKey != "")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("4h", "90s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func parseCommaSeparated(value string) []string {
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseHeaders reads "Name: value, Other: value" pairs.
func parseHeaders(value string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range parseCommaSeparated(value) {
		name, val, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		if name = strings.TrimSpace(name); name != "" {
			headers[name] = strings.TrimSpace(val)
		}
	}
	return headers
}
