package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every runtime setting, read from the environment.
type Config struct {
	AppEnv    string
	LogLevel  string
	LogFormat string

	HTTPListenAddr   string
	PublicBasePath   string
	AdminToken       string
	MetricsNamespace string

	DatabaseDriver string
	DatabaseURL    string
	SupabaseSchema string
	SQLitePath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	GeminiAPIKeys  []string
	GeminiModel    string
	GeminiBaseURL  string
	GeminiTimeout  time.Duration
	GeminiCooldown time.Duration
	NLUCacheTTL    time.Duration

	WhatsAppStorePath string
	WhatsAppLogLevel  string

	ConfirmStore         string
	ConfirmMaxEntries    int
	ConfirmSweepInterval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:    getString("APP_ENV", "development"),
		LogLevel:  getString("LOG_LEVEL", "info"),
		LogFormat: getString("LOG_FORMAT", "text"),

		HTTPListenAddr:   getString("HTTP_LISTEN_ADDR", ":8080"),
		PublicBasePath:   getString("PUBLIC_BASE_PATH", ""),
		AdminToken:       getString("ADMIN_TOKEN", ""),
		MetricsNamespace: getString("METRICS_NAMESPACE", "finbot"),

		DatabaseDriver: strings.ToLower(getString("DATABASE_DRIVER", "postgres")),
		DatabaseURL:    getString("DATABASE_URL", ""),
		SupabaseSchema: getString("SUPABASE_SCHEMA", "public"),
		SQLitePath:     getString("SQLITE_PATH", "data/ledger.db"),

		RedisAddr:     getString("REDIS_ADDR", ""),
		RedisPassword: getString("REDIS_PASSWORD", ""),

		GeminiAPIKeys: getList("GEMINI_API_KEYS"),
		GeminiModel:   getString("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiBaseURL: getString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),

		WhatsAppStorePath: getString("WHATSAPP_STORE_PATH", "data/whatsapp.db"),
		WhatsAppLogLevel:  getString("WHATSAPP_LOG_LEVEL", "WARN"),

		ConfirmStore: strings.ToLower(getString("CONFIRM_STORE", "memory")),
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RedisTLS, err = getBool("REDIS_TLS", false); err != nil {
		return nil, err
	}
	if cfg.GeminiTimeout, err = getDuration("GEMINI_TIMEOUT", 20*time.Second); err != nil {
		return nil, err
	}
	if cfg.GeminiCooldown, err = getDuration("GEMINI_COOLDOWN", time.Minute); err != nil {
		return nil, err
	}
	if cfg.NLUCacheTTL, err = getDuration("NLU_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ConfirmMaxEntries, err = getInt("CONFIRM_MAX_ENTRIES", 10000); err != nil {
		return nil, err
	}
	if cfg.ConfirmSweepInterval, err = getDuration("CONFIRM_SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case "postgres", "postgresql", "supabase":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for driver %q", c.DatabaseDriver)
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for driver sqlite")
		}
	default:
		return fmt.Errorf("DATABASE_DRIVER %q is not supported", c.DatabaseDriver)
	}
	if len(c.GeminiAPIKeys) == 0 {
		return fmt.Errorf("GEMINI_API_KEYS is required")
	}
	switch c.ConfirmStore {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when CONFIRM_STORE=redis")
		}
	default:
		return fmt.Errorf("CONFIRM_STORE %q is not supported", c.ConfirmStore)
	}
	return nil
}

// RedisEnabled reports whether a Redis address was configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

func getString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getList(key string) []string {
	raw := getString(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getInt(key string, fallback int) (int, error) {
	raw := getString(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := getString(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getString(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}
