package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	LedgerDriverPostgres = "postgres"
	LedgerDriverMemory   = "memory"

	devJWTSecret = "quizora-development-secret"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	LogLevel           string
	LedgerDriver       string
	DatabaseURL        string
	DBMaxConns         int
	JWTSecret          string
	RedisURL           string
	GeoIPDBPath        string
	PricingFile        string
	StoragePath        string
	CORSAllowedOrigins []string
	GeminiAPIKey       string
	GeminiModel        string
	GeminiBaseURL      string
	HTTPReadTimeout    time.Duration
	// HTTPWriteTimeout must outlast the slowest tool: three timed-out
	// attempts plus backoff.
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	FinalizeTimeout    time.Duration
	SweepSchedule      string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		LogLevel:           os.Getenv("LOG_LEVEL"),
		LedgerDriver:       strings.ToLower(getEnv("LEDGER_DRIVER", LedgerDriverPostgres)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		DBMaxConns:         getEnvInt("DB_MAX_CONNS", 10),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		RedisURL:           os.Getenv("REDIS_URL"),
		GeoIPDBPath:        os.Getenv("GEOIP_DB_PATH"),
		PricingFile:        os.Getenv("PRICING_FILE"),
		StoragePath:        getEnv("STORAGE_PATH", "./data/attachments"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL:      getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 600)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		FinalizeTimeout:    getEnvDuration("LEDGER_FINALIZE_TIMEOUT", 10*time.Second),
		SweepSchedule:      getEnv("SWEEP_SCHEDULE", "@every 1m"),
	}

	switch cfg.LedgerDriver {
	case LedgerDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("JWT_SECRET is required")
		}
	case LedgerDriverMemory:
		if cfg.JWTSecret == "" {
			if !cfg.IsDevelopment() {
				return nil, fmt.Errorf("JWT_SECRET is required when APP_ENV=%s", cfg.AppEnv)
			}
			cfg.JWTSecret = devJWTSecret
		}
	default:
		return nil, fmt.Errorf("LEDGER_DRIVER must be %q or %q, got %q", LedgerDriverPostgres, LedgerDriverMemory, cfg.LedgerDriver)
	}

	return cfg, nil
}

// IsDevelopment reports whether the process runs outside any deployed
// environment. Only then may insecure defaults apply.
func (c *Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "development", "dev", "local", "test":
		return true
	}
	return false
}

// UsesPostgres reports whether the ledger is backed by the database.
func (c *Config) UsesPostgres() bool {
	return c.LedgerDriver == LedgerDriverPostgres
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
