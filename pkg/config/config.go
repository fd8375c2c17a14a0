package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the signal engine.
type Config struct {
	Port string

	// Scheduler
	EvalInterval  time.Duration
	EvalTimeout   time.Duration
	Workers       int
	ClockTriggers []string // "HH:MM" wall-clock cycle triggers

	// Market data
	UseMockFeed     bool
	MarketAPIURL    string
	MarketAPIKey    string
	MarketStreamURL string
	MarketRateLimit float64 // requests per second against the REST supplier
	SnapshotMaxAge  time.Duration

	// Execution
	PaperInitialBalance float64
	PaperFeeRate        float64 // decimal (e.g. 0.0004 = 4 bps)
	PaperSlippageBps    float64
	ExecTimeout         time.Duration
	ApprovalMaxAge      time.Duration

	// Database
	DBPath string

	// Seed file applied at startup (optional)
	SeedPath string

	// Auth
	JWTSecret string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/signal-engine.db")
	}

	return &Config{
		Port:                getEnv("PORT", "8080"),
		EvalInterval:        getEnvDuration("EVAL_INTERVAL", 5*time.Minute),
		EvalTimeout:         getEnvDuration("EVAL_TIMEOUT", 2*time.Second),
		Workers:             getEnvInt("EVAL_WORKERS", 0), // 0 = NumCPU
		ClockTriggers:       splitAndTrim(getEnv("CLOCK_TRIGGERS", "")),
		UseMockFeed:         getEnv("USE_MOCK_FEED", "true") == "true",
		MarketAPIURL:        getEnv("MARKET_API_URL", ""),
		MarketAPIKey:        os.Getenv("MARKET_API_KEY"),
		MarketStreamURL:     getEnv("MARKET_STREAM_URL", ""),
		MarketRateLimit:     getEnvFloat("MARKET_RATE_LIMIT", 10),
		SnapshotMaxAge:      getEnvDuration("SNAPSHOT_MAX_AGE", time.Minute),
		PaperInitialBalance: getEnvFloat("PAPER_INITIAL_BALANCE", 10000.0),
		PaperFeeRate:        getEnvFloat("PAPER_FEE_RATE", 0.0004),
		PaperSlippageBps:    getEnvFloat("PAPER_SLIPPAGE_BPS", 2),
		ExecTimeout:         getEnvDuration("EXEC_TIMEOUT", 10*time.Second),
		ApprovalMaxAge:      getEnvDuration("APPROVAL_MAX_AGE", 24*time.Hour),
		DBPath:              dbPath,
		SeedPath:            getEnv("SEED_PATH", ""),
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
