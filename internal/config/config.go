package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	AllowedOrigin string
	LogMode       string
	// LogFile is where the terminal client logs; empty discards
	LogFile string
	// Scoring service
	ScoringURL     string
	ScoringToken   string
	ScoringTimeout time.Duration
	// Session store: memory, file, postgres or redis
	Store     string
	StoreFile string
	// Database
	DatabaseURL string
	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
	// Copy deck override and pacing switch
	ScriptPath string
	NoPacing   bool
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Port:           getEnvDefault("PORT", "8080"),
		AllowedOrigin:  getEnvDefault("NEUROMATE_ALLOWED_ORIGIN", "http://localhost:5173"),
		LogMode:        getEnvDefault("LOG_MODE", "dev"),
		LogFile:        os.Getenv("NEUROMATE_LOG_FILE"),
		ScoringURL:     getEnvDefault("NEUROMATE_SCORING_URL", "http://127.0.0.1:8000"),
		ScoringToken:   os.Getenv("NEUROMATE_SCORING_TOKEN"),
		ScoringTimeout: getEnvDurationDefault("NEUROMATE_SCORING_TIMEOUT", 20*time.Second),
		Store:          strings.ToLower(getEnvDefault("NEUROMATE_STORE", "memory")),
		StoreFile:      getEnvDefault("NEUROMATE_STORE_FILE", "data/sessions.json"),
		DatabaseURL:    os.Getenv("DB_URL"),
		RedisAddr:      getEnvDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        getEnvIntDefault("REDIS_DB", 0),
		RedisTTL:       getEnvDurationDefault("NEUROMATE_REDIS_TTL", 0),
		ScriptPath:     os.Getenv("NEUROMATE_SCRIPT"),
		NoPacing:       getEnvBoolDefault("NEUROMATE_NO_PACING", false),
	}
	if cfg.Store == "postgres" && cfg.DatabaseURL == "" {
		log.Println("warning: NEUROMATE_STORE=postgres but DB_URL is not set; falling back to memory")
		cfg.Store = "memory"
	}
	return cfg
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
		log.Printf("warning: %s=%q is not an integer; using %d", key, v, def)
	}
	return def
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
		log.Printf("warning: %s=%q is not a duration; using %s", key, v, def)
	}
	return def
}

func getEnvBoolDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}
