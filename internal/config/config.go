// Package config loads process configuration from environment
// variables, honoring a .env file the way the pack's
// jackkayser2005-pokerBench server does (`_ = godotenv.Load()` followed
// by os.Getenv reads with defaults), validated with the same
// go-playground/validator the teacher uses for request bodies.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"bettertactics/internal/store"
)

// Config is the full process configuration.
type Config struct {
	BindInterface string `validate:"required"`
	BindPort      int    `validate:"min=1,max=65535"`

	DatabaseURL string `validate:"required"`

	BackupEnabled bool
	BackupPath    string `validate:"required"`
	BackupHour    int    `validate:"min=0,max=23"`

	SRSDefaultEase float64 `validate:"gt=0"`
	SRSMinimumEase float64 `validate:"gt=0"`
	SRSEasyBonus   float64 `validate:"gt=0"`
	SRSDayEndHour  int     `validate:"min=0,max=23"`
	SRSReviewOrder store.ReviewOrder
}

// Load reads configuration from the environment, honoring a .env file in
// the working directory if present. The legacy SQLITE_DB_NAME variable is
// accepted and rewritten to the sqlite:// URL form.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		BindInterface: getEnv("BIND_INTERFACE", "127.0.0.1"),
		BindPort:      getEnvInt("BIND_PORT", 3030),

		DatabaseURL: resolveDatabaseURL(),

		BackupEnabled: getEnvBool("BACKUP_ENABLED", false),
		BackupPath:    getEnv("BACKUP_PATH", "./backups"),
		BackupHour:    getEnvInt("BACKUP_HOUR", 4),

		SRSDefaultEase: getEnvFloat("SRS_DEFAULT_EASE", 2.5),
		SRSMinimumEase: getEnvFloat("SRS_MINIMUM_EASE", 1.3),
		SRSEasyBonus:   getEnvFloat("SRS_EASY_BONUS", 1.3),
		SRSDayEndHour:  getEnvInt("SRS_DAY_END_HOUR", 4),
		SRSReviewOrder: store.ReviewOrder(getEnv("SRS_REVIEW_ORDER", string(store.OrderDueTime))),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	switch cfg.SRSReviewOrder {
	case store.OrderDueTime, store.OrderPuzzleRating, store.OrderRandom:
	default:
		return nil, fmt.Errorf("config: invalid SRS_REVIEW_ORDER %q", cfg.SRSReviewOrder)
	}

	return cfg, nil
}

// resolveDatabaseURL honors DATABASE_URL, falling back to rewriting the
// legacy SQLITE_DB_NAME into the sqlite:// URL form.
func resolveDatabaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	if legacy := os.Getenv("SQLITE_DB_NAME"); legacy != "" {
		return "sqlite://" + legacy
	}
	return "sqlite://puzzles.sqlite"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
