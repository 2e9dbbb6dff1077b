package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve in minimal containers
)

// ErrMissingDatabase is returned when neither DATABASE_URL nor SQLITE_PATH is configured.
var ErrMissingDatabase = errors.New("config: DATABASE_URL or SQLITE_PATH is required")

// Config holds application configuration (store, collector, external APIs).
type Config struct {
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	SQLitePath  string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	RedisURL    string `yaml:"redis_url" env:"REDIS_URL"`
	ServerPort  string `yaml:"server_port" env:"SERVER_PORT"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat   string `yaml:"log_format" env:"LOG_FORMAT"`

	YouTubeAPIKey  string        `yaml:"youtube_api_key" env:"YOUTUBE_API_KEY"`
	YouTubeTimeout time.Duration `yaml:"youtube_timeout" env:"YOUTUBE_TIMEOUT"`

	Collector Collector `yaml:"collector"`
	AI        AI        `yaml:"ai"`

	VoyageAPIKey string `yaml:"voyage_api_key" env:"VOYAGE_API_KEY"`
	VoyageModel  string `yaml:"voyage_model" env:"VOYAGE_MODEL"`
}

// Collector tunes the collection cycle.
type Collector struct {
	SeedKeyword string         `yaml:"seed_keyword" env:"SEED_KEYWORD"`
	PageDelay   time.Duration  `yaml:"page_delay" env:"PAGE_DELAY"`
	MaxPages    int            `yaml:"max_pages" env:"MAX_PAGES"`
	PageSize    int            `yaml:"page_size" env:"PAGE_SIZE"`
	Interval    time.Duration  `yaml:"interval" env:"COLLECT_INTERVAL"`
	LockTTL     time.Duration  `yaml:"lock_ttl" env:"CYCLE_LOCK_TTL"`
	Timezone    string         `yaml:"timezone" env:"TIMEZONE"`
	Location    *time.Location `yaml:"-"`
}

// AI configures the optional keyword extraction provider.
type AI struct {
	Enabled     bool          `yaml:"enabled" env:"AI_ENABLED"`
	Provider    string        `yaml:"provider" env:"AI_PROVIDER"`
	APIKey      string        `yaml:"api_key" env:"AI_API_KEY"`
	Model       string        `yaml:"model" env:"AI_MODEL"`
	BaseURL     string        `yaml:"base_url" env:"AI_BASE_URL"`
	Timeout     time.Duration `yaml:"timeout" env:"AI_TIMEOUT"`
	MaxKeywords int           `yaml:"max_keywords" env:"AI_MAX_KEYWORDS"`
}

// Load builds config from environment variables.
// If no database is configured, Load tries to load .env.local and .env first.
func Load() (*Config, error) {
	if os.Getenv("DATABASE_URL") == "" && os.Getenv("SQLITE_PATH") == "" {
		loadEnvFiles()
	}
	c := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SQLitePath:     os.Getenv("SQLITE_PATH"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ServerPort:     os.Getenv("SERVER_PORT"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		LogFormat:      os.Getenv("LOG_FORMAT"),
		YouTubeAPIKey:  os.Getenv("YOUTUBE_API_KEY"),
		YouTubeTimeout: envDuration("YOUTUBE_TIMEOUT"),
		Collector: Collector{
			SeedKeyword: os.Getenv("SEED_KEYWORD"),
			PageDelay:   envDuration("PAGE_DELAY"),
			MaxPages:    envInt("MAX_PAGES"),
			PageSize:    envInt("PAGE_SIZE"),
			Interval:    envDuration("COLLECT_INTERVAL"),
			LockTTL:     envDuration("CYCLE_LOCK_TTL"),
			Timezone:    os.Getenv("TIMEZONE"),
		},
		AI: AI{
			Enabled:     envBool("AI_ENABLED"),
			Provider:    os.Getenv("AI_PROVIDER"),
			APIKey:      os.Getenv("AI_API_KEY"),
			Model:       os.Getenv("AI_MODEL"),
			BaseURL:     os.Getenv("AI_BASE_URL"),
			Timeout:     envDuration("AI_TIMEOUT"),
			MaxKeywords: envInt("AI_MAX_KEYWORDS"),
		},
		VoyageAPIKey: os.Getenv("VOYAGE_API_KEY"),
		VoyageModel:  os.Getenv("VOYAGE_MODEL"),
	}
	if err := c.finish(); err != nil {
		return nil, err
	}
	return c, nil
}

// finish applies defaults and validates. Shared by Load and LoadFromFile.
func (c *Config) finish() error {
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return ErrMissingDatabase
	}
	if c.ServerPort == "" {
		c.ServerPort = "8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.YouTubeTimeout <= 0 {
		c.YouTubeTimeout = 20 * time.Second
	}

	col := &c.Collector
	if col.SeedKeyword = strings.TrimSpace(col.SeedKeyword); col.SeedKeyword == "" {
		col.SeedKeyword = "it"
	}
	if col.PageDelay < 0 {
		col.PageDelay = 0
	} else if col.PageDelay == 0 {
		col.PageDelay = 90 * time.Second
	}
	if col.MaxPages <= 0 {
		col.MaxPages = 5
	}
	if col.PageSize <= 0 || col.PageSize > 50 {
		col.PageSize = 10
	}
	if col.LockTTL <= 0 {
		col.LockTTL = 30 * time.Minute
	}
	col.Location = time.Local
	if col.Timezone != "" {
		loc, err := time.LoadLocation(col.Timezone)
		if err != nil {
			return err
		}
		col.Location = loc
	}

	ai := &c.AI
	if ai.Provider == "" {
		ai.Provider = "github_models"
	}
	if ai.Timeout <= 0 {
		ai.Timeout = 20 * time.Second
	}
	if ai.MaxKeywords <= 0 {
		ai.MaxKeywords = 5
	}
	return nil
}

func envDuration(key string) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func envInt(key string) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes":
		return true
	}
	return false
}
