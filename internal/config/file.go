package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	DatabaseURL    string `yaml:"database_url"`
	SQLitePath     string `yaml:"sqlite_path"`
	RedisURL       string `yaml:"redis_url"`
	ServerPort     string `yaml:"server_port"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	YouTubeAPIKey  string `yaml:"youtube_api_key"`
	YouTubeTimeout string `yaml:"youtube_timeout"`
	VoyageAPIKey   string `yaml:"voyage_api_key"`
	VoyageModel    string `yaml:"voyage_model"`

	Collector struct {
		SeedKeyword string `yaml:"seed_keyword"`
		PageDelay   string `yaml:"page_delay"`
		MaxPages    int    `yaml:"max_pages"`
		PageSize    int    `yaml:"page_size"`
		Interval    string `yaml:"interval"`
		LockTTL     string `yaml:"lock_ttl"`
		Timezone    string `yaml:"timezone"`
	} `yaml:"collector"`

	AI struct {
		Enabled     bool   `yaml:"enabled"`
		Provider    string `yaml:"provider"`
		APIKey      string `yaml:"api_key"`
		Model       string `yaml:"model"`
		BaseURL     string `yaml:"base_url"`
		Timeout     string `yaml:"timeout"`
		MaxKeywords int    `yaml:"max_keywords"`
	} `yaml:"ai"`
}

// LoadFromFile loads config from a YAML file. A database (database_url or sqlite_path) is required.
// Durations are Go duration strings ("90s", "6h").
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	c := &Config{
		DatabaseURL:    f.DatabaseURL,
		SQLitePath:     f.SQLitePath,
		RedisURL:       f.RedisURL,
		ServerPort:     f.ServerPort,
		LogLevel:       f.LogLevel,
		LogFormat:      f.LogFormat,
		YouTubeAPIKey:  f.YouTubeAPIKey,
		YouTubeTimeout: parseDuration(f.YouTubeTimeout),
		Collector: Collector{
			SeedKeyword: f.Collector.SeedKeyword,
			PageDelay:   parseDuration(f.Collector.PageDelay),
			MaxPages:    f.Collector.MaxPages,
			PageSize:    f.Collector.PageSize,
			Interval:    parseDuration(f.Collector.Interval),
			LockTTL:     parseDuration(f.Collector.LockTTL),
			Timezone:    f.Collector.Timezone,
		},
		AI: AI{
			Enabled:     f.AI.Enabled,
			Provider:    f.AI.Provider,
			APIKey:      f.AI.APIKey,
			Model:       f.AI.Model,
			BaseURL:     f.AI.BaseURL,
			Timeout:     parseDuration(f.AI.Timeout),
			MaxKeywords: f.AI.MaxKeywords,
		},
		VoyageAPIKey: f.VoyageAPIKey,
		VoyageModel:  f.VoyageModel,
	}
	if err := c.finish(); err != nil {
		return nil, err
	}
	return c, nil
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
