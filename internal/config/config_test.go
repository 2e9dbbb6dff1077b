package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQLITE_PATH", "techtube.db")
	for _, k := range []string{"PAGE_DELAY", "MAX_PAGES", "PAGE_SIZE", "SEED_KEYWORD", "TIMEZONE", "AI_PROVIDER", "SERVER_PORT"} {
		t.Setenv(k, "")
	}

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "techtube.db", c.SQLitePath)
	assert.Equal(t, "8080", c.ServerPort)
	assert.Equal(t, "it", c.Collector.SeedKeyword)
	assert.Equal(t, 90*time.Second, c.Collector.PageDelay)
	assert.Equal(t, 5, c.Collector.MaxPages)
	assert.Equal(t, 10, c.Collector.PageSize)
	assert.Equal(t, 30*time.Minute, c.Collector.LockTTL)
	assert.Equal(t, time.Local, c.Collector.Location)
	assert.Equal(t, "github_models", c.AI.Provider)
	assert.Equal(t, 5, c.AI.MaxKeywords)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/techtube")
	t.Setenv("PAGE_DELAY", "-1s")
	t.Setenv("MAX_PAGES", "3")
	t.Setenv("PAGE_SIZE", "500")
	t.Setenv("SEED_KEYWORD", "  golang ")
	t.Setenv("TIMEZONE", "Asia/Seoul")
	t.Setenv("COLLECT_INTERVAL", "6h")
	t.Setenv("AI_ENABLED", "true")
	t.Setenv("AI_PROVIDER", "anthropic")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), c.Collector.PageDelay, "negative delay disables pacing")
	assert.Equal(t, 3, c.Collector.MaxPages)
	assert.Equal(t, 10, c.Collector.PageSize, "page size is capped by the API maximum")
	assert.Equal(t, "golang", c.Collector.SeedKeyword)
	assert.Equal(t, "Asia/Seoul", c.Collector.Location.String())
	assert.Equal(t, 6*time.Hour, c.Collector.Interval)
	assert.True(t, c.AI.Enabled)
	assert.Equal(t, "anthropic", c.AI.Provider)
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	t.Setenv("SQLITE_PATH", "x.db")
	t.Setenv("TIMEZONE", "Mars/Olympus")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
sqlite_path: /var/lib/techtube.db
redis_url: redis://localhost:6379/0
youtube_api_key: yt-key
collector:
  seed_keyword: devops
  page_delay: 30s
  max_pages: 2
  interval: 12h
ai:
  enabled: true
  provider: openai
  timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	c, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/techtube.db", c.SQLitePath)
	assert.Equal(t, "redis://localhost:6379/0", c.RedisURL)
	assert.Equal(t, "yt-key", c.YouTubeAPIKey)
	assert.Equal(t, "devops", c.Collector.SeedKeyword)
	assert.Equal(t, 30*time.Second, c.Collector.PageDelay)
	assert.Equal(t, 2, c.Collector.MaxPages)
	assert.Equal(t, 12*time.Hour, c.Collector.Interval)
	assert.Equal(t, "openai", c.AI.Provider)
	assert.Equal(t, 5*time.Second, c.AI.Timeout)
	assert.Equal(t, 20*time.Second, c.YouTubeTimeout)
}

func TestLoadFromFileRequiresDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_port: \"9090\"\n"), 0o600))

	_, err := LoadFromFile(path)
	assert.ErrorIs(t, err, ErrMissingDatabase)
}
