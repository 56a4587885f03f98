package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	t.Setenv("STORIES_API_URL", "")
	t.Setenv("TTS_POLL_INTERVAL", "")
	t.Setenv("DOCUMENT_POLL_INTERVAL", "")
	t.Setenv("POLL_MAX_WAIT", "")
	t.Setenv("STORIES_DATA_DIR", "/tmp/stories-data")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:5000", cfg.Backend.APIURL)
	assert.Equal(t, 2*time.Second, cfg.Poll.TTSInterval)
	assert.Equal(t, 3*time.Second, cfg.Poll.DocumentInterval)
	assert.Equal(t, 30*time.Minute, cfg.Poll.MaxWait)
	assert.Equal(t, filepath.Join("/tmp/stories-data", "stories.db"), cfg.DBPath())
	assert.False(t, cfg.UseRedis())
	assert.Equal(t, "af_heart", cfg.TTS.DefaultVoice)
}

func TestNewFromEnv_Overrides(t *testing.T) {
	t.Setenv("STORIES_API_URL", "https://stories.example.com/")
	t.Setenv("TTS_POLL_INTERVAL", "500ms")
	t.Setenv("DOCUMENT_POLL_INTERVAL", "5")
	t.Setenv("POLL_MAX_WAIT", "0")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://stories.example.com", cfg.Backend.APIURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Poll.TTSInterval)
	assert.Equal(t, 5*time.Second, cfg.Poll.DocumentInterval)
	assert.Equal(t, time.Duration(0), cfg.Poll.MaxWait)
	assert.True(t, cfg.UseRedis())
}

func TestNewFromEnv_Options(t *testing.T) {
	cfg, err := NewFromEnv(
		WithAPIURL("http://10.0.0.2:5000/"),
		WithSessionFile("/tmp/s.json"),
	)
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.2:5000", cfg.Backend.APIURL)
	assert.Equal(t, "/tmp/s.json", cfg.Backend.SessionFile)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Backend: BackendConfig{APIURL: "http://localhost:5000", Timeout: time.Second, SessionFile: "/tmp/s.json"},
			Poll:    PollConfig{TTSInterval: time.Second, DocumentInterval: time.Second},
			History: HistoryConfig{Retention: time.Hour, PruneCron: "0 * * * *"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad scheme", mutate: func(c *Config) { c.Backend.APIURL = "ftp://x" }, wantErr: true},
		{name: "no host", mutate: func(c *Config) { c.Backend.APIURL = "http://" }, wantErr: true},
		{name: "zero interval", mutate: func(c *Config) { c.Poll.TTSInterval = 0 }, wantErr: true},
		{name: "negative max wait", mutate: func(c *Config) { c.Poll.MaxWait = -time.Second }, wantErr: true},
		{name: "bad cron", mutate: func(c *Config) { c.History.PruneCron = "every hour" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))

	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("STORIES_TEST_DOTENV=from-file\n"), 0o600))
	t.Setenv("STORIES_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("STORIES_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("STORIES_TEST_DOTENV"))
}
