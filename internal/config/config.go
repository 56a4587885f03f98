package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/stories-now/pkg/log"
)

// Config holds all client configuration.
// Values come from environment variables with sensible defaults.
//
// Environment Variables:
// Backend:
// - STORIES_API_URL: backend base URL (default: http://localhost:5000)
// - STORIES_HTTP_TIMEOUT: per-request timeout (default: 30s)
// - STORIES_SESSION_FILE: where the login token is kept (default: ~/.config/stories-now/session.json)
//
// Polling:
// - TTS_POLL_INTERVAL: status poll interval for speech jobs (default: 2s)
// - DOCUMENT_POLL_INTERVAL: document list refresh interval while ingesting (default: 3s)
// - POLL_MAX_WAIT: give up on a job after this long, 0 disables (default: 30m)
//
// History:
// - STORIES_DATA_DIR: local data directory (default: ~/.local/share/stories-now)
// - REDIS_ADDR / REDIS_PASSWORD / REDIS_DB: use redis for job history instead of sqlite
// - HISTORY_RETENTION: keep finished jobs this long (default: 168h)
// - HISTORY_PRUNE_CRON: prune schedule (default: 0 * * * *)
//
// Misc:
// - TTS_DEFAULT_VOICE: voice used when language detection is inconclusive (default: af_heart)
// - SERVE_ADDR: listen address of the local presenter API (default: 127.0.0.1:8787)
// - UI_STATIC_DIR: optional single-page UI served next to the presenter API
// - LOG_LEVEL: debug|info|warn|error (default: info)
// - LOG_FILE: optional log file for serve mode
type Config struct {
	Backend BackendConfig `json:"backend"`
	Poll    PollConfig    `json:"poll"`
	History HistoryConfig `json:"history"`
	TTS     TTSConfig     `json:"tts"`
	System  SystemConfig  `json:"system"`
}

type BackendConfig struct {
	APIURL      string        `json:"api_url"`
	Timeout     time.Duration `json:"timeout"`
	SessionFile string        `json:"session_file"`
}

type PollConfig struct {
	TTSInterval      time.Duration `json:"tts_interval"`
	DocumentInterval time.Duration `json:"document_interval"`
	MaxWait          time.Duration `json:"max_wait"`
}

type HistoryConfig struct {
	DataDir       string        `json:"data_dir"`
	RedisAddr     string        `json:"redis_addr"`
	RedisPassword string        `json:"-"`
	RedisDB       int           `json:"redis_db"`
	Retention     time.Duration `json:"retention"`
	PruneCron     string        `json:"prune_cron"`
}

type TTSConfig struct {
	DefaultVoice string `json:"default_voice"`
}

type SystemConfig struct {
	ServeAddr   string `json:"serve_addr"`
	UIStaticDir string `json:"ui_static_dir"`
	LogLevel    string `json:"log_level"`
	LogFile     string `json:"log_file"`
}

// DBPath returns the sqlite history file path.
func (c *Config) DBPath() string {
	return filepath.Join(c.History.DataDir, "stories.db")
}

// UseRedis reports whether job history lives in redis.
func (c *Config) UseRedis() bool {
	return strings.TrimSpace(c.History.RedisAddr) != ""
}

type Option func(*Config)

func WithAPIURL(u string) Option {
	return func(c *Config) {
		if strings.TrimSpace(u) != "" {
			c.Backend.APIURL = strings.TrimRight(u, "/")
		}
	}
}

func WithSessionFile(path string) Option {
	return func(c *Config) {
		if strings.TrimSpace(path) != "" {
			c.Backend.SessionFile = path
		}
	}
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment.
// A missing file is not an error; existing variables are not overridden.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func NewFromEnv(opts ...Option) (*Config, error) {
	home, _ := os.UserHomeDir()

	config := &Config{
		Backend: BackendConfig{
			APIURL:      strings.TrimRight(getEnvString("STORIES_API_URL", "http://localhost:5000"), "/"),
			Timeout:     getEnvDuration("STORIES_HTTP_TIMEOUT", 30*time.Second),
			SessionFile: getEnvString("STORIES_SESSION_FILE", filepath.Join(home, ".config", "stories-now", "session.json")),
		},
		Poll: PollConfig{
			TTSInterval:      getEnvDuration("TTS_POLL_INTERVAL", 2*time.Second),
			DocumentInterval: getEnvDuration("DOCUMENT_POLL_INTERVAL", 3*time.Second),
			MaxWait:          getEnvDuration("POLL_MAX_WAIT", 30*time.Minute),
		},
		History: HistoryConfig{
			DataDir:       getEnvString("STORIES_DATA_DIR", filepath.Join(home, ".local", "share", "stories-now")),
			RedisAddr:     getEnvString("REDIS_ADDR", ""),
			RedisPassword: getEnvString("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			Retention:     getEnvDuration("HISTORY_RETENTION", 7*24*time.Hour),
			PruneCron:     getEnvString("HISTORY_PRUNE_CRON", "0 * * * *"),
		},
		TTS: TTSConfig{
			DefaultVoice: getEnvString("TTS_DEFAULT_VOICE", "af_heart"),
		},
		System: SystemConfig{
			ServeAddr:   getEnvString("SERVE_ADDR", "127.0.0.1:8787"),
			UIStaticDir: getEnvString("UI_STATIC_DIR", ""),
			LogLevel:    getEnvString("LOG_LEVEL", "info"),
			LogFile:     getEnvString("LOG_FILE", ""),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %+v", *config)
	return config, nil
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("STORIES_API_URL must be an http(s) URL, got %q", c.Backend.APIURL)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("STORIES_HTTP_TIMEOUT must be positive")
	}
	if strings.TrimSpace(c.Backend.SessionFile) == "" {
		return fmt.Errorf("STORIES_SESSION_FILE is required")
	}
	if c.Poll.TTSInterval <= 0 {
		return fmt.Errorf("TTS_POLL_INTERVAL must be positive")
	}
	if c.Poll.DocumentInterval <= 0 {
		return fmt.Errorf("DOCUMENT_POLL_INTERVAL must be positive")
	}
	if c.Poll.MaxWait < 0 {
		return fmt.Errorf("POLL_MAX_WAIT must not be negative")
	}
	if c.History.Retention <= 0 {
		return fmt.Errorf("HISTORY_RETENTION must be positive")
	}
	if _, err := cron.ParseStandard(c.History.PruneCron); err != nil {
		return fmt.Errorf("invalid HISTORY_PRUNE_CRON: %w", err)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("2s") or bare integers as seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
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
