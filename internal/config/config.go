package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// MaxRecentIndexCap matches the read API's listing limit.
const MaxRecentIndexCap = 25

type AppConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	StoreURL   string `yaml:"store_url" env:"STORE_URL"`
	Secret     string `yaml:"secret" env:"INDEXER_SECRET"`

	RecentIndexCap   int `yaml:"recent_index_cap" env:"RECENT_INDEX_CAP"`
	GameCacheSize    int `yaml:"game_cache_size" env:"GAME_CACHE_SIZE"`
	AccountCacheSize int `yaml:"account_cache_size" env:"ACCOUNT_CACHE_SIZE"`

	IngestConcurrency int           `yaml:"ingest_concurrency" env:"INGEST_CONCURRENCY"`
	RequestTimeout    time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`

	Feed FeedConfig `yaml:"feed"`
	Log  LogConfig  `yaml:"log"`
}

// FeedConfig describes the optional upstream websocket feed. Empty WSURL disables it.
type FeedConfig struct {
	WSURL                string `yaml:"ws_url" env:"FEED_WS_URL"`
	Token                string `yaml:"token" env:"FEED_TOKEN"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts" env:"FEED_MAX_RECONNECT"`
}

type LogConfig struct {
	Level     string `yaml:"level" env:"LOG_LEVEL"`
	Format    string `yaml:"format" env:"LOG_FORMAT"`
	ToConsole bool   `yaml:"to_console" env:"LOG_TO_CONSOLE"`
	ToFile    bool   `yaml:"to_file" env:"LOG_TO_FILE"`
	File      string `yaml:"file" env:"LOG_FILE"`
	Caller    bool   `yaml:"caller" env:"LOG_CALLER"`
}

func defaults() *AppConfig {
	return &AppConfig{
		ListenAddr:        ":8080",
		StoreURL:          "memory://",
		RecentIndexCap:    MaxRecentIndexCap,
		GameCacheSize:     1024,
		AccountCacheSize:  1024,
		IngestConcurrency: 16,
		RequestTimeout:    30 * time.Second,
		Log: LogConfig{
			Level:     "info",
			Format:    "legacy",
			ToConsole: true,
			ToFile:    true,
			File:      filepath.Join("logs", "indexer.log"),
		},
	}
}

// Load applies defaults, then the YAML file named by INDEXER_CONFIG_FILE, then the environment.
func Load() (*AppConfig, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("INDEXER_CONFIG_FILE")); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *AppConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) normalize() {
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	c.StoreURL = strings.TrimSpace(c.StoreURL)
	c.Secret = strings.TrimSpace(c.Secret)
	c.Feed.WSURL = strings.TrimSpace(c.Feed.WSURL)
	c.Feed.Token = strings.TrimSpace(c.Feed.Token)
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format != "legacy" && c.Log.Format != "json" && c.Log.Format != "console" {
		c.Log.Format = "legacy"
	}
}

func (c *AppConfig) Validate() error {
	var errs []error
	if c.Secret == "" {
		errs = append(errs, errors.New("INDEXER_SECRET is required"))
	}
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("LISTEN_ADDR is required"))
	}
	if c.RecentIndexCap < 1 || c.RecentIndexCap > MaxRecentIndexCap {
		errs = append(errs, fmt.Errorf("RECENT_INDEX_CAP must be between 1 and %d", MaxRecentIndexCap))
	}
	if c.GameCacheSize <= 0 {
		errs = append(errs, errors.New("GAME_CACHE_SIZE must be positive"))
	}
	if c.AccountCacheSize <= 0 {
		errs = append(errs, errors.New("ACCOUNT_CACHE_SIZE must be positive"))
	}
	if c.IngestConcurrency <= 0 {
		errs = append(errs, errors.New("INGEST_CONCURRENCY must be positive"))
	}
	if c.Feed.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("FEED_MAX_RECONNECT must not be negative"))
	}
	return errors.Join(errs...)
}
