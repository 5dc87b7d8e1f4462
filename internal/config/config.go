package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dgnsrekt/oddsfeed-client/internal/feed"
	"github.com/dgnsrekt/oddsfeed-client/internal/notify"
	"github.com/dgnsrekt/oddsfeed-client/internal/producer"
	"github.com/dgnsrekt/oddsfeed-client/internal/recovery"
)

type Config struct {
	API       APIConfig        `mapstructure:"api"`
	Feed      FeedConfig       `mapstructure:"feed"`
	Producers []ProducerConfig `mapstructure:"producers"`
	Server    ServerConfig     `mapstructure:"server"`
	Notify    notify.Config    `mapstructure:"notify"`
	Logging   LoggingConfig    `mapstructure:"logging"`
}

type APIConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	AccessToken   string `mapstructure:"access_token"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	RetryCount    int    `mapstructure:"retry_count"`
	RetryDelay    int    `mapstructure:"retry_delay_sec"`
	RatePerMinute int    `mapstructure:"rate_per_minute"`
}

type FeedConfig struct {
	WSURL                  string   `mapstructure:"ws_url"`
	NodeID                 int      `mapstructure:"node_id"`
	Sessions               []string `mapstructure:"sessions"`
	InactivitySeconds      int      `mapstructure:"inactivity_seconds"`
	MaxRecoveryTimeMinutes int      `mapstructure:"max_recovery_time_minutes"`
	AdjustAfterAge         bool     `mapstructure:"adjust_after_age"`
	StatusCheckIntervalSec int      `mapstructure:"status_check_interval_sec"`
	NotificationQueueSize  int      `mapstructure:"notification_queue_size"`
	ReconnectDelaySec      int      `mapstructure:"reconnect_delay_sec"`
	MaxReconnectDelaySec   int      `mapstructure:"max_reconnect_delay_sec"`
}

// ProducerConfig overrides per producer. Zero durations fall back to the feed defaults.
type ProducerConfig struct {
	ID                     int    `mapstructure:"id"`
	Name                   string `mapstructure:"name"`
	Scope                  string `mapstructure:"scope"`
	Available              bool   `mapstructure:"available"`
	MaxInactivitySeconds   int    `mapstructure:"max_inactivity_seconds"`
	MaxRecoveryTimeMinutes int    `mapstructure:"max_recovery_time_minutes"`
	RecoveryWindowMinutes  int    `mapstructure:"recovery_window_minutes"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("api.base_url", "https://api.betradar.com")
	v.SetDefault("api.timeout_sec", 30)
	v.SetDefault("api.retry_count", 3)
	v.SetDefault("api.retry_delay_sec", 2)
	v.SetDefault("api.rate_per_minute", 60)
	v.SetDefault("feed.ws_url", "wss://stream.betradar.com/feed")
	v.SetDefault("feed.node_id", 0)
	v.SetDefault("feed.sessions", []string{feed.All.Name()})
	v.SetDefault("feed.inactivity_seconds", 20)
	v.SetDefault("feed.max_recovery_time_minutes", 360)
	v.SetDefault("feed.adjust_after_age", false)
	v.SetDefault("feed.status_check_interval_sec", 20)
	v.SetDefault("feed.notification_queue_size", 256)
	v.SetDefault("feed.reconnect_delay_sec", 1)
	v.SetDefault("feed.max_reconnect_delay_sec", 60)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "satellite")
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("ODDSFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("api.access_token", "ODDSFEED_ACCESS_TOKEN", "ODDSFEED_API_ACCESS_TOKEN")
	_ = v.BindEnv("notify.topic", "ODDSFEED_NOTIFY_TOPIC")
	_ = v.BindEnv("notify.token", "ODDSFEED_NOTIFY_TOKEN")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("oddsfeed")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if len(cfg.Producers) == 0 {
		cfg.Producers = DefaultProducers()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Interests parses the configured session names.
func (c *Config) Interests() (feed.InterestSet, error) {
	set := feed.InterestSet{}
	for _, name := range c.Feed.Sessions {
		mi, err := feed.ParseInterest(name)
		if err != nil {
			return nil, err
		}
		set.Add(mi)
	}
	return set, nil
}

// ProducerConfigs applies the feed defaults to every configured producer.
func (c *Config) ProducerConfigs() []producer.Config {
	out := make([]producer.Config, 0, len(c.Producers))
	for _, p := range c.Producers {
		pc := producer.Config{
			ID:                     p.ID,
			Name:                   p.Name,
			Scope:                  p.Scope,
			Available:              p.Available,
			MaxInactivitySeconds:   p.MaxInactivitySeconds,
			MaxRecoveryTimeMinutes: p.MaxRecoveryTimeMinutes,
			RecoveryWindowMinutes:  p.RecoveryWindowMinutes,
		}
		if pc.MaxInactivitySeconds <= 0 {
			pc.MaxInactivitySeconds = c.Feed.InactivitySeconds
		}
		if pc.MaxRecoveryTimeMinutes <= 0 {
			pc.MaxRecoveryTimeMinutes = c.Feed.MaxRecoveryTimeMinutes
		}
		out = append(out, pc)
	}
	return out
}

func (c *Config) RecoveryOptions() recovery.Options {
	return recovery.Options{
		NodeID:              c.Feed.NodeID,
		AdjustAfterAge:      c.Feed.AdjustAfterAge,
		InactivityThreshold: time.Duration(c.Feed.InactivitySeconds) * time.Second,
	}
}

func (c *Config) StatusCheckInterval() time.Duration {
	return time.Duration(c.Feed.StatusCheckIntervalSec) * time.Second
}

func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSec) * time.Second
}

func (a APIConfig) RetryDelayDuration() time.Duration {
	return time.Duration(a.RetryDelay) * time.Second
}
