package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Optionflow OptionflowConfig `yaml:"optionflow"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Reader     ReaderConfig     `yaml:"reader"`
	Relay      RelayConfig      `yaml:"relay"`
	Chain      ChainConfig      `yaml:"chain"`
	Sources    SourcesConfig    `yaml:"sources"`
	Orders     OrdersConfig     `yaml:"orders"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type OptionflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	UpdateBuffer int `yaml:"update_buffer"`
}

type ReaderConfig struct {
	Timeout        time.Duration        `yaml:"timeout"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type RelayConfig struct {
	URL              string        `yaml:"url"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

type ChainConfig struct {
	ID int64 `yaml:"id"`
}

type SourcesConfig struct {
	RFQ   RFQSourceConfig    `yaml:"rfq"`
	Pool  PolledSourceConfig `yaml:"pool"`
	Vault PolledSourceConfig `yaml:"vault"`
}

type RFQSourceConfig struct {
	Enabled bool `yaml:"enabled"`
}

type PolledSourceConfig struct {
	Enabled    bool            `yaml:"enabled"`
	URL        string          `yaml:"url"`
	IntervalMs int             `yaml:"interval_ms"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type OrdersConfig struct {
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	ThrowOnInvalid bool          `yaml:"throw_on_invalid"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Channels: ChannelsConfig{UpdateBuffer: 64},
		Reader: ReaderConfig{
			Timeout: 10 * time.Second,
			ConnectionPool: ConnectionPoolConfig{
				MaxIdleConns:    10,
				MaxConnsPerHost: 10,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		Relay: RelayConfig{
			ReconnectDelay:   5 * time.Second,
			HandshakeTimeout: 10 * time.Second,
		},
		Orders: OrdersConfig{CacheTTL: time.Minute},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override endpoints from environment variables if available
	if v := os.Getenv("RELAY_URL"); v != "" {
		config.Relay.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv("POOL_QUOTE_URL"); v != "" {
		config.Sources.Pool.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv("VAULT_QUOTE_URL"); v != "" {
		config.Sources.Vault.URL = strings.TrimSpace(v)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Optionflow.Name == "" {
		return fmt.Errorf("optionflow.name is required")
	}

	if cfg.Optionflow.Version == "" {
		return fmt.Errorf("optionflow.version is required")
	}

	if cfg.Channels.UpdateBuffer <= 0 {
		return fmt.Errorf("channels.update_buffer must be greater than 0")
	}

	if cfg.Chain.ID <= 0 {
		return fmt.Errorf("chain.id must be greater than 0")
	}

	if cfg.Sources.RFQ.Enabled {
		if cfg.Relay.URL == "" {
			return fmt.Errorf("relay.url is required when the rfq source is enabled")
		}
		if cfg.Relay.ReconnectDelay <= 0 {
			return fmt.Errorf("relay.reconnect_delay must be greater than 0")
		}
	}

	if cfg.Sources.Pool.Enabled {
		if cfg.Sources.Pool.URL == "" {
			return fmt.Errorf("sources.pool.url is required when the pool source is enabled")
		}
		if cfg.Sources.Pool.IntervalMs <= 0 {
			return fmt.Errorf("sources.pool.interval_ms must be greater than 0")
		}
		if cfg.Sources.Pool.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("sources.pool.rate_limit.requests_per_second must be greater than 0")
		}
	}

	if cfg.Sources.Vault.Enabled {
		if cfg.Sources.Vault.URL == "" {
			return fmt.Errorf("sources.vault.url is required when the vault source is enabled")
		}
		if cfg.Sources.Vault.IntervalMs <= 0 {
			return fmt.Errorf("sources.vault.interval_ms must be greater than 0")
		}
		if cfg.Sources.Vault.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("sources.vault.rate_limit.requests_per_second must be greater than 0")
		}
	}

	return nil
}
