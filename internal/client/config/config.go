package config

import (
	"fmt"
	"time"
)

// Config holds runtime settings for the nodesync client.
type Config struct {
	ServerAddr   string
	DatabasePath string
	// DeviceID overrides the id stored in the local database when set.
	DeviceID  string
	LogLevel  string
	LogFormat string

	PingInterval      time.Duration
	IdleTimeout       time.Duration
	RequestTimeout    time.Duration
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration
	OfflineRetryDelay time.Duration

	OutboundBatchSize int
	MaxConcurrentJobs int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerAddr = "127.0.0.1:50051"
	c.DatabasePath = "nodesync.db"
	c.DeviceID = ""
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.PingInterval = 15 * time.Second
	c.IdleTimeout = 45 * time.Second
	c.RequestTimeout = 30 * time.Second
	c.ReconnectMin = time.Second
	c.ReconnectMax = time.Minute
	c.OfflineRetryDelay = 5 * time.Second
	c.OutboundBatchSize = 100
	c.MaxConcurrentJobs = 4
}

func (c *Config) validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.OutboundBatchSize <= 0 {
		return fmt.Errorf("outbound batch size must be positive, got %d", c.OutboundBatchSize)
	}
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("max concurrent jobs must be positive, got %d", c.MaxConcurrentJobs)
	}
	if c.IdleTimeout <= c.PingInterval {
		return fmt.Errorf("idle timeout %s must exceed ping interval %s", c.IdleTimeout, c.PingInterval)
	}
	if c.ReconnectMax < c.ReconnectMin {
		return fmt.Errorf("reconnect max %s is below reconnect min %s", c.ReconnectMax, c.ReconnectMin)
	}
	return nil
}

// Load builds a Config from defaults, then the config file named in args,
// then the flags in args. args excludes the program name.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseFile(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
