package config

import (
	"github.com/dmitrijs2005/nodesync/internal/flagx"
	"github.com/dmitrijs2005/nodesync/internal/timex"
)

// fileConfig is the on-disk shape of Config. It is seeded from the current
// values so that absent keys keep them.
type fileConfig struct {
	ServerAddr        string         `json:"server_addr" yaml:"server_addr"`
	DatabasePath      string         `json:"database_path" yaml:"database_path"`
	DeviceID          string         `json:"device_id" yaml:"device_id"`
	LogLevel          string         `json:"log_level" yaml:"log_level"`
	LogFormat         string         `json:"log_format" yaml:"log_format"`
	PingInterval      timex.Duration `json:"ping_interval" yaml:"ping_interval"`
	IdleTimeout       timex.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	RequestTimeout    timex.Duration `json:"request_timeout" yaml:"request_timeout"`
	ReconnectMin      timex.Duration `json:"reconnect_min" yaml:"reconnect_min"`
	ReconnectMax      timex.Duration `json:"reconnect_max" yaml:"reconnect_max"`
	OfflineRetryDelay timex.Duration `json:"offline_retry_delay" yaml:"offline_retry_delay"`
	OutboundBatchSize int            `json:"outbound_batch_size" yaml:"outbound_batch_size"`
	MaxConcurrentJobs int            `json:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`
}

func parseFile(cfg *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	fc := fileConfig{
		ServerAddr:        cfg.ServerAddr,
		DatabasePath:      cfg.DatabasePath,
		DeviceID:          cfg.DeviceID,
		LogLevel:          cfg.LogLevel,
		LogFormat:         cfg.LogFormat,
		PingInterval:      timex.Duration{Duration: cfg.PingInterval},
		IdleTimeout:       timex.Duration{Duration: cfg.IdleTimeout},
		RequestTimeout:    timex.Duration{Duration: cfg.RequestTimeout},
		ReconnectMin:      timex.Duration{Duration: cfg.ReconnectMin},
		ReconnectMax:      timex.Duration{Duration: cfg.ReconnectMax},
		OfflineRetryDelay: timex.Duration{Duration: cfg.OfflineRetryDelay},
		OutboundBatchSize: cfg.OutboundBatchSize,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
	}
	if err := flagx.DecodeConfigFile(path, &fc); err != nil {
		return err
	}

	cfg.ServerAddr = fc.ServerAddr
	cfg.DatabasePath = fc.DatabasePath
	cfg.DeviceID = fc.DeviceID
	cfg.LogLevel = fc.LogLevel
	cfg.LogFormat = fc.LogFormat
	cfg.PingInterval = fc.PingInterval.Duration
	cfg.IdleTimeout = fc.IdleTimeout.Duration
	cfg.RequestTimeout = fc.RequestTimeout.Duration
	cfg.ReconnectMin = fc.ReconnectMin.Duration
	cfg.ReconnectMax = fc.ReconnectMax.Duration
	cfg.OfflineRetryDelay = fc.OfflineRetryDelay.Duration
	cfg.OutboundBatchSize = fc.OutboundBatchSize
	cfg.MaxConcurrentJobs = fc.MaxConcurrentJobs
	return nil
}
