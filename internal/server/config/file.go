package config

import (
	"github.com/dmitrijs2005/nodesync/internal/flagx"
	"github.com/dmitrijs2005/nodesync/internal/timex"
)

// fileConfig is the on-disk shape of Config. Durations accept both "15m" and
// integer nanoseconds.
type fileConfig struct {
	GRPCAddr       string         `json:"grpc_addr" yaml:"grpc_addr"`
	DatabaseDSN    string         `json:"database_dsn" yaml:"database_dsn"`
	Memory         bool           `json:"memory" yaml:"memory"`
	SecretKey      string         `json:"secret_key" yaml:"secret_key"`
	AccessTokenTTL timex.Duration `json:"access_token_ttl" yaml:"access_token_ttl"`
	PullPageSize   int            `json:"pull_page_size" yaml:"pull_page_size"`
	LogLevel       string         `json:"log_level" yaml:"log_level"`
	LogFormat      string         `json:"log_format" yaml:"log_format"`
	S3User         string         `json:"s3_user" yaml:"s3_user"`
	S3Password     string         `json:"s3_password" yaml:"s3_password"`
	S3Bucket       string         `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region       string         `json:"s3_region" yaml:"s3_region"`
	S3Endpoint     string         `json:"s3_endpoint" yaml:"s3_endpoint"`
	PresignTTL     timex.Duration `json:"presign_ttl" yaml:"presign_ttl"`
}

func parseFile(cfg *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	fc := fileConfig{
		GRPCAddr:       cfg.GRPCAddr,
		DatabaseDSN:    cfg.DatabaseDSN,
		Memory:         cfg.Memory,
		SecretKey:      cfg.SecretKey,
		AccessTokenTTL: timex.Duration{Duration: cfg.AccessTokenTTL},
		PullPageSize:   cfg.PullPageSize,
		LogLevel:       cfg.LogLevel,
		LogFormat:      cfg.LogFormat,
		S3User:         cfg.S3User,
		S3Password:     cfg.S3Password,
		S3Bucket:       cfg.S3Bucket,
		S3Region:       cfg.S3Region,
		S3Endpoint:     cfg.S3Endpoint,
		PresignTTL:     timex.Duration{Duration: cfg.PresignTTL},
	}
	if err := flagx.DecodeConfigFile(path, &fc); err != nil {
		return err
	}

	cfg.GRPCAddr = fc.GRPCAddr
	cfg.DatabaseDSN = fc.DatabaseDSN
	cfg.Memory = fc.Memory
	cfg.SecretKey = fc.SecretKey
	cfg.AccessTokenTTL = fc.AccessTokenTTL.Duration
	cfg.PullPageSize = fc.PullPageSize
	cfg.LogLevel = fc.LogLevel
	cfg.LogFormat = fc.LogFormat
	cfg.S3User = fc.S3User
	cfg.S3Password = fc.S3Password
	cfg.S3Bucket = fc.S3Bucket
	cfg.S3Region = fc.S3Region
	cfg.S3Endpoint = fc.S3Endpoint
	cfg.PresignTTL = fc.PresignTTL.Duration
	return nil
}
