package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/keepsake/internal/flagx"
	"github.com/dmitrijs2005/keepsake/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of the configuration. Duration fields use
// timex.Duration so both "72h" and integer nanoseconds are accepted.
// Zero values leave the current setting untouched.
type FileConfig struct {
	HTTPAddr       string `json:"http_addr" yaml:"http_addr"`
	GRPCHealthAddr string `json:"grpc_health_addr" yaml:"grpc_health_addr"`
	DatabaseDSN    string `json:"database_dsn" yaml:"database_dsn"`
	LogLevel       string `json:"log_level" yaml:"log_level"`

	SecretKey string `json:"secret_key" yaml:"secret_key"`
	KeyPepper string `json:"key_pepper" yaml:"key_pepper"`

	AccessTokenValidity timex.Duration `json:"access_token_validity" yaml:"access_token_validity"`
	InvitationValidity  timex.Duration `json:"invitation_validity" yaml:"invitation_validity"`

	TrustedPersonDelayHours *int           `json:"trusted_person_delay_hours" yaml:"trusted_person_delay_hours"`
	BeneficiaryDelayHours   *int           `json:"beneficiary_delay_hours" yaml:"beneficiary_delay_hours"`
	DateScanInterval        timex.Duration `json:"date_scan_interval" yaml:"date_scan_interval"`
	RecoveryGrace           timex.Duration `json:"recovery_grace" yaml:"recovery_grace"`

	QueueBackend       string         `json:"queue_backend" yaml:"queue_backend"`
	RedisAddr          string         `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword      string         `json:"redis_password" yaml:"redis_password"`
	RedisDB            *int           `json:"redis_db" yaml:"redis_db"`
	WorkerPollInterval timex.Duration `json:"worker_poll_interval" yaml:"worker_poll_interval"`
	RetryBackoffBase   timex.Duration `json:"retry_backoff_base" yaml:"retry_backoff_base"`

	BlobBackend    string `json:"blob_backend" yaml:"blob_backend"`
	S3RootUser     string `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password" yaml:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region       string `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`

	RateLimitPerSecond float64 `json:"rate_limit_per_second" yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `json:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// parseFile overlays values from the file given with -c/-config.
// Files ending in .yaml or .yml are decoded as YAML, anything else as JSON.
func parseFile(config *Config) error {
	path := flagx.ConfigFileFlag()
	if path == "" {
		return nil
	}
	return loadFile(config, path)
}

func loadFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	fc := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, fc)
	default:
		err = json.Unmarshal(data, fc)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	fc.apply(config)
	return nil
}

func (fc *FileConfig) apply(c *Config) {
	setString(&c.HTTPAddr, fc.HTTPAddr)
	setString(&c.GRPCHealthAddr, fc.GRPCHealthAddr)
	setString(&c.DatabaseDSN, fc.DatabaseDSN)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.SecretKey, fc.SecretKey)
	setString(&c.KeyPepper, fc.KeyPepper)
	setString(&c.QueueBackend, fc.QueueBackend)
	setString(&c.RedisAddr, fc.RedisAddr)
	setString(&c.RedisPassword, fc.RedisPassword)
	setString(&c.BlobBackend, fc.BlobBackend)
	setString(&c.S3RootUser, fc.S3RootUser)
	setString(&c.S3RootPassword, fc.S3RootPassword)
	setString(&c.S3Bucket, fc.S3Bucket)
	setString(&c.S3Region, fc.S3Region)
	setString(&c.S3BaseEndpoint, fc.S3BaseEndpoint)

	if fc.AccessTokenValidity.Duration != 0 {
		c.AccessTokenValidity = fc.AccessTokenValidity.Duration
	}
	if fc.InvitationValidity.Duration != 0 {
		c.InvitationValidity = fc.InvitationValidity.Duration
	}
	if fc.DateScanInterval.Duration != 0 {
		c.DateScanInterval = fc.DateScanInterval.Duration
	}
	if fc.RecoveryGrace.Duration != 0 {
		c.RecoveryGrace = fc.RecoveryGrace.Duration
	}
	if fc.WorkerPollInterval.Duration != 0 {
		c.WorkerPollInterval = fc.WorkerPollInterval.Duration
	}
	if fc.RetryBackoffBase.Duration != 0 {
		c.RetryBackoffBase = fc.RetryBackoffBase.Duration
	}

	// delays of 0 are meaningful, so these are pointers
	if fc.TrustedPersonDelayHours != nil {
		c.TrustedPersonDelayHours = *fc.TrustedPersonDelayHours
	}
	if fc.BeneficiaryDelayHours != nil {
		c.BeneficiaryDelayHours = *fc.BeneficiaryDelayHours
	}
	if fc.RedisDB != nil {
		c.RedisDB = *fc.RedisDB
	}

	if fc.RateLimitPerSecond != 0 {
		c.RateLimitPerSecond = fc.RateLimitPerSecond
	}
	if fc.RateLimitBurst != 0 {
		c.RateLimitBurst = fc.RateLimitBurst
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
