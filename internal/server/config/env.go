package config

import (
	"os"
	"strconv"
	"time"
)

// parseEnv overlays KEEPSAKE_* environment variables. Malformed numeric or
// duration values are ignored.
func parseEnv(c *Config) {
	envString("KEEPSAKE_HTTP_ADDR", &c.HTTPAddr)
	envString("KEEPSAKE_GRPC_HEALTH_ADDR", &c.GRPCHealthAddr)
	envString("KEEPSAKE_DATABASE_DSN", &c.DatabaseDSN)
	envString("KEEPSAKE_LOG_LEVEL", &c.LogLevel)
	envString("KEEPSAKE_SECRET_KEY", &c.SecretKey)
	envString("KEEPSAKE_KEY_PEPPER", &c.KeyPepper)
	envString("KEEPSAKE_QUEUE_BACKEND", &c.QueueBackend)
	envString("KEEPSAKE_REDIS_ADDR", &c.RedisAddr)
	envString("KEEPSAKE_REDIS_PASSWORD", &c.RedisPassword)
	envInt("KEEPSAKE_REDIS_DB", &c.RedisDB)
	envString("KEEPSAKE_BLOB_BACKEND", &c.BlobBackend)
	envString("KEEPSAKE_S3_ROOT_USER", &c.S3RootUser)
	envString("KEEPSAKE_S3_ROOT_PASSWORD", &c.S3RootPassword)
	envString("KEEPSAKE_S3_BUCKET", &c.S3Bucket)
	envString("KEEPSAKE_S3_REGION", &c.S3Region)
	envString("KEEPSAKE_S3_BASE_ENDPOINT", &c.S3BaseEndpoint)
	envInt("KEEPSAKE_TRUSTED_PERSON_DELAY_HOURS", &c.TrustedPersonDelayHours)
	envInt("KEEPSAKE_BENEFICIARY_DELAY_HOURS", &c.BeneficiaryDelayHours)
	envDuration("KEEPSAKE_DATE_SCAN_INTERVAL", &c.DateScanInterval)
	envDuration("KEEPSAKE_RECOVERY_GRACE", &c.RecoveryGrace)
	envDuration("KEEPSAKE_WORKER_POLL_INTERVAL", &c.WorkerPollInterval)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
