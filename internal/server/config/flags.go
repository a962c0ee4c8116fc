package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-g string   gRPC health bind address
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-k string   key derivation pepper
//	-t int      beneficiary access token validity, hours
//	-q string   queue backend (memory|redis)
//	-r string   Redis address
//	-b string   blob backend (s3|minio)
//	-e string   S3/MinIO endpoint
//
// os.Args is filtered with flagx.FilterArgs first, so -c/-config and other
// components' flags do not cause parse errors.
func parseFlags(config *Config) error {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-g", "-d", "-s", "-k", "-t", "-q", "-r", "-b", "-e"})

	fs := flag.NewFlagSet("keepsake", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP address and port")
	fs.StringVar(&config.GRPCHealthAddr, "g", config.GRPCHealthAddr, "gRPC health address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.KeyPepper, "k", config.KeyPepper, "key derivation pepper")

	accessTokenHours := fs.Int("t", int(config.AccessTokenValidity.Hours()), "beneficiary access token validity (in hours)")

	fs.StringVar(&config.QueueBackend, "q", config.QueueBackend, "queue backend (memory|redis)")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	fs.StringVar(&config.BlobBackend, "b", config.BlobBackend, "blob backend (s3|minio)")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		return err
	}

	config.AccessTokenValidity = time.Duration(*accessTokenHours) * time.Hour
	return nil
}
