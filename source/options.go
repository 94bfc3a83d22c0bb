package source

import (
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Config holds the fetcher configuration.
type Config struct {
	// DownloadDir receives downloaded and decompressed images
	DownloadDir string

	// Logger reports download progress
	Logger log.Logger

	// Retries is the number of extra attempts for a failed S3 download
	Retries uint

	// S3Region is the region of s3:// buckets
	S3Region string

	// S3AccessKeyID and S3SecretAccessKey are static S3 credentials.
	// When empty, the default AWS credential chain is used.
	S3AccessKeyID     string
	S3SecretAccessKey string

	// S3Endpoint overrides the S3 endpoint, for S3-compatible stores
	S3Endpoint string
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		DownloadDir: filepath.Join(os.TempDir(), "fastflash"),
		Logger:      log.NewLogger(),
		Retries:     3,
		S3Region:    "us-east-1",
	}
}

// Option is a functional option for configuring the Fetcher.
type Option func(*Config)

// WithDownloadDir sets where fetched images are stored.
func WithDownloadDir(dir string) Option {
	return func(c *Config) {
		if dir != "" {
			c.DownloadDir = dir
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithRetries sets the number of extra attempts for S3 downloads.
// HTTP downloads use the retry policy of the HTTP client.
func WithRetries(retries uint) Option {
	return func(c *Config) {
		c.Retries = retries
	}
}

// WithS3Region sets the region of s3:// buckets.
func WithS3Region(region string) Option {
	return func(c *Config) {
		if region != "" {
			c.S3Region = region
		}
	}
}

// WithS3Credentials sets static S3 credentials.
//
// Example:
//
//	f := source.NewFetcher(
//	    source.WithS3Region("eu-west-1"),
//	    source.WithS3Credentials(os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")),
//	)
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *Config) {
		c.S3AccessKeyID = accessKeyID
		c.S3SecretAccessKey = secretAccessKey
	}
}

// WithS3Endpoint sets a custom S3 endpoint URL. Requests use path-style addressing.
func WithS3Endpoint(endpoint string) Option {
	return func(c *Config) {
		c.S3Endpoint = endpoint
	}
}
