package fastboot

import (
	"time"

	"github.com/moffa90/go-fastflash/flash"
)

// Config holds the client configuration.
type Config struct {
	// Logger receives command traces and INFO/TEXT messages (optional)
	Logger flash.Logger

	// PacketSize is the largest transport write used during a data phase
	PacketSize int

	// ReadTimeout bounds each response read when the context has no deadline
	// and the transport supports read deadlines. Zero disables it.
	ReadTimeout time.Duration
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		PacketSize:  1 << 20,
		ReadTimeout: 30 * time.Second,
	}
}

// Option is a functional option for configuring the Client.
type Option func(*Config)

// WithLogger sets a logger for protocol traffic.
//
// Example:
//
//	client := fastboot.New(transport, fastboot.WithLogger(myLogger))
func WithLogger(logger flash.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithPacketSize sets the largest single transport write during a download.
// USB bulk endpoints usually want a multiple of 512. Non-positive values are ignored.
func WithPacketSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.PacketSize = size
		}
	}
}

// WithReadTimeout sets how long to wait for each response.
// Default is 30 seconds. Erasing or flashing a large partition can take longer.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.ReadTimeout = timeout
	}
}
