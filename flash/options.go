package flash

import "github.com/moffa90/go-fastflash/sparse"

// Config holds the flasher configuration.
type Config struct {
	// ProgressCallback is called after every committed unit (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// MaxDownloadSize caps the device-reported max-download-size.
	// Zero means use the device value unchanged.
	MaxDownloadSize uint32

	// RebootAfter reboots the device once every unit has been committed
	RebootAfter bool

	// CopyBufferSize is the size of the buffer used to stream payloads
	CopyBufferSize int

	// RawBlockSize is the block size used to frame split raw images
	RawBlockSize uint32
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		CopyBufferSize: 1 << 20,
		RawBlockSize:   sparse.DefaultBlockSize,
	}
}

// Option is a functional option for configuring the Flasher.
type Option func(*Config)

// WithProgressCallback sets a callback function to track flash progress.
//
// Example:
//
//	f := flash.New(session,
//	    flash.WithProgressCallback(func(p flash.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for the flasher operations.
//
// Example:
//
//	f := flash.New(session, flash.WithLogger(myLogger))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMaxDownloadSize limits every download to at most size bytes, even if the
// device reports a larger max-download-size. Zero is ignored.
//
// Example:
//
//	f := flash.New(session, flash.WithMaxDownloadSize(64<<20))
func WithMaxDownloadSize(size uint32) Option {
	return func(c *Config) {
		c.MaxDownloadSize = size
	}
}

// WithRebootAfter enables or disables rebooting the device after a successful flash.
// Default is false.
func WithRebootAfter(reboot bool) Option {
	return func(c *Config) {
		c.RebootAfter = reboot
	}
}

// WithCopyBufferSize sets the buffer size used when streaming payloads to the device.
func WithCopyBufferSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.CopyBufferSize = size
		}
	}
}

// WithRawBlockSize sets the block size used to frame a raw image that is split
// across several downloads. It must be a multiple of 4; other values are
// ignored. Default is sparse.DefaultBlockSize.
func WithRawBlockSize(size uint32) Option {
	return func(c *Config) {
		if size > 0 && size%4 == 0 {
			c.RawBlockSize = size
		}
	}
}
