package flash

import (
	"context"
	"io"
)

// Session is an exclusive connection to one bootloader.
//
// Implementations answer one request at a time; the Flasher never overlaps a
// download and its commit. Every error is fatal to the current flash.
type Session interface {
	// GetVar returns the value of a device variable.
	GetVar(ctx context.Context, name string) (string, error)

	// Download announces size bytes of staged data and returns the upload
	// that carries them. The device may reject sizes above its own limit.
	Download(ctx context.Context, size uint32) (Upload, error)

	// Flash commits the staged data to partition.
	Flash(ctx context.Context, partition string) error

	// Reboot restarts the device.
	Reboot(ctx context.Context) error
}

// Upload is the data phase of a download.
type Upload interface {
	// Write appends up to Remaining bytes. Writing past the declared size
	// returns ErrUploadOverflow.
	io.Writer

	// Remaining returns the number of bytes still expected.
	Remaining() uint32

	// Finish waits for the device to acknowledge the download. It fails if
	// fewer bytes than declared were written.
	Finish(ctx context.Context) error

	// Abort abandons an upload that will not be finished. The device is
	// still waiting for data, so the session must not be used for anything
	// but recovery afterwards.
	Abort() error
}

// Source is a local image with random access and a known size.
// *os.File wrapped by source.Open, *bytes.Reader and *strings.Reader satisfy it.
type Source interface {
	io.ReaderAt
	Size() int64
}
