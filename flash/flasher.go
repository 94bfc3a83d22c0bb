package flash

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/go-units"

	"github.com/moffa90/go-fastflash/protocol"
	"github.com/moffa90/go-fastflash/sparse"
)

// Flasher writes images to device partitions over a Session.
//
// Flasher is safe for concurrent use; operations on one Flasher are serialized
// so the session never sees overlapping requests.
type Flasher struct {
	session Session
	config  Config
	mu      sync.Mutex
}

// New creates a new Flasher with the given session and options.
//
// Example:
//
//	client := fastboot.New(transport)
//	f := flash.New(client,
//	    flash.WithProgressCallback(progressFunc),
//	    flash.WithLogger(myLogger),
//	)
func New(session Session, opts ...Option) *Flasher {
	if session == nil {
		panic("session cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Flasher{
		session: session,
		config:  cfg,
	}
}

// Flash writes src to partition:
//  1. Query the device max-download-size
//  2. Parse src as a sparse image, falling back to a raw transfer
//  3. Split the source into units no larger than max-download-size
//  4. For each unit: download it, commit it to partition, report progress
//  5. Reboot, if WithRebootAfter is set
//
// An empty source succeeds without any download. Any failure returns a
// *StageError and leaves already committed units in place.
//
// Cancellation is checked between units. A unit that has started is always
// carried to its commit or to an error. An upload that fails before it is
// finished is aborted; the device is then left mid-download and must be
// rebooted, which for a fastboot.Client means reopening its transport.
//
// Example:
//
//	src, _ := source.Open("rootfs.img")
//	defer src.Close()
//	err := f.Flash(context.Background(), "root", src)
func (f *Flasher) Flash(ctx context.Context, partition string, src Source) error {
	if src == nil {
		return fmt.Errorf("source cannot be nil")
	}
	if partition == "" {
		return fmt.Errorf("partition cannot be empty")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	startTime := time.Now()

	plan, err := f.plan(ctx, src)
	if err != nil {
		return err
	}

	f.logInfo("flashing",
		"partition", partition,
		"strategy", plan.Strategy.String(),
		"units", len(plan.Units),
		"size", units.BytesSize(float64(plan.SourceSize)),
		"max_download", units.BytesSize(float64(plan.MaxDownloadSize)),
	)

	buf := make([]byte, f.config.CopyBufferSize)
	var bytesWritten int64
	for i, unit := range plan.Units {
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: StageUpload, Unit: i + 1, Err: fmt.Errorf("cancelled: %w", err)}
		}

		f.logDebug("downloading unit",
			"unit", i+1,
			"size", unit.Size(),
			"first_block", unit.FirstBlock(),
			"blocks", unit.Blocks(),
			"chunks", len(unit.Chunks),
		)

		if err := f.upload(ctx, src, unit, buf); err != nil {
			f.logError("upload failed", "unit", i+1, "error", err)
			return &StageError{Stage: StageUpload, Unit: i + 1, Err: err}
		}

		if err := f.session.Flash(ctx, partition); err != nil {
			f.logError("commit failed", "unit", i+1, "partition", partition, "error", err)
			return &StageError{Stage: StageCommit, Unit: i + 1, Err: err}
		}

		bytesWritten += unit.Size()
		f.reportProgress(Progress{
			Partition:    partition,
			Strategy:     plan.Strategy,
			CurrentUnit:  i + 1,
			TotalUnits:   len(plan.Units),
			Percentage:   float64(i+1) / float64(len(plan.Units)) * 100,
			BytesWritten: bytesWritten,
			ElapsedTime:  time.Since(startTime),
		})
	}

	if f.config.RebootAfter {
		if err := f.session.Reboot(ctx); err != nil {
			return &StageError{Stage: StageReboot, Err: err}
		}
	}

	f.logInfo("flash complete",
		"partition", partition,
		"units", len(plan.Units),
		"bytes", units.BytesSize(float64(bytesWritten)),
		"elapsed", time.Since(startTime).String(),
	)

	return nil
}

// Plan queries the device limit and decides how src would be transferred,
// without uploading anything.
func (f *Flasher) Plan(ctx context.Context, src Source) (*Plan, error) {
	if src == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.plan(ctx, src)
}

func (f *Flasher) plan(ctx context.Context, src Source) (*Plan, error) {
	limit, err := f.maxDownloadSize(ctx)
	if err != nil {
		return nil, &StageError{Stage: StageQuery, Err: err}
	}
	return planSource(src, limit, f.config.RawBlockSize)
}

// MaxDownloadSize returns the effective per-download limit: the device
// max-download-size, capped by WithMaxDownloadSize.
func (f *Flasher) MaxDownloadSize(ctx context.Context) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.maxDownloadSize(ctx)
}

func (f *Flasher) maxDownloadSize(ctx context.Context) (uint32, error) {
	value, err := f.session.GetVar(ctx, protocol.VarMaxDownloadSize)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", protocol.VarMaxDownloadSize, err)
	}

	limit, err := protocol.ParseSize(value)
	if err != nil {
		return 0, err
	}
	if limit == 0 {
		return 0, fmt.Errorf("device reported %s of zero", protocol.VarMaxDownloadSize)
	}

	f.logDebug("device limit", protocol.VarMaxDownloadSize, units.BytesSize(float64(limit)))

	if f.config.MaxDownloadSize > 0 && f.config.MaxDownloadSize < limit {
		limit = f.config.MaxDownloadSize
	}
	return limit, nil
}

// Reboot restarts the device.
func (f *Flasher) Reboot(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.session.Reboot(ctx); err != nil {
		return &StageError{Stage: StageReboot, Err: err}
	}
	return nil
}

// upload sends one unit: the synthesized headers, then either the raw range
// and its block padding or, per chunk, the chunk header and its payload read
// from src at the recorded offset.
func (f *Flasher) upload(ctx context.Context, src Source, unit sparse.Unit, buf []byte) error {
	up, err := f.session.Download(ctx, uint32(unit.Size()))
	if err != nil {
		return fmt.Errorf("download %d bytes: %w", unit.Size(), err)
	}

	if err := writeUnit(up, src, unit, buf); err != nil {
		if abortErr := up.Abort(); abortErr != nil {
			f.logError("abort failed", "error", abortErr)
		}
		return err
	}

	if err := up.Finish(ctx); err != nil {
		return fmt.Errorf("finish download: %w", err)
	}
	return nil
}

// writeUnit writes the unit's bytes into an open upload.
func writeUnit(up Upload, src Source, unit sparse.Unit, buf []byte) error {
	if hdr := unit.HeaderBytes(); len(hdr) > 0 {
		if _, err := up.Write(hdr); err != nil {
			return fmt.Errorf("write sparse header: %w", err)
		}
	}

	if unit.IsRaw() {
		if err := copyRange(up, src, unit.Raw.Offset, unit.Raw.Length, buf); err != nil {
			return err
		}
		if unit.Pad > 0 {
			if _, err := up.Write(make([]byte, unit.Pad)); err != nil {
				return fmt.Errorf("write block padding: %w", err)
			}
		}
	} else {
		for _, c := range unit.Chunks {
			if _, err := up.Write(c.HeaderBytes()); err != nil {
				return fmt.Errorf("write %s chunk header: %w", c.Type, err)
			}
			if err := copyRange(up, src, c.Offset, c.DataSize, buf); err != nil {
				return err
			}
		}
	}
	return nil
}

// copyRange streams n bytes of src starting at off into dst.
// Source failures wrap sparse.ErrReadFailed; device failures are returned as is.
func copyRange(dst io.Writer, src io.ReaderAt, off, n int64, buf []byte) error {
	for n > 0 {
		chunk := buf
		if int64(len(chunk)) > n {
			chunk = chunk[:n]
		}

		m, err := src.ReadAt(chunk, off)
		if m < len(chunk) {
			if err == nil || err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return fmt.Errorf("%w: offset %d: %v", sparse.ErrReadFailed, off+int64(m), err)
		}

		if _, err := dst.Write(chunk); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}

		off += int64(m)
		n -= int64(m)
	}
	return nil
}

// reportProgress calls the progress callback if configured. A panicking
// callback is logged and otherwise ignored.
func (f *Flasher) reportProgress(progress Progress) {
	if f.config.ProgressCallback == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			f.logError("progress callback panicked", "panic", r, "unit", progress.CurrentUnit)
		}
	}()
	f.config.ProgressCallback(progress)
}

// logDebug logs a debug message if a logger is configured.
func (f *Flasher) logDebug(msg string, keysAndValues ...interface{}) {
	if f.config.Logger != nil {
		f.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (f *Flasher) logInfo(msg string, keysAndValues ...interface{}) {
	if f.config.Logger != nil {
		f.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (f *Flasher) logError(msg string, keysAndValues ...interface{}) {
	if f.config.Logger != nil {
		f.config.Logger.Error(msg, keysAndValues...)
	}
}
