// Package flashtest provides an in-memory flash.Session for tests.
//
// Device behaves like a fastboot bootloader: it enforces its download limit,
// rejects writes past the declared size, and on every commit decodes the staged
// sparse unit into the partition's blocks. A commit that is not a sparse image
// is written from the start of the partition, as a real bootloader does.
//
//	dev := flashtest.NewDevice(1 << 20)
//	f := flash.New(dev)
//	err := f.Flash(ctx, "root", bytes.NewReader(image))
//
//	want, _ := flashtest.Expand(image)
//	assert.Equal(t, want, dev.Partition("root").Blocks)
package flashtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/moffa90/go-fastflash/flash"
	"github.com/moffa90/go-fastflash/protocol"
	"github.com/moffa90/go-fastflash/sparse"
)

// Command names passed to Device.Fail.
const (
	OpGetVar   = "getvar"
	OpDownload = "download"
	OpWrite    = "write"
	OpFinish   = "finish"
	OpFlash    = "flash"
	OpErase    = "erase"
	OpReboot   = "reboot"
)

// Partition is the content the device holds for one partition.
type Partition struct {
	// BlockSize is the block size of the sparse units written so far
	BlockSize uint32

	// Blocks holds every block written by sparse units
	Blocks Blocks

	// Raw is the partition as written by non-sparse commits, each of which
	// overwrites it from offset 0
	Raw []byte

	// Commits counts flash commands for this partition
	Commits int
}

// Device is an in-memory bootloader implementing flash.Session.
// It is safe for concurrent use.
type Device struct {
	// Vars answers GetVar. Unknown names are rejected.
	Vars map[string]string

	// Limit rejects downloads larger than it when non-zero
	Limit uint32

	// Fail, if set, is called before each operation with its name and
	// 1-based call count. A non-nil result is returned by the operation.
	Fail func(op string, n int) error

	mu         sync.Mutex
	commands   []string
	calls      map[string]int
	partitions map[string]*Partition
	staged     []byte
	upload     *upload
	reboots    int
	aborts     int

	inFlight int32
	overlaps int32
}

// NewDevice returns a device reporting limit as its max-download-size.
func NewDevice(limit uint32) *Device {
	return &Device{
		Vars: map[string]string{
			protocol.VarMaxDownloadSize: fmt.Sprintf("0x%08x", limit),
			protocol.VarVersion:         protocol.ProtocolVersion,
			protocol.VarProduct:         "flashtest",
		},
		Limit: limit,
	}
}

// enter marks a request in flight and records overlapping requests.
func (d *Device) enter() func() {
	if atomic.AddInt32(&d.inFlight, 1) > 1 {
		atomic.AddInt32(&d.overlaps, 1)
	}
	return func() { atomic.AddInt32(&d.inFlight, -1) }
}

// begin records cmd and runs the failure hook. Callers hold d.mu.
func (d *Device) begin(ctx context.Context, op, cmd string) error {
	if cmd != "" {
		d.commands = append(d.commands, cmd)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", flash.ErrDeviceUnresponsive, err)
	}

	if d.calls == nil {
		d.calls = make(map[string]int)
	}
	d.calls[op]++
	if d.Fail != nil {
		return d.Fail(op, d.calls[op])
	}
	return nil
}

func reject(op, msg string) error {
	return fmt.Errorf("%w: %w", flash.ErrRejected, &protocol.ProtocolError{Operation: op, Message: msg})
}

// GetVar implements flash.Session.
func (d *Device) GetVar(ctx context.Context, name string) (string, error) {
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, OpGetVar, protocol.CmdGetVar+":"+name); err != nil {
		return "", err
	}
	if d.upload != nil {
		return "", d.interrupted(OpGetVar)
	}

	v, ok := d.Vars[name]
	if !ok {
		return "", reject(protocol.CmdGetVar, "unknown variable")
	}
	return v, nil
}

// Download implements flash.Session.
func (d *Device) Download(ctx context.Context, size uint32) (flash.Upload, error) {
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, OpDownload, fmt.Sprintf("%s:%08x", protocol.CmdDownload, size)); err != nil {
		return nil, err
	}
	if d.upload != nil {
		return nil, d.interrupted(OpDownload)
	}
	if size == 0 {
		return nil, reject(protocol.CmdDownload, "zero length download")
	}
	if d.Limit > 0 && size > d.Limit {
		return nil, reject(protocol.CmdDownload, "data too large")
	}

	d.staged = nil
	d.upload = &upload{device: d, size: size, data: make([]byte, 0, size)}
	return d.upload, nil
}

// Flash implements flash.Session. The staged download is decoded into the
// partition and consumed.
func (d *Device) Flash(ctx context.Context, partition string) error {
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, OpFlash, protocol.CmdFlash+":"+partition); err != nil {
		return err
	}
	if d.upload != nil {
		return d.interrupted(OpFlash)
	}
	if d.staged == nil {
		return reject(protocol.CmdFlash, "no data downloaded")
	}

	data := d.staged
	d.staged = nil

	p := d.partition(partition)
	p.Commits++

	blocks := make(Blocks)
	blockSize, err := blocks.apply(data)
	switch {
	case errors.Is(err, sparse.ErrNotSparse):
		if len(data) > len(p.Raw) {
			p.Raw = append(p.Raw, make([]byte, len(data)-len(p.Raw))...)
		}
		copy(p.Raw, data)
		return nil
	case err != nil:
		return reject(protocol.CmdFlash, fmt.Sprintf("invalid sparse image: %v", err))
	case p.BlockSize != 0 && p.BlockSize != blockSize:
		return reject(protocol.CmdFlash, fmt.Sprintf("block size %d does not match %d", blockSize, p.BlockSize))
	}

	p.BlockSize = blockSize
	for n, b := range blocks {
		p.Blocks[n] = b
	}
	return nil
}

// Erase drops everything written to partition.
func (d *Device) Erase(ctx context.Context, partition string) error {
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, OpErase, protocol.CmdErase+":"+partition); err != nil {
		return err
	}
	if d.upload != nil {
		return d.interrupted(OpErase)
	}

	p := d.partition(partition)
	p.BlockSize = 0
	p.Blocks = make(Blocks)
	p.Raw = nil
	return nil
}

// Reboot implements flash.Session.
func (d *Device) Reboot(ctx context.Context) error {
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, OpReboot, protocol.CmdReboot); err != nil {
		return err
	}

	d.upload = nil
	d.staged = nil
	d.reboots++
	return nil
}

// interrupted counts a command issued while an upload was open.
func (d *Device) interrupted(op string) error {
	atomic.AddInt32(&d.overlaps, 1)
	return reject(op, "download in progress")
}

func (d *Device) partition(name string) *Partition {
	if d.partitions == nil {
		d.partitions = make(map[string]*Partition)
	}
	p, ok := d.partitions[name]
	if !ok {
		p = &Partition{Blocks: make(Blocks)}
		d.partitions[name] = p
	}
	return p
}

// Partition returns what has been written to name, or nil.
func (d *Device) Partition(name string) *Partition {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.partitions[name]
}

// Commands returns every command received, in order, in wire form.
func (d *Device) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.commands...)
}

// Reboots returns the number of reboot commands received.
func (d *Device) Reboots() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.reboots
}

// Aborts returns the number of uploads abandoned before Finish.
func (d *Device) Aborts() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.aborts
}

// Overlaps returns the number of requests that arrived while another request
// or an open upload was in progress.
func (d *Device) Overlaps() int {
	return int(atomic.LoadInt32(&d.overlaps))
}

// upload is the data phase of a Device download.
type upload struct {
	device *Device
	size   uint32
	data   []byte
	done   bool
}

func (u *upload) Write(p []byte) (int, error) {
	d := u.device
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(context.Background(), OpWrite, ""); err != nil {
		return 0, err
	}
	if u.done {
		return 0, fmt.Errorf("%w: upload already finished", flash.ErrRejected)
	}

	remaining := int(u.size) - len(u.data)
	if len(p) > remaining {
		u.data = append(u.data, p[:remaining]...)
		return remaining, flash.ErrUploadOverflow
	}
	u.data = append(u.data, p...)
	return len(p), nil
}

func (u *upload) Remaining() uint32 {
	u.device.mu.Lock()
	defer u.device.mu.Unlock()

	return u.size - uint32(len(u.data))
}

func (u *upload) Finish(ctx context.Context) error {
	d := u.device
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, OpFinish, ""); err != nil {
		return err
	}
	if u.done {
		return fmt.Errorf("%w: upload already finished", flash.ErrRejected)
	}
	if len(u.data) != int(u.size) {
		return reject(protocol.CmdDownload, fmt.Sprintf("received %d of %d bytes", len(u.data), u.size))
	}

	u.done = true
	d.upload = nil
	d.staged = u.data
	return nil
}

// Abort drops the upload. The device accepts commands again, as after a
// reboot of a real bootloader.
func (u *upload) Abort() error {
	d := u.device
	d.mu.Lock()
	defer d.mu.Unlock()

	if u.done {
		return fmt.Errorf("%w: upload already finished", flash.ErrRejected)
	}

	u.done = true
	d.upload = nil
	d.aborts++
	return nil
}
