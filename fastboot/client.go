package fastboot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/moffa90/go-fastflash/flash"
	"github.com/moffa90/go-fastflash/protocol"
)

// Client speaks the fastboot protocol over a half-duplex transport.
// It implements flash.Session.
//
// Client is safe for concurrent use; commands are serialized and no command
// may be issued while a download is open.
type Client struct {
	transport io.ReadWriter
	config    Config

	mu     sync.Mutex
	upload *upload

	// broken is set once the transport is in an unknown state
	broken error
}

var _ flash.Session = (*Client)(nil)

// New creates a Client on the given transport.
//
// Each Write on the transport must send one packet and each Read must return
// one response packet, as USB bulk endpoints and TCPTransport do.
//
// Example:
//
//	transport, _ := fastboot.DialTCP(ctx, "192.168.0.10:5554")
//	client := fastboot.New(transport,
//	    fastboot.WithLogger(myLogger),
//	    fastboot.WithReadTimeout(time.Minute),
//	)
func New(transport io.ReadWriter, opts ...Option) *Client {
	if transport == nil {
		panic("transport cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Client{
		transport: transport,
		config:    cfg,
	}
}

// GetVar queries a bootloader variable.
//
// Example:
//
//	size, err := client.GetVar(ctx, protocol.VarMaxDownloadSize)
func (c *Client) GetVar(ctx context.Context, name string) (string, error) {
	cmd, err := protocol.BuildGetVarCmd(name)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.command(ctx, protocol.CmdGetVar, cmd)
	if err != nil {
		return "", err
	}
	if err := c.expect(resp, protocol.KindOkay); err != nil {
		return "", err
	}
	return resp.Message(), nil
}

// Download announces size bytes of data. The device answers DATA with the
// size it will accept, and the returned Upload carries the payload.
// Until Finish returns, every other command fails.
func (c *Client) Download(ctx context.Context, size uint32) (flash.Upload, error) {
	cmd, err := protocol.BuildDownloadCmd(size)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.command(ctx, protocol.CmdDownload, cmd)
	if err != nil {
		return nil, err
	}
	if err := c.expect(resp, protocol.KindData); err != nil {
		return nil, err
	}

	accepted, err := protocol.ParseDataSize(resp.Payload)
	if err != nil {
		return nil, c.fail(fmt.Errorf("%w: %v", flash.ErrDeviceUnresponsive, err))
	}
	if accepted != size {
		return nil, c.fail(fmt.Errorf("%w: device expects %d bytes, announced %d",
			flash.ErrDeviceUnresponsive, accepted, size))
	}

	c.upload = &upload{client: c, size: size}
	c.logDebug("download started", "size", size)
	return c.upload, nil
}

// Flash writes the downloaded data to partition.
func (c *Client) Flash(ctx context.Context, partition string) error {
	cmd, err := protocol.BuildFlashCmd(partition)
	if err != nil {
		return err
	}
	return c.simple(ctx, protocol.CmdFlash, cmd)
}

// Erase erases partition.
func (c *Client) Erase(ctx context.Context, partition string) error {
	cmd, err := protocol.BuildEraseCmd(partition)
	if err != nil {
		return err
	}
	return c.simple(ctx, protocol.CmdErase, cmd)
}

// Reboot restarts the device into its normal boot path.
func (c *Client) Reboot(ctx context.Context) error {
	cmd, err := protocol.BuildRebootCmd()
	if err != nil {
		return err
	}
	return c.simple(ctx, protocol.CmdReboot, cmd)
}

// RebootBootloader restarts the device back into the bootloader.
func (c *Client) RebootBootloader(ctx context.Context) error {
	cmd, err := protocol.BuildRebootBootloaderCmd()
	if err != nil {
		return err
	}
	return c.simple(ctx, protocol.CmdRebootBootloader, cmd)
}

// simple runs a command whose only success answer is OKAY.
func (c *Client) simple(ctx context.Context, op string, cmd []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.command(ctx, op, cmd)
	if err != nil {
		return err
	}
	return c.expect(resp, protocol.KindOkay)
}

// command sends cmd and returns the first final response. Callers hold c.mu.
func (c *Client) command(ctx context.Context, op string, cmd []byte) (protocol.Response, error) {
	if c.broken != nil {
		return protocol.Response{}, fmt.Errorf("%w: session unusable after earlier failure: %v",
			flash.ErrDeviceUnresponsive, c.broken)
	}
	if c.upload != nil {
		return protocol.Response{}, fmt.Errorf("%s: download in progress", op)
	}
	if err := ctx.Err(); err != nil {
		return protocol.Response{}, err
	}

	c.logDebug("command", "cmd", string(cmd))

	if _, err := c.transport.Write(cmd); err != nil {
		return protocol.Response{}, c.fail(fmt.Errorf("%w: write %s: %v", flash.ErrDeviceUnresponsive, op, err))
	}

	resp, err := c.readResponse(ctx)
	if err != nil {
		return protocol.Response{}, err
	}
	if resp.Kind == protocol.KindFail {
		return resp, fmt.Errorf("%w: %w", flash.ErrRejected,
			&protocol.ProtocolError{Operation: op, Message: resp.Message()})
	}
	return resp, nil
}

// readResponse reads packets until a final response, logging INFO and TEXT.
func (c *Client) readResponse(ctx context.Context) (protocol.Response, error) {
	buf := make([]byte, protocol.MaxResponseSize)
	for {
		if err := c.setDeadline(ctx); err != nil {
			return protocol.Response{}, c.fail(fmt.Errorf("%w: set read deadline: %v", flash.ErrDeviceUnresponsive, err))
		}

		n, err := c.transport.Read(buf)
		if err != nil {
			return protocol.Response{}, c.fail(fmt.Errorf("%w: read response: %v", flash.ErrDeviceUnresponsive, err))
		}

		resp, err := protocol.ParseResponse(buf[:n])
		if err != nil {
			return protocol.Response{}, c.fail(fmt.Errorf("%w: %v", flash.ErrDeviceUnresponsive, err))
		}

		if !resp.Final() {
			c.logInfo("device message", "kind", resp.Kind.String(), "message", resp.Message())
			continue
		}

		resp.Payload = append([]byte(nil), resp.Payload...)
		return resp, nil
	}
}

// expect checks the kind of a final response.
func (c *Client) expect(resp protocol.Response, kind protocol.Kind) error {
	if resp.Kind == kind {
		return nil
	}
	return c.fail(fmt.Errorf("%w: unexpected %s response %q, want %s",
		flash.ErrDeviceUnresponsive, resp.Kind, resp.Message(), kind))
}

// fail marks the session unusable and returns err.
func (c *Client) fail(err error) error {
	if c.broken == nil {
		c.broken = err
		c.logError("session broken", "error", err)
	}
	return err
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// setDeadline applies the context deadline, or ReadTimeout, to transports
// that support read deadlines.
func (c *Client) setDeadline(ctx context.Context) error {
	d, ok := c.transport.(deadliner)
	if !ok {
		return nil
	}

	deadline, ok := ctx.Deadline()
	if !ok && c.config.ReadTimeout > 0 {
		deadline = time.Now().Add(c.config.ReadTimeout)
	}
	return d.SetReadDeadline(deadline)
}

// upload is the data phase of a Client download.
type upload struct {
	client *Client
	size   uint32
	sent   uint32
}

// Write sends p in packets of at most PacketSize bytes.
func (u *upload) Write(p []byte) (int, error) {
	c := u.client
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.upload != u {
		return 0, errors.New("upload already finished")
	}
	if c.broken != nil {
		return 0, fmt.Errorf("%w: %v", flash.ErrDeviceUnresponsive, c.broken)
	}

	data := p
	var overflow error
	if remaining := u.size - u.sent; uint64(len(data)) > uint64(remaining) {
		data = data[:remaining]
		overflow = flash.ErrUploadOverflow
	}

	written := 0
	for len(data) > 0 {
		n := len(data)
		if n > c.config.PacketSize {
			n = c.config.PacketSize
		}
		m, err := c.transport.Write(data[:n])
		written += m
		u.sent += uint32(m)
		if err != nil {
			return written, c.fail(fmt.Errorf("%w: write payload: %v", flash.ErrDeviceUnresponsive, err))
		}
		if m < n {
			return written, c.fail(fmt.Errorf("%w: write payload: %w", flash.ErrDeviceUnresponsive, io.ErrShortWrite))
		}
		data = data[n:]
	}
	return written, overflow
}

func (u *upload) Remaining() uint32 {
	u.client.mu.Lock()
	defer u.client.mu.Unlock()

	return u.size - u.sent
}

// Abort abandons the upload. The device keeps waiting for the rest of the
// payload and would read any further command as data, so the session becomes
// unusable. Recover by rebooting the device and opening a new transport.
func (u *upload) Abort() error {
	c := u.client
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.upload != u {
		return errors.New("upload already finished")
	}
	c.upload = nil

	c.fail(fmt.Errorf("%w: download aborted after %d of %d bytes, reopen the transport",
		flash.ErrDeviceUnresponsive, u.sent, u.size))
	return nil
}

// Finish waits for the device to acknowledge the payload. A short upload
// leaves the device waiting for data, so the session becomes unusable.
func (u *upload) Finish(ctx context.Context) error {
	c := u.client
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.upload != u {
		return errors.New("upload already finished")
	}
	c.upload = nil

	if u.sent != u.size {
		return c.fail(fmt.Errorf("download incomplete: sent %d of %d bytes", u.sent, u.size))
	}
	if c.broken != nil {
		return fmt.Errorf("%w: %v", flash.ErrDeviceUnresponsive, c.broken)
	}

	resp, err := c.readResponse(ctx)
	if err != nil {
		return err
	}
	if resp.Kind == protocol.KindFail {
		return fmt.Errorf("%w: %w", flash.ErrRejected,
			&protocol.ProtocolError{Operation: protocol.CmdDownload, Message: resp.Message()})
	}
	if err := c.expect(resp, protocol.KindOkay); err != nil {
		return err
	}

	c.logDebug("download complete", "size", u.size)
	return nil
}

// logDebug logs a debug message if a logger is configured.
func (c *Client) logDebug(msg string, keysAndValues ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (c *Client) logInfo(msg string, keysAndValues ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (c *Client) logError(msg string, keysAndValues ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Error(msg, keysAndValues...)
	}
}
