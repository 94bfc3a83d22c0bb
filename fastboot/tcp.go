package fastboot

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/bitrise-io/go-utils/retry"
)

// TCP transport constants.
const (
	// DefaultTCPPort is the port fastboot devices listen on
	DefaultTCPPort = 5554

	// tcpHandshake is sent by the host; the device answers "FB" plus a
	// two-digit protocol version
	tcpHandshake = "FB01"

	tcpHeaderSize = 8

	dialRetries = 3
	dialWait    = time.Second
)

// ErrHandshake means the peer did not answer the fastboot TCP handshake.
var ErrHandshake = errors.New("fastboot handshake failed")

// TCPTransport frames fastboot packets over a TCP connection.
//
// Packet structure:
//
//	[LENGTH(8, big-endian)][PAYLOAD]
//
// Every Write sends one packet. Read returns the payload of the next packet;
// a payload larger than the read buffer is returned over several Reads.
type TCPTransport struct {
	conn    net.Conn
	pending []byte
}

// NewTCPTransport performs the handshake on an established connection.
func NewTCPTransport(conn net.Conn) (*TCPTransport, error) {
	if _, err := conn.Write([]byte(tcpHandshake)); err != nil {
		return nil, fmt.Errorf("send handshake: %w", err)
	}

	reply := make([]byte, len(tcpHandshake))
	if _, err := io.ReadFull(conn, reply); err != nil {
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	if string(reply[:2]) != "FB" {
		return nil, fmt.Errorf("%w: unexpected reply %q", ErrHandshake, reply)
	}
	if v, err := strconv.Atoi(string(reply[2:])); err != nil || v < 1 {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrHandshake, reply[2:])
	}

	return &TCPTransport{conn: conn}, nil
}

// DialTCP connects to a device and performs the handshake. A port-less
// address gets DefaultTCPPort. Connection attempts are retried; a peer that
// answers the handshake wrongly is not.
//
// Example:
//
//	transport, err := fastboot.DialTCP(ctx, "192.168.0.10")
//	if err != nil {
//	    return err
//	}
//	defer transport.Close()
func DialTCP(ctx context.Context, addr string) (*TCPTransport, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(DefaultTCPPort))
	}

	var transport *TCPTransport
	err := retry.Times(dialRetries).Wait(dialWait).TryWithAbort(func(attempt uint) (error, bool) {
		if err := ctx.Err(); err != nil {
			return err, true
		}

		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("dial %s: %w", addr, err), false
		}

		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
		}
		t, err := NewTCPTransport(conn)
		if err != nil {
			conn.Close() //nolint:errcheck
			return err, errors.Is(err, ErrHandshake)
		}
		_ = conn.SetDeadline(time.Time{})

		transport = t
		return nil, true
	})
	if err != nil {
		return nil, err
	}
	return transport, nil
}

// Write sends p as one packet.
func (t *TCPTransport) Write(p []byte) (int, error) {
	packet := make([]byte, tcpHeaderSize+len(p))
	binary.BigEndian.PutUint64(packet, uint64(len(p)))
	copy(packet[tcpHeaderSize:], p)

	n, err := t.conn.Write(packet)
	n -= tcpHeaderSize
	if n < 0 {
		n = 0
	}
	return n, err
}

// Read reads the next packet payload into p.
func (t *TCPTransport) Read(p []byte) (int, error) {
	if len(t.pending) == 0 {
		var header [tcpHeaderSize]byte
		if _, err := io.ReadFull(t.conn, header[:]); err != nil {
			return 0, err
		}

		size := binary.BigEndian.Uint64(header[:])
		if size > 1<<20 {
			return 0, fmt.Errorf("packet of %d bytes exceeds limit", size)
		}
		t.pending = make([]byte, size)
		if _, err := io.ReadFull(t.conn, t.pending); err != nil {
			t.pending = nil
			return 0, err
		}
	}

	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

// SetReadDeadline sets the deadline for future Reads.
func (t *TCPTransport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

// Close closes the connection.
func (t *TCPTransport) Close() error {
	return t.conn.Close()
}
