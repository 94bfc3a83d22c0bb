// Package fastboot implements the host side of the fastboot protocol.
//
// # Overview
//
// A Client sends ASCII commands of at most 64 bytes and reads responses of at
// most 256 bytes, each starting with a 4-byte prefix:
//   - OKAY: the command succeeded
//   - FAIL: the command failed, the rest is the reason
//   - DATA: the device waits for the announced number of bytes
//   - INFO, TEXT: progress messages, more responses follow
//
// Client implements flash.Session, so it plugs directly into flash.New.
//
// # Transports
//
// Any io.ReadWriter that preserves packet boundaries works, such as a USB bulk
// endpoint pair. TCPTransport implements fastboot over TCP:
//
//	transport, err := fastboot.DialTCP(ctx, "192.168.0.10:5554")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer transport.Close()
//
//	client := fastboot.New(transport)
//	product, err := client.GetVar(ctx, protocol.VarProduct)
//
// # Error Handling
//
// FAIL responses wrap flash.ErrRejected and a *protocol.ProtocolError.
// Transport failures and malformed responses wrap flash.ErrDeviceUnresponsive
// and leave the Client unusable, since the device state is unknown:
//
//	if err := client.Flash(ctx, "boot"); errors.Is(err, flash.ErrRejected) {
//	    var pe *protocol.ProtocolError
//	    errors.As(err, &pe)
//	    fmt.Println("device said:", pe.Message)
//	}
package fastboot
