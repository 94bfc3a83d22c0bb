// Package protocol implements the fastboot bootloader wire format.
//
// This package provides functions to build command strings and parse response
// packets. It performs no I/O; see package fastboot for a session that drives a
// transport with these frames.
//
// # Protocol Overview
//
// The host sends ASCII commands of at most MaxCommandSize bytes and the device
// answers with packets of at most MaxResponseSize bytes, each starting with a
// 4-byte prefix:
//
//	OKAY<message>   command completed
//	FAIL<message>   command failed
//	DATA<8 hex>     device is ready to receive that many bytes
//	INFO<message>   informational, more responses follow
//	TEXT<message>   free-form text, more responses follow
//
// A flash is a download followed by a commit:
//
//	-> download:0001f000
//	<- DATA0001f000
//	-> <0x1f000 bytes>
//	<- OKAY
//	-> flash:boot
//	<- OKAY
//
// # Command Builders
//
// Use the Build* functions to create commands:
//
//	cmd, err := protocol.BuildGetVarCmd(protocol.VarMaxDownloadSize)
//	cmd, err := protocol.BuildDownloadCmd(size)
//	cmd, err := protocol.BuildFlashCmd("boot")
//
// # Response Parsers
//
// Use ParseResponse to classify a packet:
//
//	resp, err := protocol.ParseResponse(packet)
//	if resp.Kind == protocol.KindFail {
//	    return &protocol.ProtocolError{Operation: "flash", Message: resp.Message()}
//	}
//
// Then use ParseDataSize or ParseSize for payloads that carry numbers.
package protocol
