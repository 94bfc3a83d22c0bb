package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseResponse classifies a response packet by its 4-byte prefix.
//
// Response packet structure:
//
//	[PREFIX(4)][PAYLOAD(0..252)]
//
// The returned payload aliases packet.
func ParseResponse(packet []byte) (Response, error) {
	if len(packet) < PrefixSize {
		return Response{}, fmt.Errorf("response too short: got %d bytes, minimum is %d", len(packet), PrefixSize)
	}
	if len(packet) > MaxResponseSize {
		return Response{}, fmt.Errorf("response too long: got %d bytes, maximum is %d", len(packet), MaxResponseSize)
	}

	var kind Kind
	switch string(packet[:PrefixSize]) {
	case PrefixOkay:
		kind = KindOkay
	case PrefixFail:
		kind = KindFail
	case PrefixData:
		kind = KindData
	case PrefixInfo:
		kind = KindInfo
	case PrefixText:
		kind = KindText
	default:
		return Response{}, fmt.Errorf("unknown response prefix %q", packet[:PrefixSize])
	}

	return Response{Kind: kind, Payload: packet[PrefixSize:]}, nil
}

// ParseDataSize decodes the payload of a DATA response: exactly 8 hex digits.
func ParseDataSize(payload []byte) (uint32, error) {
	if len(payload) != DataSizeDigits {
		return 0, fmt.Errorf("invalid data size %q: expected %d hex digits", payload, DataSizeDigits)
	}

	n, err := strconv.ParseUint(string(payload), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid data size %q: %w", payload, err)
	}
	return uint32(n), nil
}

// ParseSize decodes a size variable such as max-download-size.
// Devices report it in hexadecimal, with or without a 0x prefix.
//
// Example:
//
//	size, err := protocol.ParseSize("0x20000000") // 512 MiB
func ParseSize(s string) (uint32, error) {
	v := strings.TrimSpace(s)
	v = strings.TrimPrefix(strings.TrimPrefix(v, "0x"), "0X")
	if v == "" {
		return 0, fmt.Errorf("invalid size %q: empty", s)
	}

	n, err := strconv.ParseUint(v, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return uint32(n), nil
}
