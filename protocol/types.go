package protocol

import "fmt"

// Kind classifies a response packet.
type Kind int

const (
	// KindOkay means the command succeeded
	KindOkay Kind = iota

	// KindFail means the command failed; the payload holds the reason
	KindFail

	// KindData means the device waits for a data phase; the payload holds the size
	KindData

	// KindInfo is an informational message, more responses follow
	KindInfo

	// KindText is free-form text, more responses follow
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindOkay:
		return PrefixOkay
	case KindFail:
		return PrefixFail
	case KindData:
		return PrefixData
	case KindInfo:
		return PrefixInfo
	case KindText:
		return PrefixText
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Response is a decoded response packet.
type Response struct {
	Kind Kind

	// Payload is everything after the 4-byte prefix
	Payload []byte
}

// Message returns the payload as a string.
func (r Response) Message() string {
	return string(r.Payload)
}

// Final reports whether the response ends the current command.
// INFO and TEXT packets are followed by more responses.
func (r Response) Final() bool {
	return r.Kind != KindInfo && r.Kind != KindText
}
