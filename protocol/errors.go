package protocol

import (
	"errors"
	"fmt"
)

// ProtocolError represents a FAIL response from the device.
type ProtocolError struct {
	// Operation is the command that failed
	Operation string

	// Message is the reason reported by the device
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed: device gave no reason", e.Operation)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

// IsProtocolError returns true if err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
