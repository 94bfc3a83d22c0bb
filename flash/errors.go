package flash

import (
	"errors"
	"fmt"
)

// Sentinel errors reported by Session implementations. Use errors.Is to test for them.
var (
	// ErrDeviceUnresponsive means the device did not answer or the transport failed
	ErrDeviceUnresponsive = errors.New("device unresponsive")

	// ErrRejected means the device answered with a failure
	ErrRejected = errors.New("rejected by device")

	// ErrUploadOverflow means more bytes were written than the download declared
	ErrUploadOverflow = errors.New("upload exceeds declared size")
)

// Stage names the step of a flash that failed.
type Stage string

// Flash stages, in the order they run.
const (
	StageQuery  Stage = "size query"
	StageParse  Stage = "parse"
	StageSplit  Stage = "split"
	StageUpload Stage = "upload"
	StageCommit Stage = "commit"
	StageReboot Stage = "reboot"
)

// StageError is the single error returned by a failed flash.
// It names the stage and, for upload and commit, the unit that failed.
type StageError struct {
	Stage Stage

	// Unit is the 1-based unit number, or 0 when the stage is not per unit
	Unit int

	Err error
}

func (e *StageError) Error() string {
	if e.Unit > 0 {
		return fmt.Sprintf("%s failed at unit %d: %v", e.Stage, e.Unit, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
