package protocol

import (
	"fmt"
	"strings"
)

// buildCmd joins a command and its argument and checks the size limit.
func buildCmd(name, arg string) ([]byte, error) {
	cmd := name
	if arg != "" {
		cmd = name + ":" + arg
	}
	if len(cmd) > MaxCommandSize {
		return nil, fmt.Errorf("command %q is %d bytes, maximum is %d", name, len(cmd), MaxCommandSize)
	}
	return []byte(cmd), nil
}

// validateName rejects empty names and names the device would misparse.
func validateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	if strings.ContainsAny(name, ":\x00\n") {
		return fmt.Errorf("%s %q contains a reserved character", kind, name)
	}
	return nil
}

// BuildGetVarCmd constructs a getvar command.
//
//	getvar:<name>
func BuildGetVarCmd(name string) ([]byte, error) {
	if err := validateName("variable name", name); err != nil {
		return nil, err
	}
	return buildCmd(CmdGetVar, name)
}

// BuildDownloadCmd constructs a download command announcing size bytes.
// The size is encoded as exactly 8 lowercase hex digits.
//
//	download:<8 hex digits>
func BuildDownloadCmd(size uint32) ([]byte, error) {
	if size == 0 {
		return nil, fmt.Errorf("download size cannot be zero")
	}
	return buildCmd(CmdDownload, fmt.Sprintf("%08x", size))
}

// BuildFlashCmd constructs a command that commits the staged download to partition.
//
//	flash:<partition>
func BuildFlashCmd(partition string) ([]byte, error) {
	if err := validateName("partition", partition); err != nil {
		return nil, err
	}
	return buildCmd(CmdFlash, partition)
}

// BuildEraseCmd constructs an erase command.
//
//	erase:<partition>
func BuildEraseCmd(partition string) ([]byte, error) {
	if err := validateName("partition", partition); err != nil {
		return nil, err
	}
	return buildCmd(CmdErase, partition)
}

// BuildRebootCmd constructs a reboot command.
func BuildRebootCmd() ([]byte, error) {
	return buildCmd(CmdReboot, "")
}

// BuildRebootBootloaderCmd constructs a command that reboots back into the bootloader.
func BuildRebootBootloaderCmd() ([]byte, error) {
	return buildCmd(CmdRebootBootloader, "")
}
