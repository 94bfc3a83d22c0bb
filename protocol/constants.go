package protocol

// ProtocolVersion is the fastboot protocol revision implemented by this library.
const ProtocolVersion = "0.4"

// Packet size limits.
const (
	// MaxCommandSize is the largest command the device accepts
	MaxCommandSize = 64

	// MaxResponseSize is the largest response packet the device sends
	MaxResponseSize = 256

	// PrefixSize is the length of the response kind prefix
	PrefixSize = 4

	// DataSizeDigits is the number of hex digits in a download size
	DataSizeDigits = 8
)

// Command names.
const (
	CmdGetVar           = "getvar"
	CmdDownload         = "download"
	CmdFlash            = "flash"
	CmdErase            = "erase"
	CmdReboot           = "reboot"
	CmdRebootBootloader = "reboot-bootloader"
)

// Response prefixes.
const (
	PrefixOkay = "OKAY"
	PrefixFail = "FAIL"
	PrefixData = "DATA"
	PrefixInfo = "INFO"
	PrefixText = "TEXT"
)

// Well-known variables.
const (
	// VarMaxDownloadSize is the largest single download the device accepts
	VarMaxDownloadSize = "max-download-size"

	// VarVersion is the fastboot protocol version reported by the device
	VarVersion = "version"

	// VarProduct is the product name
	VarProduct = "product"

	// VarSerialNo is the device serial number
	VarSerialNo = "serialno"
)
