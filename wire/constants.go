package wire

// Op is the one-byte command opcode leading a request frame.
type Op byte

const (
	OpGet     Op = 0x01
	OpSet     Op = 0x02
	OpDel     Op = 0x03
	OpExists  Op = 0x04
	OpIncr    Op = 0x05
	OpDecr    Op = 0x06
	OpCAS     Op = 0x07
	OpPing    Op = 0x08
	OpInfo    Op = 0x09
	OpMGet    Op = 0x0E
	OpMSet    Op = 0x0F
	OpMDel    Op = 0x10
	OpMExists Op = 0x11
)

// String returns the protocol name of the opcode, used in error messages
// and the CLI.
func (o Op) String() string {
	switch o {
	case OpGet:
		return "GET"
	case OpSet:
		return "SET"
	case OpDel:
		return "DEL"
	case OpExists:
		return "EXISTS"
	case OpIncr:
		return "INCR"
	case OpDecr:
		return "DECR"
	case OpCAS:
		return "CAS"
	case OpPing:
		return "PING"
	case OpInfo:
		return "INFO"
	case OpMGet:
		return "MGET"
	case OpMSet:
		return "MSET"
	case OpMDel:
		return "MDEL"
	case OpMExists:
		return "MEXISTS"
	default:
		return "UNKNOWN"
	}
}

// Status is the one-byte status code leading a response frame.
type Status byte

const (
	// StatusOK indicates success; the payload depends on the command.
	StatusOK Status = 0x00
	// StatusNull indicates the key was not found or has expired.
	// This is not an error.
	StatusNull Status = 0x01
	// StatusError carries a UTF-8 error message payload.
	StatusError Status = 0x02
)

// Value type tags.
const (
	tagNull    byte = 0x00
	tagInt     byte = 0x01
	tagFloat   byte = 0x02
	tagDecimal byte = 0x03
	tagString  byte = 0x04
	tagBytes   byte = 0x05
	tagList    byte = 0x06
	tagMap     byte = 0x07
	tagBool    byte = 0x08
)

const (
	// frameHeaderSize is opcode/status byte plus the 4-byte big-endian
	// payload length.
	frameHeaderSize = 5

	// DefaultMaxFrameSize bounds a single request or response payload.
	DefaultMaxFrameSize = 4 << 20

	// MaxDecodeDepth bounds List/Map nesting when decoding, so adversarial
	// input cannot exhaust the stack.
	MaxDecodeDepth = 32

	// MaxKeyLength is the hard cap on key length in bytes. Longer keys are
	// rejected before any entry is created.
	MaxKeyLength = 256

	// PongPayload is the fixed response payload for PING.
	PongPayload = "PONG"
)
