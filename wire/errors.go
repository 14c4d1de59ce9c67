package wire

import (
	"errors"
	"fmt"
	"strings"
)

// ProtocolError reports malformed input: a truncated payload, an unknown
// opcode, an oversized frame or a corrupt value encoding. The codec never
// panics on bad input; every decode failure surfaces as a ProtocolError.
//
// A ProtocolError from decoding a payload leaves the connection usable: the
// frame boundary was intact, only its contents were bad. Framing-level
// failures are returned as plain I/O errors and require closing the
// connection.
type ProtocolError struct {
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "wire: " + e.Message + ": " + e.Err.Error()
	}
	return "wire: " + e.Message
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ErrKeyTooLong marks a decoded request whose key exceeds MaxKeyLength. It is
// wrapped in a ProtocolError so errors.Is can pick it out; the server answers
// it with the KEYTOOLONG token rather than the generic PROTO one.
var ErrKeyTooLong = errors.New("key exceeds maximum length")

func protoErrf(format string, args ...any) error {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// Error message tokens. An ERROR payload is "<token> <message>"; the token is
// stable so clients can reconstruct a typed error, the message is free-form.
const (
	TokenKeyTooLong = "KEYTOOLONG"
	TokenWrongType  = "WRONGTYPE"
	TokenMaxMemory  = "MAXMEMORY"
	TokenProto      = "PROTO"
	TokenGeneric    = "ERR"
)

// ErrorPayload builds an ERROR frame payload from a token and message.
func ErrorPayload(token, message string) []byte {
	return []byte(token + " " + message)
}

// SplitErrorPayload splits an ERROR payload into its token and message.
// Payloads without a recognized token are treated as generic errors.
func SplitErrorPayload(payload []byte) (token, message string) {
	token, message, ok := strings.Cut(string(payload), " ")
	if !ok {
		return TokenGeneric, string(payload)
	}
	switch token {
	case TokenKeyTooLong, TokenWrongType, TokenMaxMemory, TokenProto, TokenGeneric:
		return token, message
	default:
		return TokenGeneric, string(payload)
	}
}

// IsProtocolError reports whether err is (or wraps) a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
