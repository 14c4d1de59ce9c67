package wire

import (
	"github.com/tidekv/tidekv/kv"
)

// Response is the decoded form of a response frame. Payload holds the raw
// payload bytes; how to interpret them depends on the command the caller
// sent (an encoded value for most commands, raw PONG bytes for PING, an
// error message for StatusError).
type Response struct {
	Status  Status
	Payload []byte
}

// IsOK reports whether the operation succeeded.
func (r *Response) IsOK() bool { return r.Status == StatusOK }

// IsNull reports a key-not-found / expired result. Not an error.
func (r *Response) IsNull() bool { return r.Status == StatusNull }

// IsError reports whether the response carries an error payload.
func (r *Response) IsError() bool { return r.Status == StatusError }

// Value decodes the payload as a single encoded value.
func (r *Response) Value() (kv.Value, error) {
	v, n, err := DecodeValue(r.Payload)
	if err != nil {
		return kv.Value{}, err
	}
	if n != len(r.Payload) {
		return kv.Value{}, protoErrf("response: %d trailing bytes after value", len(r.Payload)-n)
	}
	return v, nil
}

// ErrorToken splits an error payload into its stable token and message.
func (r *Response) ErrorToken() (token, message string) {
	return SplitErrorPayload(r.Payload)
}
