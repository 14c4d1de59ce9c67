package tidekv

import (
	"errors"
	"fmt"

	"github.com/tidekv/tidekv/wire"
)

var (
	// ErrKeyTooLong mirrors the server-side key length cap. It is returned
	// locally, before anything is sent, and by the server if a stale client
	// sends an oversized key anyway.
	ErrKeyTooLong = errors.New("tidekv: key exceeds 256 bytes")

	// ErrEmptyKey is returned for a zero-length key.
	ErrEmptyKey = errors.New("tidekv: empty key")

	// ErrWrongType is returned when an increment targets a non-integer value.
	ErrWrongType = errors.New("tidekv: value is not an integer")

	// ErrMaxMemory is returned when the server rejects a write because its
	// configured memory budget is exhausted.
	ErrMaxMemory = errors.New("tidekv: server over memory limit")

	// ErrNoServers is returned by NewClient when the server list is empty.
	ErrNoServers = errors.New("tidekv: no servers configured")
)

// ServerError is an ERROR response whose token does not map to one of the
// sentinel errors above.
type ServerError struct {
	Token   string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("tidekv: server error: %s %s", e.Token, e.Message)
}

// errorFromResponse converts an ERROR response into a typed error. Known
// tokens map to sentinels so callers can use errors.Is; anything else
// becomes a ServerError.
func errorFromResponse(resp *wire.Response) error {
	token, message := resp.ErrorToken()
	switch token {
	case wire.TokenKeyTooLong:
		return ErrKeyTooLong
	case wire.TokenWrongType:
		return ErrWrongType
	case wire.TokenMaxMemory:
		return ErrMaxMemory
	default:
		return &ServerError{Token: token, Message: message}
	}
}

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > wire.MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}
