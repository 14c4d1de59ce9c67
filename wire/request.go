package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/tidekv/tidekv/kv"
)

// Item is one key/value pair of an MSET payload. TTL of zero means no expiry.
type Item struct {
	Key   string
	Value kv.Value
	TTL   time.Duration
}

// Request is the decoded form of a request frame. Only the fields relevant
// to Op are set:
//
//	GET, DEL, EXISTS        Key
//	SET                     Key, Value, TTL
//	INCR, DECR              Key, Delta
//	CAS                     Key, Expected/ExpectAbsent, Value
//	MGET, MDEL, MEXISTS     Keys
//	MSET                    Items
//	PING, INFO              nothing
type Request struct {
	Op           Op
	Key          string
	Keys         []string
	Value        kv.Value
	Items        []Item
	TTL          time.Duration
	Delta        int64
	Expected     kv.Value
	ExpectAbsent bool
}

// EncodePayload serializes the request payload (everything after the frame
// header) according to r.Op.
func (r *Request) EncodePayload() ([]byte, error) {
	switch r.Op {
	case OpGet, OpDel, OpExists:
		// Raw key bytes; the frame length delimits the key.
		return []byte(r.Key), nil

	case OpSet:
		buf := appendKey(nil, r.Key)
		buf = appendTTL(buf, r.TTL)
		return AppendValue(buf, r.Value), nil

	case OpIncr, OpDecr:
		buf := appendKey(nil, r.Key)
		return binary.BigEndian.AppendUint64(buf, uint64(r.Delta)), nil

	case OpCAS:
		buf := appendKey(nil, r.Key)
		if r.ExpectAbsent {
			buf = append(buf, 0)
		} else {
			buf = append(buf, 1)
			buf = AppendValue(buf, r.Expected)
		}
		return AppendValue(buf, r.Value), nil

	case OpPing, OpInfo:
		return nil, nil

	case OpMGet, OpMDel, OpMExists:
		buf := binary.BigEndian.AppendUint32(nil, uint32(len(r.Keys)))
		for _, k := range r.Keys {
			buf = appendKey(buf, k)
		}
		return buf, nil

	case OpMSet:
		buf := binary.BigEndian.AppendUint32(nil, uint32(len(r.Items)))
		for _, it := range r.Items {
			buf = appendKey(buf, it.Key)
			buf = appendTTL(buf, it.TTL)
			buf = AppendValue(buf, it.Value)
		}
		return buf, nil

	default:
		return nil, protoErrf("cannot encode unknown opcode 0x%02x", byte(r.Op))
	}
}

// DecodeRequest parses a request frame's opcode byte and payload.
func DecodeRequest(op byte, payload []byte) (*Request, error) {
	req := &Request{Op: Op(op)}

	switch req.Op {
	case OpGet, OpDel, OpExists:
		if len(payload) == 0 {
			return nil, protoErrf("%s: empty key", req.Op)
		}
		if len(payload) > MaxKeyLength {
			return nil, keyTooLongErr(len(payload))
		}
		req.Key = string(payload)
		return req, nil

	case OpSet:
		key, rest, err := decodeKey(payload)
		if err != nil {
			return nil, err
		}
		ttl, rest, err := decodeTTL(rest)
		if err != nil {
			return nil, err
		}
		val, n, err := DecodeValue(rest)
		if err != nil {
			return nil, err
		}
		if n != len(rest) {
			return nil, protoErrf("SET: %d trailing bytes after value", len(rest)-n)
		}
		req.Key, req.TTL, req.Value = key, ttl, val
		return req, nil

	case OpIncr, OpDecr:
		key, rest, err := decodeKey(payload)
		if err != nil {
			return nil, err
		}
		if len(rest) != 8 {
			return nil, protoErrf("%s: want 8-byte delta, have %d bytes", req.Op, len(rest))
		}
		req.Key = key
		req.Delta = int64(binary.BigEndian.Uint64(rest))
		return req, nil

	case OpCAS:
		key, rest, err := decodeKey(payload)
		if err != nil {
			return nil, err
		}
		if len(rest) < 1 {
			return nil, protoErrf("CAS: missing expected flag")
		}
		flag := rest[0]
		rest = rest[1:]
		req.Key = key
		switch flag {
		case 0:
			req.ExpectAbsent = true
		case 1:
			exp, n, err := DecodeValue(rest)
			if err != nil {
				return nil, err
			}
			req.Expected = exp
			rest = rest[n:]
		default:
			return nil, protoErrf("CAS: invalid expected flag 0x%02x", flag)
		}
		val, n, err := DecodeValue(rest)
		if err != nil {
			return nil, err
		}
		if n != len(rest) {
			return nil, protoErrf("CAS: %d trailing bytes after value", len(rest)-n)
		}
		req.Value = val
		return req, nil

	case OpPing, OpInfo:
		if len(payload) != 0 {
			return nil, protoErrf("%s: unexpected payload of %d bytes", req.Op, len(payload))
		}
		return req, nil

	case OpMGet, OpMDel, OpMExists:
		keys, rest, err := decodeKeyList(payload)
		if err != nil {
			return nil, err
		}
		if len(rest) != 0 {
			return nil, protoErrf("%s: %d trailing bytes", req.Op, len(rest))
		}
		req.Keys = keys
		return req, nil

	case OpMSet:
		if len(payload) < 4 {
			return nil, protoErrf("MSET: truncated count")
		}
		count := binary.BigEndian.Uint32(payload)
		rest := payload[4:]
		if uint64(count) > uint64(len(rest)) {
			return nil, protoErrf("MSET: count %d exceeds payload", count)
		}
		items := make([]Item, 0, count)
		for i := uint32(0); i < count; i++ {
			key, r2, err := decodeKey(rest)
			if err != nil {
				return nil, err
			}
			ttl, r2, err := decodeTTL(r2)
			if err != nil {
				return nil, err
			}
			val, n, err := DecodeValue(r2)
			if err != nil {
				return nil, err
			}
			items = append(items, Item{Key: key, Value: val, TTL: ttl})
			rest = r2[n:]
		}
		if len(rest) != 0 {
			return nil, protoErrf("MSET: %d trailing bytes", len(rest))
		}
		req.Items = items
		return req, nil

	default:
		return nil, protoErrf("unknown opcode 0x%02x", op)
	}
}

// appendKey appends a 2-byte length prefix and the key bytes.
func appendKey(buf []byte, key string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(key)))
	return append(buf, key...)
}

func decodeKey(data []byte) (string, []byte, error) {
	if len(data) < 2 {
		return "", nil, protoErrf("truncated key length")
	}
	length := binary.BigEndian.Uint16(data)
	if int(length) > len(data)-2 {
		return "", nil, protoErrf("key length %d exceeds payload", length)
	}
	if length == 0 {
		return "", nil, protoErrf("empty key")
	}
	if int(length) > MaxKeyLength {
		return "", nil, keyTooLongErr(int(length))
	}
	return string(data[2 : 2+length]), data[2+length:], nil
}

func keyTooLongErr(length int) error {
	return &ProtocolError{
		Message: fmt.Sprintf("key of %d bytes exceeds limit of %d", length, MaxKeyLength),
		Err:     ErrKeyTooLong,
	}
}

func decodeKeyList(data []byte) ([]string, []byte, error) {
	if len(data) < 4 {
		return nil, nil, protoErrf("truncated key count")
	}
	count := binary.BigEndian.Uint32(data)
	rest := data[4:]
	if uint64(count) > uint64(len(rest)) {
		return nil, nil, protoErrf("key count %d exceeds payload", count)
	}
	keys := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		key, r2, err := decodeKey(rest)
		if err != nil {
			return nil, nil, err
		}
		keys = append(keys, key)
		rest = r2
	}
	return keys, rest, nil
}

// maxTTLMillis is the largest millisecond count that still fits in a
// time.Duration. Anything above it would overflow the conversion into a
// negative duration.
const maxTTLMillis = uint64(math.MaxInt64 / int64(time.Millisecond))

// TTL is carried on the wire as milliseconds in 8 bytes; zero means no expiry.
func appendTTL(buf []byte, ttl time.Duration) []byte {
	return binary.BigEndian.AppendUint64(buf, uint64(ttl.Milliseconds()))
}

func decodeTTL(data []byte) (time.Duration, []byte, error) {
	if len(data) < 8 {
		return 0, nil, protoErrf("truncated ttl")
	}
	ms := binary.BigEndian.Uint64(data)
	if ms > maxTTLMillis {
		return 0, nil, protoErrf("ttl of %d ms overflows", ms)
	}
	return time.Duration(ms) * time.Millisecond, data[8:], nil
}
