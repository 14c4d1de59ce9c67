package wire

import (
	"encoding/binary"
	"math"

	"github.com/shopspring/decimal"

	"github.com/tidekv/tidekv/kv"
)

// Value encoding: a type tag byte followed by a kind-specific payload.
// Int and Float are 8 bytes big-endian. Decimal, String and Bytes carry a
// 4-byte big-endian length prefix so values are self-delimiting, which the
// MSET payload and nested List/Map encodings require. List is a 4-byte
// element count followed by encoded elements; Map is a 4-byte pair count
// followed by (length-prefixed key, encoded value) pairs.

// AppendValue appends the encoding of v to buf and returns the result.
func AppendValue(buf []byte, v kv.Value) []byte {
	switch v.Kind() {
	case kv.KindNull:
		return append(buf, tagNull)
	case kv.KindBool:
		b, _ := v.Bool()
		if b {
			return append(buf, tagBool, 1)
		}
		return append(buf, tagBool, 0)
	case kv.KindInt:
		i, _ := v.Int()
		buf = append(buf, tagInt)
		return binary.BigEndian.AppendUint64(buf, uint64(i))
	case kv.KindFloat:
		f, _ := v.Float()
		buf = append(buf, tagFloat)
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(f))
	case kv.KindDecimal:
		d, _ := v.Dec()
		s := d.String()
		buf = append(buf, tagDecimal)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
		return append(buf, s...)
	case kv.KindString:
		s, _ := v.Str()
		buf = append(buf, tagString)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
		return append(buf, s...)
	case kv.KindBytes:
		b, _ := v.Bin()
		buf = append(buf, tagBytes)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
		return append(buf, b...)
	case kv.KindList:
		elems, _ := v.List()
		buf = append(buf, tagList)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(elems)))
		for _, e := range elems {
			buf = AppendValue(buf, e)
		}
		return buf
	case kv.KindMap:
		pairs, _ := v.Pairs()
		buf = append(buf, tagMap)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(pairs)))
		for _, p := range pairs {
			buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Key)))
			buf = append(buf, p.Key...)
			buf = AppendValue(buf, p.Value)
		}
		return buf
	default:
		return append(buf, tagNull)
	}
}

// EncodeValue returns the encoding of v.
func EncodeValue(v kv.Value) []byte {
	return AppendValue(nil, v)
}

// DecodeValue decodes one value from the front of data, returning the value
// and the number of bytes consumed. Trailing bytes are left for the caller.
func DecodeValue(data []byte) (kv.Value, int, error) {
	return decodeValue(data, 0)
}

func decodeValue(data []byte, depth int) (kv.Value, int, error) {
	if depth > MaxDecodeDepth {
		return kv.Value{}, 0, protoErrf("value nesting exceeds depth %d", MaxDecodeDepth)
	}
	if len(data) == 0 {
		return kv.Value{}, 0, protoErrf("truncated value: missing type tag")
	}
	tag := data[0]
	rest := data[1:]

	switch tag {
	case tagNull:
		return kv.Null(), 1, nil

	case tagBool:
		if len(rest) < 1 {
			return kv.Value{}, 0, protoErrf("truncated bool value")
		}
		return kv.Bool(rest[0] != 0), 2, nil

	case tagInt:
		if len(rest) < 8 {
			return kv.Value{}, 0, protoErrf("truncated int value")
		}
		return kv.Int(int64(binary.BigEndian.Uint64(rest))), 9, nil

	case tagFloat:
		if len(rest) < 8 {
			return kv.Value{}, 0, protoErrf("truncated float value")
		}
		return kv.Float(math.Float64frombits(binary.BigEndian.Uint64(rest))), 9, nil

	case tagDecimal:
		s, n, err := decodeBlob(rest, "decimal")
		if err != nil {
			return kv.Value{}, 0, err
		}
		d, err := decimal.NewFromString(string(s))
		if err != nil {
			return kv.Value{}, 0, &ProtocolError{Message: "invalid decimal form", Err: err}
		}
		return kv.Dec(d), 1 + n, nil

	case tagString:
		s, n, err := decodeBlob(rest, "string")
		if err != nil {
			return kv.Value{}, 0, err
		}
		return kv.Str(string(s)), 1 + n, nil

	case tagBytes:
		b, n, err := decodeBlob(rest, "bytes")
		if err != nil {
			return kv.Value{}, 0, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return kv.Bin(out), 1 + n, nil

	case tagList:
		if len(rest) < 4 {
			return kv.Value{}, 0, protoErrf("truncated list header")
		}
		count := binary.BigEndian.Uint32(rest)
		off := 4
		if uint64(count) > uint64(len(rest)) {
			return kv.Value{}, 0, protoErrf("list count %d exceeds payload", count)
		}
		elems := make([]kv.Value, 0, count)
		for i := uint32(0); i < count; i++ {
			e, n, err := decodeValue(rest[off:], depth+1)
			if err != nil {
				return kv.Value{}, 0, err
			}
			elems = append(elems, e)
			off += n
		}
		return kv.ListOf(elems...), 1 + off, nil

	case tagMap:
		if len(rest) < 4 {
			return kv.Value{}, 0, protoErrf("truncated map header")
		}
		count := binary.BigEndian.Uint32(rest)
		off := 4
		if uint64(count) > uint64(len(rest)) {
			return kv.Value{}, 0, protoErrf("map count %d exceeds payload", count)
		}
		pairs := make([]kv.Pair, 0, count)
		for i := uint32(0); i < count; i++ {
			key, n, err := decodeBlob(rest[off:], "map key")
			if err != nil {
				return kv.Value{}, 0, err
			}
			off += n
			val, n, err := decodeValue(rest[off:], depth+1)
			if err != nil {
				return kv.Value{}, 0, err
			}
			off += n
			pairs = append(pairs, kv.Pair{Key: string(key), Value: val})
		}
		return kv.MapOf(pairs...), 1 + off, nil

	default:
		return kv.Value{}, 0, protoErrf("unknown value tag 0x%02x", tag)
	}
}

// decodeBlob reads a 4-byte length prefix followed by that many bytes.
// The returned slice aliases data.
func decodeBlob(data []byte, what string) ([]byte, int, error) {
	if len(data) < 4 {
		return nil, 0, protoErrf("truncated %s length", what)
	}
	length := binary.BigEndian.Uint32(data)
	if uint64(length) > uint64(len(data)-4) {
		return nil, 0, protoErrf("%s length %d exceeds payload", what, length)
	}
	return data[4 : 4+length], 4 + int(length), nil
}
