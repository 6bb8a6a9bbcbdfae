package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Value tags. The codec is a compact, self-describing binary format: every
// encoded value starts with one of these tags, covering exactly the
// serializable primitive set (spec: nil, bool, signed integer, float,
// string, byte string, SequenceNumber, and nested arrays/strings-keyed
// maps of the above) plus the TO_DELETE sentinel used by sparse updates.
const (
	tagNil byte = iota
	tagFalse
	tagTrue
	tagInt64
	tagFloat64
	tagString
	tagBytes
	tagSequence
	tagArray
	tagMap
	tagDelete
)

// deleted is the concrete type behind ToDelete. A dedicated type (rather
// than, say, nil) keeps "delete this key" unambiguous from "set this key to
// the zero value".
type deleted struct{}

// ToDelete is the sentinel value a GameStateUpdate stores against a key to
// mark it for removal when the update is applied to a state.
var ToDelete = deleted{}

// EncodeValue appends the wire encoding of v to buf. v must be one of the
// serializable primitive types; anything else is an error.
func EncodeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteByte(tagNil)
	case deleted:
		buf.WriteByte(tagDelete)
	case bool:
		if val {
			buf.WriteByte(tagTrue)
		} else {
			buf.WriteByte(tagFalse)
		}
	case int:
		return EncodeValue(buf, int64(val))
	case int32:
		return EncodeValue(buf, int64(val))
	case int64:
		buf.WriteByte(tagInt64)
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(val))
		buf.Write(tmp[:])
	case float32:
		return EncodeValue(buf, float64(val))
	case float64:
		buf.WriteByte(tagFloat64)
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(val))
		buf.Write(tmp[:])
	case string:
		buf.WriteByte(tagString)
		writeLengthPrefixed(buf, []byte(val))
	case []byte:
		buf.WriteByte(tagBytes)
		writeLengthPrefixed(buf, val)
	case SequenceNumber:
		buf.WriteByte(tagSequence)
		buf.WriteByte(DefaultSequenceWidth)
		tmp := make([]byte, DefaultSequenceWidth)
		if err := putUint(tmp, DefaultSequenceWidth, uint64(val)); err != nil {
			return err
		}
		buf.Write(tmp)
	case []any:
		buf.WriteByte(tagArray)
		writeUint32(buf, uint32(len(val)))
		for _, elem := range val {
			if err := EncodeValue(buf, elem); err != nil {
				return err
			}
		}
	case map[string]any:
		buf.WriteByte(tagMap)
		writeUint32(buf, uint32(len(val)))
		for k, elem := range val {
			writeLengthPrefixed(buf, []byte(k))
			if err := EncodeValue(buf, elem); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("protocol: value of type %T is not in the serializable primitive set", v)
	}
	return nil
}

// DecodeValue reads one value from r.
func DecodeValue(r *bytes.Reader) (any, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagNil:
		return nil, nil
	case tagDelete:
		return ToDelete, nil
	case tagFalse:
		return false, nil
	case tagTrue:
		return true, nil
	case tagInt64:
		var tmp [8]byte
		if _, err := readFull(r, tmp[:]); err != nil {
			return nil, err
		}
		return int64(binary.BigEndian.Uint64(tmp[:])), nil
	case tagFloat64:
		var tmp [8]byte
		if _, err := readFull(r, tmp[:]); err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(tmp[:])), nil
	case tagString:
		b, err := readLengthPrefixed(r)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case tagBytes:
		return readLengthPrefixed(r)
	case tagSequence:
		widthByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		width := int(widthByte)
		tmp := make([]byte, width)
		if _, err := readFull(r, tmp); err != nil {
			return nil, err
		}
		v, err := getUint(tmp, width)
		if err != nil {
			return nil, err
		}
		return SequenceNumber(v), nil
	case tagArray:
		n, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		arr := make([]any, 0, n)
		for i := uint32(0); i < n; i++ {
			elem, err := DecodeValue(r)
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case tagMap:
		n, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		m := make(map[string]any, n)
		for i := uint32(0); i < n; i++ {
			keyBytes, err := readLengthPrefixed(r)
			if err != nil {
				return nil, err
			}
			elem, err := DecodeValue(r)
			if err != nil {
				return nil, err
			}
			m[string(keyBytes)] = elem
		}
		return m, nil
	default:
		return nil, fmt.Errorf("protocol: unknown value tag 0x%02x", tag)
	}
}

func writeLengthPrefixed(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func readLengthPrefixed(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := readFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func readFull(r *bytes.Reader, dst []byte) (int, error) {
	n, err := r.Read(dst)
	if err != nil {
		return n, err
	}
	if n != len(dst) {
		return n, fmt.Errorf("protocol: short read: got %d want %d", n, len(dst))
	}
	return n, nil
}
