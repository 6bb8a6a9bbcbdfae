package protocol

import (
	"encoding/binary"
	"fmt"
)

// Magic is the fixed 4-byte protocol marker prefixed to every datagram.
// Receivers drop anything whose first 4 bytes differ, surfaced as a
// ProtocolMismatch error.
var Magic = [4]byte{'P', 'G', 'S', 'E'}

// MaxDatagramSize is the default ceiling on a single encoded datagram.
const MaxDatagramSize = 2048

// AckBitfieldSize is the width, in bytes, of the acknowledgement bitmask.
const AckBitfieldSize = 4

// Header is the fixed per-datagram prefix following the magic: the
// sender's own sequence number, the newest sequence it has seen from the
// peer, and a bitfield acknowledging the 32 sequences preceding that ack.
// Bit i is set iff ack-(i+1) was received.
type Header struct {
	Sequence    SequenceNumber
	Ack         SequenceNumber
	AckBitfield uint32
}

// HeaderSize returns the encoded size of a Header for a given sequence
// byte width: width bytes for Sequence, width bytes for Ack, and the fixed
// 4-byte ack bitfield.
func HeaderSize(width int) int {
	return 2*width + AckBitfieldSize
}

// EncodeHeader writes h into dst, which must be at least HeaderSize(width)
// bytes, using big-endian field encoding.
func EncodeHeader(dst []byte, width int, h Header) error {
	size := HeaderSize(width)
	if len(dst) < size {
		return fmt.Errorf("protocol: header buffer too small: have %d need %d", len(dst), size)
	}
	if err := putUint(dst[0:width], width, uint64(h.Sequence)); err != nil {
		return err
	}
	if err := putUint(dst[width:2*width], width, uint64(h.Ack)); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(dst[2*width:2*width+4], h.AckBitfield)
	return nil
}

// DecodeHeader reads a Header from src, which must hold at least
// HeaderSize(width) bytes.
func DecodeHeader(src []byte, width int) (Header, error) {
	size := HeaderSize(width)
	if len(src) < size {
		return Header{}, fmt.Errorf("protocol: header truncated: have %d need %d", len(src), size)
	}
	seq, err := getUint(src[0:width], width)
	if err != nil {
		return Header{}, err
	}
	ack, err := getUint(src[width:2*width], width)
	if err != nil {
		return Header{}, err
	}
	bitfield := binary.BigEndian.Uint32(src[2*width : 2*width+4])
	return Header{
		Sequence:    SequenceNumber(seq),
		Ack:         SequenceNumber(ack),
		AckBitfield: bitfield,
	}, nil
}

func putUint(dst []byte, width int, v uint64) error {
	switch width {
	case 1:
		dst[0] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(dst, uint16(v))
	case 4:
		binary.BigEndian.PutUint32(dst, uint32(v))
	default:
		return fmt.Errorf("protocol: unsupported sequence width %d", width)
	}
	return nil
}

func getUint(src []byte, width int) (uint64, error) {
	switch width {
	case 1:
		return uint64(src[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(src)), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(src)), nil
	default:
		return 0, fmt.Errorf("protocol: unsupported sequence width %d", width)
	}
}

// ErrProtocolMismatch is returned when a datagram's magic does not match.
type ErrProtocolMismatch struct {
	Got [4]byte
}

func (e *ErrProtocolMismatch) Error() string {
	return fmt.Sprintf("protocol: magic mismatch, got %q", e.Got[:])
}

// CheckMagic verifies the first 4 bytes of data against Magic.
func CheckMagic(data []byte) error {
	if len(data) < len(Magic) {
		return fmt.Errorf("protocol: datagram too short for magic")
	}
	var got [4]byte
	copy(got[:], data[:4])
	if got != Magic {
		return &ErrProtocolMismatch{Got: got}
	}
	return nil
}
