package protocol

import (
	"bytes"
	"fmt"
)

// Body shape selection is implicit from who sent the datagram; the codec
// itself never tags which shape follows the header. Callers pick the
// matching Encode*/Decode* pair for their role (client or server).

// PlainBody is the minimal body shape: just events.
type PlainBody struct {
	Events []Event
}

// ClientBody carries the client's last-applied time_order alongside its
// events, so the server knows where to resume the delta from.
type ClientBody struct {
	TimeOrder SequenceNumber
	Events    []Event
}

// ServerBody carries a delta intended to catch the client up, alongside
// any events. The update itself is represented generically (time_order
// plus a sparse attribute map) so this package has no dependency on the
// state package's concrete GameStateUpdate type.
type ServerBody struct {
	UpdateTimeOrder SequenceNumber
	UpdateAttrs     map[string]any
	Events          []Event
}

// EncodePlainBody encodes a PlainBody, returning an error if the result
// would exceed maxSize once combined with a header of the given width.
func EncodePlainBody(width, maxSize int, b PlainBody) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeEvents(&buf, b.Events); err != nil {
		return nil, err
	}
	return finishBody(&buf, width, maxSize)
}

// DecodePlainBody decodes a PlainBody from the bytes following the header.
func DecodePlainBody(body []byte) (PlainBody, error) {
	r := bytes.NewReader(body)
	events, err := decodeEvents(r)
	if err != nil {
		return PlainBody{}, err
	}
	return PlainBody{Events: events}, nil
}

// EncodeClientBody encodes a ClientBody.
func EncodeClientBody(width, maxSize int, b ClientBody) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeValue(&buf, b.TimeOrder); err != nil {
		return nil, err
	}
	if err := encodeEvents(&buf, b.Events); err != nil {
		return nil, err
	}
	return finishBody(&buf, width, maxSize)
}

// DecodeClientBody decodes a ClientBody.
func DecodeClientBody(body []byte) (ClientBody, error) {
	r := bytes.NewReader(body)
	toVal, err := DecodeValue(r)
	if err != nil {
		return ClientBody{}, err
	}
	timeOrder, ok := toVal.(SequenceNumber)
	if !ok {
		return ClientBody{}, fmt.Errorf("protocol: client body time_order has wrong type %T", toVal)
	}
	events, err := decodeEvents(r)
	if err != nil {
		return ClientBody{}, err
	}
	return ClientBody{TimeOrder: timeOrder, Events: events}, nil
}

// EncodeServerBody encodes a ServerBody.
func EncodeServerBody(width, maxSize int, b ServerBody) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeValue(&buf, b.UpdateTimeOrder); err != nil {
		return nil, err
	}
	attrs := b.UpdateAttrs
	if attrs == nil {
		attrs = map[string]any{}
	}
	if err := EncodeValue(&buf, any(attrs)); err != nil {
		return nil, err
	}
	if err := encodeEvents(&buf, b.Events); err != nil {
		return nil, err
	}
	return finishBody(&buf, width, maxSize)
}

// DecodeServerBody decodes a ServerBody.
func DecodeServerBody(body []byte) (ServerBody, error) {
	r := bytes.NewReader(body)
	toVal, err := DecodeValue(r)
	if err != nil {
		return ServerBody{}, err
	}
	timeOrder, ok := toVal.(SequenceNumber)
	if !ok {
		return ServerBody{}, fmt.Errorf("protocol: server body time_order has wrong type %T", toVal)
	}
	attrsVal, err := DecodeValue(r)
	if err != nil {
		return ServerBody{}, err
	}
	attrs, _ := attrsVal.(map[string]any)
	events, err := decodeEvents(r)
	if err != nil {
		return ServerBody{}, err
	}
	return ServerBody{UpdateTimeOrder: timeOrder, UpdateAttrs: attrs, Events: events}, nil
}

// ErrSizeOverflow is returned at encode time when a package would exceed
// the configured maximum datagram size. The caller must split or drop
// events; the connection itself is not corrupted by this error.
type ErrSizeOverflow struct {
	Size, Max int
}

func (e *ErrSizeOverflow) Error() string {
	return fmt.Sprintf("protocol: encoded package of %d bytes exceeds max datagram size %d", e.Size, e.Max)
}

func finishBody(buf *bytes.Buffer, width, maxSize int) ([]byte, error) {
	total := len(Magic) + HeaderSize(width) + buf.Len()
	if total > maxSize {
		return nil, &ErrSizeOverflow{Size: total, Max: maxSize}
	}
	return buf.Bytes(), nil
}

// EncodeDatagram assembles magic + header + body into one datagram.
func EncodeDatagram(width, maxSize int, h Header, body []byte) ([]byte, error) {
	total := len(Magic) + HeaderSize(width) + len(body)
	if total > maxSize {
		return nil, &ErrSizeOverflow{Size: total, Max: maxSize}
	}
	out := make([]byte, 0, total)
	out = append(out, Magic[:]...)
	headerBuf := make([]byte, HeaderSize(width))
	if err := EncodeHeader(headerBuf, width, h); err != nil {
		return nil, err
	}
	out = append(out, headerBuf...)
	out = append(out, body...)
	return out, nil
}

// DecodeDatagram splits a raw datagram into its header and body, after
// verifying the magic.
func DecodeDatagram(data []byte, width int) (Header, []byte, error) {
	if err := CheckMagic(data); err != nil {
		return Header{}, nil, err
	}
	rest := data[len(Magic):]
	h, err := DecodeHeader(rest, width)
	if err != nil {
		return Header{}, nil, err
	}
	body := rest[HeaderSize(width):]
	return h, body, nil
}
