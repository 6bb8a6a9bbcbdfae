package protocol

import "bytes"

// Event is a named, data-carrying message. It has no id of its own on the
// wire: for ack/retry purposes it is identified by the sequence number of
// the datagram that carries it.
type Event struct {
	Type           string
	PositionalArgs []any
	KeywordArgs    map[string]any
}

// ShutdownEventType is the reserved event name that triggers server
// shutdown when dispatched by the host client. Names starting with "__"
// are reserved.
const ShutdownEventType = "__shutdown__"

// IsReserved reports whether an event type name is reserved for internal
// protocol use.
func IsReserved(eventType string) bool {
	return len(eventType) >= 2 && eventType[:2] == "__"
}

func encodeEvent(buf *bytes.Buffer, e Event) error {
	if err := EncodeValue(buf, e.Type); err != nil {
		return err
	}
	positional := make([]any, len(e.PositionalArgs))
	copy(positional, e.PositionalArgs)
	if err := EncodeValue(buf, any(positional)); err != nil {
		return err
	}
	kw := e.KeywordArgs
	if kw == nil {
		kw = map[string]any{}
	}
	return EncodeValue(buf, any(kw))
}

func decodeEvent(r *bytes.Reader) (Event, error) {
	typeVal, err := DecodeValue(r)
	if err != nil {
		return Event{}, err
	}
	typeStr, _ := typeVal.(string)

	argsVal, err := DecodeValue(r)
	if err != nil {
		return Event{}, err
	}
	args, _ := argsVal.([]any)

	kwVal, err := DecodeValue(r)
	if err != nil {
		return Event{}, err
	}
	kw, _ := kwVal.(map[string]any)

	return Event{Type: typeStr, PositionalArgs: args, KeywordArgs: kw}, nil
}

func encodeEvents(buf *bytes.Buffer, events []Event) error {
	writeUint32(buf, uint32(len(events)))
	for _, e := range events {
		if err := encodeEvent(buf, e); err != nil {
			return err
		}
	}
	return nil
}

func decodeEvents(r *bytes.Reader) ([]Event, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, n)
	for i := uint32(0); i < n; i++ {
		e, err := decodeEvent(r)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}
