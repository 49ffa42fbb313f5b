package fact

import (
	"encoding/json"
	"time"
)

// Envelope wraps a fact with the delivery metadata the hub stamps on it: a
// monotonic sequence number and, when a mutation request carried a
// correlation token, that token echoed verbatim so the issuing session can
// recognize its own echo.
type Envelope struct {
	Seq       uint64
	Origin    string
	Timestamp time.Time
	Fact      Fact
}

type wireEnvelope struct {
	Type      Kind            `json:"type"`
	Seq       uint64          `json:"seq"`
	Origin    string          `json:"origin,omitempty"`
	Timestamp time.Time       `json:"ts"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Encode serializes an envelope for the wire.
func Encode(envelope Envelope) ([]byte, error) {
	data, err := json.Marshal(envelope.Fact)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{
		Type:      envelope.Fact.Kind(),
		Seq:       envelope.Seq,
		Origin:    envelope.Origin,
		Timestamp: envelope.Timestamp,
		Data:      data,
	})
}

// Decode parses a wire message back into an envelope, rejecting kinds outside
// the closed variant set.
func Decode(raw []byte) (Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Envelope{}, err
	}

	decoded, err := decodeFact(wire.Type, wire.Data)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		Seq:       wire.Seq,
		Origin:    wire.Origin,
		Timestamp: wire.Timestamp,
		Fact:      decoded,
	}, nil
}

func decodeFact(kind Kind, data json.RawMessage) (Fact, error) {
	switch kind {
	case KindSessionJoined:
		return decodeInto[SessionJoined](data)
	case KindSessionsPresence:
		return decodeInto[SessionsPresence](data)
	case KindCollectionCreated:
		return decodeInto[CollectionCreated](data)
	case KindCollectionDeleted:
		return decodeInto[CollectionDeleted](data)
	case KindItemAdded:
		return decodeInto[ItemAdded](data)
	case KindItemRemoved:
		return decodeInto[ItemRemoved](data)
	case KindItemMoved:
		return decodeInto[ItemMoved](data)
	case KindItemVoted:
		return decodeInto[ItemVoted](data)
	case KindItemActivated:
		return decodeInto[ItemActivated](data)
	case KindKeepalive:
		return Keepalive{}, nil
	default:
		return nil, ErrUnknownKind{kind: kind}
	}
}

func decodeInto[T Fact](data json.RawMessage) (Fact, error) {
	var value T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, err
		}
	}
	return value, nil
}
