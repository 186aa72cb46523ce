package wire

import (
	"fmt"

	"github.com/randalmurphal/fsevents/pkg/fsevents/event"
)

// ProtocolError reports a peer message that could not be used.
type ProtocolError struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Kind == 0 {
		return fmt.Sprintf("protocol error: %v", e.Err)
	}
	return fmt.Sprintf("protocol error in %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ProtocolViolation marks the error as a malformed peer message for
// errors.Categorize.
func (e *ProtocolError) ProtocolViolation() {}

// Codec encodes messages into envelopes.
type Codec struct {
	threshold int
}

// NewCodec returns a codec compressing bodies larger than threshold
// bytes. A threshold of zero or less disables compression.
func NewCodec(threshold int) *Codec {
	return &Codec{threshold: threshold}
}

// Encode wraps msg in an envelope and returns its encoding.
func (c *Codec) Encode(msg Message) ([]byte, error) {
	body, err := Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", msg.Kind(), err)
	}

	env := Envelope{Kind: msg.Kind(), Body: body}
	if c.threshold > 0 && len(body) > c.threshold {
		if compressed, ok := compress(body); ok {
			env.Body = compressed
			env.Compressed = true
			env.Size = len(body)
		}
	}

	data, err := Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", msg.Kind(), err)
	}
	return data, nil
}

// EmissionPayload is an emission waiting for its delivery id.
type EmissionPayload struct {
	codec *Codec
	msg   Emission
}

// Emission returns the payload for agg.
func (c *Codec) Emission(agg event.Aggregate) EmissionPayload {
	return EmissionPayload{codec: c, msg: NewEmission(agg)}
}

// Encode stamps the delivery id and encodes the emission.
func (p EmissionPayload) Encode(deliveryID uint64) ([]byte, error) {
	msg := p.msg
	msg.DeliveryID = deliveryID
	return p.codec.Encode(msg)
}

// Message returns the unstamped emission.
func (p EmissionPayload) Message() Emission {
	return p.msg
}

// Decode parses one envelope and returns the message it carries.
// Every failure is a *ProtocolError.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Err: fmt.Errorf("envelope: %w", err)}
	}

	body := env.Body
	if env.Compressed {
		var err error
		if body, err = decompress(env.Body, env.Size); err != nil {
			return nil, &ProtocolError{Kind: env.Kind, Err: err}
		}
	}

	msg, err := decodeBody(env.Kind, body)
	if err != nil {
		return nil, &ProtocolError{Kind: env.Kind, Err: err}
	}
	return msg, nil
}

func decodeBody(kind Kind, body []byte) (Message, error) {
	switch kind {
	case KindEmission:
		var m Emission
		if err := Unmarshal(body, &m); err != nil {
			return nil, err
		}
		if m.DeliveryID == 0 {
			return nil, fmt.Errorf("missing delivery id")
		}
		if !m.Type.Valid() {
			return nil, fmt.Errorf("%w: %q", event.ErrInvalidType, m.Type)
		}
		for _, b := range m.Blocks {
			if b[1] < b[0] {
				return nil, fmt.Errorf("inverted block [%d,%d)", b[0], b[1])
			}
		}
		return m, nil

	case KindSubscriptionAdd:
		var m SubscriptionAdd
		if err := Unmarshal(body, &m); err != nil {
			return nil, err
		}
		if m.ID == 0 {
			return nil, fmt.Errorf("missing subscription id")
		}
		if err := m.Subscription().Validate(); err != nil {
			return nil, err
		}
		return m, nil

	case KindSubscriptionRemove:
		var m SubscriptionRemove
		if err := Unmarshal(body, &m); err != nil {
			return nil, err
		}
		if m.ID == 0 {
			return nil, fmt.Errorf("missing subscription id")
		}
		return m, nil

	case KindConfirmation:
		var m Confirmation
		if err := Unmarshal(body, &m); err != nil {
			return nil, err
		}
		if m.DeliveryID == 0 {
			return nil, fmt.Errorf("missing delivery id")
		}
		return m, nil

	case KindHello:
		var m Hello
		if err := Unmarshal(body, &m); err != nil {
			return nil, err
		}
		if m.ClientID == "" {
			return nil, fmt.Errorf("missing client id")
		}
		return m, nil

	default:
		return nil, fmt.Errorf("unknown message kind %d", uint8(kind))
	}
}
