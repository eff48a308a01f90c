package nats

import (
	"encoding/json"
	"time"
)

// Codec is an explicit payload serialization capability. The core treats
// payloads as opaque bytes; callers that want structured payloads pass a
// Codec rather than relying on implicit type inspection.
type Codec interface {
	Name() string
	Encode(value interface{}) ([]byte, error)
	Decode(data []byte, value interface{}) error
}

// JSONCodec encodes and decodes payloads as JSON.
type JSONCodec struct{}

// Name returns the codec name.
func (JSONCodec) Name() string { return "json" }

// Encode marshals the value to JSON.
func (JSONCodec) Encode(value interface{}) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, NewError(SerializationError, err)
	}
	return data, nil
}

// Decode unmarshals JSON into the value.
func (JSONCodec) Decode(data []byte, value interface{}) error {
	if err := json.Unmarshal(data, value); err != nil {
		return NewError(SerializationError, err)
	}
	return nil
}

// RawCodec passes byte and string payloads through unchanged and rejects
// everything else.
type RawCodec struct{}

// Name returns the codec name.
func (RawCodec) Name() string { return "raw" }

// Encode accepts []byte and string values verbatim.
func (RawCodec) Encode(value interface{}) ([]byte, error) {
	switch typed := value.(type) {
	case []byte:
		return typed, nil
	case string:
		return []byte(typed), nil
	case nil:
		return nil, nil
	default:
		return nil, NewError(SerializationError, "raw codec requires []byte or string payloads")
	}
}

// Decode copies the payload into *[]byte or *string targets.
func (RawCodec) Decode(data []byte, value interface{}) error {
	switch typed := value.(type) {
	case *[]byte:
		*typed = data
		return nil
	case *string:
		*typed = string(data)
		return nil
	default:
		return NewError(SerializationError, "raw codec requires *[]byte or *string targets")
	}
}

// PublishEncoded encodes the value with the codec and publishes it.
func (client *Client) PublishEncoded(subject string, codec Codec, value interface{}) error {
	payload, err := codec.Encode(value)
	if err != nil {
		return err
	}
	return client.Publish(subject, payload)
}

// RequestEncoded encodes the request value, performs the request, and
// decodes the reply payload into the result target.
func (client *Client) RequestEncoded(subject string, codec Codec, value interface{}, result interface{}, timeout time.Duration) error {
	payload, err := codec.Encode(value)
	if err != nil {
		return err
	}
	reply, err := client.Request(subject, payload, timeout)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return codec.Decode(reply.Data, result)
}
