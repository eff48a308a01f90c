package nats

import (
	"encoding/json"
	"time"
)

// JetStream API subjects.
const (
	jsAPIPrefix = "$JS.API"

	jsAPIAccountInfo = "INFO"

	jsAPIStreamCreate = "STREAM.CREATE."
	jsAPIStreamInfo   = "STREAM.INFO."
	jsAPIStreamUpdate = "STREAM.UPDATE."
	jsAPIStreamPurge  = "STREAM.PURGE."
	jsAPIStreamDelete = "STREAM.DELETE."
	jsAPIMsgGet       = "STREAM.MSG.GET."
	jsAPIMsgDelete    = "STREAM.MSG.DELETE."

	jsAPIConsumerCreate        = "CONSUMER.CREATE."
	jsAPIConsumerDurableCreate = "CONSUMER.DURABLE.CREATE."
	jsAPIConsumerInfo          = "CONSUMER.INFO."
	jsAPIConsumerList          = "CONSUMER.LIST."
	jsAPIConsumerDelete        = "CONSUMER.DELETE."
	jsAPIMsgNext               = "CONSUMER.MSG.NEXT."
)

// DefaultJetStreamTimeout bounds one JetStream API round trip.
const DefaultJetStreamTimeout = 5 * time.Second

// fetchExpiryGrace pads the client-side wait of a pull request past its
// server-side Expires, so an expired pull deterministically arrives as a 408
// status instead of racing the request deadline.
const fetchExpiryGrace = 250 * time.Millisecond

// JetStream exposes the persistence extension: stream and consumer
// administration, message access by sequence, pull delivery, and the
// explicit acknowledgment protocol. Every control-plane call is a
// request/reply round trip on the dispatcher against the well-known API
// subjects, carrying JSON payloads.
type JetStream struct {
	client  *Client
	prefix  string
	timeout time.Duration
}

// JetStream returns the persistence-extension interface of the client.
func (client *Client) JetStream() *JetStream {
	return &JetStream{
		client:  client,
		prefix:  jsAPIPrefix,
		timeout: DefaultJetStreamTimeout,
	}
}

// SetTimeout sets the per-call API timeout on the receiver.
func (js *JetStream) SetTimeout(timeout time.Duration) *JetStream {
	if timeout > 0 {
		js.timeout = timeout
	}
	return js
}

func validateEntityName(kind string, name string) error {
	if name == "" {
		return NewError(ConfigError, kind+" name is required")
	}
	for i := 0; i < len(name); i++ {
		character := name[i]
		if isWhitespace(character) || character == '.' || character == '*' || character == '>' {
			return NewError(ConfigError, kind+" name '"+name+"' contains an invalid character")
		}
	}
	return nil
}

// apiRequest round-trips one API call. A reply carrying an error field is
// surfaced verbatim as an *APIError.
func (js *JetStream) apiRequest(subject string, request interface{}, response interface{}) error {
	var payload []byte
	if request != nil {
		var err error
		payload, err = json.Marshal(request)
		if err != nil {
			return NewError(SerializationError, err)
		}
	}

	reply, err := js.client.Request(js.prefix+"."+subject, payload, js.timeout)
	if err != nil {
		return err
	}

	var envelope apiResponse
	if err := json.Unmarshal(reply.Data, &envelope); err != nil {
		return NewError(SerializationError, "malformed API response on '"+subject+"': "+err.Error())
	}
	if envelope.Error != nil {
		return envelope.Error
	}

	if response != nil {
		if err := json.Unmarshal(reply.Data, response); err != nil {
			return NewError(SerializationError, "malformed API response on '"+subject+"': "+err.Error())
		}
	}
	return nil
}

// AccountInfo reports the account's persistence usage, and by extension
// whether the persistence extension is enabled at all.
func (js *JetStream) AccountInfo() (*AccountInfo, error) {
	var response accountInfoResponse
	if err := js.apiRequest(jsAPIAccountInfo, nil, &response); err != nil {
		return nil, err
	}
	return &response.AccountInfo, nil
}

// AddStream creates a stream. The server rejects duplicate names.
func (js *JetStream) AddStream(config StreamConfig) (*StreamInfo, error) {
	if err := validateEntityName("stream", config.Name); err != nil {
		return nil, err
	}
	var response streamInfoResponse
	if err := js.apiRequest(jsAPIStreamCreate+config.Name, &config, &response); err != nil {
		return nil, err
	}
	return &response.StreamInfo, nil
}

// StreamInfo fetches the current stream snapshot. The result may be stale
// immediately and is never cached.
func (js *JetStream) StreamInfo(stream string) (*StreamInfo, error) {
	if err := validateEntityName("stream", stream); err != nil {
		return nil, err
	}
	var response streamInfoResponse
	if err := js.apiRequest(jsAPIStreamInfo+stream, nil, &response); err != nil {
		return nil, err
	}
	return &response.StreamInfo, nil
}

// UpdateStream replaces a stream's configuration.
func (js *JetStream) UpdateStream(config StreamConfig) (*StreamInfo, error) {
	if err := validateEntityName("stream", config.Name); err != nil {
		return nil, err
	}
	var response streamInfoResponse
	if err := js.apiRequest(jsAPIStreamUpdate+config.Name, &config, &response); err != nil {
		return nil, err
	}
	return &response.StreamInfo, nil
}

// PurgeStream clears a stream's messages while keeping its configuration.
func (js *JetStream) PurgeStream(stream string) (uint64, error) {
	if err := validateEntityName("stream", stream); err != nil {
		return 0, err
	}
	var response streamPurgeResponse
	if err := js.apiRequest(jsAPIStreamPurge+stream, nil, &response); err != nil {
		return 0, err
	}
	return response.Purged, nil
}

// DeleteStream removes a stream entirely.
func (js *JetStream) DeleteStream(stream string) error {
	if err := validateEntityName("stream", stream); err != nil {
		return err
	}
	var response streamDeleteResponse
	return js.apiRequest(jsAPIStreamDelete+stream, nil, &response)
}

// EnsureStream creates the stream when it does not exist yet and returns
// the existing one untouched otherwise, for startup-time provisioning.
func (js *JetStream) EnsureStream(config StreamConfig) (*StreamInfo, error) {
	info, err := js.StreamInfo(config.Name)
	if err == nil {
		return info, nil
	}
	if apiErr, ok := err.(*APIError); ok && apiErr.Code == 404 {
		return js.AddStream(config)
	}
	return nil, err
}

// AddConsumer creates a consumer on a stream: durable when the config has a
// durable name, ephemeral otherwise.
func (js *JetStream) AddConsumer(stream string, config ConsumerConfig) (*ConsumerInfo, error) {
	if err := validateEntityName("stream", stream); err != nil {
		return nil, err
	}

	subject := jsAPIConsumerCreate + stream
	if config.Durable != "" {
		if err := validateEntityName("consumer", config.Durable); err != nil {
			return nil, err
		}
		subject = jsAPIConsumerDurableCreate + stream + "." + config.Durable
	}

	request := createConsumerRequest{Stream: stream, Config: config}
	var response consumerInfoResponse
	if err := js.apiRequest(subject, &request, &response); err != nil {
		return nil, err
	}
	return &response.ConsumerInfo, nil
}

// ConsumerInfo fetches the current consumer snapshot.
func (js *JetStream) ConsumerInfo(stream string, consumer string) (*ConsumerInfo, error) {
	if err := validateEntityName("stream", stream); err != nil {
		return nil, err
	}
	if err := validateEntityName("consumer", consumer); err != nil {
		return nil, err
	}
	var response consumerInfoResponse
	if err := js.apiRequest(jsAPIConsumerInfo+stream+"."+consumer, nil, &response); err != nil {
		return nil, err
	}
	return &response.ConsumerInfo, nil
}

// Consumers lists a stream's consumers one page at a time.
func (js *JetStream) Consumers(stream string, offset int, limit int) (*ConsumerPage, error) {
	if err := validateEntityName("stream", stream); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	request := apiPagedRequest{Offset: offset, Limit: limit}
	var response consumerListResponse
	if err := js.apiRequest(jsAPIConsumerList+stream, &request, &response); err != nil {
		return nil, err
	}
	return &response.ConsumerPage, nil
}

// DeleteConsumer removes a consumer.
func (js *JetStream) DeleteConsumer(stream string, consumer string) error {
	if err := validateEntityName("stream", stream); err != nil {
		return err
	}
	if err := validateEntityName("consumer", consumer); err != nil {
		return err
	}
	var response consumerDeleteResponse
	return js.apiRequest(jsAPIConsumerDelete+stream+"."+consumer, nil, &response)
}

// EnsureConsumer creates the consumer when it does not exist yet, for
// startup-time provisioning of durable pull consumers.
func (js *JetStream) EnsureConsumer(stream string, config ConsumerConfig) (*ConsumerInfo, error) {
	if config.Durable == "" {
		return js.AddConsumer(stream, config)
	}
	info, err := js.ConsumerInfo(stream, config.Durable)
	if err == nil {
		return info, nil
	}
	if apiErr, ok := err.(*APIError); ok && apiErr.Code == 404 {
		return js.AddConsumer(stream, config)
	}
	return nil, err
}

// GetMsg fetches one stored message by stream sequence.
func (js *JetStream) GetMsg(stream string, sequence uint64) (*StoredMsg, error) {
	if err := validateEntityName("stream", stream); err != nil {
		return nil, err
	}
	request := msgGetRequest{Seq: sequence}
	var response msgGetResponse
	if err := js.apiRequest(jsAPIMsgGet+stream, &request, &response); err != nil {
		return nil, err
	}
	if response.Message == nil {
		return nil, NewError(ServerError, "message get reply carried no message")
	}
	stored := &StoredMsg{
		Subject:  response.Message.Subject,
		Sequence: response.Message.Seq,
		Data:     response.Message.Data,
		Time:     response.Message.Time,
	}
	if len(response.Message.Header) > 0 {
		header, err := decodeHeaderBlock(response.Message.Header)
		if err != nil {
			return nil, err
		}
		stored.Header = header
	}
	return stored, nil
}

// DeleteMsg removes one stored message by stream sequence.
func (js *JetStream) DeleteMsg(stream string, sequence uint64) error {
	if err := validateEntityName("stream", stream); err != nil {
		return err
	}
	request := msgDeleteRequest{Seq: sequence}
	var response msgDeleteResponse
	return js.apiRequest(jsAPIMsgDelete+stream, &request, &response)
}

// Publish publishes to a stream-captured subject and waits for the server's
// publish acknowledgment, unlike the fire-and-forget core publish.
func (js *JetStream) Publish(subject string, data []byte) (*PubAck, error) {
	reply, err := js.client.Request(subject, data, js.timeout)
	if err != nil {
		return nil, err
	}
	var response pubAckResponse
	if err := json.Unmarshal(reply.Data, &response); err != nil {
		return nil, NewError(SerializationError, "malformed publish ack: "+err.Error())
	}
	if response.Error != nil {
		return nil, response.Error
	}
	return &response.PubAck, nil
}

// Fetch issues a pull request for the next message of a pull consumer. With
// noWait it returns (nil, nil) immediately when nothing is available;
// otherwise it blocks up to timeout. Status replies the server uses to end
// an empty or expired pull are mapped accordingly and never surface as
// messages.
func (js *JetStream) Fetch(stream string, consumer string, timeout time.Duration, noWait bool) (*JetStreamMessage, error) {
	if err := validateEntityName("stream", stream); err != nil {
		return nil, err
	}
	if err := validateEntityName("consumer", consumer); err != nil {
		return nil, err
	}

	request := nextMsgRequest{Batch: 1, NoWait: noWait}
	wait := timeout
	if !noWait {
		request.Expires = timeout
		wait += fetchExpiryGrace
	}
	payload, err := json.Marshal(&request)
	if err != nil {
		return nil, NewError(SerializationError, err)
	}

	reply, err := js.client.Request(jsAPIPrefix+"."+jsAPIMsgNext+stream+"."+consumer, payload, wait)
	if err != nil {
		return nil, err
	}

	switch code := reply.StatusCode(); {
	case code == 0:
		return newJetStreamMessage(js.client, reply)
	case code == 404 || code == 408:
		// No messages, or the pull expired server-side.
		return nil, nil
	default:
		return nil, NewError(ServerError, "pull request failed: "+reply.Header.StatusDescription())
	}
}

// StoredMsg is one message fetched from a stream by sequence.
type StoredMsg struct {
	Subject  string
	Sequence uint64
	Header   *Header
	Data     []byte
	Time     time.Time
}
