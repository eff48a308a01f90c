package nats

// Message is one protocol message, either built by a caller for publishing
// or constructed by the client from an inbound frame. Treat a Message as
// immutable after construction; use the With methods to derive variants.
type Message struct {
	Subject string
	Reply   string
	Data    []byte
	Header  *Header

	// Sid is the subscription id the server delivered the message on.
	// Zero for outbound messages.
	Sid uint64

	client *Client
}

// NewMessage returns a message for the given subject and raw payload.
func NewMessage(subject string, data []byte) *Message {
	return &Message{Subject: subject, Data: data}
}

// WithReply returns a copy of the message with the reply-to subject set.
func (msg *Message) WithReply(reply string) *Message {
	duplicate := *msg
	duplicate.Reply = reply
	return &duplicate
}

// WithHeader returns a copy of the message with the given header.
func (msg *Message) WithHeader(header *Header) *Message {
	duplicate := *msg
	duplicate.Header = header
	return &duplicate
}

// WithData returns a copy of the message with the given payload.
func (msg *Message) WithData(data []byte) *Message {
	duplicate := *msg
	duplicate.Data = data
	return &duplicate
}

// Size returns the payload size in bytes.
func (msg *Message) Size() int {
	return len(msg.Data)
}

// StatusCode returns the inline status code for server status frames, or 0.
func (msg *Message) StatusCode() int {
	return msg.Header.StatusCode()
}

// Respond publishes data to the message's reply subject. It fails when the
// message has no reply subject or was not received from a connection.
func (msg *Message) Respond(data []byte) error {
	if msg.client == nil {
		return NewError(PublishError, "message is not bound to a client")
	}
	if msg.Reply == "" {
		return NewError(PublishError, "message has no reply subject")
	}
	return msg.client.Publish(msg.Reply, data)
}
