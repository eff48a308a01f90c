package nats

import (
	"strconv"
	"time"
)

// Acknowledgment bodies published to a consumed message's ack-reply subject.
var (
	ackAck        = []byte("+ACK")
	ackNak        = []byte("-NAK")
	ackTerm       = []byte("+TERM")
	ackInProgress = []byte("+WPI")
)

// MsgMetadata is the delivery metadata encoded in the ack-reply subject.
type MsgMetadata struct {
	Stream       string
	Consumer     string
	NumDelivered uint64
	Sequence     SequenceInfo
	NumPending   uint64
	Timestamp    time.Time
}

// JetStreamMessage is one pulled, ack-able message. Under normal operation
// it must receive exactly one of Ack, Nak, or Term; InProgress may be sent
// any number of times before the terminal action. Acks are plain publishes
// to the ack-reply subject, not request/reply round trips: an ack that the
// server no longer honors (for example after its ack-wait expired) simply
// results in a redelivery.
type JetStreamMessage struct {
	Subject string
	Data    []byte
	Header  *Header

	ackReply string
	meta     MsgMetadata
	client   *Client
	done     bool
}

// parseAckReply decodes "$JS.ACK.<stream>.<consumer>.<delivered>.<stream-seq>.
// <consumer-seq>.<timestamp-ns>.<pending>".
func parseAckReply(reply string) (MsgMetadata, error) {
	var meta MsgMetadata

	tokens := splitSubjectTokens(reply)
	if len(tokens) < 9 || tokens[0] != "$JS" || tokens[1] != "ACK" {
		return meta, NewError(ProtocolError, "malformed ack-reply subject '"+reply+"'")
	}

	numbers := make([]uint64, 5)
	for i, token := range tokens[4:9] {
		value, err := strconv.ParseUint(token, 10, 64)
		if err != nil {
			return meta, NewError(ProtocolError, "malformed ack-reply subject '"+reply+"'")
		}
		numbers[i] = value
	}

	meta.Stream = tokens[2]
	meta.Consumer = tokens[3]
	meta.NumDelivered = numbers[0]
	meta.Sequence = SequenceInfo{Stream: numbers[1], Consumer: numbers[2]}
	meta.Timestamp = time.Unix(0, int64(numbers[3]))
	meta.NumPending = numbers[4]
	return meta, nil
}

func newJetStreamMessage(client *Client, msg *Message) (*JetStreamMessage, error) {
	meta, err := parseAckReply(msg.Reply)
	if err != nil {
		return nil, err
	}
	return &JetStreamMessage{
		Subject:  msg.Subject,
		Data:     msg.Data,
		Header:   msg.Header,
		ackReply: msg.Reply,
		meta:     meta,
		client:   client,
	}, nil
}

// Metadata returns the delivery metadata from the ack-reply subject.
func (msg *JetStreamMessage) Metadata() MsgMetadata { return msg.meta }

func (msg *JetStreamMessage) sendAck(body []byte, terminal bool) error {
	if msg.done {
		return NewError(PublishError, "message on '"+msg.Subject+"' already reached a terminal acknowledgment")
	}
	if err := msg.client.Publish(msg.ackReply, body); err != nil {
		return err
	}
	if terminal {
		msg.done = true
	}
	return nil
}

// Ack acknowledges the message positively and permanently.
func (msg *JetStreamMessage) Ack() error {
	return msg.sendAck(ackAck, true)
}

// Nak rejects the message for redelivery, optionally after a minimum delay.
func (msg *JetStreamMessage) Nak(delay ...time.Duration) error {
	body := ackNak
	if len(delay) > 0 && delay[0] > 0 {
		body = append([]byte{}, ackNak...)
		body = append(body, ` {"delay": `...)
		body = strconv.AppendInt(body, delay[0].Nanoseconds(), 10)
		body = append(body, '}')
	}
	return msg.sendAck(body, true)
}

// Term terminates the message: it is never redelivered. Used for poison
// messages.
func (msg *JetStreamMessage) Term() error {
	return msg.sendAck(ackTerm, true)
}

// InProgress extends the server's redelivery timer without resolving the
// message.
func (msg *JetStreamMessage) InProgress() error {
	return msg.sendAck(ackInProgress, false)
}
