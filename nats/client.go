package nats

import (
	"sort"
	"strconv"
	"time"

	"github.com/nats-io/nuid"
	"github.com/sirupsen/logrus"
)

// MsgHandler is the synchronous delivery callback for a subscription. A
// returned error is logged and isolated to the one message; it never aborts
// the processing pass.
type MsgHandler func(*Message) error

// Subscription is one registered interest in a subject pattern, optionally
// shared with a queue group.
type Subscription struct {
	sid     uint64
	Subject string
	Queue   string

	handler MsgHandler

	// literal disables wildcard interpretation: the pattern only matches
	// a subject equal to it.
	literal bool

	// maxDeliveries is the total delivery count after which the
	// subscription removes itself (0 = unlimited). The server enforces it
	// through the unsubscribe-with-count frame; delivered is the client's
	// fallback counter in case the server delivers one extra message.
	maxDeliveries uint64
	delivered     uint64
}

// Sid returns the subscription id.
func (sub *Subscription) Sid() uint64 { return sub.sid }

type pendingRequest struct {
	inbox    string
	sid      uint64
	reply    *Message
	resolved bool
}

// Client is the dispatcher: it owns the subscription registry, the inbound
// read/parse/route loop, and request/reply correlation on one connection.
// A Client is single-threaded; see the package documentation.
type Client struct {
	conn   *Conn
	logger *logrus.Logger

	nextSid uint64
	subs    map[uint64]*Subscription
	pending map[string]*pendingRequest

	// groupCursor drives round-robin member selection per queue group.
	groupCursor map[string]int

	// Registry mutation requested from inside a delivery callback is
	// deferred to the end of the current processing pass so the routing
	// iteration is never invalidated.
	inProcess bool
	deferred  []func()
}

// NewClient builds a client and its connection from caller options. It does
// not connect; call Connect.
func NewClient(opts *Options) (*Client, error) {
	conn, err := NewConn(opts)
	if err != nil {
		return nil, err
	}
	return NewClientWithConn(conn), nil
}

// NewClientWithConn builds a client over an existing connection.
func NewClientWithConn(conn *Conn) *Client {
	return &Client{
		conn:        conn,
		logger:      conn.logger,
		subs:        make(map[uint64]*Subscription),
		pending:     make(map[string]*pendingRequest),
		groupCursor: make(map[string]int),
	}
}

// SetLogger replaces the client's logger.
func (client *Client) SetLogger(logger *logrus.Logger) *Client {
	if logger != nil {
		client.logger = logger
		client.conn.SetLogger(logger)
	}
	return client
}

// Conn returns the underlying connection.
func (client *Client) Conn() *Conn { return client.conn }

// Connect establishes the connection. After a disconnect the caller may call
// Reconnect to re-establish and replay subscriptions.
func (client *Client) Connect() error {
	return client.conn.Connect()
}

// Reconnect re-establishes a dropped connection and replays every active
// subscription with its original sid. Pending requests are not replayed;
// their callers time out and retry.
func (client *Client) Reconnect() error {
	if err := client.conn.Connect(); err != nil {
		return err
	}
	for _, sid := range client.sortedSids() {
		sub := client.subs[sid]
		if err := client.conn.Write(encodeSub(sub.Subject, sub.Queue, sub.sid)); err != nil {
			return NewError(SubscriptionError, "resubscribe of '"+sub.Subject+"' failed: "+err.Error())
		}
		if sub.maxDeliveries > 0 {
			remaining := int(sub.maxDeliveries - sub.delivered)
			if remaining < 1 {
				remaining = 1
			}
			if err := client.conn.Write(encodeUnsub(sub.sid, remaining)); err != nil {
				return NewError(SubscriptionError, "resubscribe of '"+sub.Subject+"' failed: "+err.Error())
			}
		}
	}
	return nil
}

// Close closes the connection and drops all registered state.
func (client *Client) Close() error {
	client.subs = make(map[uint64]*Subscription)
	client.pending = make(map[string]*pendingRequest)
	client.deferred = nil
	return client.conn.Close()
}

// Publish sends a fire-and-forget message with an opaque payload. There is
// no delivery acknowledgment; it fails only on validation or write errors.
func (client *Client) Publish(subject string, data []byte) error {
	return client.PublishMsg(NewMessage(subject, data))
}

// PublishMsg sends a message, using the header-bearing frame when the
// message carries headers.
func (client *Client) PublishMsg(msg *Message) error {
	if err := ValidateSubject(msg.Subject, false); err != nil {
		return err
	}
	frame := encodePub(msg.Subject, msg.Reply, msg.Header, msg.Data)
	if err := client.conn.Write(frame); err != nil {
		return NewError(PublishError, "publish to '"+msg.Subject+"' failed: "+err.Error())
	}
	return nil
}

// Subscribe registers interest in a subject pattern and returns the
// subscription. The callback runs inside Process.
func (client *Client) Subscribe(subject string, handler MsgHandler) (*Subscription, error) {
	return client.subscribe(subject, "", handler, false)
}

// SubscribeLiteral registers interest in a subject with wildcard
// interpretation disabled: "*" and ">" are plain characters and only an
// exactly equal subject matches.
func (client *Client) SubscribeLiteral(subject string, handler MsgHandler) (*Subscription, error) {
	return client.subscribe(subject, "", handler, true)
}

// QueueSubscribe registers interest shared with a queue group: each message
// is delivered to exactly one member of the group.
func (client *Client) QueueSubscribe(subject string, queue string, handler MsgHandler) (*Subscription, error) {
	if err := ValidateQueueName(queue); err != nil {
		return nil, err
	}
	return client.subscribe(subject, queue, handler, false)
}

func (client *Client) subscribe(subject string, queue string, handler MsgHandler, literal bool) (*Subscription, error) {
	if err := ValidateSubject(subject, !literal); err != nil {
		return nil, err
	}

	client.nextSid++
	sub := &Subscription{
		sid:     client.nextSid,
		Subject: subject,
		Queue:   queue,
		handler: handler,
		literal: literal,
	}

	if err := client.conn.Write(encodeSub(subject, queue, sub.sid)); err != nil {
		return nil, NewError(SubscriptionError, "subscribe to '"+subject+"' failed: "+err.Error())
	}

	client.mutate(func() { client.subs[sub.sid] = sub })
	return sub, nil
}

// Unsubscribe withdraws a subscription. With maxMessages the subscription
// stays registered and removes itself once its total delivery count reaches
// the limit; without it the removal is immediate.
func (client *Client) Unsubscribe(sid uint64, maxMessages ...int) error {
	sub, exists := client.subs[sid]
	if !exists {
		return NewError(SubscriptionError, "unknown subscription id "+strconv.FormatUint(sid, 10))
	}

	if len(maxMessages) > 0 && maxMessages[0] > 0 {
		limit := uint64(maxMessages[0])
		if sub.delivered >= limit {
			return client.Unsubscribe(sid)
		}
		if err := client.conn.Write(encodeUnsub(sid, maxMessages[0])); err != nil {
			return NewError(SubscriptionError, "unsubscribe of sid "+strconv.FormatUint(sid, 10)+" failed: "+err.Error())
		}
		sub.maxDeliveries = limit
		return nil
	}

	if err := client.conn.Write(encodeUnsub(sid, 0)); err != nil {
		return NewError(SubscriptionError, "unsubscribe of sid "+strconv.FormatUint(sid, 10)+" failed: "+err.Error())
	}
	client.mutate(func() { delete(client.subs, sid) })
	return nil
}

// Request publishes with a generated reply subject and blocks until the
// single reply arrives or the timeout elapses. While waiting it keeps
// servicing other subscriptions' deliveries on the same connection.
func (client *Client) Request(subject string, data []byte, timeout time.Duration) (*Message, error) {
	return client.RequestMsg(NewMessage(subject, data), timeout)
}

// RequestMsg is Request for a caller-built message; any reply subject on the
// message is replaced with the generated inbox.
func (client *Client) RequestMsg(msg *Message, timeout time.Duration) (*Message, error) {
	if err := ValidateSubject(msg.Subject, false); err != nil {
		return nil, err
	}
	if !client.conn.IsConnected() {
		return nil, NewError(DisconnectedError, "not connected to "+client.conn.opts.Addr())
	}

	inbox := inboxSubjectPrefix + nuid.Next()

	sub, err := client.subscribe(inbox, "", nil, false)
	if err != nil {
		return nil, err
	}
	// One reply per request; the server stops after the first delivery.
	if err := client.conn.Write(encodeUnsub(sub.sid, 1)); err != nil {
		client.cleanupRequest(inbox, sub.sid)
		return nil, NewError(ConnectionError, err)
	}
	sub.maxDeliveries = 1

	request := &pendingRequest{inbox: inbox, sid: sub.sid}
	client.pending[inbox] = request

	if err := client.PublishMsg(msg.WithReply(inbox)); err != nil {
		client.cleanupRequest(inbox, sub.sid)
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		if request.resolved {
			return request.reply, nil
		}
		if !time.Now().Before(deadline) {
			client.cleanupRequest(inbox, sub.sid)
			return nil, NewError(TimedOutError,
				"request on subject '"+msg.Subject+"' timed out after "+timeout.String())
		}
		if _, err := client.Process(0); err != nil {
			client.cleanupRequest(inbox, sub.sid)
			return nil, err
		}
	}
}

// cleanupRequest removes the pending entry and the auto-subscription. A
// reply arriving later matches no pending request and is silently dropped.
func (client *Client) cleanupRequest(inbox string, sid uint64) {
	delete(client.pending, inbox)
	if _, exists := client.subs[sid]; exists {
		_ = client.conn.Write(encodeUnsub(sid, 0))
		client.mutate(func() { delete(client.subs, sid) })
	}
}

// Flush sends a PING and waits for the matching PONG, proving every prior
// write reached the server.
func (client *Client) Flush(timeout time.Duration) error {
	if client.conn.HealthCheck(timeout) {
		return nil
	}
	if !client.conn.IsConnected() {
		return NewError(DisconnectedError, "not connected to "+client.conn.opts.Addr())
	}
	return NewError(TimedOutError, "flush timed out after "+timeout.String())
}

// Process runs the inbound loop for up to timeout: it reads and decodes
// control lines, reads message payloads, and routes each message to the
// matching subscriptions or pending request. A zero timeout drains whatever
// is already pending and returns. It returns the number of messages
// processed. A decode failure is fatal to the whole call (the stream is
// desynced); a transport failure marks the connection disconnected, and the
// caller owns reconnect-and-resubscribe.
func (client *Client) Process(timeout time.Duration) (int, error) {
	if !client.conn.IsConnected() {
		return 0, NewError(DisconnectedError, "not connected to "+client.conn.opts.Addr())
	}

	client.inProcess = true
	defer client.endPass()

	deadline := time.Now().Add(timeout)
	processed := 0

	for {
		line, err := client.conn.ReadLine()
		if err != nil {
			return processed, err
		}
		if line == nil {
			if timeout <= 0 || !time.Now().Before(deadline) {
				return processed, nil
			}
			continue
		}

		switch classifyControlLine(line) {
		case opMsg:
			args, err := parseMsgArgs(line)
			if err != nil {
				return processed, err
			}
			msg, err := client.readPayload(args)
			if err != nil {
				return processed, err
			}
			client.route(msg)
			processed++

		case opHMsg:
			args, err := parseHMsgArgs(line)
			if err != nil {
				return processed, err
			}
			msg, err := client.readPayload(args)
			if err != nil {
				return processed, err
			}
			client.route(msg)
			processed++

		case opPing:
			if err := client.conn.Pong(); err != nil {
				return processed, err
			}

		case opPong:
			client.conn.notePong()

		case opOK:
			// Verbose-mode acknowledgment.

		case opErr:
			client.logger.WithField("server_error", parseErrLine(line)).Error("server reported protocol error")

		case opInfo:
			if info, err := parseInfoLine(line); err == nil {
				client.conn.info = info
			}

		default:
			return processed, NewError(ProtocolError, "unexpected control line '"+string(line)+"'")
		}

		if timeout > 0 && !time.Now().Before(deadline) {
			return processed, nil
		}
	}
}

// readPayload reads the declared byte counts as a contiguous read and builds
// the message. The payload is followed by a CRLF that is not part of the
// declared length.
func (client *Client) readPayload(args msgArgs) (*Message, error) {
	deadline := time.Now().Add(client.conn.opts.Timeout)
	body, err := client.conn.ReadFull(args.totalSize+2, deadline)
	if err != nil {
		return nil, err
	}
	if string(body[args.totalSize:]) != crlf {
		client.conn.markDisconnected(NewError(ProtocolError, "payload not terminated by CRLF"))
		return nil, NewError(ProtocolError, "payload of '"+args.subject+"' not terminated by CRLF")
	}
	body = body[:args.totalSize]

	msg := &Message{
		Subject: args.subject,
		Reply:   args.reply,
		Sid:     args.sid,
		client:  client,
	}

	if args.headerSize > 0 {
		header, err := decodeHeaderBlock(body[:args.headerSize])
		if err != nil {
			client.conn.markDisconnected(err)
			return nil, err
		}
		msg.Header = header
		msg.Data = body[args.headerSize:]
	} else {
		msg.Data = body
	}

	return msg, nil
}

// route delivers one inbound message: a pending request consumes it when the
// subject is its reply subject; otherwise every independently matching
// subscription receives it and each matching queue group delivers it to
// exactly one member.
func (client *Client) route(msg *Message) {
	if request, exists := client.pending[msg.Subject]; exists {
		request.reply = msg
		request.resolved = true
		delete(client.pending, msg.Subject)
		client.mutate(func() { delete(client.subs, request.sid) })
		return
	}

	var independents []*Subscription
	groups := make(map[string][]*Subscription)

	for _, sid := range client.sortedSids() {
		sub := client.subs[sid]
		if !sub.matches(msg.Subject) {
			continue
		}
		if sub.Queue == "" {
			independents = append(independents, sub)
		} else {
			groups[sub.Queue] = append(groups[sub.Queue], sub)
		}
	}

	for _, sub := range independents {
		client.deliver(sub, msg)
	}

	groupNames := make([]string, 0, len(groups))
	for name := range groups {
		groupNames = append(groupNames, name)
	}
	sort.Strings(groupNames)

	for _, name := range groupNames {
		members := groups[name]
		cursor := client.groupCursor[name]
		client.groupCursor[name] = cursor + 1
		client.deliver(members[cursor%len(members)], msg)
	}
}

func (sub *Subscription) matches(subject string) bool {
	if sub.literal {
		return subject == sub.Subject
	}
	return MatchSubject(subject, sub.Subject)
}

// deliver invokes one subscription's callback, enforcing the max-deliveries
// fallback and isolating callback errors to the one message.
func (client *Client) deliver(sub *Subscription, msg *Message) {
	if sub.maxDeliveries > 0 && sub.delivered >= sub.maxDeliveries {
		// Server delivered past the unsubscribe count; drop and retire.
		client.mutate(func() { delete(client.subs, sub.sid) })
		return
	}
	sub.delivered++

	if sub.handler != nil {
		delivered := *msg
		delivered.Sid = sub.sid
		if err := sub.handler(&delivered); err != nil {
			client.logger.WithFields(logrus.Fields{
				"subject": msg.Subject,
				"sid":     sub.sid,
			}).WithError(NewError(MessageHandlerError, err)).Error("subscription callback failed")
		}
	}

	if sub.maxDeliveries > 0 && sub.delivered >= sub.maxDeliveries {
		client.mutate(func() { delete(client.subs, sub.sid) })
	}
}

func (client *Client) sortedSids() []uint64 {
	sids := make([]uint64, 0, len(client.subs))
	for sid := range client.subs {
		sids = append(sids, sid)
	}
	sort.Slice(sids, func(i, j int) bool { return sids[i] < sids[j] })
	return sids
}

// mutate applies a registry mutation now, or at the end of the current
// processing pass when one is active.
func (client *Client) mutate(op func()) {
	if client.inProcess {
		client.deferred = append(client.deferred, op)
		return
	}
	op()
}

func (client *Client) endPass() {
	client.inProcess = false
	for _, op := range client.deferred {
		op()
	}
	client.deferred = nil
}
