package nats

import (
	"bytes"
	"time"

	"github.com/sirupsen/logrus"
)

// ConnState tracks the connection lifecycle.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (state ConnState) String() string {
	switch state {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Conn drives the protocol handshake over a Transport and owns the
// connection-level liveness protocol (ping/pong, health checks). It never
// reconnects on its own: when a read or write fails the Conn transitions to
// disconnected and the caller decides when to call Connect again.
type Conn struct {
	opts      *Options
	transport Transport
	state     ConnState
	info      *ServerInfo
	logger    *logrus.Logger

	// Raw frame bytes read off the wire while waiting for a PONG are
	// re-stashed here, ahead of the transport, so the dispatcher re-frames
	// them intact on its next pass. Holds only whole CRLF-terminated frames.
	pushback []byte

	pingsOut   int
	reconnects int
}

// NewConn builds a connection from caller options, selecting the TCP/TLS or
// websocket transport. The options are copied.
func NewConn(opts *Options) (*Conn, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.copy()

	var transport Transport
	if opts.WebSocket {
		scheme := "ws://"
		if opts.TLS {
			scheme = "wss://"
		}
		transport = NewWebSocketTransport(scheme+opts.Addr(), opts.Timeout, opts.TLSConfig)
	} else {
		var tlsConfig = opts.TLSConfig
		if opts.TLS && tlsConfig == nil {
			tlsConfig = defaultTLSConfig(opts.Host)
		}
		if !opts.TLS {
			tlsConfig = nil
		}
		transport = NewTCPTransport(opts.Addr(), opts.Timeout, tlsConfig)
	}

	return &Conn{
		opts:      opts,
		transport: transport,
		logger:    logrus.StandardLogger(),
	}, nil
}

// NewConnWithTransport builds a connection over a caller-provided transport.
func NewConnWithTransport(opts *Options, transport Transport) (*Conn, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Conn{
		opts:      opts.copy(),
		transport: transport,
		logger:    logrus.StandardLogger(),
	}, nil
}

// SetLogger replaces the connection's logger.
func (conn *Conn) SetLogger(logger *logrus.Logger) *Conn {
	if logger != nil {
		conn.logger = logger
	}
	return conn
}

// State returns the current lifecycle state.
func (conn *Conn) State() ConnState { return conn.state }

// IsConnected reports whether the handshake completed and no transport
// failure was observed since.
func (conn *Conn) IsConnected() bool { return conn.state == StateConnected }

// ServerInfo returns the greeting metadata from the most recent handshake.
func (conn *Conn) ServerInfo() *ServerInfo { return conn.info }

// Options returns the connection's configuration.
func (conn *Conn) Options() *Options { return conn.opts }

// Connect opens the transport, reads the server greeting, and answers with
// the client greeting built from the connection options.
func (conn *Conn) Connect() error {
	if conn.state == StateConnected {
		return NewError(AlreadyConnectedError, "already connected to "+conn.opts.Addr())
	}

	if conn.state == StateDisconnected && conn.reconnects > 0 {
		conn.state = StateReconnecting
	} else {
		conn.state = StateConnecting
	}

	if err := conn.transport.Connect(); err != nil {
		conn.state = StateDisconnected
		return err
	}

	deadline := time.Now().Add(conn.opts.Timeout)
	line, err := conn.readLineBlocking(deadline)
	if err != nil {
		conn.teardown()
		return NewError(ConnectionError, "no greeting from "+conn.opts.Addr()+": "+err.Error())
	}

	if classifyControlLine(line) != opInfo {
		conn.teardown()
		return NewError(ProtocolError, "expected INFO greeting from "+conn.opts.Addr()+", got '"+string(line)+"'")
	}

	info, err := parseInfoLine(line)
	if err != nil {
		conn.teardown()
		return err
	}

	connect, err := encodeConnect(conn.opts)
	if err != nil {
		conn.teardown()
		return err
	}
	if err := conn.transport.Write(connect); err != nil {
		conn.teardown()
		return NewError(ConnectionError, "greeting reply to "+conn.opts.Addr()+" failed: "+err.Error())
	}

	conn.info = info
	conn.pingsOut = 0
	conn.pushback = nil
	conn.state = StateConnected
	conn.reconnects++

	conn.logger.WithFields(logrus.Fields{
		"addr":      conn.opts.Addr(),
		"server":    info.ServerID,
		"version":   info.Version,
		"jetstream": info.JetStream,
	}).Debug("connected")

	return nil
}

// Ping writes a PING frame without waiting for the reply.
func (conn *Conn) Ping() error {
	if err := conn.Write(pingFrame); err != nil {
		return err
	}
	conn.pingsOut++
	return nil
}

// Pong writes a PONG frame.
func (conn *Conn) Pong() error {
	return conn.Write(pongFrame)
}

// notePong accounts for an inbound PONG observed by whoever is reading.
func (conn *Conn) notePong() {
	conn.pingsOut = 0
}

// MaxPingsOutExceeded reports whether more pings are unanswered than the
// configured tolerance allows.
func (conn *Conn) MaxPingsOutExceeded() bool {
	return conn.opts.MaxPingsOut > 0 && conn.pingsOut > conn.opts.MaxPingsOut
}

// IsHealthCheckDue reports whether the connection has been idle for longer
// than the configured ping interval.
func (conn *Conn) IsHealthCheckDue() bool {
	return conn.opts.PingInterval > 0 && conn.transport.IdleTime() > conn.opts.PingInterval
}

// HealthCheck sends a PING and waits up to timeout for the matching PONG.
// It detects half-open sockets that a plain write would not reveal. Frames
// other than PONG that arrive while waiting, message payloads included, are
// stashed ahead of the transport for the dispatcher, so no message is lost.
// Returns false on timeout or transport failure.
//
// Reads go straight to the transport here, never through ReadLine: the
// stashed frames must stay stashed until the dispatcher's next pass.
func (conn *Conn) HealthCheck(timeout time.Duration) bool {
	if conn.state != StateConnected {
		return false
	}
	if err := conn.Ping(); err != nil {
		return false
	}

	deadline := time.Now().Add(timeout)
	for {
		line, err := conn.transport.ReadLine()
		if err != nil {
			conn.markDisconnected(err)
			return false
		}
		if line == nil {
			if time.Now().After(deadline) {
				conn.logger.WithField("addr", conn.opts.Addr()).Warn("health check timed out")
				return false
			}
			continue
		}

		switch op := classifyControlLine(line); op {
		case opPong:
			conn.notePong()
			return true
		case opPing:
			if err := conn.Pong(); err != nil {
				return false
			}
		case opMsg, opHMsg:
			if !conn.stashMessageFrame(op, line, deadline) {
				return false
			}
		default:
			conn.stash(line, nil)
		}
	}
}

// stashMessageFrame reads the payload declared by a MSG/HMSG line and stashes
// the whole frame. Pushing back only the control line would leave the payload
// bytes at the front of the transport, desyncing the stream.
func (conn *Conn) stashMessageFrame(op int, line []byte, deadline time.Time) bool {
	var args msgArgs
	var err error
	if op == opHMsg {
		args, err = parseHMsgArgs(line)
	} else {
		args, err = parseMsgArgs(line)
	}
	if err != nil {
		conn.markDisconnected(err)
		return false
	}

	body, err := conn.readPayloadFromTransport(args.totalSize+2, deadline)
	if err != nil {
		return false
	}
	conn.stash(line, body)
	return true
}

// stash appends one complete frame (control line plus optional payload
// bytes, CRLF included) to the pushback buffer.
func (conn *Conn) stash(line []byte, body []byte) {
	conn.pushback = append(conn.pushback, line...)
	conn.pushback = append(conn.pushback, crlf...)
	conn.pushback = append(conn.pushback, body...)
}

// Write sends raw bytes on the transport, marking the connection
// disconnected on failure.
func (conn *Conn) Write(data []byte) error {
	if conn.state != StateConnected {
		return NewError(DisconnectedError, "not connected to "+conn.opts.Addr())
	}
	if err := conn.transport.Write(data); err != nil {
		conn.markDisconnected(err)
		return err
	}
	return nil
}

// ReadLine returns the next control line, draining stashed frames first.
// It returns (nil, nil) when nothing arrived within one poll interval.
func (conn *Conn) ReadLine() ([]byte, error) {
	if len(conn.pushback) > 0 {
		end := bytes.Index(conn.pushback, []byte(crlf))
		if end < 0 {
			conn.markDisconnected(NewError(ProtocolError, "unterminated stashed line"))
			return nil, NewError(ProtocolError, "unterminated stashed line")
		}
		line := conn.pushback[:end]
		conn.pushback = conn.pushback[end+2:]
		return line, nil
	}
	line, err := conn.transport.ReadLine()
	if err != nil {
		conn.markDisconnected(err)
		return nil, err
	}
	return line, nil
}

// readLineBlocking polls for a complete line until the deadline.
func (conn *Conn) readLineBlocking(deadline time.Time) ([]byte, error) {
	for {
		line, err := conn.transport.ReadLine()
		if err != nil {
			return nil, err
		}
		if line != nil {
			return line, nil
		}
		if time.Now().After(deadline) {
			return nil, NewError(TimedOutError, "read timed out")
		}
	}
}

// ReadFull reads exactly size bytes of frame payload, draining stashed
// frame bytes before the transport and polling until the deadline.
func (conn *Conn) ReadFull(size int, deadline time.Time) ([]byte, error) {
	if take := len(conn.pushback); take > 0 {
		if take > size {
			take = size
		}
		payload := make([]byte, 0, size)
		payload = append(payload, conn.pushback[:take]...)
		conn.pushback = conn.pushback[take:]
		if take == size {
			return payload, nil
		}
		rest, err := conn.readPayloadFromTransport(size-take, deadline)
		if err != nil {
			return nil, err
		}
		return append(payload, rest...), nil
	}
	return conn.readPayloadFromTransport(size, deadline)
}

// readPayloadFromTransport reads exactly size bytes off the wire. A short
// read is a protocol failure: the stream can no longer be framed once part
// of a payload goes missing.
func (conn *Conn) readPayloadFromTransport(size int, deadline time.Time) ([]byte, error) {
	payload := make([]byte, 0, size)
	for len(payload) < size {
		chunk, err := conn.transport.Read(size - len(payload))
		if err != nil {
			conn.markDisconnected(err)
			return nil, err
		}
		if chunk == nil {
			if time.Now().After(deadline) {
				conn.markDisconnected(NewError(ProtocolError, "short payload read"))
				return nil, NewError(ProtocolError, "connection stalled mid-payload")
			}
			continue
		}
		payload = append(payload, chunk...)
	}
	return payload, nil
}

// Probe exposes the transport's non-blocking liveness check.
func (conn *Conn) Probe() bool {
	return conn.state == StateConnected && conn.transport.Probe()
}

// markDisconnected records a transport-level failure. The caller owns
// reconnection policy.
func (conn *Conn) markDisconnected(err error) {
	if conn.state == StateDisconnected {
		return
	}
	conn.logger.WithField("addr", conn.opts.Addr()).WithError(err).Warn("connection lost")
	conn.teardown()
}

func (conn *Conn) teardown() {
	_ = conn.transport.Close()
	conn.state = StateDisconnected
	conn.pushback = nil
}

// Close shuts the connection down.
func (conn *Conn) Close() error {
	if conn.state == StateDisconnected {
		return nil
	}
	conn.state = StateDisconnected
	conn.pushback = nil
	return conn.transport.Close()
}
