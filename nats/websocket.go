package nats

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport implements Transport over the server's websocket
// listener. The protocol bytes are identical to the TCP transport; they are
// carried inside binary websocket frames, and frame boundaries carry no
// protocol meaning.
type WebSocketTransport struct {
	url          string
	timeout      time.Duration
	tlsConfig    *tls.Config
	pollInterval time.Duration

	conn   *websocket.Conn
	buffer streamBuffer
	broken bool
	lastIO time.Time
}

// NewWebSocketTransport returns a transport that dials a ws:// or wss:// URL.
func NewWebSocketTransport(url string, timeout time.Duration, tlsConfig *tls.Config) *WebSocketTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &WebSocketTransport{
		url:          url,
		timeout:      timeout,
		tlsConfig:    tlsConfig,
		pollInterval: defaultPollInterval,
	}
}

// SetPollInterval adjusts how long one Read or ReadLine call may block
// waiting for data before reporting would-block.
func (transport *WebSocketTransport) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		transport.pollInterval = interval
	}
}

// Connect performs the websocket handshake.
func (transport *WebSocketTransport) Connect() error {
	if transport.conn != nil {
		return NewError(AlreadyConnectedError, "transport already connected to "+transport.url)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: transport.timeout,
		TLSClientConfig:  transport.tlsConfig,
	}
	conn, _, err := dialer.Dial(transport.url, nil)
	if err != nil {
		return NewError(ConnectionRefusedError, "connect to "+transport.url+" failed: "+err.Error())
	}

	transport.conn = conn
	transport.buffer.reset()
	transport.broken = false
	transport.lastIO = time.Now()
	return nil
}

// Close shuts the websocket down.
func (transport *WebSocketTransport) Close() error {
	if transport.conn == nil {
		return nil
	}
	_ = transport.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(transport.timeout),
	)
	err := transport.conn.Close()
	transport.conn = nil
	transport.buffer.reset()
	if err != nil {
		return NewError(ConnectionError, err)
	}
	return nil
}

// Write sends data as one binary frame.
func (transport *WebSocketTransport) Write(data []byte) error {
	if transport.conn == nil {
		return NewError(DisconnectedError, "transport is not connected")
	}
	if err := transport.conn.SetWriteDeadline(time.Now().Add(transport.timeout)); err != nil {
		return NewError(ConnectionError, err)
	}
	if err := transport.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		transport.broken = true
		return NewError(ConnectionError, "write to "+transport.url+" failed: "+err.Error())
	}
	transport.lastIO = time.Now()
	return nil
}

func (transport *WebSocketTransport) fill(deadline time.Time) error {
	if err := transport.conn.SetReadDeadline(deadline); err != nil {
		return NewError(ConnectionError, err)
	}

	_, data, err := transport.conn.ReadMessage()
	if len(data) > 0 {
		transport.buffer.stash(data)
		transport.lastIO = time.Now()
	}
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil
		}
		transport.broken = true
		return NewError(ConnectionError, "read from "+transport.url+" failed: "+err.Error())
	}
	return nil
}

// Read returns up to max available bytes, or (nil, nil) on would-block.
func (transport *WebSocketTransport) Read(max int) ([]byte, error) {
	if transport.conn == nil {
		return nil, NewError(DisconnectedError, "transport is not connected")
	}
	if data := transport.buffer.take(max); data != nil {
		return data, nil
	}
	if err := transport.fill(time.Now().Add(transport.pollInterval)); err != nil {
		return nil, err
	}
	return transport.buffer.take(max), nil
}

// ReadLine returns one control line without its CRLF, or (nil, nil) on
// would-block.
func (transport *WebSocketTransport) ReadLine() ([]byte, error) {
	if transport.conn == nil {
		return nil, NewError(DisconnectedError, "transport is not connected")
	}
	if line, ok := transport.buffer.takeLine(); ok {
		return line, nil
	}
	if err := transport.fill(time.Now().Add(transport.pollInterval)); err != nil {
		return nil, err
	}
	if line, ok := transport.buffer.takeLine(); ok {
		return line, nil
	}
	return nil, nil
}

// Probe reports liveness from connection state. Websocket connections
// surface peer closure through read/write errors, so a failed frame marks
// the transport broken for subsequent probes.
func (transport *WebSocketTransport) Probe() bool {
	return transport.conn != nil && !transport.broken
}

// IdleTime reports how long ago the last successful I/O happened.
func (transport *WebSocketTransport) IdleTime() time.Duration {
	if transport.lastIO.IsZero() {
		return 0
	}
	return time.Since(transport.lastIO)
}
