package nats

import (
	"bytes"
	"crypto/tls"
	"net"
	"time"
)

// defaultPollInterval bounds one blocking read inside ReadLine/Read so the
// cooperative process loop can honor its own deadline.
const defaultPollInterval = 50 * time.Millisecond

// Transport owns one byte-stream socket. Read and ReadLine are polling
// reads: they return (nil, nil) when no data arrived within one poll
// interval, and an error only when the connection is closed or broken.
type Transport interface {
	Connect() error
	Close() error
	Write(data []byte) error
	Read(max int) ([]byte, error)
	ReadLine() ([]byte, error)

	// Probe is a non-blocking liveness check on the socket, without
	// waiting for data. IdleTime reports the time since the last
	// successful I/O, used to decide when a protocol ping is due.
	Probe() bool
	IdleTime() time.Duration
}

func defaultTLSConfig(host string) *tls.Config {
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}

// streamBuffer accumulates raw inbound bytes so whole lines can be taken off
// without losing data read past the line terminator.
type streamBuffer struct {
	data []byte
}

func (buffer *streamBuffer) stash(data []byte) {
	buffer.data = append(buffer.data, data...)
}

// takeLine removes and returns one CRLF-terminated line, without the CRLF.
func (buffer *streamBuffer) takeLine() ([]byte, bool) {
	end := bytes.Index(buffer.data, []byte(crlf))
	if end < 0 {
		return nil, false
	}
	line := make([]byte, end)
	copy(line, buffer.data[:end])
	buffer.data = buffer.data[end+2:]
	return line, true
}

// take removes and returns up to max buffered bytes.
func (buffer *streamBuffer) take(max int) []byte {
	if len(buffer.data) == 0 {
		return nil
	}
	if max > len(buffer.data) {
		max = len(buffer.data)
	}
	taken := make([]byte, max)
	copy(taken, buffer.data[:max])
	buffer.data = buffer.data[max:]
	return taken
}

func (buffer *streamBuffer) reset() {
	buffer.data = nil
}

// TCPTransport implements Transport over a TCP or TLS socket.
type TCPTransport struct {
	addr         string
	timeout      time.Duration
	tlsConfig    *tls.Config
	pollInterval time.Duration

	conn    net.Conn
	buffer  streamBuffer
	scratch []byte
	lastIO  time.Time
}

// NewTCPTransport returns a transport that dials addr. A nil tlsConfig
// selects a plain TCP connection.
func NewTCPTransport(addr string, timeout time.Duration, tlsConfig *tls.Config) *TCPTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TCPTransport{
		addr:         addr,
		timeout:      timeout,
		tlsConfig:    tlsConfig,
		pollInterval: defaultPollInterval,
		scratch:      make([]byte, 32*1024),
	}
}

// SetPollInterval adjusts how long one Read or ReadLine call may block
// waiting for data before reporting would-block.
func (transport *TCPTransport) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		transport.pollInterval = interval
	}
}

// Connect dials the remote address, failing with a connection error.
func (transport *TCPTransport) Connect() error {
	if transport.conn != nil {
		return NewError(AlreadyConnectedError, "transport already connected to "+transport.addr)
	}

	var conn net.Conn
	var err error
	if transport.tlsConfig != nil {
		dialer := &net.Dialer{Timeout: transport.timeout}
		conn, err = tls.DialWithDialer(dialer, "tcp", transport.addr, transport.tlsConfig)
	} else {
		conn, err = net.DialTimeout("tcp", transport.addr, transport.timeout)
	}
	if err != nil {
		return NewError(ConnectionRefusedError, "connect to "+transport.addr+" failed: "+err.Error())
	}

	transport.conn = conn
	transport.buffer.reset()
	transport.lastIO = time.Now()
	return nil
}

// Close shuts the socket down.
func (transport *TCPTransport) Close() error {
	if transport.conn == nil {
		return nil
	}
	err := transport.conn.Close()
	transport.conn = nil
	transport.buffer.reset()
	if err != nil {
		return NewError(ConnectionError, err)
	}
	return nil
}

// Write sends data, failing on a broken pipe.
func (transport *TCPTransport) Write(data []byte) error {
	if transport.conn == nil {
		return NewError(DisconnectedError, "transport is not connected")
	}
	if err := transport.conn.SetWriteDeadline(time.Now().Add(transport.timeout)); err != nil {
		return NewError(ConnectionError, err)
	}
	if _, err := transport.conn.Write(data); err != nil {
		return NewError(ConnectionError, "write to "+transport.addr+" failed: "+err.Error())
	}
	transport.lastIO = time.Now()
	return nil
}

// fill performs one deadline-bounded read from the socket into the buffer.
// It returns nil with nothing buffered on would-block, and an error when the
// peer closed the connection.
func (transport *TCPTransport) fill(deadline time.Time) error {
	if err := transport.conn.SetReadDeadline(deadline); err != nil {
		return NewError(ConnectionError, err)
	}

	count, err := transport.conn.Read(transport.scratch)
	if count > 0 {
		transport.buffer.stash(transport.scratch[:count])
		transport.lastIO = time.Now()
	}
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil
		}
		return NewError(ConnectionError, "read from "+transport.addr+" failed: "+err.Error())
	}
	return nil
}

// Read returns up to max available bytes, or (nil, nil) when no data arrived
// within one poll interval.
func (transport *TCPTransport) Read(max int) ([]byte, error) {
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

// ReadLine returns one CRLF-terminated control line without its terminator,
// or (nil, nil) when no complete line arrived within one poll interval.
func (transport *TCPTransport) ReadLine() ([]byte, error) {
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

// Probe checks socket liveness without waiting for data: it attempts an
// immediate read and treats a deadline miss as alive. Bytes that do arrive
// are kept for the next Read or ReadLine.
func (transport *TCPTransport) Probe() bool {
	if transport.conn == nil {
		return false
	}
	if err := transport.conn.SetReadDeadline(time.Now()); err != nil {
		return false
	}
	one := make([]byte, 1)
	count, err := transport.conn.Read(one)
	if count > 0 {
		transport.buffer.stash(one[:count])
		transport.lastIO = time.Now()
	}
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return true
		}
		return false
	}
	return true
}

// IdleTime reports how long ago the last successful I/O happened.
func (transport *TCPTransport) IdleTime() time.Duration {
	if transport.lastIO.IsZero() {
		return 0
	}
	return time.Since(transport.lastIO)
}
