package nats

import (
	"bufio"
	"bytes"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"
)

const testServerInfo = `INFO {"server_id":"TEST","server_name":"fake","version":"2.10.0",` +
	`"proto":1,"host":"127.0.0.1","port":0,"max_payload":1048576,"headers":true,"jetstream":true}` + "\r\n"

// fakeServer is a scripted in-process server. It accepts one connection and
// greets it; after the handshake the test drives both sides explicitly, so
// message interleaving stays deterministic.
type fakeServer struct {
	t        *testing.T
	listener net.Listener
	accepted chan net.Conn

	conn   net.Conn
	reader *bufio.Reader
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	server := &fakeServer{t: t, listener: listener, accepted: make(chan net.Conn, 4)}
	go func() {
		for {
			conn, acceptErr := listener.Accept()
			if acceptErr != nil {
				return
			}
			if _, writeErr := conn.Write([]byte(testServerInfo)); writeErr != nil {
				_ = conn.Close()
				continue
			}
			server.accepted <- conn
		}
	}()

	t.Cleanup(server.stop)
	return server
}

func (server *fakeServer) stop() {
	_ = server.listener.Close()
	if server.conn != nil {
		_ = server.conn.Close()
		server.conn = nil
	}
}

func (server *fakeServer) options() *Options {
	addr := server.listener.Addr().(*net.TCPAddr)
	return NewOptions().
		SetHost("127.0.0.1").
		SetPort(addr.Port).
		SetTimeout(2 * time.Second).
		SetName("test-client")
}

// waitConnected binds the accepted connection and consumes the client's
// CONNECT line.
func (server *fakeServer) waitConnected() {
	server.t.Helper()

	select {
	case conn := <-server.accepted:
		server.conn = conn
		server.reader = bufio.NewReader(conn)
	case <-time.After(2 * time.Second):
		server.t.Fatalf("no client connected")
	}

	line := server.readLine()
	if !strings.HasPrefix(line, "CONNECT ") {
		server.t.Fatalf("expected CONNECT, got %q", line)
	}
}

func (server *fakeServer) readLine() string {
	server.t.Helper()

	_ = server.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := server.reader.ReadString('\n')
	if err != nil {
		server.t.Fatalf("server read failed: %v", err)
	}
	return strings.TrimSuffix(line, "\r\n")
}

// readPub consumes one PUB or HPUB frame and returns subject, reply, and the
// full body (header block included for HPUB).
func (server *fakeServer) readPub() (string, string, []byte) {
	server.t.Helper()

	line := server.readLine()
	args := strings.Fields(line)

	var subject, reply string
	var total int
	switch {
	case args[0] == "PUB" && len(args) == 3:
		subject = args[1]
		total, _ = strconv.Atoi(args[2])
	case args[0] == "PUB" && len(args) == 4:
		subject, reply = args[1], args[2]
		total, _ = strconv.Atoi(args[3])
	case args[0] == "HPUB" && len(args) == 4:
		subject = args[1]
		total, _ = strconv.Atoi(args[3])
	case args[0] == "HPUB" && len(args) == 5:
		subject, reply = args[1], args[2]
		total, _ = strconv.Atoi(args[4])
	default:
		server.t.Fatalf("expected PUB/HPUB, got %q", line)
	}

	body := make([]byte, total+2)
	_ = server.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := ioReadFull(server.reader, body); err != nil {
		server.t.Fatalf("server payload read failed: %v", err)
	}
	if !bytes.HasSuffix(body, []byte(crlf)) {
		server.t.Fatalf("publish body not CRLF terminated")
	}
	return subject, reply, body[:total]
}

func ioReadFull(reader *bufio.Reader, buffer []byte) (int, error) {
	read := 0
	for read < len(buffer) {
		count, err := reader.Read(buffer[read:])
		read += count
		if err != nil {
			return read, err
		}
	}
	return read, nil
}

func (server *fakeServer) send(frame string) {
	server.t.Helper()
	if _, err := server.conn.Write([]byte(frame)); err != nil {
		server.t.Fatalf("server write failed: %v", err)
	}
}

// sendMsg pushes one MSG frame for the given sid.
func (server *fakeServer) sendMsg(subject string, sid uint64, reply string, payload string) {
	server.t.Helper()

	frame := "MSG " + subject + " " + strconv.FormatUint(sid, 10)
	if reply != "" {
		frame += " " + reply
	}
	frame += " " + strconv.Itoa(len(payload)) + crlf + payload + crlf
	server.send(frame)
}

// connectedClient builds a client against the fake server and completes the
// handshake.
func connectedClient(t *testing.T, server *fakeServer) *Client {
	t.Helper()

	client, err := NewClient(server.options())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	server.waitConnected()
	return client
}

// expectSub consumes one SUB line and returns subject, queue, sid.
func (server *fakeServer) expectSub() (string, string, uint64) {
	server.t.Helper()

	line := server.readLine()
	args := strings.Fields(line)
	if len(args) < 3 || args[0] != "SUB" {
		server.t.Fatalf("expected SUB, got %q", line)
	}

	sid, err := strconv.ParseUint(args[len(args)-1], 10, 64)
	if err != nil {
		server.t.Fatalf("bad sid in %q", line)
	}
	queue := ""
	if len(args) == 4 {
		queue = args[2]
	}
	return args[1], queue, sid
}

func (server *fakeServer) expectUnsub() (uint64, int) {
	server.t.Helper()

	line := server.readLine()
	args := strings.Fields(line)
	if len(args) < 2 || args[0] != "UNSUB" {
		server.t.Fatalf("expected UNSUB, got %q", line)
	}
	sid, _ := strconv.ParseUint(args[1], 10, 64)
	maxMessages := 0
	if len(args) == 3 {
		maxMessages, _ = strconv.Atoi(args[2])
	}
	return sid, maxMessages
}

// serveRequest answers the client's next request/reply round trip: it reads
// the SUB/UNSUB pair for the inbox, then the request publish, and delivers
// the canned reply to the inbox. Run it on its own goroutine before the
// blocking client call; the recorded request payload arrives on the channel.
func (server *fakeServer) serveRequest(expectSubject string, reply []byte, requests chan<- []byte) {
	inbox, _, sid := server.expectSub()
	server.expectUnsub()

	subject, replyTo, payload := server.readPub()
	if subject != expectSubject {
		server.t.Errorf("expected request on %q, got %q", expectSubject, subject)
		return
	}
	if replyTo != inbox {
		server.t.Errorf("request reply %q does not match inbox %q", replyTo, inbox)
		return
	}
	if requests != nil {
		requests <- payload
	}

	server.sendMsg(inbox, sid, "", string(reply))
}

// serveJSMessage answers the next pull request by delivering a stream
// message to the request inbox, carrying the ack-reply subject in the
// reply field.
func (server *fakeServer) serveJSMessage(ackReply string, payload string) {
	inbox, _, sid := server.expectSub()
	server.expectUnsub()
	server.readPub()

	server.sendMsg(inbox, sid, ackReply, payload)
}

// serveJSStatus answers the next pull request with a headers-only status
// frame, the way the server ends an empty or expired pull.
func (server *fakeServer) serveJSStatus(status string) {
	inbox, _, sid := server.expectSub()
	server.expectUnsub()
	server.readPub()

	block := "NATS/1.0 " + status + crlf + crlf
	frame := "HMSG " + inbox + " " + strconv.FormatUint(sid, 10) + " " +
		strconv.Itoa(len(block)) + " " + strconv.Itoa(len(block)) + crlf + block + crlf
	server.send(frame)
}
