package nats

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodePubFrames(t *testing.T) {
	frame := encodePub("orders.created", "", nil, []byte(`{"id":123}`))
	if string(frame) != "PUB orders.created 10\r\n{\"id\":123}\r\n" {
		t.Fatalf("unexpected PUB frame %q", frame)
	}

	frame = encodePub("status", "", nil, nil)
	if string(frame) != "PUB status 0\r\n\r\n" {
		t.Fatalf("unexpected empty-payload PUB frame %q", frame)
	}

	frame = encodePub("orders.created", "_INBOX.reply", nil, []byte("hi"))
	if string(frame) != "PUB orders.created _INBOX.reply 2\r\nhi\r\n" {
		t.Fatalf("unexpected PUB frame with reply %q", frame)
	}
}

func TestEncodeHPubFrame(t *testing.T) {
	header := NewHeader().Set("Trace-Id", "abc")
	frame := encodePub("orders.created", "", header, []byte("hello"))

	// Header block: "NATS/1.0\r\nTrace-Id: abc\r\n\r\n" is 27 bytes.
	expected := "HPUB orders.created 27 32\r\nNATS/1.0\r\nTrace-Id: abc\r\n\r\nhello\r\n"
	if string(frame) != expected {
		t.Fatalf("unexpected HPUB frame %q, expected %q", frame, expected)
	}
}

func TestEncodeSubAndUnsub(t *testing.T) {
	if got := string(encodeSub("orders.*", "", 7)); got != "SUB orders.* 7\r\n" {
		t.Fatalf("unexpected SUB frame %q", got)
	}
	if got := string(encodeSub("orders.*", "workers", 7)); got != "SUB orders.* workers 7\r\n" {
		t.Fatalf("unexpected queue SUB frame %q", got)
	}
	if got := string(encodeUnsub(7, 0)); got != "UNSUB 7\r\n" {
		t.Fatalf("unexpected UNSUB frame %q", got)
	}
	if got := string(encodeUnsub(7, 3)); got != "UNSUB 7 3\r\n" {
		t.Fatalf("unexpected bounded UNSUB frame %q", got)
	}
}

func TestEncodeConnect(t *testing.T) {
	opts := NewOptions().SetName("worker-1").SetUserInfo("svc", "secret")
	frame, err := encodeConnect(opts)
	if err != nil {
		t.Fatalf("encodeConnect failed: %v", err)
	}

	line := string(frame)
	if !strings.HasPrefix(line, "CONNECT {") || !strings.HasSuffix(line, "}\r\n") {
		t.Fatalf("malformed CONNECT frame %q", line)
	}
	for _, fragment := range []string{`"name":"worker-1"`, `"user":"svc"`, `"pass":"secret"`, `"headers":true`, `"lang":"go"`, `"echo":true`} {
		if !strings.Contains(line, fragment) {
			t.Fatalf("CONNECT frame %q missing %q", line, fragment)
		}
	}
	if strings.Contains(line, "auth_token") {
		t.Fatalf("CONNECT frame %q carries an unset token", line)
	}

	noEcho, err := encodeConnect(NewOptions().SetNoEcho(true))
	if err != nil {
		t.Fatalf("encodeConnect failed: %v", err)
	}
	if !strings.Contains(string(noEcho), `"echo":false`) {
		t.Fatalf("CONNECT frame %q does not disable echo", noEcho)
	}
}

func TestClassifyControlLine(t *testing.T) {
	cases := []struct {
		line string
		op   int
	}{
		{"MSG orders 1 5", opMsg},
		{"HMSG orders 1 22 27", opHMsg},
		{"PING", opPing},
		{"PONG", opPong},
		{"INFO {}", opInfo},
		{"+OK", opOK},
		{"-ERR 'Unknown Protocol Operation'", opErr},
		{"MSGX", opUnknown},
		{"", opUnknown},
	}

	for _, c := range cases {
		if got := classifyControlLine([]byte(c.line)); got != c.op {
			t.Fatalf("classifyControlLine(%q) = %d, expected %d", c.line, got, c.op)
		}
	}
}

func TestParseMsgArgs(t *testing.T) {
	parsed, err := parseMsgArgs([]byte("MSG orders.created 42 11"))
	if err != nil {
		t.Fatalf("parseMsgArgs failed: %v", err)
	}
	if parsed.subject != "orders.created" || parsed.sid != 42 || parsed.reply != "" || parsed.totalSize != 11 {
		t.Fatalf("unexpected parse result %+v", parsed)
	}

	parsed, err = parseMsgArgs([]byte("MSG orders.created 42 _INBOX.r1 11"))
	if err != nil {
		t.Fatalf("parseMsgArgs with reply failed: %v", err)
	}
	if parsed.reply != "_INBOX.r1" {
		t.Fatalf("expected reply to be captured, got %+v", parsed)
	}

	for _, line := range []string{"MSG orders", "MSG orders 42", "MSG orders abc 11", "MSG orders 42 -1", "MSG a b c d e f"} {
		if _, err := parseMsgArgs([]byte(line)); err == nil {
			t.Fatalf("expected %q to be rejected", line)
		}
	}
}

func TestParseHMsgArgs(t *testing.T) {
	parsed, err := parseHMsgArgs([]byte("HMSG orders.created 42 22 27"))
	if err != nil {
		t.Fatalf("parseHMsgArgs failed: %v", err)
	}
	if parsed.headerSize != 22 || parsed.totalSize != 27 || parsed.sid != 42 {
		t.Fatalf("unexpected parse result %+v", parsed)
	}

	parsed, err = parseHMsgArgs([]byte("HMSG orders.created 42 _INBOX.r1 22 27"))
	if err != nil {
		t.Fatalf("parseHMsgArgs with reply failed: %v", err)
	}
	if parsed.reply != "_INBOX.r1" {
		t.Fatalf("expected reply to be captured, got %+v", parsed)
	}

	// Header bytes must never exceed total bytes.
	if _, err := parseHMsgArgs([]byte("HMSG orders 42 30 27")); err == nil {
		t.Fatalf("expected header size larger than total size to be rejected")
	}
}

func TestParseInfoLine(t *testing.T) {
	info, err := parseInfoLine([]byte(`INFO {"server_id":"S1","version":"2.10.0","max_payload":1048576,"headers":true,"jetstream":true}`))
	if err != nil {
		t.Fatalf("parseInfoLine failed: %v", err)
	}
	if info.ServerID != "S1" || info.MaxPayload != 1048576 || !info.Headers || !info.JetStream {
		t.Fatalf("unexpected server info %+v", info)
	}

	if _, err := parseInfoLine([]byte("INFO {broken")); err == nil {
		t.Fatalf("expected malformed INFO to be rejected")
	}
}

func TestParseErrLine(t *testing.T) {
	if got := parseErrLine([]byte("-ERR 'Unknown Protocol Operation'")); got != "Unknown Protocol Operation" {
		t.Fatalf("unexpected error message %q", got)
	}
	if got := parseErrLine([]byte("-ERR busy")); got != "busy" {
		t.Fatalf("unexpected unquoted error message %q", got)
	}
}

func TestParseUintBytes(t *testing.T) {
	if value, ok := parseUintBytes([]byte("18446744073709551615")); !ok || value != ^uint64(0) {
		t.Fatalf("expected max uint64, got %d ok=%v", value, ok)
	}
	for _, input := range []string{"", "-1", "1a", "18446744073709551616"} {
		if _, ok := parseUintBytes([]byte(input)); ok {
			t.Fatalf("expected %q to be rejected", input)
		}
	}
}

func TestEncodePubRoundTripsThroughParser(t *testing.T) {
	header := NewHeader().Set("K1", "v1").Set("K2", "v2")
	frame := encodePub("a.b", "r.s", header, []byte("payload"))

	lineEnd := bytes.Index(frame, []byte(crlf))
	args, err := parseHMsgArgs(append([]byte("HMSG "), frame[5:lineEnd]...))
	if err != nil {
		t.Fatalf("re-parsing encoded frame failed: %v", err)
	}

	body := frame[lineEnd+2:]
	decoded, err := decodeHeaderBlock(body[:args.headerSize])
	if err != nil {
		t.Fatalf("decoding encoded header block failed: %v", err)
	}
	if value, _ := decoded.Get("K2"); value != "v2" {
		t.Fatalf("header lost in round trip: %+v", decoded)
	}
	if payload := body[args.headerSize : args.totalSize+2]; string(payload[:len(payload)-2]) != "payload" {
		t.Fatalf("payload lost in round trip: %q", payload)
	}
}
