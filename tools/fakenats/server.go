package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

type serverConfig struct {
	name       string
	version    string
	maxPayload int64
	logConns   bool
	echo       bool
}

// server owns the shared subscription table. Connections register their
// subscriptions here; a publish walks the table and fans the message out.
type server struct {
	config serverConfig

	mu          sync.Mutex
	subs        map[*subscription]struct{}
	groupCursor map[string]int

	nextConnID uint64
}

// subscription is one client interest registered by a connection.
type subscription struct {
	client  *clientConn
	subject string
	queue   string
	sid     string

	// remaining > 0 counts down an unsubscribe-with-max; -1 means no limit.
	remaining int
}

func newServer(config serverConfig) *server {
	return &server{
		config:      config,
		subs:        make(map[*subscription]struct{}),
		groupCursor: make(map[string]int),
	}
}

func (server *server) serve(listener net.Listener) {
	var wg sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			server.handle(conn)
		}()
	}
	wg.Wait()
}

func (server *server) infoLine() []byte {
	info := map[string]interface{}{
		"server_id":   "FAKE",
		"server_name": server.config.name,
		"version":     server.config.version,
		"proto":       1,
		"max_payload": server.config.maxPayload,
		"headers":     true,
	}
	payload, _ := json.Marshal(info)
	return append(append([]byte("INFO "), payload...), "\r\n"...)
}

// clientConn is one accepted connection with its parser and write path.
type clientConn struct {
	id     uint64
	server *server
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex

	verbose bool
}

func (server *server) handle(raw net.Conn) {
	client := &clientConn{
		id:     atomic.AddUint64(&server.nextConnID, 1),
		server: server,
		conn:   raw,
		reader: bufio.NewReader(raw),
	}
	if server.config.logConns {
		log.Printf("fakenats: conn %d from %s", client.id, raw.RemoteAddr())
	}

	defer func() {
		server.dropConn(client)
		_ = raw.Close()
		if server.config.logConns {
			log.Printf("fakenats: conn %d closed", client.id)
		}
	}()

	if err := client.write(server.infoLine()); err != nil {
		return
	}

	for {
		line, err := client.readLine()
		if err != nil {
			return
		}
		if err := client.dispatch(line); err != nil {
			log.Printf("fakenats: conn %d: %v", client.id, err)
			_ = client.write([]byte("-ERR 'Unknown Protocol Operation'\r\n"))
			return
		}
	}
}

func (client *clientConn) readLine() (string, error) {
	line, err := client.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), nil
}

func (client *clientConn) write(data []byte) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	_, err := client.conn.Write(data)
	return err
}

func (client *clientConn) ok() error {
	if client.verbose {
		return client.write([]byte("+OK\r\n"))
	}
	return nil
}

func (client *clientConn) dispatch(line string) error {
	verb := line
	args := ""
	if space := strings.IndexByte(line, ' '); space >= 0 {
		verb = line[:space]
		args = strings.TrimSpace(line[space+1:])
	}

	switch strings.ToUpper(verb) {
	case "CONNECT":
		return client.handleConnect(args)
	case "PING":
		return client.write([]byte("PONG\r\n"))
	case "PONG":
		return nil
	case "SUB":
		return client.handleSub(args)
	case "UNSUB":
		return client.handleUnsub(args)
	case "PUB":
		return client.handlePub(args, false)
	case "HPUB":
		return client.handlePub(args, true)
	default:
		return fmt.Errorf("unknown verb %q", verb)
	}
}

func (client *clientConn) handleConnect(args string) error {
	var opts struct {
		Verbose bool   `json:"verbose"`
		Name    string `json:"name"`
	}
	if err := json.Unmarshal([]byte(args), &opts); err != nil {
		return fmt.Errorf("malformed CONNECT: %w", err)
	}
	client.verbose = opts.Verbose
	if client.server.config.logConns && opts.Name != "" {
		log.Printf("fakenats: conn %d is %q", client.id, opts.Name)
	}
	return client.ok()
}

func (client *clientConn) handleSub(args string) error {
	fields := strings.Fields(args)
	sub := &subscription{client: client, remaining: -1}
	switch len(fields) {
	case 2:
		sub.subject, sub.sid = fields[0], fields[1]
	case 3:
		sub.subject, sub.queue, sub.sid = fields[0], fields[1], fields[2]
	default:
		return fmt.Errorf("malformed SUB %q", args)
	}

	client.server.mu.Lock()
	client.server.subs[sub] = struct{}{}
	client.server.mu.Unlock()
	return client.ok()
}

func (client *clientConn) handleUnsub(args string) error {
	fields := strings.Fields(args)
	if len(fields) < 1 || len(fields) > 2 {
		return fmt.Errorf("malformed UNSUB %q", args)
	}
	sid := fields[0]
	limit := -1
	if len(fields) == 2 {
		parsed, err := strconv.Atoi(fields[1])
		if err != nil || parsed < 0 {
			return fmt.Errorf("malformed UNSUB %q", args)
		}
		limit = parsed
	}

	client.server.mu.Lock()
	for sub := range client.server.subs {
		if sub.client != client || sub.sid != sid {
			continue
		}
		if limit < 0 {
			delete(client.server.subs, sub)
		} else {
			sub.remaining = limit
		}
	}
	client.server.mu.Unlock()
	return client.ok()
}

func (client *clientConn) handlePub(args string, withHeaders bool) error {
	fields := strings.Fields(args)

	var subject, reply string
	var headerSize, totalSize int
	var err error
	switch {
	case !withHeaders && len(fields) == 2:
		subject = fields[0]
		totalSize, err = strconv.Atoi(fields[1])
	case !withHeaders && len(fields) == 3:
		subject, reply = fields[0], fields[1]
		totalSize, err = strconv.Atoi(fields[2])
	case withHeaders && len(fields) == 3:
		subject = fields[0]
		if headerSize, err = strconv.Atoi(fields[1]); err == nil {
			totalSize, err = strconv.Atoi(fields[2])
		}
	case withHeaders && len(fields) == 4:
		subject, reply = fields[0], fields[1]
		if headerSize, err = strconv.Atoi(fields[2]); err == nil {
			totalSize, err = strconv.Atoi(fields[3])
		}
	default:
		return fmt.Errorf("malformed publish %q", args)
	}
	if err != nil || headerSize > totalSize {
		return fmt.Errorf("malformed publish %q", args)
	}

	body := make([]byte, totalSize+2)
	if _, err := io.ReadFull(client.reader, body); err != nil {
		return fmt.Errorf("short publish body: %w", err)
	}
	if !bytes.HasSuffix(body, []byte("\r\n")) {
		return fmt.Errorf("publish body not CRLF terminated")
	}
	body = body[:totalSize]

	client.server.fanOut(client, subject, reply, body, headerSize)
	return client.ok()
}

// fanOut delivers one published message to every matching independent
// subscription and to one member of each matching queue group.
func (server *server) fanOut(from *clientConn, subject string, reply string, body []byte, headerSize int) {
	server.mu.Lock()

	var targets []*subscription
	groups := make(map[string][]*subscription)
	for sub := range server.subs {
		if sub.remaining == 0 {
			delete(server.subs, sub)
			continue
		}
		if !server.config.echo && sub.client == from {
			continue
		}
		if !matchSubject(subject, sub.subject) {
			continue
		}
		if sub.queue == "" {
			targets = append(targets, sub)
		} else {
			groups[sub.queue] = append(groups[sub.queue], sub)
		}
	}
	for queue, members := range groups {
		// Map iteration order is random; pin member order so the cursor
		// actually round-robins.
		sort.Slice(members, func(i, j int) bool {
			if members[i].client.id != members[j].client.id {
				return members[i].client.id < members[j].client.id
			}
			return members[i].sid < members[j].sid
		})
		cursor := server.groupCursor[queue]
		server.groupCursor[queue] = cursor + 1
		targets = append(targets, members[cursor%len(members)])
	}
	for _, sub := range targets {
		if sub.remaining > 0 {
			sub.remaining--
			if sub.remaining == 0 {
				delete(server.subs, sub)
			}
		}
	}
	server.mu.Unlock()

	for _, sub := range targets {
		_ = sub.client.write(encodeDelivery(sub.sid, subject, reply, body, headerSize))
	}
}

func encodeDelivery(sid string, subject string, reply string, body []byte, headerSize int) []byte {
	var frame bytes.Buffer
	if headerSize > 0 {
		frame.WriteString("HMSG ")
	} else {
		frame.WriteString("MSG ")
	}
	frame.WriteString(subject)
	frame.WriteByte(' ')
	frame.WriteString(sid)
	if reply != "" {
		frame.WriteByte(' ')
		frame.WriteString(reply)
	}
	if headerSize > 0 {
		frame.WriteByte(' ')
		frame.WriteString(strconv.Itoa(headerSize))
	}
	frame.WriteByte(' ')
	frame.WriteString(strconv.Itoa(len(body)))
	frame.WriteString("\r\n")
	frame.Write(body)
	frame.WriteString("\r\n")
	return frame.Bytes()
}

func (server *server) dropConn(client *clientConn) {
	server.mu.Lock()
	for sub := range server.subs {
		if sub.client == client {
			delete(server.subs, sub)
		}
	}
	server.mu.Unlock()
}

// matchSubject applies the protocol's wildcard rules: "*" matches one token,
// a trailing ">" matches one or more remaining tokens.
func matchSubject(subject string, pattern string) bool {
	if subject == pattern {
		return true
	}
	subjectTokens := strings.Split(subject, ".")
	patternTokens := strings.Split(pattern, ".")

	for i, patternToken := range patternTokens {
		if patternToken == ">" && i == len(patternTokens)-1 {
			return len(subjectTokens) > i
		}
		if i >= len(subjectTokens) {
			return false
		}
		if patternToken == "*" {
			continue
		}
		if patternToken != subjectTokens[i] {
			return false
		}
	}
	return len(subjectTokens) == len(patternTokens)
}
