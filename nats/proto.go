package nats

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ClientVersion is reported to the server in the CONNECT options.
const (
	ClientVersion  = "0.1.0"
	clientLanguage = "go"

	protocolVersion = 1
)

// Inbound control-line opcodes.
const (
	opUnknown = iota
	opInfo
	opMsg
	opHMsg
	opPing
	opPong
	opOK
	opErr
)

var (
	pingFrame = []byte("PING\r\n")
	pongFrame = []byte("PONG\r\n")
)

// ServerInfo is the server greeting metadata sent on the INFO line.
type ServerInfo struct {
	ServerID     string `json:"server_id"`
	ServerName   string `json:"server_name"`
	Version      string `json:"version"`
	Proto        int    `json:"proto"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	MaxPayload   int64  `json:"max_payload"`
	Headers      bool   `json:"headers"`
	AuthRequired bool   `json:"auth_required,omitempty"`
	TLSRequired  bool   `json:"tls_required,omitempty"`
	JetStream    bool   `json:"jetstream,omitempty"`
}

// connectOptions is the JSON object sent on the CONNECT line.
type connectOptions struct {
	Verbose     bool   `json:"verbose"`
	Pedantic    bool   `json:"pedantic"`
	TLSRequired bool   `json:"tls_required"`
	Name        string `json:"name,omitempty"`
	Lang        string `json:"lang"`
	Version     string `json:"version"`
	Protocol    int    `json:"protocol"`
	Headers     bool   `json:"headers"`
	Echo        bool   `json:"echo"`
	User        string `json:"user,omitempty"`
	Pass        string `json:"pass,omitempty"`
	AuthToken   string `json:"auth_token,omitempty"`
}

func parseUintBytes(value []byte) (uint64, bool) {
	if len(value) == 0 {
		return 0, false
	}
	var result uint64
	for _, digit := range value {
		if digit < '0' || digit > '9' {
			return 0, false
		}
		if result > (^uint64(0)-uint64(digit-'0'))/10 {
			return 0, false
		}
		result = (result * 10) + uint64(digit-'0')
	}
	return result, true
}

// classifyControlLine identifies an inbound control line by its leading
// token. The line excludes the trailing CRLF.
func classifyControlLine(line []byte) int {
	switch {
	case len(line) >= 4 && line[0] == 'M' && line[1] == 'S' && line[2] == 'G' && line[3] == ' ':
		return opMsg
	case len(line) >= 5 && bytes.HasPrefix(line, []byte("HMSG ")):
		return opHMsg
	case len(line) == 4 && bytes.Equal(line, []byte("PING")):
		return opPing
	case len(line) == 4 && bytes.Equal(line, []byte("PONG")):
		return opPong
	case bytes.HasPrefix(line, []byte("INFO ")):
		return opInfo
	case len(line) == 3 && bytes.Equal(line, []byte("+OK")):
		return opOK
	case bytes.HasPrefix(line, []byte("-ERR")):
		return opErr
	default:
		return opUnknown
	}
}

func splitArgs(line []byte) [][]byte {
	args := make([][]byte, 0, 5)
	start := -1
	for i, character := range line {
		if character == ' ' || character == '\t' {
			if start >= 0 {
				args = append(args, line[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		args = append(args, line[start:])
	}
	return args
}

type msgArgs struct {
	subject    string
	sid        uint64
	reply      string
	headerSize int
	totalSize  int
}

// parseMsgArgs parses "MSG <subject> <sid> [reply] <#bytes>".
func parseMsgArgs(line []byte) (msgArgs, error) {
	var parsed msgArgs

	args := splitArgs(line[4:])
	switch len(args) {
	case 3:
	case 4:
		parsed.reply = string(args[2])
	default:
		return parsed, NewError(ProtocolError, "malformed MSG line '"+string(line)+"'")
	}

	sid, sidOK := parseUintBytes(args[1])
	size, sizeOK := parseUintBytes(args[len(args)-1])
	if !sidOK || !sizeOK {
		return parsed, NewError(ProtocolError, "malformed MSG line '"+string(line)+"'")
	}

	parsed.subject = string(args[0])
	parsed.sid = sid
	parsed.totalSize = int(size)
	return parsed, nil
}

// parseHMsgArgs parses "HMSG <subject> <sid> [reply] <#header-bytes> <#total-bytes>".
func parseHMsgArgs(line []byte) (msgArgs, error) {
	var parsed msgArgs

	args := splitArgs(line[5:])
	switch len(args) {
	case 4:
	case 5:
		parsed.reply = string(args[2])
	default:
		return parsed, NewError(ProtocolError, "malformed HMSG line '"+string(line)+"'")
	}

	sid, sidOK := parseUintBytes(args[1])
	headerSize, headerOK := parseUintBytes(args[len(args)-2])
	totalSize, totalOK := parseUintBytes(args[len(args)-1])
	if !sidOK || !headerOK || !totalOK || headerSize > totalSize {
		return parsed, NewError(ProtocolError, "malformed HMSG line '"+string(line)+"'")
	}

	parsed.subject = string(args[0])
	parsed.sid = sid
	parsed.headerSize = int(headerSize)
	parsed.totalSize = int(totalSize)
	return parsed, nil
}

// parseInfoLine decodes the JSON object following the INFO token.
func parseInfoLine(line []byte) (*ServerInfo, error) {
	info := &ServerInfo{}
	if err := json.Unmarshal(bytes.TrimSpace(line[4:]), info); err != nil {
		return nil, NewError(ProtocolError, "malformed INFO line: "+err.Error())
	}
	return info, nil
}

// parseErrLine extracts the message from "-ERR '<message>'".
func parseErrLine(line []byte) string {
	message := bytes.TrimSpace(line[4:])
	message = bytes.TrimPrefix(message, []byte("'"))
	message = bytes.TrimSuffix(message, []byte("'"))
	return string(message)
}

// encodeConnect renders the CONNECT line from caller options.
func encodeConnect(opts *Options) ([]byte, error) {
	connect := connectOptions{
		Verbose:     opts.Verbose,
		Pedantic:    opts.Pedantic,
		TLSRequired: opts.TLS,
		Name:        opts.Name,
		Lang:        clientLanguage,
		Version:     ClientVersion,
		Protocol:    protocolVersion,
		Headers:     true,
		Echo:        !opts.NoEcho,
		User:        opts.Username,
		Pass:        opts.Password,
		AuthToken:   opts.Token,
	}

	payload, err := json.Marshal(connect)
	if err != nil {
		return nil, NewError(SerializationError, err)
	}

	frame := make([]byte, 0, len(payload)+10)
	frame = append(frame, "CONNECT "...)
	frame = append(frame, payload...)
	frame = append(frame, crlf...)
	return frame, nil
}

// encodePub renders a PUB or HPUB frame. Byte counts cover the payload (and
// header block) exactly, excluding the trailing CRLF.
func encodePub(subject string, reply string, header *Header, payload []byte) []byte {
	buffer := bytes.NewBuffer(make([]byte, 0, 64+len(payload)))

	if header.Len() == 0 {
		buffer.WriteString("PUB ")
		buffer.WriteString(subject)
		if reply != "" {
			buffer.WriteByte(' ')
			buffer.WriteString(reply)
		}
		buffer.WriteByte(' ')
		buffer.WriteString(strconv.Itoa(len(payload)))
		buffer.WriteString(crlf)
		buffer.Write(payload)
		buffer.WriteString(crlf)
		return buffer.Bytes()
	}

	headerBlock := bytes.NewBuffer(make([]byte, 0, 64))
	encodeHeaderBlock(header, headerBlock)

	buffer.WriteString("HPUB ")
	buffer.WriteString(subject)
	if reply != "" {
		buffer.WriteByte(' ')
		buffer.WriteString(reply)
	}
	buffer.WriteByte(' ')
	buffer.WriteString(strconv.Itoa(headerBlock.Len()))
	buffer.WriteByte(' ')
	buffer.WriteString(strconv.Itoa(headerBlock.Len() + len(payload)))
	buffer.WriteString(crlf)
	buffer.Write(headerBlock.Bytes())
	buffer.Write(payload)
	buffer.WriteString(crlf)
	return buffer.Bytes()
}

// encodeSub renders "SUB <subject> [queue] <sid>".
func encodeSub(subject string, queue string, sid uint64) []byte {
	buffer := bytes.NewBuffer(make([]byte, 0, 32))
	buffer.WriteString("SUB ")
	buffer.WriteString(subject)
	if queue != "" {
		buffer.WriteByte(' ')
		buffer.WriteString(queue)
	}
	buffer.WriteByte(' ')
	buffer.WriteString(strconv.FormatUint(sid, 10))
	buffer.WriteString(crlf)
	return buffer.Bytes()
}

// encodeUnsub renders "UNSUB <sid> [max-messages]".
func encodeUnsub(sid uint64, maxMessages int) []byte {
	buffer := bytes.NewBuffer(make([]byte, 0, 24))
	buffer.WriteString("UNSUB ")
	buffer.WriteString(strconv.FormatUint(sid, 10))
	if maxMessages > 0 {
		buffer.WriteByte(' ')
		buffer.WriteString(strconv.Itoa(maxMessages))
	}
	buffer.WriteString(crlf)
	return buffer.Bytes()
}
