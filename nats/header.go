package nats

import (
	"bytes"
	"strconv"
)

const (
	headerVersionLine = "NATS/1.0"
	crlf              = "\r\n"
)

type headerField struct {
	key   string
	value string
}

// Header is an ordered set of message headers. Keys are unique per message;
// Set replaces the value of an existing key in place so the original wire
// order is preserved across a decode/encode round trip.
type Header struct {
	fields      []headerField
	statusCode  int
	description string
}

// NewHeader returns a new empty Header.
func NewHeader() *Header {
	return &Header{}
}

// Set stores a key/value pair, replacing any existing value for the key.
func (header *Header) Set(key string, value string) *Header {
	for i := range header.fields {
		if header.fields[i].key == key {
			header.fields[i].value = value
			return header
		}
	}
	header.fields = append(header.fields, headerField{key: key, value: value})
	return header
}

// Get returns the value stored for key and whether the key is present.
func (header *Header) Get(key string) (string, bool) {
	if header == nil {
		return "", false
	}
	for i := range header.fields {
		if header.fields[i].key == key {
			return header.fields[i].value, true
		}
	}
	return "", false
}

// Del removes the key if present.
func (header *Header) Del(key string) {
	for i := range header.fields {
		if header.fields[i].key == key {
			header.fields = append(header.fields[:i], header.fields[i+1:]...)
			return
		}
	}
}

// Len returns the number of header fields.
func (header *Header) Len() int {
	if header == nil {
		return 0
	}
	return len(header.fields)
}

// Keys returns the header keys in wire order.
func (header *Header) Keys() []string {
	if header == nil {
		return nil
	}
	keys := make([]string, 0, len(header.fields))
	for i := range header.fields {
		keys = append(keys, header.fields[i].key)
	}
	return keys
}

// StatusCode returns the inline status code a server status frame carried
// (for example 404 on an empty pull request), or 0 for regular messages.
func (header *Header) StatusCode() int {
	if header == nil {
		return 0
	}
	return header.statusCode
}

// StatusDescription returns the text following the inline status code.
func (header *Header) StatusDescription() string {
	if header == nil {
		return ""
	}
	return header.description
}

// Copy returns an independent copy of the header.
func (header *Header) Copy() *Header {
	if header == nil {
		return nil
	}
	duplicate := &Header{
		statusCode:  header.statusCode,
		description: header.description,
	}
	duplicate.fields = make([]headerField, len(header.fields))
	copy(duplicate.fields, header.fields)
	return duplicate
}

// encodeHeaderBlock renders the header block including the version line and
// the terminating blank line.
func encodeHeaderBlock(header *Header, buffer *bytes.Buffer) {
	buffer.WriteString(headerVersionLine)
	buffer.WriteString(crlf)
	if header != nil {
		for i := range header.fields {
			buffer.WriteString(header.fields[i].key)
			buffer.WriteString(": ")
			buffer.WriteString(header.fields[i].value)
			buffer.WriteString(crlf)
		}
	}
	buffer.WriteString(crlf)
}

// decodeHeaderBlock parses a header block, including the version line with
// an optional inline status, up to and including the blank line terminator.
func decodeHeaderBlock(block []byte) (*Header, error) {
	if !bytes.HasPrefix(block, []byte(headerVersionLine)) {
		return nil, NewError(ProtocolError, "header block does not start with "+headerVersionLine)
	}

	end := bytes.Index(block, []byte(crlf))
	if end < 0 {
		return nil, NewError(ProtocolError, "header block version line is not terminated")
	}

	header := NewHeader()

	status := bytes.TrimLeft(block[len(headerVersionLine):end], " ")
	if len(status) > 0 {
		codeBytes := status
		if space := bytes.IndexByte(status, ' '); space >= 0 {
			codeBytes = status[:space]
			header.description = string(bytes.TrimSpace(status[space+1:]))
		}
		code, err := strconv.Atoi(string(codeBytes))
		if err != nil {
			return nil, NewError(ProtocolError, "invalid status code in header block")
		}
		header.statusCode = code
	}

	rest := block[end+2:]
	for {
		lineEnd := bytes.Index(rest, []byte(crlf))
		if lineEnd < 0 {
			return nil, NewError(ProtocolError, "header block is not terminated by a blank line")
		}
		line := rest[:lineEnd]
		rest = rest[lineEnd+2:]

		if len(line) == 0 {
			return header, nil
		}

		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return nil, NewError(ProtocolError, "malformed header field '"+string(line)+"'")
		}

		key := string(line[:colon])
		value := string(bytes.TrimLeft(line[colon+1:], " "))
		header.Set(key, value)
	}
}
