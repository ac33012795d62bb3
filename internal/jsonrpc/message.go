// Package jsonrpc defines the line-delimited JSON-RPC 2.0 wire format spoken
// with backend processes.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the only protocol version accepted on the wire.
const Version = "2.0"

// Request is an outbound call that expects a response.
//
// Wire format:
//
//	{"jsonrpc":"2.0","id":1,"method":"ping","params":{}}
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// Notification is an outbound message with no id; no response is expected.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// Response answers a request initiated by the backend.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *WireError      `json:"error,omitempty"`
}

// Standard error codes.
const (
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

// WireError is the error object of a failed response.
type WireError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Message is any inbound frame. Responses carry ID and exactly one of Result
// or Error; requests and notifications initiated by the backend carry Method.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *WireError      `json:"error,omitempty"`
}

// IsResponse reports whether the message answers an earlier request.
func (m *Message) IsResponse() bool {
	return m.Method == "" && len(m.ID) > 0 && !bytes.Equal(m.ID, []byte("null"))
}

// IntID returns the numeric id of the message. Backends occasionally echo
// ids as strings, so quoted integers are accepted too.
func (m *Message) IntID() (int64, bool) {
	if len(m.ID) == 0 {
		return 0, false
	}

	var n json.Number
	if err := json.Unmarshal(m.ID, &n); err == nil {
		id, err := n.Int64()

		return id, err == nil
	}

	var s string
	if err := json.Unmarshal(m.ID, &s); err == nil {
		id, err := strconv.ParseInt(s, 10, 64)

		return id, err == nil
	}

	return 0, false
}

// NewRequest builds a request with the protocol version set.
func NewRequest(id int64, method string, params any) *Request {
	return &Request{JSONRPC: Version, ID: id, Method: method, Params: emptyIfNil(params)}
}

// NewNotification builds a notification with the protocol version set.
func NewNotification(method string, params any) *Notification {
	return &Notification{JSONRPC: Version, Method: method, Params: emptyIfNil(params)}
}

// NewResult builds a successful response to the request with the given id.
func NewResult(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: emptyIfNil(result)}
}

// NewError builds an error response to the request with the given id.
func NewError(id json.RawMessage, code int64, message string) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: &WireError{Code: code, Message: message}}
}

// Encode marshals v and terminates it with a newline.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	return append(data, '\n'), nil
}

// Decode parses a single frame.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}

	return &msg, nil
}

func emptyIfNil(params any) any {
	if params == nil {
		return struct{}{}
	}

	return params
}
