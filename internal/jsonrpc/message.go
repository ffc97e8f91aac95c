// Package jsonrpc defines the JSON-RPC 2.0 wire types shared by every
// Transport implementation and by the MCP Client built on top of them.
package jsonrpc

import (
	"encoding/json"
	"strconv"
)

const Version = "2.0"

// Standard JSON-RPC error codes plus the MCP-specific range.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeServerNotInitialized = -32001
	CodeUnknownTool          = -32002
	CodeUnknownResource      = -32003
)

// ID is a JSON-RPC request/response id: a string or an integer, unique
// per Transport. The zero value is the empty string, which never matches
// a real id (ids are always assigned by the transport's pending-request map).
type ID struct {
	str string
	num int64
	isStr bool
	isNum bool
}

func NewIntID(n int64) ID  { return ID{num: n, isNum: true} }
func NewStringID(s string) ID { return ID{str: s, isStr: true} }

func (id ID) String() string {
	if id.isStr {
		return id.str
	}
	if id.isNum {
		return strconv.FormatInt(id.num, 10)
	}
	return ""
}

func (id ID) IsZero() bool { return !id.isStr && !id.isNum }

func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	if id.isNum {
		return json.Marshal(id.num)
	}
	return json.Marshal(nil)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var asNum int64
	if err := json.Unmarshal(data, &asNum); err == nil {
		*id = ID{num: asNum, isNum: true}
		return nil
	}
	var asFloat float64
	if err := json.Unmarshal(data, &asFloat); err == nil {
		*id = ID{num: int64(asFloat), isNum: true}
		return nil
	}
	var asStr string
	if err := json.Unmarshal(data, &asStr); err == nil {
		*id = ID{str: asStr, isStr: true}
		return nil
	}
	*id = ID{}
	return nil
}

// Request is an outbound or inbound JSON-RPC request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC response, carrying either Result or Error.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is a JSON-RPC message with no id; no response is expected.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// NewRequest builds a request ready to marshal and write.
func NewRequest(id ID, method string, params any) (Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Request{}, err
	}
	return Request{JSONRPC: Version, ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification ready to marshal and write.
func NewNotification(method string, params any) (Notification, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Notification{}, err
	}
	return Notification{JSONRPC: Version, Method: method, Params: raw}, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}

// envelope is used to sniff an inbound line for its kind without fully
// decoding it twice: a message with an "id" but no "method" is a
// Response; a message with a "method" but no "id" is a Notification; a
// message with both is a server-initiated Request.
type envelope struct {
	ID     *ID             `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Kind classifies a raw inbound line.
type Kind int

const (
	KindUnknown Kind = iota
	KindResponse
	KindRequest
	KindNotification
)

// Sniff classifies raw and, for KindResponse, returns the decoded
// Response; for KindRequest, the decoded Request; for KindNotification,
// the decoded Notification.
func Sniff(raw []byte) (Kind, Request, Response, Notification) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return KindUnknown, Request{}, Response{}, Notification{}
	}
	switch {
	case env.ID != nil && env.Method == "":
		var resp Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			return KindUnknown, Request{}, Response{}, Notification{}
		}
		return KindResponse, Request{}, resp, Notification{}
	case env.ID != nil && env.Method != "":
		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			return KindUnknown, Request{}, Response{}, Notification{}
		}
		return KindRequest, req, Response{}, Notification{}
	case env.Method != "":
		var n Notification
		if err := json.Unmarshal(raw, &n); err != nil {
			return KindUnknown, Request{}, Response{}, Notification{}
		}
		return KindNotification, Request{}, Response{}, n
	default:
		return KindUnknown, Request{}, Response{}, Notification{}
	}
}
