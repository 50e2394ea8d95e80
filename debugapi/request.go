package debugapi

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const jsonrpcVersion = "2.0"

// Request is a JSON-RPC 2.0 call envelope.
type Request struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

// NewRequest creates a request envelope. Params is never nil, so it
// always encodes as a JSON array.
func NewRequest(id int64, method string, params ...interface{}) *Request {
	if params == nil {
		params = []interface{}{}
	}
	return &Request{JSONRPC: jsonrpcVersion, Method: method, Params: params, ID: id}
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONError      `json:"error,omitempty"`
}

// JSONError is the error member of a JSON-RPC response.
// It implements the rpc.Error and rpc.DataError interfaces of go-ethereum.
type JSONError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *JSONError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("json-rpc error %d", e.Code)
	}
	return e.Message
}

func (e *JSONError) ErrorCode() int {
	return e.Code
}

func (e *JSONError) ErrorData() interface{} {
	if len(e.Data) == 0 {
		return nil
	}
	return e.Data
}

// IDGenerator produces request ids. Ids only pair requests with responses,
// so uniqueness is best-effort.
type IDGenerator interface {
	NextID() int64
}

// ClockIDs derives ids from the wall clock in milliseconds. Two calls within the
// same millisecond get consecutive ids instead of the same one.
type ClockIDs struct {
	Now func() time.Time // defaults to time.Now

	mu   sync.Mutex
	last int64
}

func (g *ClockIDs) NextID() int64 {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	id := now().UnixMilli()

	g.mu.Lock()
	defer g.mu.Unlock()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}

// CounterIDs hands out 1, 2, 3, ...
type CounterIDs struct {
	n atomic.Int64
}

func (g *CounterIDs) NextID() int64 {
	return g.n.Add(1)
}

var defaultIDs = new(ClockIDs)
