package debugapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"runtime"
)

// ErrEmptyTrace is returned when traceTransaction succeeds without a result.
var ErrEmptyTrace = errors.New("empty trace result")

type callResult struct {
	result interface{}
	err    error
}

// await runs a callback-style call and waits for its outcome. When ctx ends
// first, the call keeps running in the background and its outcome is dropped.
func await(ctx context.Context, call func(Callback)) (interface{}, error) {
	done := make(chan callResult, 1)
	call(func(err error, result interface{}) {
		select {
		case done <- callResult{result, err}:
		default:
		}
	})
	select {
	case r := <-done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) namespace() Namespace {
	if c.Debug == nil {
		Augment(c)
	}
	return c.Debug
}

// RawMemStats calls memStats and returns the undecoded result.
func (c *Client) RawMemStats(ctx context.Context) (json.RawMessage, error) {
	fn, err := c.namespace().MemStats()
	if err != nil {
		return nil, err
	}
	result, err := await(ctx, func(cb Callback) { fn(cb) })
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	var raw json.RawMessage
	if err := decodeResult(result, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// MemStats calls memStats and decodes the Go runtime statistics reported by
// the node.
func (c *Client) MemStats(ctx context.Context) (*runtime.MemStats, error) {
	raw, err := c.RawMemStats(ctx)
	if err != nil {
		return nil, err
	}
	stats := new(runtime.MemStats)
	if err := json.Unmarshal(raw, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// TraceTransaction calls traceTransaction and decodes the struct log trace.
func (c *Client) TraceTransaction(ctx context.Context, txHash interface{}) (*ExecutionResult, error) {
	fn, err := c.namespace().TraceTransaction()
	if err != nil {
		return nil, err
	}
	result, err := await(ctx, func(cb Callback) { fn(txHash, cb) })
	if err != nil {
		return nil, err
	}
	if isNullResult(result) {
		return nil, ErrEmptyTrace
	}
	trace := new(ExecutionResult)
	if err := decodeResult(result, trace); err != nil {
		return nil, err
	}
	return trace, nil
}

// isNullResult reports whether a call produced no result or a JSON null.
func isNullResult(result interface{}) bool {
	switch r := result.(type) {
	case nil:
		return true
	case json.RawMessage:
		r = bytes.TrimSpace(r)
		return len(r) == 0 || bytes.Equal(r, []byte("null"))
	case []byte:
		r = bytes.TrimSpace(r)
		return len(r) == 0 || bytes.Equal(r, []byte("null"))
	}
	return false
}

// HasDebug reports whether the node serves the debug API, by checking that
// memStats resolves to a JSON object.
func (c *Client) HasDebug(ctx context.Context) bool {
	raw, err := c.RawMemStats(ctx)
	if err != nil {
		return false
	}
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}
