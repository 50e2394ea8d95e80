package debugapi

import (
	"errors"
	"fmt"
)

// Namespace keys and the remote methods behind them.
const (
	MemStatsName         = "memStats"
	TraceTransactionName = "traceTransaction"

	MemStatsMethod         = "debug_memStats"
	TraceTransactionMethod = "debug_traceTransaction"
)

// ErrNotCallable is returned when a namespace entry holds something other than
// the expected method.
var ErrNotCallable = errors.New("debug namespace entry is not callable")

// Callback receives the outcome of a debug call. On success, result is the
// unwrapped "result" member of the response.
type Callback func(err error, result interface{})

// MemStatsFunc calls debug_memStats.
type MemStatsFunc func(callback Callback)

// TraceTransactionFunc calls debug_traceTransaction. The hash is sent as is.
type TraceTransactionFunc func(txHash interface{}, callback Callback)

// Namespace maps method names to methods. Entries can also hold arbitrary
// values placed there by the caller.
type Namespace map[string]interface{}

// MemStats returns the memStats entry.
func (ns Namespace) MemStats() (MemStatsFunc, error) {
	switch fn := ns[MemStatsName].(type) {
	case MemStatsFunc:
		return fn, nil
	case func(Callback):
		return fn, nil
	default:
		return nil, fmt.Errorf("%w: %s is %T", ErrNotCallable, MemStatsName, ns[MemStatsName])
	}
}

// TraceTransaction returns the traceTransaction entry.
func (ns Namespace) TraceTransaction() (TraceTransactionFunc, error) {
	switch fn := ns[TraceTransactionName].(type) {
	case TraceTransactionFunc:
		return fn, nil
	case func(interface{}, Callback):
		return fn, nil
	default:
		return nil, fmt.Errorf("%w: %s is %T", ErrNotCallable, TraceTransactionName, ns[TraceTransactionName])
	}
}

// Client is a JSON-RPC client handle with an optional debug namespace.
type Client struct {
	Provider Provider
	Debug    Namespace
	IDs      IDGenerator // nil means clock-derived ids
}

// NewClient returns an augmented client using the given provider.
func NewClient(p Provider) *Client {
	c := &Client{Provider: p}
	Augment(c)
	return c
}

// Augment ensures c.Debug holds the memStats and traceTransaction methods.
// Entries that are already present are never replaced, whatever they hold, so
// calling Augment more than once has no further effect. A key mapped to nil
// counts as absent.
//
// Augment must not run concurrently with other uses of c.Debug.
func Augment(c *Client) {
	if c.Debug == nil {
		c.Debug = make(Namespace)
	}
	if c.Debug[MemStatsName] == nil {
		c.Debug[MemStatsName] = MemStatsFunc(func(callback Callback) {
			c.send(c.newRequest(MemStatsMethod), callback)
		})
	}
	if c.Debug[TraceTransactionName] == nil {
		c.Debug[TraceTransactionName] = TraceTransactionFunc(func(txHash interface{}, callback Callback) {
			c.send(c.newRequest(TraceTransactionMethod, txHash), callback)
		})
	}
}

func (c *Client) newRequest(method string, params ...interface{}) *Request {
	ids := c.IDs
	if ids == nil {
		ids = defaultIDs
	}
	return NewRequest(ids.NextID(), method, params...)
}

// send issues req and unwraps the response envelope for callback.
// On error the raw response slot is handed over untouched.
func (c *Client) send(req *Request, callback Callback) {
	c.Provider.SendAsync(req, func(err error, resp *Response) {
		if err != nil {
			if resp == nil {
				callback(err, nil)
			} else {
				callback(err, resp)
			}
			return
		}
		if resp == nil || resp.Result == nil {
			callback(nil, nil)
			return
		}
		callback(nil, resp.Result)
	})
}
