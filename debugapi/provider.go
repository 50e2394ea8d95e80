package debugapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/rpc"
)

// ResponseCallback receives the outcome of one JSON-RPC call. It is invoked
// exactly once per SendAsync.
type ResponseCallback func(err error, resp *Response)

// Provider performs JSON-RPC calls asynchronously. SendAsync must not block
// on the remote call; the callback may run on another goroutine.
type Provider interface {
	SendAsync(req *Request, callback ResponseCallback)
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(req *Request, callback ResponseCallback)

func (f ProviderFunc) SendAsync(req *Request, callback ResponseCallback) {
	f(req, callback)
}

// HTTPProvider posts request envelopes to a JSON-RPC HTTP endpoint as they are,
// id included.
type HTTPProvider struct {
	URL    string
	Client *http.Client // defaults to http.DefaultClient
	Header http.Header  // extra request headers
}

// NewHTTPProvider creates a provider for the given endpoint.
func NewHTTPProvider(url string) *HTTPProvider {
	return &HTTPProvider{URL: url}
}

func (p *HTTPProvider) SendAsync(req *Request, callback ResponseCallback) {
	go func() {
		resp, err := p.roundTrip(req)
		callback(err, resp)
	}()
}

// roundTrip returns the decoded response whenever there is one, also when the
// call failed, so callers can see the raw envelope.
func (p *HTTPProvider) roundTrip(req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	hreq, err := http.NewRequest(http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, vs := range p.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	hresp, err := client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer hresp.Body.Close()

	data, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, err
	}
	var resp Response
	decodeErr := json.Unmarshal(data, &resp)
	if hresp.StatusCode < 200 || hresp.StatusCode > 299 {
		herr := rpc.HTTPError{StatusCode: hresp.StatusCode, Status: hresp.Status, Body: data}
		if decodeErr != nil {
			return nil, herr
		}
		return &resp, herr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("invalid JSON-RPC response: %v", decodeErr)
	}
	if resp.Error != nil {
		return &resp, resp.Error
	}
	return &resp, nil
}

// RPCProvider issues calls through a go-ethereum RPC client, so any transport
// that client supports (HTTP, WebSocket, IPC, in-process) can be used.
//
// The client assigns its own wire ids. The response handed to the callback is
// synthesized and carries the id of the original request.
type RPCProvider struct {
	Client *rpc.Client
}

// NewRPCProvider wraps c.
func NewRPCProvider(c *rpc.Client) *RPCProvider {
	return &RPCProvider{Client: c}
}

func (p *RPCProvider) SendAsync(req *Request, callback ResponseCallback) {
	go func() {
		var result json.RawMessage
		err := p.Client.CallContext(context.Background(), &result, req.Method, req.Params...)
		resp := &Response{
			JSONRPC: jsonrpcVersion,
			ID:      json.RawMessage(strconv.FormatInt(req.ID, 10)),
			Result:  result,
		}
		if err != nil {
			if rerr, ok := err.(rpc.Error); ok {
				resp.Result = nil
				resp.Error = &JSONError{Code: rerr.ErrorCode(), Message: rerr.Error()}
			}
			callback(err, resp)
			return
		}
		callback(nil, resp)
	}()
}
