// Package harness holds the helpers the Riddled suite needs around a live node:
// connection setup, node identification, account unlocking and funding, and
// waiting for transactions to be mined.
package harness

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/riddled-eth/riddled/debugapi"
	"gopkg.in/inconshreveable/log15.v2"
)

// Defaults for Env timing.
const (
	DefaultRPCTimeout   = 5 * time.Second
	DefaultPollInterval = time.Second
)

// Env bundles the clients connected to one node.
type Env struct {
	RPC   *rpc.Client
	Eth   *ethclient.Client
	Debug *debugapi.Client
	Log   log15.Logger

	RPCTimeout   time.Duration // per-call timeout used by Ctx
	PollInterval time.Duration // receipt polling interval
}

// Dial connects to the node at url. For HTTP endpoints the debug methods are
// sent with their own envelopes and ids. Other transports go through the
// go-ethereum client. A zero timeout means DefaultRPCTimeout.
func Dial(ctx context.Context, url string, timeout time.Duration) (*Env, error) {
	if timeout == 0 {
		timeout = DefaultRPCTimeout
	}
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "can't dial %s", url)
	}
	var provider debugapi.Provider
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		hp := debugapi.NewHTTPProvider(url)
		hp.Client = &http.Client{Timeout: timeout}
		provider = hp
	} else {
		provider = debugapi.NewRPCProvider(client)
	}
	env := NewEnv(client, provider)
	env.RPCTimeout = timeout
	env.Log = env.Log.New("node", url)
	return env, nil
}

// NewEnv creates an Env on top of an existing client. If provider is nil, the
// debug methods use client as well.
func NewEnv(client *rpc.Client, provider debugapi.Provider) *Env {
	if provider == nil {
		provider = debugapi.NewRPCProvider(client)
	}
	return &Env{
		RPC:          client,
		Eth:          ethclient.NewClient(client),
		Debug:        debugapi.NewClient(provider),
		Log:          log15.Root(),
		RPCTimeout:   DefaultRPCTimeout,
		PollInterval: DefaultPollInterval,
	}
}

// Ctx returns a context bounded by the RPC timeout.
func (e *Env) Ctx() (context.Context, context.CancelFunc) {
	return e.CtxFrom(context.Background())
}

// CtxFrom is like Ctx but derives from parent.
func (e *Env) CtxFrom(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := e.RPCTimeout
	if timeout == 0 {
		timeout = DefaultRPCTimeout
	}
	return context.WithTimeout(parent, timeout)
}

// Close terminates the connection.
func (e *Env) Close() {
	e.RPC.Close()
}
