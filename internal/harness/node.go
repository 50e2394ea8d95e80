package harness

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnknownNode is returned for nodes whose behaviour the suite does not know.
var ErrUnknownNode = errors.New("unknown node")

// NodeKind classifies the node software.
type NodeKind int

const (
	UnknownNode NodeKind = iota
	Geth
	TestRPC // EthereumJS TestRPC and its successor ganache
)

func (k NodeKind) String() string {
	switch k {
	case Geth:
		return "geth"
	case TestRPC:
		return "testrpc"
	default:
		return "unknown"
	}
}

// NodeInfo describes the node behind an Env.
type NodeInfo struct {
	Version string
	Kind    NodeKind
}

// IsGeth reports whether the node is go-ethereum.
func (n NodeInfo) IsGeth() bool { return n.Kind == Geth }

// IsTestRPC reports whether the node is TestRPC or ganache. These nodes reject
// failing transactions at submission instead of mining them.
func (n NodeInfo) IsTestRPC() bool { return n.Kind == TestRPC }

// ParseNodeKind classifies a web3_clientVersion string.
func ParseNodeKind(version string) NodeKind {
	v := strings.ToLower(version)
	switch {
	case strings.Contains(v, "ethereumjs testrpc"), strings.Contains(v, "ganache"):
		return TestRPC
	case strings.Contains(v, "geth"):
		return Geth
	default:
		return UnknownNode
	}
}

// IdentifyNode queries web3_clientVersion. It fails with ErrUnknownNode when the
// node is neither geth nor TestRPC.
func (e *Env) IdentifyNode(ctx context.Context) (NodeInfo, error) {
	var version string
	if err := e.RPC.CallContext(ctx, &version, "web3_clientVersion"); err != nil {
		return NodeInfo{}, errors.Wrap(err, "can't get client version")
	}
	info := NodeInfo{Version: version, Kind: ParseNodeKind(version)}
	if info.Kind == UnknownNode {
		return info, errors.Wrapf(ErrUnknownNode, "unknown behaviour for node %q", version)
	}
	e.Log.Debug("node identified", "version", version, "kind", info.Kind)
	return info, nil
}
