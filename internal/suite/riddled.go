package suite

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/riddled-eth/riddled/contracts/riddled"
	"github.com/riddled-eth/riddled/internal/harness"
)

// RiddledOptions configures the Riddled suite.
type RiddledOptions struct {
	// Owner sends all transactions. It defaults to the first node account.
	// Ignored when Key is set.
	Owner common.Address
	// Password unlocks Owner on the node.
	Password string
	// Key signs transactions locally instead of on the node.
	Key *ecdsa.PrivateKey
	// ChainID for local signing. Queried from the node when nil.
	ChainID *big.Int

	MaxGas       uint64
	FundAmount   *big.Int
	MinedTimeout time.Duration
}

// Defaults for RiddledOptions.
const (
	DefaultMaxGas       = 3000000
	DefaultMinedTimeout = 2 * time.Minute
)

// DefaultFundAmount is 2 ether.
var DefaultFundAmount = new(big.Int).Mul(big.NewInt(2), big.NewInt(params.Ether))

type riddledSuite struct {
	env  *harness.Env
	opts RiddledOptions

	owner    common.Address
	node     harness.NodeInfo
	hasDebug bool
	instance *riddled.Riddled
}

// Riddled returns the suite checking how the node reports the three kinds of
// failure of the Riddled contract, in receipts and in debug traces.
func Riddled(env *harness.Env, opts RiddledOptions) Suite {
	if opts.MaxGas == 0 {
		opts.MaxGas = DefaultMaxGas
	}
	if opts.FundAmount == nil {
		opts.FundAmount = DefaultFundAmount
	}
	if opts.MinedTimeout == 0 {
		opts.MinedTimeout = DefaultMinedTimeout
	}
	rs := &riddledSuite{env: env, opts: opts}

	s := Suite{
		Name:        "riddled",
		Description: "Failing transactions are reported as failed in receipts and traces.",
		Setup:       rs.setup,
		BeforeEach:  rs.deploy,
	}
	for _, f := range faults {
		f := f
		s.Add(TestSpec{
			Name:        f.method + " receipt",
			Description: "The receipt of " + f.method + "() shows a failure.",
			Run:         func(t *T) { rs.testReceipt(t, f) },
		})
		s.Add(TestSpec{
			Name:        f.method + " trace",
			Description: "The trace of " + f.method + "() ends with " + f.op.String() + ".",
			Run:         func(t *T) { rs.testTrace(t, f) },
		})
	}
	return s
}

func (rs *riddledSuite) setup(t *T) {
	env := rs.env

	// Owner account.
	var err error
	switch {
	case rs.opts.Key != nil:
		rs.owner = crypto.PubkeyToAddress(rs.opts.Key.PublicKey)
	case rs.opts.Owner != (common.Address{}):
		rs.owner = rs.opts.Owner
	default:
		if rs.owner, err = rs.coinbase(t); err != nil {
			t.Fatal("can't get owner account:", err)
		}
	}
	if rs.opts.Key == nil {
		ctx, cancel := env.CtxFrom(t.Context())
		err := env.MakeSureAreUnlocked(ctx, []common.Address{rs.owner}, rs.opts.Password)
		cancel()
		if err != nil {
			t.Fatal(err)
		}
	}

	// Funding. A locally signing owner is funded by the first node account.
	rich := rs.owner
	if rs.opts.Key != nil {
		if rich, err = rs.coinbase(t); err != nil {
			t.Fatal("can't get funding account:", err)
		}
	}
	ctx, cancel := env.CtxFrom(t.Context())
	hashes, err := env.MakeSureHasAtLeast(ctx, rich, []common.Address{rs.owner}, rs.opts.FundAmount)
	cancel()
	if err != nil {
		t.Fatal(err)
	}
	if len(hashes) > 0 {
		mctx, cancel := context.WithTimeout(t.Context(), rs.opts.MinedTimeout)
		defer cancel()
		if _, err := env.WaitAllMined(mctx, hashes); err != nil {
			t.Fatal("funding transaction not mined:", err)
		}
	}

	if rs.opts.Key != nil && rs.opts.ChainID == nil {
		ctx, cancel := env.CtxFrom(t.Context())
		rs.opts.ChainID, err = env.Eth.ChainID(ctx)
		cancel()
		if err != nil {
			t.Fatal("can't get chain id:", err)
		}
	}

	// Node kind and debug API.
	ctx, cancel = env.CtxFrom(t.Context())
	rs.node, err = env.IdentifyNode(ctx)
	cancel()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel = env.CtxFrom(t.Context())
	rs.hasDebug = env.Debug.HasDebug(ctx)
	cancel()
	t.Logger().Info("suite prepared", "owner", rs.owner, "node", rs.node.Version, "debug", rs.hasDebug)
}

func (rs *riddledSuite) coinbase(t *T) (common.Address, error) {
	ctx, cancel := rs.env.CtxFrom(t.Context())
	defer cancel()
	return rs.env.Coinbase(ctx)
}

// transactor returns options whose calls share one RPC timeout. The caller
// must call cancel once the transaction is sent.
func (rs *riddledSuite) transactor(t *T, gasLimit uint64) (*bind.TransactOpts, context.CancelFunc) {
	ctx, cancel := rs.env.CtxFrom(t.Context())
	if rs.opts.Key == nil {
		return rs.env.NodeTransactor(ctx, rs.owner, gasLimit), cancel
	}
	opts, err := rs.env.KeyedTransactor(ctx, rs.opts.Key, rs.opts.ChainID, gasLimit)
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	return opts, cancel
}

func (rs *riddledSuite) waitMined(t *T, tx *types.Transaction) *types.Receipt {
	ctx, cancel := context.WithTimeout(t.Context(), rs.opts.MinedTimeout)
	defer cancel()
	receipt, err := rs.env.WaitMined(ctx, tx.Hash())
	if err != nil {
		t.Fatal(err)
	}
	return receipt
}

// deploy creates a fresh Riddled for each test.
func (rs *riddledSuite) deploy(t *T) {
	opts, cancel := rs.transactor(t, 0)
	addr, tx, instance, err := riddled.Deploy(opts, rs.env.Eth)
	cancel()
	if err != nil {
		t.Fatal("can't deploy Riddled:", err)
	}
	receipt := rs.waitMined(t, tx)
	if receipt.Status != types.ReceiptStatusSuccessful && len(receipt.PostState) == 0 {
		t.Fatalf("Riddled deployment failed in tx %s", tx.Hash().Hex())
	}
	rs.instance = instance
	t.Logger().Debug("Riddled deployed", "address", addr, "tx", tx.Hash())
}

func (rs *riddledSuite) testReceipt(t *T, f fault) {
	opts, cancel := rs.transactor(t, rs.opts.MaxGas)
	tx, err := rs.instance.Transact(opts, f.method)
	cancel()
	if err != nil {
		if err := f.checkSendError(err, rs.node.IsTestRPC()); err != nil {
			t.Fatal(err)
		}
		return
	}
	receipt := rs.waitMined(t, tx)
	if err := f.checkReceipt(receipt, rs.opts.MaxGas); err != nil {
		t.Fatal(err)
	}
}

func (rs *riddledSuite) testTrace(t *T, f fault) {
	if !rs.hasDebug {
		t.Skip("needs debug API")
	}
	opts, cancel := rs.transactor(t, rs.opts.MaxGas)
	tx, err := rs.instance.Transact(opts, f.method)
	cancel()
	if err != nil {
		t.Fatal("can't send transaction:", err)
	}
	rs.waitMined(t, tx)

	ctx, cancel := rs.env.CtxFrom(t.Context())
	defer cancel()
	trace, err := rs.env.Debug.TraceTransaction(ctx, tx.Hash())
	if err != nil {
		t.Fatal("can't trace transaction:", err)
	}
	if err := f.checkTrace(trace); err != nil {
		t.Fatal(err)
	}
}
