package suite

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	goruntime "runtime"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/core/vm/runtime"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/eth/tracers/logger"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/riddled-eth/riddled/debugapi"
	"github.com/riddled-eth/riddled/internal/harness"
	"github.com/stretchr/testify/require"
)

var fakeChainID = big.NewInt(1337)

// fakeNode executes transactions on an in-memory EVM as soon as they are sent.
type fakeNode struct {
	version string
	debug   bool
	// rejectFailing makes the node refuse failing transactions, like TestRPC.
	rejectFailing bool
	// lie reports failed transactions as successful.
	lie bool
	// stall blocks web3_clientVersion until closed.
	stall chan struct{}

	mu       sync.Mutex
	key      *ecdsa.PrivateKey
	owner    common.Address
	cfg      *runtime.Config
	receipts map[common.Hash]*types.Receipt
	traces   map[common.Hash]*debugapi.ExecutionResult
}

func newFakeNode(t *testing.T, version string) *fakeNode {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeNode{
		version:  version,
		key:      key,
		owner:    crypto.PubkeyToAddress(key.PublicKey),
		cfg:      &runtime.Config{ChainConfig: params.AllEthashProtocolChanges},
		receipts: make(map[common.Hash]*types.Receipt),
		traces:   make(map[common.Hash]*debugapi.ExecutionResult),
	}
}

// env starts the node's RPC server and connects to it.
func (n *fakeNode) env(t *testing.T) *harness.Env {
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("web3", &fakeWeb3{n}))
	require.NoError(t, server.RegisterName("eth", &fakeEth{n}))
	require.NoError(t, server.RegisterName("personal", &fakePersonal{}))
	if n.debug {
		require.NoError(t, server.RegisterName("debug", &fakeDebug{n}))
	}
	t.Cleanup(server.Stop)

	env := harness.NewEnv(rpc.DialInProc(server), nil)
	t.Cleanup(env.Close)
	return env
}

func (n *fakeNode) execute(tx *types.Transaction) (common.Hash, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	sender, err := types.Sender(types.LatestSignerForChainID(fakeChainID), tx)
	if err != nil {
		return common.Hash{}, err
	}
	cfg := n.cfg
	cfg.Origin = sender
	cfg.GasLimit = tx.Gas()
	cfg.Value = tx.Value()
	tracer := logger.NewStructLogger(nil)
	cfg.EVMConfig.Tracer = tracer

	var (
		ret      []byte
		leftover uint64
		created  common.Address
	)
	if tx.To() == nil {
		ret, created, leftover, err = runtime.Create(tx.Data(), cfg)
	} else {
		ret, leftover, err = runtime.Call(*tx.To(), tx.Data(), cfg)
	}
	if err != nil && n.rejectFailing {
		return common.Hash{}, testRPCError(err)
	}
	if tx.To() != nil {
		cfg.State.SetNonce(sender, cfg.State.GetNonce(sender)+1)
	}

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		GasUsed:     tx.Gas() - leftover,
		Logs:        []*types.Log{},
		BlockNumber: big.NewInt(1),
	}
	if tx.To() == nil {
		receipt.ContractAddress = created
	}
	if err != nil && !n.lie {
		receipt.Status = types.ReceiptStatusFailed
	}
	n.receipts[tx.Hash()] = receipt

	trace := &debugapi.ExecutionResult{
		Gas:         receipt.GasUsed,
		Failed:      err != nil,
		ReturnValue: common.Bytes2Hex(ret),
	}
	for _, l := range tracer.StructLogs() {
		trace.StructLogs = append(trace.StructLogs, debugapi.StructLog{
			Pc:      l.Pc,
			Op:      l.Op.String(),
			Gas:     l.Gas,
			GasCost: l.GasCost,
			Depth:   l.Depth,
		})
	}
	n.traces[tx.Hash()] = trace
	return tx.Hash(), nil
}

func testRPCError(err error) error {
	var invalid *vm.ErrInvalidOpCode
	switch {
	case errors.Is(err, vm.ErrExecutionReverted):
		return errors.New("VM Exception while processing transaction: revert")
	case errors.As(err, &invalid):
		return errors.New("VM Exception while processing transaction: invalid opcode")
	case errors.Is(err, vm.ErrInvalidJump):
		return fmt.Errorf("VM Exception while processing transaction: invalid JUMP at %#x", 0x45)
	default:
		return err
	}
}

type fakeWeb3 struct{ n *fakeNode }

func (s *fakeWeb3) ClientVersion() string {
	if s.n.stall != nil {
		<-s.n.stall
	}
	return s.n.version
}

type fakePersonal struct{}

func (s *fakePersonal) UnlockAccount(addr common.Address, password string, duration *uint64) bool {
	return true
}

type fakeDebug struct{ n *fakeNode }

func (s *fakeDebug) MemStats() *goruntime.MemStats {
	return new(goruntime.MemStats)
}

func (s *fakeDebug) TraceTransaction(h common.Hash) (*debugapi.ExecutionResult, error) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	trace, ok := s.n.traces[h]
	if !ok {
		return nil, fmt.Errorf("transaction %x not found", h)
	}
	return trace, nil
}

type fakeEth struct{ n *fakeNode }

func (s *fakeEth) Accounts() []common.Address { return []common.Address{s.n.owner} }

func (s *fakeEth) ChainId() *hexutil.Big { return (*hexutil.Big)(fakeChainID) }

func (s *fakeEth) GasPrice() *hexutil.Big { return (*hexutil.Big)(big.NewInt(params.GWei)) }

func (s *fakeEth) GetBalance(addr common.Address, block string) *hexutil.Big {
	return (*hexutil.Big)(new(big.Int).Mul(big.NewInt(100), big.NewInt(params.Ether)))
}

func (s *fakeEth) GetTransactionCount(addr common.Address, block string) hexutil.Uint64 {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	if s.n.cfg.State == nil {
		return 0
	}
	return hexutil.Uint64(s.n.cfg.State.GetNonce(addr))
}

func (s *fakeEth) GetBlockByNumber(number string, full bool) *types.Header {
	return &types.Header{Number: big.NewInt(1), Difficulty: big.NewInt(1), Extra: []byte{}}
}

func (s *fakeEth) EstimateGas(args map[string]interface{}) hexutil.Uint64 {
	return 500000
}

func (s *fakeEth) SignTransaction(args harness.SendTxArgs) (map[string]interface{}, error) {
	if args.From != s.n.owner {
		return nil, fmt.Errorf("unknown account %s", args.From.Hex())
	}
	tx, err := types.SignNewTx(s.n.key, types.LatestSignerForChainID(fakeChainID), &types.LegacyTx{
		Nonce:    uint64(*args.Nonce),
		GasPrice: args.GasPrice.ToInt(),
		Gas:      uint64(*args.Gas),
		To:       args.To,
		Value:    args.Value.ToInt(),
		Data:     args.Data,
	})
	if err != nil {
		return nil, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"raw": hexutil.Bytes(raw), "tx": tx}, nil
}

func (s *fakeEth) SendRawTransaction(raw hexutil.Bytes) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	return s.n.execute(tx)
}

func (s *fakeEth) GetTransactionReceipt(h common.Hash) *types.Receipt {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	return s.n.receipts[h]
}
