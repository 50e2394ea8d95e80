package harness

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/riddled-eth/riddled/debugapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testChainID = big.NewInt(1337)

type web3Service struct{ version string }

func (s *web3Service) ClientVersion() string { return s.version }

type personalService struct {
	mu       sync.Mutex
	unlocked map[common.Address]string
	refuse   bool
}

func (s *personalService) UnlockAccount(addr common.Address, password string, duration *uint64) (bool, error) {
	if s.refuse {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unlocked[addr] = password
	return true, nil
}

// ethService is a node with instant but delayed-visibility mining: a receipt
// becomes available after the transaction was polled for pendingPolls times.
type ethService struct {
	mu           sync.Mutex
	key          *ecdsa.PrivateKey
	accounts     []common.Address
	balances     map[common.Address]*big.Int
	sent         []SendTxArgs
	polls        map[common.Hash]int
	pendingPolls int
}

func newEthService(t *testing.T) *ethService {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &ethService{
		key:      key,
		accounts: []common.Address{crypto.PubkeyToAddress(key.PublicKey)},
		balances: make(map[common.Address]*big.Int),
		polls:    make(map[common.Hash]int),
	}
}

func (s *ethService) Accounts() []common.Address { return s.accounts }

func (s *ethService) ChainId() *hexutil.Big { return (*hexutil.Big)(testChainID) }

func (s *ethService) GetBalance(addr common.Address, block string) *hexutil.Big {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.balances[addr]; ok {
		return (*hexutil.Big)(b)
	}
	return (*hexutil.Big)(new(big.Int))
}

func (s *ethService) SendTransaction(args SendTxArgs) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, args)
	h := crypto.Keccak256Hash(args.To.Bytes(), args.Value.ToInt().Bytes())
	s.polls[h] = 0
	return h, nil
}

func (s *ethService) GetTransactionReceipt(h common.Hash) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.polls[h]
	if !ok {
		return nil, nil
	}
	s.polls[h] = n + 1
	if n < s.pendingPolls {
		return nil, nil
	}
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      h,
		GasUsed:     21000,
		Logs:        []*types.Log{},
		BlockNumber: big.NewInt(1),
	}, nil
}

func (s *ethService) SignTransaction(args SendTxArgs) (map[string]interface{}, error) {
	var inner types.TxData
	if args.GasPrice != nil {
		inner = &types.LegacyTx{
			Nonce:    uint64(*args.Nonce),
			GasPrice: args.GasPrice.ToInt(),
			Gas:      uint64(*args.Gas),
			To:       args.To,
			Value:    args.Value.ToInt(),
			Data:     args.Data,
		}
	} else {
		inner = &types.DynamicFeeTx{
			ChainID:   args.ChainID.ToInt(),
			Nonce:     uint64(*args.Nonce),
			GasTipCap: args.MaxPriorityFeePerGas.ToInt(),
			GasFeeCap: args.MaxFeePerGas.ToInt(),
			Gas:       uint64(*args.Gas),
			To:        args.To,
			Value:     args.Value.ToInt(),
			Data:      args.Data,
		}
	}
	tx, err := types.SignNewTx(s.key, types.LatestSignerForChainID(testChainID), inner)
	if err != nil {
		return nil, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"raw": hexutil.Bytes(raw), "tx": tx}, nil
}

type testNode struct {
	eth      *ethService
	personal *personalService
	env      *Env
}

func newTestNode(t *testing.T, version string) *testNode {
	node := &testNode{
		eth:      newEthService(t),
		personal: &personalService{unlocked: make(map[common.Address]string)},
	}
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("web3", &web3Service{version: version}))
	require.NoError(t, server.RegisterName("eth", node.eth))
	require.NoError(t, server.RegisterName("personal", node.personal))
	t.Cleanup(server.Stop)

	node.env = NewEnv(rpc.DialInProc(server), nil)
	node.env.PollInterval = 5 * time.Millisecond
	t.Cleanup(node.env.Close)
	return node
}

func TestDialHTTP(t *testing.T) {
	env, err := Dial(context.Background(), "http://127.0.0.1:1", 250*time.Millisecond)
	require.NoError(t, err)
	defer env.Close()
	assert.Equal(t, 250*time.Millisecond, env.RPCTimeout)

	hp, ok := env.Debug.Provider.(*debugapi.HTTPProvider)
	require.True(t, ok, "got %T", env.Debug.Provider)
	require.NotNil(t, hp.Client)
	assert.Equal(t, 250*time.Millisecond, hp.Client.Timeout)

	env, err = Dial(context.Background(), "http://127.0.0.1:1", 0)
	require.NoError(t, err)
	defer env.Close()
	assert.Equal(t, DefaultRPCTimeout, env.RPCTimeout)
}

func TestParseNodeKind(t *testing.T) {
	tests := []struct {
		version string
		want    NodeKind
	}{
		{"Geth/v1.13.15-stable/linux-amd64/go1.21.6", Geth},
		{"EthereumJS TestRPC/v2.1.0/ethereum-js", TestRPC},
		{"Ganache/v7.9.1/EthereumJS TestRPC/v7.9.1/ethereum-js", TestRPC},
		{"Nethermind/v1.25.4", UnknownNode},
		{"", UnknownNode},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, ParseNodeKind(test.version), "version %q", test.version)
	}
}

func TestIdentifyNode(t *testing.T) {
	node := newTestNode(t, "Geth/v1.13.15-stable")
	info, err := node.env.IdentifyNode(context.Background())
	require.NoError(t, err)
	assert.True(t, info.IsGeth())
	assert.False(t, info.IsTestRPC())
	assert.Equal(t, "Geth/v1.13.15-stable", info.Version)

	node = newTestNode(t, "Besu/v24.1.0")
	info, err = node.env.IdentifyNode(context.Background())
	assert.True(t, errors.Is(err, ErrUnknownNode), "got %v", err)
	assert.Equal(t, "Besu/v24.1.0", info.Version)
}

func TestMakeSureAreUnlocked(t *testing.T) {
	node := newTestNode(t, "Geth")
	accounts := []common.Address{{1}, {2}, {3}}
	require.NoError(t, node.env.MakeSureAreUnlocked(context.Background(), accounts, "secret"))
	assert.Len(t, node.personal.unlocked, 3)
	for _, a := range accounts {
		assert.Equal(t, "secret", node.personal.unlocked[a])
	}

	node.personal.refuse = true
	err := node.env.MakeSureAreUnlocked(context.Background(), accounts, "secret")
	assert.ErrorContains(t, err, "refused")
}

func TestCoinbase(t *testing.T) {
	node := newTestNode(t, "Geth")
	cb, err := node.env.Coinbase(context.Background())
	require.NoError(t, err)
	assert.Equal(t, node.eth.accounts[0], cb)

	node.eth.accounts = nil
	_, err = node.env.Coinbase(context.Background())
	assert.True(t, errors.Is(err, ErrNoAccounts))
}

func TestMakeSureHasAtLeast(t *testing.T) {
	node := newTestNode(t, "Geth")
	var (
		rich   = common.Address{0xff}
		poor   = common.Address{1}
		ok     = common.Address{2}
		wanted = big.NewInt(1000)
	)
	node.eth.balances[poor] = big.NewInt(300)
	node.eth.balances[ok] = big.NewInt(5000)

	hashes, err := node.env.MakeSureHasAtLeast(context.Background(), rich, []common.Address{poor, ok}, wanted)
	require.NoError(t, err)
	require.Len(t, hashes, 1)
	require.Len(t, node.eth.sent, 1)

	sent := node.eth.sent[0]
	assert.Equal(t, rich, sent.From)
	assert.Equal(t, poor, *sent.To)
	assert.Zero(t, big.NewInt(700).Cmp(sent.Value.ToInt()), "value %v", sent.Value)
}

func TestWaitMined(t *testing.T) {
	node := newTestNode(t, "Geth")
	node.eth.pendingPolls = 3
	to := common.Address{9}
	h, err := node.eth.SendTransaction(SendTxArgs{To: &to, Value: (*hexutil.Big)(big.NewInt(1))})
	require.NoError(t, err)

	receipt, err := node.env.WaitMined(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, h, receipt.TxHash)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	assert.Equal(t, 4, node.eth.polls[h])
}

func TestWaitMinedTimeout(t *testing.T) {
	node := newTestNode(t, "Geth")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := node.env.WaitMined(ctx, common.Hash{0xab})
	assert.True(t, errors.Is(err, ErrNotMined), "got %v", err)
}

// The deadline may interrupt a receipt call at any point of the poll loop.
func TestWaitMinedDeadlineDuringCall(t *testing.T) {
	node := newTestNode(t, "Geth")
	node.env.PollInterval = time.Millisecond
	for _, timeout := range []time.Duration{7, 13, 30, 55, 80} {
		ctx, cancel := context.WithTimeout(context.Background(), timeout*time.Millisecond)
		_, err := node.env.WaitMined(ctx, common.Hash{0xcd})
		cancel()
		assert.True(t, errors.Is(err, ErrNotMined), "timeout %dms: got %v", timeout, err)
	}
}

func TestExpired(t *testing.T) {
	assert.False(t, expired(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, expired(ctx))

	ctx, cancel = context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	assert.True(t, expired(ctx))

	ctx, cancel = context.WithTimeout(context.Background(), time.Hour)
	defer cancel()
	assert.False(t, expired(ctx))
}

func TestWaitAllMined(t *testing.T) {
	node := newTestNode(t, "Geth")
	node.eth.pendingPolls = 1
	var hashes []common.Hash
	for i := 1; i <= 3; i++ {
		to := common.Address{byte(i)}
		h, _ := node.eth.SendTransaction(SendTxArgs{To: &to, Value: (*hexutil.Big)(big.NewInt(int64(i)))})
		hashes = append(hashes, h)
	}
	receipts, err := node.env.WaitAllMined(context.Background(), hashes)
	require.NoError(t, err)
	require.Len(t, receipts, 3)
	for i, r := range receipts {
		assert.Equal(t, hashes[i], r.TxHash)
	}
}

func TestNodeTransactor(t *testing.T) {
	node := newTestNode(t, "Geth")
	from := node.eth.accounts[0]
	opts := node.env.NodeTransactor(context.Background(), from, 100000)
	assert.Equal(t, uint64(100000), opts.GasLimit)

	to := common.Address{7}
	unsigned := []*types.Transaction{
		types.NewTx(&types.LegacyTx{Nonce: 1, GasPrice: big.NewInt(10), Gas: 50000, To: &to, Value: big.NewInt(5)}),
		types.NewTx(&types.DynamicFeeTx{ChainID: testChainID, Nonce: 2, GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(20), Gas: 50000, To: &to}),
	}
	for _, tx := range unsigned {
		signed, err := opts.Signer(from, tx)
		require.NoError(t, err)
		sender, err := types.Sender(types.LatestSignerForChainID(testChainID), signed)
		require.NoError(t, err)
		assert.Equal(t, from, sender)
		assert.Equal(t, tx.Type(), signed.Type())
		assert.Equal(t, tx.Nonce(), signed.Nonce())
		assert.Equal(t, tx.Gas(), signed.Gas())
	}

	_, err := opts.Signer(common.Address{0x01}, unsigned[0])
	assert.Error(t, err)
}

func TestKeyedTransactor(t *testing.T) {
	node := newTestNode(t, "Geth")
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	opts, err := node.env.KeyedTransactor(context.Background(), key, nil, 42)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), opts.From)
	assert.Equal(t, uint64(42), opts.GasLimit)

	to := common.Address{7}
	signed, err := opts.Signer(opts.From, types.NewTx(&types.DynamicFeeTx{ChainID: testChainID, Gas: 21000, To: &to}))
	require.NoError(t, err)
	assert.Zero(t, testChainID.Cmp(signed.ChainId()))
}
