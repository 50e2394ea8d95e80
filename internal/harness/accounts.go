package harness

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultUnlockDuration is how long accounts stay unlocked, in seconds.
const DefaultUnlockDuration = 3600

// ErrNoAccounts is returned when the node manages no accounts.
var ErrNoAccounts = errors.New("node has no accounts")

// SendTxArgs is the argument object of eth_sendTransaction and eth_signTransaction.
type SendTxArgs struct {
	From                 common.Address  `json:"from"`
	To                   *common.Address `json:"to,omitempty"`
	Gas                  *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Value                *hexutil.Big    `json:"value,omitempty"`
	Nonce                *hexutil.Uint64 `json:"nonce,omitempty"`
	Data                 hexutil.Bytes   `json:"data,omitempty"`
	ChainID              *hexutil.Big    `json:"chainId,omitempty"`
}

// Accounts returns the accounts managed by the node.
func (e *Env) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := e.RPC.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, errors.Wrap(err, "can't list accounts")
	}
	return accounts, nil
}

// Coinbase returns the first account of the node.
func (e *Env) Coinbase(ctx context.Context) (common.Address, error) {
	accounts, err := e.Accounts(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if len(accounts) == 0 {
		return common.Address{}, ErrNoAccounts
	}
	return accounts[0], nil
}

// MakeSureAreUnlocked unlocks all given accounts with the same password.
func (e *Env) MakeSureAreUnlocked(ctx context.Context, accounts []common.Address, password string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, account := range accounts {
		account := account
		g.Go(func() error {
			var ok bool
			err := e.RPC.CallContext(ctx, &ok, "personal_unlockAccount", account, password, DefaultUnlockDuration)
			if err != nil {
				return errors.Wrapf(err, "can't unlock %s", account.Hex())
			}
			if !ok {
				return errors.Errorf("node refused to unlock %s", account.Hex())
			}
			e.Log.Debug("account unlocked", "account", account)
			return nil
		})
	}
	return g.Wait()
}

// MakeSureHasAtLeast tops up each recipient whose balance is below wei, sending
// the difference from rich. It returns the hashes of the funding transactions.
// Recipients that already hold enough are skipped.
func (e *Env) MakeSureHasAtLeast(ctx context.Context, rich common.Address, recipients []common.Address, wei *big.Int) ([]common.Hash, error) {
	hashes := make([]common.Hash, len(recipients))
	g, ctx := errgroup.WithContext(ctx)
	for i, recipient := range recipients {
		i, recipient := i, recipient
		g.Go(func() error {
			balance, err := e.Eth.BalanceAt(ctx, recipient, nil)
			if err != nil {
				return errors.Wrapf(err, "can't get balance of %s", recipient.Hex())
			}
			if balance.Cmp(wei) >= 0 {
				return nil
			}
			missing := new(big.Int).Sub(wei, balance)
			args := SendTxArgs{From: rich, To: &recipient, Value: (*hexutil.Big)(missing)}
			if err := e.RPC.CallContext(ctx, &hashes[i], "eth_sendTransaction", args); err != nil {
				return errors.Wrapf(err, "can't fund %s", recipient.Hex())
			}
			e.Log.Info("funding account", "account", recipient, "value", missing, "tx", hashes[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sent := hashes[:0]
	for _, h := range hashes {
		if h != (common.Hash{}) {
			sent = append(sent, h)
		}
	}
	return sent, nil
}
