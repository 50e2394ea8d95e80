package harness

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// NodeTransactor returns transaction options for an account managed (and
// unlocked) by the node. Transactions are signed with eth_signTransaction.
func (e *Env) NodeTransactor(ctx context.Context, from common.Address, gasLimit uint64) *bind.TransactOpts {
	return &bind.TransactOpts{
		From:     from,
		Context:  ctx,
		GasLimit: gasLimit,
		Signer: func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if addr != from {
				return nil, bind.ErrNotAuthorized
			}
			return e.SignTransaction(ctx, from, tx)
		},
	}
}

// KeyedTransactor returns transaction options signing locally with key.
func (e *Env) KeyedTransactor(ctx context.Context, key *ecdsa.PrivateKey, chainID *big.Int, gasLimit uint64) (*bind.TransactOpts, error) {
	if chainID == nil {
		id, err := e.Eth.ChainID(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "can't get chain id")
		}
		chainID = id
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	opts.GasLimit = gasLimit
	return opts, nil
}

// SignTransaction asks the node to sign tx on behalf of from.
func (e *Env) SignTransaction(ctx context.Context, from common.Address, tx *types.Transaction) (*types.Transaction, error) {
	var result struct {
		Raw hexutil.Bytes `json:"raw"`
	}
	if err := e.RPC.CallContext(ctx, &result, "eth_signTransaction", toSendTxArgs(from, tx)); err != nil {
		return nil, errors.Wrap(err, "node can't sign transaction")
	}
	signed := new(types.Transaction)
	if err := signed.UnmarshalBinary(result.Raw); err != nil {
		return nil, errors.Wrap(err, "invalid signed transaction")
	}
	return signed, nil
}

func toSendTxArgs(from common.Address, tx *types.Transaction) SendTxArgs {
	gas := hexutil.Uint64(tx.Gas())
	nonce := hexutil.Uint64(tx.Nonce())
	args := SendTxArgs{
		From:  from,
		To:    tx.To(),
		Gas:   &gas,
		Nonce: &nonce,
		Value: (*hexutil.Big)(tx.Value()),
		Data:  tx.Data(),
	}
	// An unsigned legacy transaction has no chain id to report.
	if tx.Type() == types.LegacyTxType {
		args.GasPrice = (*hexutil.Big)(tx.GasPrice())
		return args
	}
	args.MaxFeePerGas = (*hexutil.Big)(tx.GasFeeCap())
	args.MaxPriorityFeePerGas = (*hexutil.Big)(tx.GasTipCap())
	args.ChainID = (*hexutil.Big)(tx.ChainId())
	return args
}
