package harness

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ErrNotMined is returned when a transaction has no receipt before the
// context ends.
var ErrNotMined = errors.New("transaction not mined")

// WaitMined polls for the receipt of txHash until it is available.
func (e *Env) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	interval := e.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		callCtx, cancel := e.CtxFrom(ctx)
		receipt, err := e.Eth.TransactionReceipt(callCtx, txHash)
		cancel()
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			// Stream transports fail the call with an i/o timeout once the
			// deadline passes, possibly before ctx reports it.
			if expired(ctx) {
				return nil, errors.Wrapf(ErrNotMined, "%s: %v", txHash.Hex(), err)
			}
			return nil, errors.Wrapf(err, "can't get receipt of %s", txHash.Hex())
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, errors.Wrapf(ErrNotMined, "%s: %v", txHash.Hex(), ctx.Err())
		}
	}
}

// expired reports whether ctx is done or its deadline has passed.
func expired(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	d, ok := ctx.Deadline()
	return ok && !time.Now().Before(d)
}

// WaitAllMined waits for all transactions concurrently. Receipts are returned
// in the order of hashes.
func (e *Env) WaitAllMined(ctx context.Context, hashes []common.Hash) ([]*types.Receipt, error) {
	receipts := make([]*types.Receipt, len(hashes))
	g, ctx := errgroup.WithContext(ctx)
	for i, h := range hashes {
		i, h := i, h
		g.Go(func() error {
			r, err := e.WaitMined(ctx, h)
			receipts[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return receipts, nil
}
